package harness

import "github.com/roach88/evactor/internal/ir"

// Trace entry kinds.
const (
	KindCommand   = "command"
	KindEvent     = "event"
	KindRejection = "rejection"
)

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	Seq       int64     `json:"seq"`
	Kind      string    `json:"kind"`
	Topic     string    `json:"topic"`
	ActorType string    `json:"actor_type,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	Data      ir.Record `json:"data,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds commands, produced events and rejections in order.
	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`

	// State holds the final state of every addressed actor, keyed
	// "type/id".
	State map[string]ir.Record `json:"state,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]ir.Record),
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(e TraceEvent) {
	e.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, e)
}

// AddCommandTrace records a dispatched command.
func (r *Result) AddCommandTrace(topic, id string, data ir.Record) {
	r.add(TraceEvent{Kind: KindCommand, Topic: topic, ActorID: id, Data: data})
}

// AddEventTrace records a produced event. actorID is the natural id of the
// producing actor.
func (r *Result) AddEventTrace(evt ir.Message, actorID string) {
	r.add(TraceEvent{
		Kind:      KindEvent,
		Topic:     evt.Type,
		ActorType: evt.CreatedBy,
		ActorID:   actorID,
		Data:      evt.Data,
	})
}

// AddRejectionTrace records a rejected command.
func (r *Result) AddRejectionTrace(topic, actorType, id, reason string) {
	r.add(TraceEvent{Kind: KindRejection, Topic: topic, ActorType: actorType, ActorID: id, Reason: reason})
}

// Events returns the event entries of the trace.
func (r *Result) Events() []TraceEvent {
	out := make([]TraceEvent, 0, len(r.Trace))
	for _, e := range r.Trace {
		if e.Kind == KindEvent {
			out = append(out, e)
		}
	}
	return out
}
