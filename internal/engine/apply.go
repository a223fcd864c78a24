package engine

import (
	"context"
	"time"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/ir"
)

// Result is the outcome of one matched handler.
type Result struct {
	Message   ir.Message   `json:"message"`
	ActorType string       `json:"actor_type"`
	ActorID   string       `json:"actor_id"`
	SystemID  string       `json:"system_id,omitempty"`
	State     ir.Record    `json:"state"`
	Original  ir.Record    `json:"original,omitempty"`
	Events    []ir.Message `json:"events,omitempty"`
	Rejected  bool         `json:"rejected,omitempty"`
	Reason    error        `json:"-"`
}

// ReasonText returns the rejection reason as a string.
func (r Result) ReasonText() string {
	if r.Reason == nil {
		return ""
	}
	return r.Reason.Error()
}

// Applier runs messages against actor instances.
type Applier struct {
	ids IDGenerator
	now func() time.Time
}

// NewApplier creates an Applier. ids mints ids for produced events and now
// stamps bookkeeping times.
func NewApplier(ids IDGenerator, now func() time.Time) *Applier {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	if now == nil {
		now = time.Now
	}
	return &Applier{ids: ids, now: now}
}

// Apply runs msg against inst. msg.Type selects the handler list; it is a
// command if the instance's type has it in its command table, otherwise an
// event.
//
// Commands run inside exec under the instance's natural id. Events run
// immediately: callers apply events only from inside a held slot.
func (a *Applier) Apply(ctx context.Context, exec Executor, inst *actor.Instance, msg ir.Message) ([]Result, error) {
	handlers, kind, _ := inst.Def.Handlers(msg.Type)
	if kind == actor.KindEvent {
		if err := a.fold(inst, msg, handlers); err != nil {
			return nil, err
		}
		return []Result{a.result(inst, msg, nil)}, nil
	}

	if exec == nil {
		exec = Immediate{}
	}
	var results []Result
	err := exec.Do(ctx, inst.ID(), func(ctx context.Context) error {
		var err error
		results, err = a.applyCommand(inst, msg, handlers)
		return err
	})
	return results, err
}

// Fold applies a single event to inst without producing a result. Replay
// and timelines use it.
func (a *Applier) Fold(inst *actor.Instance, evt ir.Message) error {
	handlers, _, _ := inst.Def.Handlers(evt.Type)
	return a.fold(inst, evt, handlers)
}

func (a *Applier) applyCommand(inst *actor.Instance, cmd ir.Message, handlers []actor.Handler) ([]Result, error) {
	matched := selectHandlers(handlers, inst.State, cmd)
	results := make([]Result, 0, len(matched))

	for _, h := range matched {
		original := inst.State.Clone()

		produced, err := h.Decide(original.Clone(), cmd)
		if err != nil {
			res := a.result(inst, cmd, original)
			res.Rejected = true
			res.Reason = err
			results = append(results, res)
			continue
		}

		events := a.normalize(inst, produced)
		inst.State[ir.FieldLastCommandType] = cmd.Type
		inst.State[ir.FieldLastCommandID] = cmd.ID
		inst.State[ir.FieldLastCommandHandledOn] = a.now().UTC().Format(time.RFC3339Nano)

		for _, evt := range events {
			if err := a.Fold(inst, evt); err != nil {
				return results, NewCascadeError(inst.Type(), inst.ID(), cmd.Type, err)
			}
		}

		res := a.result(inst, cmd, original)
		res.Events = events
		results = append(results, res)
	}

	return results, nil
}

// fold runs matched event handlers and records the event watermark.
func (a *Applier) fold(inst *actor.Instance, evt ir.Message, handlers []actor.Handler) error {
	for _, h := range selectHandlers(handlers, inst.State, evt) {
		if err := h.Evolve(inst.State, evt); err != nil {
			return NewEventHandlerError(inst.Type(), inst.ID(), evt.Type, err)
		}
	}

	owner := eventOwner(evt, handlers)
	appliedOn := evt.CreatedOn
	if appliedOn.IsZero() {
		appliedOn = a.now()
	}
	stamp := appliedOn.UTC().Format(time.RFC3339Nano)

	if owner == inst.Type() {
		inst.State[ir.FieldLastEventID] = evt.ID
		inst.State[ir.FieldLastEventAppliedOn] = stamp
		return nil
	}

	related, ok := ir.AsRecord(inst.State[ir.FieldRelated])
	if !ok {
		related = ir.Record{}
	}
	related[owner] = ir.Record{
		ir.FieldLastEventID:        evt.ID,
		ir.FieldLastEventAppliedOn: stamp,
	}
	inst.State[ir.FieldRelated] = related
	return nil
}

// normalize drops empty entries, qualifies event types with the producing
// actor's type and assigns ids and creation times.
func (a *Applier) normalize(inst *actor.Instance, produced []ir.Message) []ir.Message {
	events := make([]ir.Message, 0, len(produced))
	for _, evt := range produced {
		if evt.Type == "" {
			continue
		}
		evt.Type = ir.Qualify(inst.Type(), evt.Type)
		if evt.ID == "" {
			evt.ID = a.ids.Generate()
		}
		if evt.Data == nil {
			evt.Data = ir.Record{}
		}
		if evt.CreatedOn.IsZero() {
			evt.CreatedOn = a.now().UTC()
		}
		events = append(events, evt)
	}
	return events
}

func (a *Applier) result(inst *actor.Instance, msg ir.Message, original ir.Record) Result {
	return Result{
		Message:   msg,
		ActorType: inst.Type(),
		ActorID:   inst.ID(),
		SystemID:  inst.SystemID(),
		State:     inst.State.Clone(),
		Original:  original,
	}
}

// selectHandlers evaluates guards in declared order. Once any handler has
// matched, later exclusive handlers are skipped; non-exclusive handlers are
// always evaluated.
func selectHandlers(handlers []actor.Handler, state ir.Record, msg ir.Message) []actor.Handler {
	var matched []actor.Handler
	for _, h := range handlers {
		if h.Exclusive && len(matched) > 0 {
			continue
		}
		if h.Guard.Matches(state, msg) {
			matched = append(matched, h)
		}
	}
	return matched
}

// eventOwner returns the actor type whose log evt belongs to. The stored
// owner stamp wins, then the registered topic pair; the type string is
// split only for unhandled, unstamped events.
func eventOwner(evt ir.Message, handlers []actor.Handler) string {
	if evt.ActorType != "" {
		return evt.ActorType
	}
	if len(handlers) > 0 {
		return handlers[0].Topic.Owner
	}
	return evt.Owner()
}
