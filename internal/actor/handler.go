package actor

import (
	"github.com/roach88/evactor/internal/ir"
)

// GuardKind selects how a guard is evaluated.
type GuardKind int

const (
	// GuardAlways always matches.
	GuardAlways GuardKind = iota
	// GuardState matches when state["state"] equals the guard's State.
	GuardState
	// GuardPredicate invokes the guard's Predicate.
	GuardPredicate
)

// Predicate is a guard function over the current state and message.
type Predicate func(state ir.Record, msg ir.Message) bool

// Guard decides whether a handler applies to a message.
type Guard struct {
	Kind      GuardKind
	State     string
	Predicate Predicate
}

// Always returns a guard that always matches.
func Always() Guard { return Guard{Kind: GuardAlways} }

// InState returns a guard matching when the lifecycle field equals s.
func InState(s string) Guard { return Guard{Kind: GuardState, State: s} }

// When returns a predicate guard.
func When(p Predicate) Guard { return Guard{Kind: GuardPredicate, Predicate: p} }

// Matches evaluates the guard.
func (g Guard) Matches(state ir.Record, msg ir.Message) bool {
	switch g.Kind {
	case GuardAlways:
		return true
	case GuardState:
		return state.String(ir.FieldState) == g.State
	case GuardPredicate:
		return g.Predicate != nil && g.Predicate(state, msg)
	default:
		return false
	}
}

// Decide handles a command. It reads state and returns the events to emit;
// it must not modify state. Entries with an empty Type are dropped.
type Decide func(state ir.Record, cmd ir.Message) ([]ir.Message, error)

// Evolve applies an event to state.
type Evolve func(state ir.Record, evt ir.Message) error

// Handler is a normalized command or event handler.
// Exactly one of Decide and Evolve is set.
type Handler struct {
	Topic     ir.Topic
	Guard     Guard
	Exclusive bool
	Decide    Decide
	Evolve    Evolve
}

// HandlerOption configures a Handler at registration.
type HandlerOption func(*Handler)

// Guarded sets the handler's guard. The default guard is Always.
func Guarded(g Guard) HandlerOption {
	return func(h *Handler) { h.Guard = g }
}

// Exclusive marks the handler as skipped once an earlier handler in the
// same list has matched.
func Exclusive() HandlerOption {
	return func(h *Handler) { h.Exclusive = true }
}

// Emit builds an event message for a Decide result. A name without a type
// segment is qualified with the producing actor's type during apply.
func Emit(name string, data ir.Record) *ir.Message {
	return &ir.Message{Type: name, Data: data}
}

// Events collects non-nil events from Emit calls, dropping nils.
func Events(evts ...*ir.Message) []ir.Message {
	out := make([]ir.Message, 0, len(evts))
	for _, e := range evts {
		if e != nil {
			out = append(out, *e)
		}
	}
	return out
}
