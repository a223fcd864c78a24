package harness

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/evactor/internal/ir"
	"github.com/roach88/evactor/internal/queryir"
	"github.com/roach88/evactor/internal/runtime"
)

// AssertionContext gives assertions access to the runtime a scenario ran
// against.
type AssertionContext struct {
	Runtime *runtime.Runtime
	Ctx     context.Context
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			switch event.Kind {
			case KindRejection:
				fmt.Fprintf(&buf, "  [%d] %s %s rejected: %s\n", event.Seq, event.Topic, event.ActorID, event.Reason)
			default:
				fmt.Fprintf(&buf, "  [%d] %s %s %v\n", event.Seq, event.Topic, event.ActorID, map[string]any(event.Data))
			}
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertFinalState:
		return assertFinalState(actx, a)
	case AssertEventLog:
		return assertEventLog(actx, a)
	case AssertFind:
		return assertFind(actx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertTraceContains checks that an event of the given type was produced
// with a payload containing a.Data.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Kind == KindEvent && event.Topic == a.Event && diffSubset(event.Data, a.Data) == "" {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s with data %v", a.Event, a.Data),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of the given event
// types appear in order. Other events may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int64)
	for _, event := range trace {
		if event.Kind != KindEvent {
			continue
		}
		if _, seen := positions[event.Topic]; !seen {
			positions[event.Topic] = event.Seq
		}
	}

	for _, t := range a.Events {
		if _, ok := positions[t]; !ok {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", a.Events),
				Actual:   fmt.Sprintf("missing event: %s", t),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Events); i++ {
		prev, curr := a.Events[i-1], a.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (seq %d) should be before %s (seq %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that an event type was produced exactly a.Count
// times.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Kind == KindEvent && event.Topic == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s produced %d times", a.Event, a.Count),
			Actual:   fmt.Sprintf("produced %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState fetches the actor and compares a subset of its state.
func assertFinalState(actx *AssertionContext, a Assertion) error {
	inst, err := actx.Runtime.Fetch(actx.Ctx, a.Actor, a.ID, true)
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}
	if diff := diffSubset(inst.State, a.Expect); diff != "" {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s/%s state containing %v", a.Actor, a.ID, a.Expect),
			Actual:   diff,
		}
	}
	return nil
}

// assertEventLog reads the actor's stored log and compares event types.
func assertEventLog(actx *AssertionContext, a Assertion) error {
	var got []string
	stream := actx.Runtime.EventStream(actx.Ctx, runtime.EventStreamOptions{ActorType: a.Actor, ID: a.ID})
	for evt, err := range stream {
		if err != nil {
			return fmt.Errorf("event_log: %w", err)
		}
		got = append(got, evt.Type)
	}
	if !slices.Equal(got, a.Events) {
		return &AssertionError{
			Type:     AssertEventLog,
			Expected: fmt.Sprintf("%s/%s log %v", a.Actor, a.ID, a.Events),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// assertFind runs a search and compares the matching ids, ignoring order.
func assertFind(actx *AssertionContext, a Assertion) error {
	found, err := actx.Runtime.Find(actx.Ctx, a.Actor, queryir.Criteria(a.Criteria))
	if err != nil {
		return fmt.Errorf("find: %w", err)
	}
	got := make([]string, 0, len(found))
	for _, inst := range found {
		got = append(got, inst.ID())
	}
	want := append([]string(nil), a.IDs...)
	sort.Strings(got)
	sort.Strings(want)
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertFind,
			Expected: fmt.Sprintf("%s matching %v: %v", a.Actor, a.Criteria, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// diffSubset reports the first field of expected that actual lacks or
// holds a different value for. Nested objects match as subsets; lists
// match element-wise.
func diffSubset(actual ir.Record, expected map[string]any) string {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		got, ok := actual.Get(k)
		if !ok {
			return fmt.Sprintf("field %q missing", k)
		}
		if !valuesEqual(got, expected[k]) {
			return fmt.Sprintf("field %q: expected %v, got %v", k, expected[k], got)
		}
	}
	return ""
}

// valuesEqual compares a runtime value with a YAML-decoded expectation.
func valuesEqual(actual, expected any) bool {
	if em, ok := ir.AsRecord(expected); ok {
		am, ok := ir.AsRecord(actual)
		return ok && diffSubset(am, em) == ""
	}
	if el, ok := expected.([]any); ok {
		al, ok := actual.([]any)
		if !ok || len(al) != len(el) {
			return false
		}
		for i := range el {
			if !valuesEqual(al[i], el[i]) {
				return false
			}
		}
		return true
	}
	if ei, ok := ir.AsInt(expected); ok {
		ai, ok := ir.AsInt(actual)
		return ok && ai == ei
	}
	if ef, ok := ir.AsFloat(expected); ok {
		af, ok := ir.AsFloat(actual)
		return ok && af == ef
	}
	return reflect.DeepEqual(actual, expected)
}
