// Package stream merges per-type event streams into one stream ordered by
// event id, and builds actor timelines on top of it.
package stream

import (
	"slices"
	"strings"

	"github.com/roach88/evactor/internal/ir"
)

// CheckQueues reports whether a decision cycle may run: there are exactly
// expected queues and each holds at least depth items.
func CheckQueues[T any](queues map[string][]T, expected, depth int) bool {
	if len(queues) != expected {
		return false
	}
	for _, q := range queues {
		if len(q) < depth {
			return false
		}
	}
	return true
}

// CheckSetIntersection reports whether the lowest second-in-line id is
// below the highest head id, i.e. some queue's next event is older than
// another queue's current head. Empty sets never intersect.
func CheckSetIntersection(first, second []string) bool {
	if len(first) == 0 || len(second) == 0 {
		return false
	}
	return slices.Min(second) < slices.Max(first)
}

// ChooseEvents runs one decision cycle over queues, removing and
// returning the events that are safe to emit in ascending id order.
//
// When the heads and second-in-line ids intersect, only the lowest head
// is safe. Otherwise up to two events are taken from each queue, bounded
// by the lowest second-in-line id so no queue's unseen tail can precede
// an emitted event.
//
// Callers must only invoke ChooseEvents when every queue that may still
// grow holds at least two events.
func ChooseEvents(queues map[string][]ir.Message) []ir.Message {
	var first, second []string
	for _, q := range queues {
		if len(q) > 0 {
			first = append(first, q[0].ID)
		}
		if len(q) > 1 {
			second = append(second, q[1].ID)
		}
	}
	if len(first) == 0 {
		return nil
	}

	if CheckSetIntersection(first, second) {
		lowest := slices.Min(first)
		for key, q := range queues {
			if len(q) > 0 && q[0].ID == lowest {
				queues[key] = q[1:]
				return []ir.Message{q[0]}
			}
		}
		return nil
	}

	bound := ""
	if len(second) > 0 {
		bound = slices.Min(second)
	}

	var out []ir.Message
	for key, q := range queues {
		n := 0
		for n < len(q) && n < 2 && (bound == "" || q[n].ID <= bound) {
			n++
		}
		out = append(out, q[:n]...)
		queues[key] = q[n:]
	}
	slices.SortStableFunc(out, func(a, b ir.Message) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
