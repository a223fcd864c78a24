package stream

import (
	"context"
	"iter"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/engine"
	"github.com/roach88/evactor/internal/ir"
)

// Frame is one step of an actor timeline: the events folded since the
// previous frame and the state after them.
type Frame struct {
	Events []ir.Message `json:"events"`
	State  ir.Record    `json:"state"`
}

// TimelineOptions configures Timeline.
type TimelineOptions struct {
	// BatchSize folds this many events per frame. Values below 2 yield a
	// frame per event.
	BatchSize int

	// Buffer bounds per-source read-ahead.
	Buffer int
}

// Timeline folds the merged sources onto a scratch copy of base and yields
// the evolving state. base itself is never modified. A trailing partial
// batch is yielded when the sources end.
func Timeline(ctx context.Context, base *actor.Instance, applier *engine.Applier, sources map[string]Source, opts TimelineOptions) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		scratch := base.Clone()
		size := max(opts.BatchSize, 1)
		var pending []ir.Message

		flush := func() bool {
			if len(pending) == 0 {
				return true
			}
			frame := Frame{Events: pending, State: scratch.State.Clone()}
			pending = nil
			return yield(frame, nil)
		}

		for evt, err := range (Merger{Buffer: opts.Buffer}).Merge(ctx, sources) {
			if err != nil {
				yield(Frame{}, err)
				return
			}
			if err := applier.Fold(scratch, evt); err != nil {
				yield(Frame{}, err)
				return
			}
			pending = append(pending, evt)
			if len(pending) >= size && !flush() {
				return
			}
		}
		flush()
	}
}
