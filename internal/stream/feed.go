package stream

import (
	"context"
	"iter"

	"github.com/roach88/evactor/internal/adapter"
	"github.com/roach88/evactor/internal/ir"
)

// FeedOptions selects a merged event feed.
type FeedOptions struct {
	// Types lists the actor types to merge.
	Types []string

	// Stream is applied to every per-type stream; its ActorType is
	// overwritten.
	Stream adapter.StreamOptions

	// Buffer bounds per-type read-ahead.
	Buffer int
}

// Feed returns one ascending-by-id event stream across opts.Types, read
// from per-type streams of streamer.
func Feed(ctx context.Context, streamer adapter.EventStreamer, opts FeedOptions) iter.Seq2[ir.Message, error] {
	sources := make(map[string]Source, len(opts.Types))
	for _, actorType := range opts.Types {
		sopts := opts.Stream
		sopts.ActorType = actorType
		sources[actorType] = func(ctx context.Context) iter.Seq2[ir.Message, error] {
			return streamer.GetEventStreamFor(ctx, "", sopts)
		}
	}
	return Merger{Buffer: opts.Buffer}.Merge(ctx, sources)
}

// FromSlice returns a Source over already-sorted events.
func FromSlice(events []ir.Message) Source {
	return func(ctx context.Context) iter.Seq2[ir.Message, error] {
		return func(yield func(ir.Message, error) bool) {
			for _, evt := range events {
				if ctx.Err() != nil {
					return
				}
				if !yield(evt, nil) {
					return
				}
			}
		}
	}
}
