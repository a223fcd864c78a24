package runtime

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/adapter"
	"github.com/roach88/evactor/internal/ir"
	"github.com/roach88/evactor/internal/stream"
)

// EventStreamOptions selects a continuous event feed.
type EventStreamOptions struct {
	// ActorType and ID select one actor's log. With ID empty the feed
	// merges every event of Types.
	ActorType string
	ID        string

	// Types lists the actor types merged when ID is empty. Default: every
	// registered type.
	Types []string

	AfterID      string
	Since        time.Time
	EventTypes   []string
	Follow       bool
	PollInterval time.Duration

	// Buffer bounds per-type read-ahead of the merge.
	Buffer int
}

// EventStream returns events in ascending id order.
func (r *Runtime) EventStream(ctx context.Context, opts EventStreamOptions) iter.Seq2[ir.Message, error] {
	sopts := adapter.StreamOptions{
		AfterID:      opts.AfterID,
		Since:        opts.Since,
		EventTypes:   opts.EventTypes,
		Follow:       opts.Follow,
		PollInterval: opts.PollInterval,
	}

	if opts.ID != "" {
		return func(yield func(ir.Message, error) bool) {
			systemID, err := r.lookupSystemID(ctx, opts.ActorType, opts.ID)
			if err != nil {
				yield(ir.Message{}, err)
				return
			}
			if systemID == "" {
				return
			}
			for evt, err := range r.actorLog(opts.ActorType, opts.ID, systemID, sopts)(ctx) {
				if !yield(evt, err) || err != nil {
					return
				}
			}
		}
	}

	streamer, ok := r.events.(adapter.EventStreamer)
	if !ok {
		return failed(fmt.Errorf("event stream: %w", adapter.ErrUnsupported))
	}
	types := opts.Types
	if len(types) == 0 {
		types = r.registry.Types()
	}
	return stream.Feed(ctx, streamer, stream.FeedOptions{
		Types:  types,
		Stream: sopts,
		Buffer: opts.Buffer,
	})
}

// ActorStreamOptions selects an actor timeline. AfterID takes precedence
// over Since; with neither the timeline starts from a fresh state.
type ActorStreamOptions struct {
	AfterID   string
	Since     time.Time
	BatchSize int
	Buffer    int
}

// ActorStream reconstructs the history of (actorType, id): starting from
// the snapshot at opts.AfterID or opts.Since, it folds the actor's own and
// aggregated events in id order and yields the evolving state. Nothing is
// persisted.
func (r *Runtime) ActorStream(ctx context.Context, actorType, id string, opts ActorStreamOptions) iter.Seq2[stream.Frame, error] {
	return func(yield func(stream.Frame, error) bool) {
		def, ok := r.registry.Definition(actorType)
		if !ok {
			yield(stream.Frame{}, unknownType(actorType, id))
			return
		}
		systemID, err := r.lookupSystemID(ctx, actorType, id)
		if err != nil {
			yield(stream.Frame{}, err)
			return
		}
		if systemID == "" {
			return
		}

		base, err := r.timelineBase(ctx, def, id, systemID, opts)
		if err != nil {
			yield(stream.Frame{}, err)
			return
		}

		sources := map[string]stream.Source{
			actorType: r.actorLog(actorType, id, systemID, adapter.StreamOptions{AfterID: base.LastEventID()}),
		}
		if len(def.AggregateFrom) > 0 {
			latest, err := r.Fetch(ctx, actorType, id, true)
			if err != nil {
				yield(stream.Frame{}, err)
				return
			}
			for _, source := range def.AggregateFrom {
				ids, err := r.manager.SourceIDs(ctx, source, latest.State)
				if err != nil {
					yield(stream.Frame{}, fetchError(actorType, id, err))
					return
				}
				after := base.RelatedLastEventID(source)
				for _, sys := range ids {
					sources[source+":"+sys] = r.actorLog(source, sys, sys, adapter.StreamOptions{AfterID: after})
				}
			}
		}

		frames := stream.Timeline(ctx, base, r.applier, sources, stream.TimelineOptions{
			BatchSize: opts.BatchSize,
			Buffer:    opts.Buffer,
		})
		for frame, err := range frames {
			if !yield(frame, err) || err != nil {
				return
			}
		}
	}
}

// timelineBase returns the instance a timeline starts from.
func (r *Runtime) timelineBase(ctx context.Context, def *actor.Definition, id, systemID string, opts ActorStreamOptions) (*actor.Instance, error) {
	fresh := func() *actor.Instance {
		state := def.NewState(id)
		state[ir.FieldSystemID] = systemID
		return actor.NewInstance(def, state)
	}
	if opts.AfterID == "" && opts.Since.IsZero() {
		return fresh(), nil
	}

	pit, ok := r.actors.(adapter.PointInTimeFetcher)
	if !ok {
		return nil, fmt.Errorf("actor stream %s: %w", def.Type, adapter.ErrUnsupported)
	}
	var (
		state ir.Record
		err   error
	)
	if opts.AfterID != "" {
		state, err = pit.FetchByLastEventID(ctx, systemID, opts.AfterID)
	} else {
		state, err = pit.FetchByLastEventDate(ctx, systemID, opts.Since)
	}
	switch {
	case errors.Is(err, adapter.ErrNotFound):
		return fresh(), nil
	case err != nil:
		return nil, fetchError(def.Type, id, err)
	}
	return actor.NewInstance(def, state), nil
}

// actorLog returns a Source over one actor's log, streamed when the event
// store supports it.
func (r *Runtime) actorLog(actorType, id, systemID string, opts adapter.StreamOptions) stream.Source {
	if streamer, ok := r.events.(adapter.EventStreamer); ok {
		return func(ctx context.Context) iter.Seq2[ir.Message, error] {
			return streamer.GetEventStreamFor(ctx, systemID, opts)
		}
	}
	return func(ctx context.Context) iter.Seq2[ir.Message, error] {
		return func(yield func(ir.Message, error) bool) {
			events, err := r.events.GetEventsFor(ctx, systemID, opts.AfterID)
			if err != nil {
				yield(ir.Message{}, fetchError(actorType, id, err))
				return
			}
			for evt, err := range stream.FromSlice(filterEvents(events, opts))(ctx) {
				if !yield(evt, err) {
					return
				}
			}
		}
	}
}

// filterEvents applies Since and EventTypes for stores without streams.
func filterEvents(events []ir.Message, opts adapter.StreamOptions) []ir.Message {
	if opts.Since.IsZero() && len(opts.EventTypes) == 0 {
		return events
	}
	keep := make(map[string]bool, len(opts.EventTypes))
	for _, t := range opts.EventTypes {
		keep[t] = true
	}
	out := make([]ir.Message, 0, len(events))
	for _, evt := range events {
		if !opts.Since.IsZero() && evt.CreatedOn.Before(opts.Since) {
			continue
		}
		if len(keep) > 0 && !keep[evt.Type] {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func failed(err error) iter.Seq2[ir.Message, error] {
	return func(yield func(ir.Message, error) bool) {
		yield(ir.Message{}, err)
	}
}
