package manager

import (
	"context"
	"errors"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/adapter"
	"github.com/roach88/evactor/internal/ir"
)

// baseline returns the starting state for an instance: the resolved head
// snapshot, or a fresh initial state.
func (m *Manager) baseline(ctx context.Context, def *actor.Definition, id, systemID string) (ir.Record, error) {
	candidates, err := m.fetchSnapshots(ctx, def.Type, id, systemID)
	if err != nil {
		return nil, err
	}

	var excluded []string
	for len(candidates) > 1 {
		finder, ok := m.actorStore.(adapter.AncestorFinder)
		if !ok {
			return nil, &FetchError{ActorType: def.Type, ActorID: id, Source: "actor store", Cause: adapter.ErrUnsupported}
		}
		for _, c := range candidates {
			if sid := c.String(ir.FieldSnapshotID); sid != "" {
				excluded = append(excluded, sid)
			}
		}
		m.logger.Info("resolving forked snapshots",
			"actor_type", def.Type,
			"actor_id", id,
			"candidates", len(candidates),
		)
		forkResolutions.WithLabelValues(def.Type).Inc()

		candidates, err = finder.FindAncestor(ctx, systemID, candidates, excluded)
		if err != nil {
			return nil, &FetchError{ActorType: def.Type, ActorID: id, Source: "actor store", Cause: err}
		}
	}

	var state ir.Record
	if len(candidates) == 1 {
		state = candidates[0].Clone()
	} else {
		state = def.NewState(id)
	}
	if state.String(def.Identity()) == "" {
		state[def.Identity()] = id
	}
	state[ir.FieldSystemID] = systemID
	return state, nil
}

func (m *Manager) fetchSnapshots(ctx context.Context, actorType, id, systemID string) ([]ir.Record, error) {
	if m.actorCache != nil {
		candidates, err := m.actorCache.Fetch(ctx, systemID)
		switch {
		case err != nil:
			cacheRequests.WithLabelValues("snapshot", "error").Inc()
			m.logger.Warn("actor cache fetch failed",
				"actor_type", actorType,
				"actor_id", id,
				"error", err,
			)
		case len(candidates) > 0:
			cacheRequests.WithLabelValues("snapshot", "hit").Inc()
			return candidates, nil
		default:
			cacheRequests.WithLabelValues("snapshot", "miss").Inc()
		}
	}

	candidates, err := m.actorStore.Fetch(ctx, systemID)
	if err != nil {
		return nil, &FetchError{ActorType: actorType, ActorID: id, Source: "actor store", Cause: err}
	}
	return candidates, nil
}

// replay folds every event not yet reflected in inst and returns them in
// the order applied.
//
// Aggregated sources are discovered on a working copy that has seen the
// instance's own events, so source references added by those events are
// followed in the same pass.
func (m *Manager) replay(ctx context.Context, inst *actor.Instance) ([]ir.Message, error) {
	def := inst.Def
	merged, err := m.readEvents(ctx, def.Type, inst.ID(), inst.SystemID(), inst.LastEventID())
	if err != nil {
		return nil, err
	}

	if len(def.AggregateFrom) > 0 {
		work := inst.Clone()
		for _, evt := range merged {
			if err := m.applier.Fold(work, evt); err != nil {
				return nil, err
			}
		}

		seen := make(map[string]bool, len(merged))
		for _, evt := range merged {
			seen[evt.ID] = true
		}
		for _, source := range def.AggregateFrom {
			ids, err := m.SourceIDs(ctx, source, work.State)
			if err != nil {
				return nil, err
			}
			since := inst.RelatedLastEventID(source)
			for _, sys := range ids {
				events, err := m.readEvents(ctx, source, sys, sys, since)
				if err != nil {
					return nil, err
				}
				for _, evt := range events {
					if !seen[evt.ID] {
						seen[evt.ID] = true
						merged = append(merged, evt)
					}
				}
			}
		}
		ir.SortByID(merged)
	}

	for _, evt := range merged {
		if err := m.applier.Fold(inst, evt); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// readEvents reads a log tail from the event cache, falling back to the
// store and backfilling the cache. The cache only answers incremental
// reads; full-history reads always go to the store.
func (m *Manager) readEvents(ctx context.Context, actorType, id, systemID, afterID string) ([]ir.Message, error) {
	if m.eventCache != nil && afterID != "" {
		events, err := m.eventCache.GetEventsFor(ctx, systemID, afterID)
		switch {
		case errors.Is(err, adapter.ErrNotFound):
			cacheRequests.WithLabelValues("events", "miss").Inc()
		case err != nil:
			cacheRequests.WithLabelValues("events", "error").Inc()
			m.logger.Warn("event cache read failed",
				"actor_type", actorType,
				"system_id", systemID,
				"error", err,
			)
		default:
			cacheRequests.WithLabelValues("events", "hit").Inc()
			return events, nil
		}
	}

	events, err := m.eventStore.GetEventsFor(ctx, systemID, afterID)
	if err != nil {
		return nil, &FetchError{ActorType: actorType, ActorID: id, Source: "event store", Cause: err}
	}
	if m.eventCache != nil && len(events) > 0 {
		if err := m.eventCache.StoreEvents(ctx, systemID, events); err != nil {
			m.logger.Warn("event cache backfill failed",
				"actor_type", actorType,
				"system_id", systemID,
				"error", err,
			)
		}
	}
	return events, nil
}
