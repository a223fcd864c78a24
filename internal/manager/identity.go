package manager

import (
	"context"

	"github.com/roach88/evactor/internal/adapter"
	"github.com/roach88/evactor/internal/ir"
)

// SystemID returns the durable system id of (actorType, id), assigning and
// recording one on first use. Lookups go memo, cache, then store;
// concurrent first uses of the same identity share one assignment.
func (m *Manager) SystemID(ctx context.Context, actorType, id string) (string, error) {
	key := actorType + "\x00" + id
	if sys, ok := m.known.Load(key); ok {
		return sys.(string), nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		if sys, ok := m.known.Load(key); ok {
			return sys, nil
		}
		sys, err := m.lookupSystemID(ctx, actorType, id)
		if err != nil {
			return "", err
		}
		if sys == "" {
			sys = m.ids.Generate()
			if err := m.mapIDs(ctx, actorType, sys, id); err != nil {
				return "", err
			}
			m.logger.Debug("assigned system id",
				"actor_type", actorType,
				"actor_id", id,
				"system_id", sys,
			)
		}
		m.known.Store(key, sys)
		return sys, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) lookupSystemID(ctx context.Context, actorType, id string) (string, error) {
	if lookup, ok := m.actorCache.(adapter.SystemIDLookup); ok {
		sys, err := lookup.GetSystemID(ctx, actorType, id)
		switch {
		case err != nil:
			cacheRequests.WithLabelValues("system_id", "error").Inc()
			m.logger.Warn("actor cache system id lookup failed",
				"actor_type", actorType,
				"actor_id", id,
				"error", err,
			)
		case sys != "":
			cacheRequests.WithLabelValues("system_id", "hit").Inc()
			return sys, nil
		default:
			cacheRequests.WithLabelValues("system_id", "miss").Inc()
		}
	}

	lookup, ok := m.actorStore.(adapter.SystemIDLookup)
	if !ok {
		return "", nil
	}
	sys, err := lookup.GetSystemID(ctx, actorType, id)
	if err != nil {
		return "", &FetchError{ActorType: actorType, ActorID: id, Source: "actor store", Cause: err}
	}
	if sys != "" {
		m.mapCache(ctx, actorType, sys, id)
	}
	return sys, nil
}

// mapIDs records a new mapping in the store (fatal) and the cache (best
// effort).
func (m *Manager) mapIDs(ctx context.Context, actorType, sys, id string) error {
	if mapper, ok := m.actorStore.(adapter.IDMapper); ok {
		if err := mapper.MapIDs(ctx, actorType, sys, id); err != nil {
			return &FetchError{ActorType: actorType, ActorID: id, Source: "actor store", Cause: err}
		}
	}
	m.mapCache(ctx, actorType, sys, id)
	return nil
}

func (m *Manager) mapCache(ctx context.Context, actorType, sys, id string) {
	mapper, ok := m.actorCache.(adapter.IDMapper)
	if !ok {
		return
	}
	if err := mapper.MapIDs(ctx, actorType, sys, id); err != nil {
		m.logger.Warn("actor cache id mapping failed",
			"actor_type", actorType,
			"actor_id", id,
			"system_id", sys,
			"error", err,
		)
	}
}

// SourceIDs resolves the system ids of an aggregated source from state
// using a fixed field convention for source type s:
//
//	s, s+"s"       natural ids (scalar, list, or objects with the source's
//	               identity field or a "_id")
//	s+"Id", s+"Ids" system ids
//
// Results keep that order with duplicates removed.
func (m *Manager) SourceIDs(ctx context.Context, source string, state ir.Record) ([]string, error) {
	identity := "id"
	if def, ok := m.defs.Definition(source); ok {
		identity = def.Identity()
	}

	var out []string
	seen := make(map[string]bool)
	add := func(sys string) {
		if sys != "" && !seen[sys] {
			seen[sys] = true
			out = append(out, sys)
		}
	}

	for _, field := range []string{source, source + "s"} {
		for _, v := range flatten(state[field]) {
			if obj, ok := ir.AsRecord(v); ok {
				if sys := obj.String(ir.FieldSystemID); sys != "" {
					add(sys)
					continue
				}
				v = obj[identity]
			}
			natural, ok := v.(string)
			if !ok || natural == "" {
				continue
			}
			sys, err := m.SystemID(ctx, source, natural)
			if err != nil {
				return nil, err
			}
			add(sys)
		}
	}

	for _, field := range []string{source + "Id", source + "Ids"} {
		for _, v := range flatten(state[field]) {
			if s, ok := v.(string); ok {
				add(s)
			}
		}
	}
	return out, nil
}

func flatten(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}
