package manager

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/adapter"
	"github.com/roach88/evactor/internal/engine"
	"github.com/roach88/evactor/internal/ir"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func counterDef() *actor.Definition {
	def := actor.New("counter")
	def.EventThreshold = 3
	def.StoreEventPack = true
	def.Initial = func() ir.Record { return ir.Record{"count": int64(0)} }
	def.Event("incremented", func(state ir.Record, evt ir.Message) error {
		state["count"] = state.Int("count") + evt.Data.Int("by")
		return nil
	})
	return def
}

func vehicleDef() *actor.Definition {
	def := actor.New("vehicle")
	def.Event("moved", func(state ir.Record, evt ir.Message) error {
		state["miles"] = state.Int("miles") + evt.Data.Int("miles")
		return nil
	})
	return def
}

func tripDef() *actor.Definition {
	def := actor.New("trip")
	def.AggregateFrom = []string{"vehicle"}
	def.Event("assigned", func(state ir.Record, evt ir.Message) error {
		state["vehicle"] = evt.Data.String("vehicle")
		return nil
	})
	def.Event("vehicle.moved", func(state ir.Record, evt ir.Message) error {
		state["miles"] = state.Int("miles") + evt.Data.Int("miles")
		return nil
	})
	return def
}

func incremented(id string, by int64) ir.Message {
	return ir.Message{ID: id, Type: "counter.incremented", Data: ir.Record{"by": by}, CreatedOn: testNow}
}

// memActors is an in-memory actor store that keeps every head snapshot per
// system id.
type memActors struct {
	mu        sync.Mutex
	heads     map[string][]ir.Record
	ids       map[string]string
	stores    int
	fetches   int
	finds     [][]ir.Record
	excluded  [][]string
	ancestor  ir.Record
	failFetch error
	failStore error
}

func newMemActors() *memActors {
	return &memActors{heads: map[string][]ir.Record{}, ids: map[string]string{}}
}

func (s *memActors) Fetch(_ context.Context, systemID string) ([]ir.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.failFetch != nil {
		return nil, s.failFetch
	}
	var out []ir.Record
	for _, r := range s.heads[systemID] {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *memActors) Store(_ context.Context, systemID, _ string, state ir.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStore != nil {
		return s.failStore
	}
	s.stores++
	s.heads[systemID] = []ir.Record{state.Clone()}
	return nil
}

func (s *memActors) GetSystemID(_ context.Context, actorType, actorID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ids[actorType+"/"+actorID], nil
}

func (s *memActors) MapIDs(_ context.Context, actorType, systemID, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[actorType+"/"+actorID] = systemID
	return nil
}

func (s *memActors) FindAncestor(_ context.Context, _ string, candidates []ir.Record, excluded []string) ([]ir.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds = append(s.finds, candidates)
	s.excluded = append(s.excluded, excluded)
	if s.ancestor == nil {
		return nil, nil
	}
	return []ir.Record{s.ancestor.Clone()}, nil
}

// memEvents is an in-memory event store.
type memEvents struct {
	mu    sync.Mutex
	logs  map[string][]ir.Message
	reads int
	packs []adapter.EventPack
}

func newMemEvents() *memEvents {
	return &memEvents{logs: map[string][]ir.Message{}}
}

func (s *memEvents) GetEventsFor(_ context.Context, systemID, afterID string) ([]ir.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	var out []ir.Message
	for _, evt := range s.logs[systemID] {
		if evt.ID > afterID {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (s *memEvents) StoreEvents(_ context.Context, systemID string, events []ir.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[systemID] = append(s.logs[systemID], events...)
	ir.SortByID(s.logs[systemID])
	return nil
}

func (s *memEvents) GetEventPackFor(_ context.Context, _, snapshotID string) (*adapter.EventPack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.packs {
		if p.SnapshotID == snapshotID {
			return &p, nil
		}
	}
	return nil, adapter.ErrNotFound
}

func (s *memEvents) StoreEventPack(_ context.Context, pack adapter.EventPack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packs = append(s.packs, pack)
	return nil
}

// anchoredCache is an event cache that answers only when it holds the
// requested anchor event.
type anchoredCache struct {
	mu      sync.Mutex
	logs    map[string][]ir.Message
	hits    int
	failGet error
}

func newAnchoredCache() *anchoredCache {
	return &anchoredCache{logs: map[string][]ir.Message{}}
}

func (c *anchoredCache) GetEventsFor(_ context.Context, systemID, afterID string) ([]ir.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet != nil {
		return nil, c.failGet
	}
	log := c.logs[systemID]
	idx := slices.IndexFunc(log, func(m ir.Message) bool { return m.ID == afterID })
	if idx < 0 {
		return nil, adapter.ErrNotFound
	}
	c.hits++
	return slices.Clone(log[idx+1:]), nil
}

func (c *anchoredCache) StoreEvents(_ context.Context, systemID string, events []ir.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, evt := range events {
		if !slices.ContainsFunc(c.logs[systemID], func(m ir.Message) bool { return m.ID == evt.ID }) {
			c.logs[systemID] = append(c.logs[systemID], evt)
		}
	}
	ir.SortByID(c.logs[systemID])
	return nil
}

var errOffline = errors.New("offline")

func newTestManager(actors *memActors, events *memEvents, opts ...Option) *Manager {
	reg := actor.MustRegistry(counterDef(), vehicleDef(), tripDef())
	base := []Option{
		WithIDGenerator(engine.NewSequenceGenerator("id")),
		WithClock(fixedNow),
		WithNodeID("n1"),
	}
	return New(reg, actors, events, append(base, opts...)...)
}
