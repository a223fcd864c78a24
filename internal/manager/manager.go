// Package manager materializes actor instances from snapshots and event
// logs and decides when to compact them into new snapshots.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/adapter"
	"github.com/roach88/evactor/internal/engine"
	"github.com/roach88/evactor/internal/ir"
)

// DefaultWorkers bounds GetOrCreateAll fan-out.
const DefaultWorkers = 8

// Definitions looks up registered actor types. *actor.Registry implements it.
type Definitions interface {
	Definition(actorType string) (*actor.Definition, bool)
}

// FetchError reports a fatal read failure.
type FetchError struct {
	ActorType string
	ActorID   string
	Source    string
	Cause     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("Failed to fetch '%s' of '%s' from %s with %v", e.ActorID, e.ActorType, e.Source, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Manager implements get-or-create for actor instances.
//
// Manager does not serialize by itself: callers that mutate (the
// dispatcher) already hold the identity's queue slot, and GetOrCreateAll
// takes one per identity through the configured executor.
type Manager struct {
	defs       Definitions
	actorStore adapter.ActorStore
	eventStore adapter.EventStore
	actorCache adapter.ActorCache
	eventCache adapter.EventCache
	applier    *engine.Applier
	exec       engine.Executor
	ids        engine.IDGenerator
	node       string
	now        func() time.Time
	workers    int
	logger     *slog.Logger

	group singleflight.Group
	known sync.Map // type\x00natural id -> system id
}

// Option configures a Manager.
type Option func(*Manager)

// WithActorCache adds a snapshot cache in front of the actor store.
func WithActorCache(c adapter.ActorCache) Option {
	return func(m *Manager) { m.actorCache = c }
}

// WithEventCache adds an event cache in front of the event store.
func WithEventCache(c adapter.EventCache) Option {
	return func(m *Manager) { m.eventCache = c }
}

// WithApplier sets the applier used for replay.
func WithApplier(a *engine.Applier) Option {
	return func(m *Manager) { m.applier = a }
}

// WithExecutor sets the executor GetOrCreateAll serializes reads with.
func WithExecutor(e engine.Executor) Option {
	return func(m *Manager) { m.exec = e }
}

// WithIDGenerator sets the system id and snapshot id generator.
func WithIDGenerator(g engine.IDGenerator) Option {
	return func(m *Manager) { m.ids = g }
}

// WithNodeID sets the vector clock node advanced by this process's
// snapshots.
func WithNodeID(node string) Option {
	return func(m *Manager) { m.node = node }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithWorkers bounds GetOrCreateAll concurrency.
func WithWorkers(n int) Option {
	return func(m *Manager) { m.workers = n }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager over the durable actor and event stores.
func New(defs Definitions, actors adapter.ActorStore, events adapter.EventStore, opts ...Option) *Manager {
	m := &Manager{
		defs:       defs,
		actorStore: actors,
		eventStore: events,
		exec:       engine.Immediate{},
		ids:        engine.UUIDv7Generator{},
		node:       "local",
		now:        time.Now,
		workers:    DefaultWorkers,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.applier == nil {
		m.applier = engine.NewApplier(m.ids, m.now)
	}
	if m.workers <= 0 {
		m.workers = DefaultWorkers
	}
	return m
}

// GetOrCreate returns the current instance of (actorType, id), creating
// the system id on first use.
//
// The baseline snapshot comes from the cache, falling back to the store.
// Sibling snapshots are resolved to their ancestor. Own events and the
// events of every aggregated source are merged by id and folded one by
// one. When at least the type's threshold of events was applied, a new
// snapshot is stored unless the read is read-only and the type does not
// snapshot on read.
func (m *Manager) GetOrCreate(ctx context.Context, actorType, id string, readOnly bool) (inst *actor.Instance, err error) {
	ctx, span := tracer.Start(ctx, "manager.Manager.GetOrCreate",
		trace.WithAttributes(
			attribute.String("actor_type", actorType),
			attribute.String("actor_id", id),
			attribute.Bool("read_only", readOnly),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "get or create failed")
		}
		span.End()
	}()

	def, ok := m.defs.Definition(actorType)
	if !ok {
		return nil, fmt.Errorf("unknown actor type %q", actorType)
	}

	systemID, err := m.SystemID(ctx, actorType, id)
	if err != nil {
		return nil, err
	}

	state, err := m.baseline(ctx, def, id, systemID)
	if err != nil {
		return nil, err
	}
	inst = actor.NewInstance(def, state)

	folded, err := m.replay(ctx, inst)
	if err != nil {
		return nil, err
	}
	replayedEvents.WithLabelValues(actorType).Observe(float64(len(folded)))
	span.SetAttributes(attribute.Int("events_applied", len(folded)))

	m.compact(ctx, inst, folded, readOnly)
	return inst, nil
}

// Outcome is one GetOrCreateAll result.
type Outcome struct {
	ID       string
	Instance *actor.Instance
	Err      error
}

// GetOrCreateAll fetches many instances concurrently. The result maps
// each type to outcomes aligned with the requested ids; one identity's
// failure never aborts its siblings.
func (m *Manager) GetOrCreateAll(ctx context.Context, req map[string][]string, readOnly bool) map[string][]Outcome {
	out := make(map[string][]Outcome, len(req))
	var g errgroup.Group
	g.SetLimit(m.workers)

	for actorType, ids := range req {
		outcomes := make([]Outcome, len(ids))
		out[actorType] = outcomes
		for i, id := range ids {
			g.Go(func() error {
				outcomes[i].ID = id
				outcomes[i].Err = m.exec.Do(ctx, id, func(ctx context.Context) error {
					inst, err := m.GetOrCreate(ctx, actorType, id, readOnly)
					outcomes[i].Instance = inst
					return err
				})
				return nil
			})
		}
	}
	_ = g.Wait()
	return out
}

// StoreEvents appends events to the owning actor's log and mirrors them
// into the event cache.
func (m *Manager) StoreEvents(ctx context.Context, actorType, systemID string, events []ir.Message) error {
	if err := m.eventStore.StoreEvents(ctx, systemID, events); err != nil {
		return fmt.Errorf("event store: %w", err)
	}
	if m.eventCache != nil {
		if err := m.eventCache.StoreEvents(ctx, systemID, events); err != nil {
			m.logger.Warn("event cache write failed",
				"actor_type", actorType,
				"system_id", systemID,
				"error", err,
			)
		}
	}
	return nil
}

// Definition returns a registered actor definition.
func (m *Manager) Definition(actorType string) (*actor.Definition, bool) {
	return m.defs.Definition(actorType)
}
