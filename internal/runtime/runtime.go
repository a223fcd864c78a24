// Package runtime assembles the registry, manager, dispatcher and adapters
// into the public surface of an evactor process.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/adapter"
	"github.com/roach88/evactor/internal/engine"
	"github.com/roach88/evactor/internal/ir"
	"github.com/roach88/evactor/internal/manager"
	"github.com/roach88/evactor/internal/queryir"
)

// ErrUnknownActorType is returned for an actor type with no registration.
var ErrUnknownActorType = errors.New("unknown actor type")

// Runtime is an assembled actor runtime.
//
// Every operation that touches an instance holds that identity's slot on
// one keyed queue, shared by the dispatcher and the manager.
type Runtime struct {
	registry   *actor.Registry
	manager    *manager.Manager
	dispatcher *engine.Dispatcher
	queue      *engine.KeyedQueue
	applier    *engine.Applier

	actors adapter.ActorStore
	events adapter.EventStore
	cache  adapter.EventCache
	search adapter.Search
	logger *slog.Logger
}

type options struct {
	actorCache adapter.ActorCache
	eventCache adapter.EventCache
	search     adapter.Search
	ids        engine.IDGenerator
	now        func() time.Time
	node       string
	slots      int
	workers    int
	logger     *slog.Logger
}

// Option configures a Runtime.
type Option func(*options)

// WithActorCache enables the snapshot cache.
func WithActorCache(c adapter.ActorCache) Option {
	return func(o *options) { o.actorCache = c }
}

// WithEventCache enables the event cache.
func WithEventCache(c adapter.EventCache) Option {
	return func(o *options) { o.eventCache = c }
}

// WithSearch enables Find and search indexing.
func WithSearch(s adapter.Search) Option {
	return func(o *options) { o.search = s }
}

// WithIDGenerator sets the id generator for events, system ids and
// snapshots. Default: engine.UUIDv7Generator.
func WithIDGenerator(g engine.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithClock sets the time source. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithNodeID names this process in snapshot vectors.
func WithNodeID(node string) Option {
	return func(o *options) { o.node = node }
}

// WithSlots bounds how many identities run at once.
// Default: engine.DefaultSlots.
func WithSlots(n int) Option {
	return func(o *options) { o.slots = n }
}

// WithWorkers bounds FetchAll fan-out. Default: manager.DefaultWorkers.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New assembles a Runtime over the durable stores.
func New(reg *actor.Registry, actors adapter.ActorStore, events adapter.EventStore, opts ...Option) *Runtime {
	o := options{
		ids:    engine.UUIDv7Generator{},
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	queue := engine.NewKeyedQueue(o.slots)
	applier := engine.NewApplier(o.ids, o.now)

	mopts := []manager.Option{
		manager.WithApplier(applier),
		manager.WithExecutor(queue),
		manager.WithIDGenerator(o.ids),
		manager.WithClock(o.now),
		manager.WithLogger(o.logger),
	}
	if o.actorCache != nil {
		mopts = append(mopts, manager.WithActorCache(o.actorCache))
	}
	if o.eventCache != nil {
		mopts = append(mopts, manager.WithEventCache(o.eventCache))
	}
	if o.node != "" {
		mopts = append(mopts, manager.WithNodeID(o.node))
	}
	if o.workers > 0 {
		mopts = append(mopts, manager.WithWorkers(o.workers))
	}
	mgr := manager.New(reg, actors, events, mopts...)

	dopts := []engine.Option{
		engine.WithQueue(queue),
		engine.WithApplier(applier),
		engine.WithIDGenerator(o.ids),
		engine.WithClock(o.now),
		engine.WithLogger(o.logger),
	}
	if o.search != nil {
		dopts = append(dopts, engine.WithIndexer(o.search))
	}

	return &Runtime{
		registry:   reg,
		manager:    mgr,
		dispatcher: engine.NewDispatcher(reg, mgr, dopts...),
		queue:      queue,
		applier:    applier,
		actors:     actors,
		events:     events,
		cache:      o.eventCache,
		search:     o.search,
		logger:     o.logger,
	}
}

// Fetch returns the current instance of (actorType, id), creating it on
// first use. A read-only fetch stores a snapshot only for types that
// snapshot on read.
func (r *Runtime) Fetch(ctx context.Context, actorType, id string, readOnly bool) (*actor.Instance, error) {
	if _, ok := r.registry.Definition(actorType); !ok {
		return nil, unknownType(actorType, id)
	}

	var inst *actor.Instance
	err := r.queue.Do(ctx, id, func(ctx context.Context) error {
		var err error
		inst, err = r.manager.GetOrCreate(ctx, actorType, id, readOnly)
		return err
	})
	if err != nil {
		return nil, fetchError(actorType, id, err)
	}
	return inst, nil
}

// FetchAll fetches many instances concurrently. The result maps each
// requested type to outcomes aligned with its ids; one failure never
// aborts the others.
func (r *Runtime) FetchAll(ctx context.Context, req map[string][]string, readOnly bool) map[string][]manager.Outcome {
	known := make(map[string][]string, len(req))
	out := make(map[string][]manager.Outcome, len(req))
	for actorType, ids := range req {
		if _, ok := r.registry.Definition(actorType); ok {
			known[actorType] = ids
			continue
		}
		outcomes := make([]manager.Outcome, len(ids))
		for i, id := range ids {
			outcomes[i] = manager.Outcome{
				ID:  id,
				Err: unknownType(actorType, id),
			}
		}
		out[actorType] = outcomes
	}

	for actorType, outcomes := range r.manager.GetOrCreateAll(ctx, known, readOnly) {
		for i := range outcomes {
			if outcomes[i].Err != nil {
				outcomes[i].Err = fetchError(actorType, outcomes[i].ID, outcomes[i].Err)
			}
		}
		out[actorType] = outcomes
	}
	return out
}

// Handle dispatches msg on topic to every subscribed type, addressing
// instances by natural id identity.
func (r *Runtime) Handle(ctx context.Context, identity, topic string, msg ir.Message) ([]engine.Result, error) {
	return r.dispatcher.Handle(ctx, identity, topic, msg)
}

// Find returns the instances of actorType matching criteria, in id order.
func (r *Runtime) Find(ctx context.Context, actorType string, criteria queryir.Criteria) ([]*actor.Instance, error) {
	if r.search == nil {
		return nil, fmt.Errorf("find %s: %w", actorType, adapter.ErrUnsupported)
	}
	ids, err := r.search.Find(ctx, actorType, criteria)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", actorType, err)
	}

	outcomes := r.FetchAll(ctx, map[string][]string{actorType: ids}, true)[actorType]
	instances := make([]*actor.Instance, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			return nil, o.Err
		}
		instances = append(instances, o.Instance)
	}
	return instances, nil
}

// Apply runs msg against inst under its identity's slot without
// persisting anything.
func (r *Runtime) Apply(ctx context.Context, inst *actor.Instance, msg ir.Message) ([]engine.Result, error) {
	var results []engine.Result
	err := r.queue.Do(ctx, inst.ID(), func(ctx context.Context) error {
		var err error
		results, err = r.applier.Apply(ctx, r.queue, inst, msg)
		return err
	})
	return results, err
}

// EventPack returns the events folded into one snapshot of an actor,
// read from the event cache when possible.
func (r *Runtime) EventPack(ctx context.Context, actorType, id, snapshotID string) (*adapter.EventPack, error) {
	systemID, err := r.lookupSystemID(ctx, actorType, id)
	if err != nil {
		return nil, err
	}
	if systemID == "" {
		return nil, adapter.ErrNotFound
	}

	if cached, ok := r.cache.(adapter.PackStore); ok {
		pack, err := cached.GetEventPackFor(ctx, systemID, snapshotID)
		if err == nil {
			return pack, nil
		}
		if !errors.Is(err, adapter.ErrNotFound) {
			r.logger.Warn("event cache pack read failed", "system_id", systemID, "error", err)
		}
	}

	packs, ok := r.events.(adapter.PackStore)
	if !ok {
		return nil, adapter.ErrUnsupported
	}
	pack, err := packs.GetEventPackFor(ctx, systemID, snapshotID)
	if err != nil && !errors.Is(err, adapter.ErrNotFound) {
		return nil, engine.NewFetchError(actorType, id, "event store", err)
	}
	return pack, err
}

// Topics returns every routed topic, sorted.
func (r *Runtime) Topics() []string { return r.registry.Topics() }

// Actors returns the registered actor types in registration order.
func (r *Runtime) Actors() []string { return r.registry.Types() }

// Definition returns a registered actor definition.
func (r *Runtime) Definition(actorType string) (*actor.Definition, bool) {
	return r.registry.Definition(actorType)
}

// Wait blocks until background search indexing has finished.
func (r *Runtime) Wait() { r.dispatcher.Wait() }

// lookupSystemID returns the system id of an existing actor without
// assigning one.
func (r *Runtime) lookupSystemID(ctx context.Context, actorType, id string) (string, error) {
	lookup, ok := r.actors.(adapter.SystemIDLookup)
	if !ok {
		return r.manager.SystemID(ctx, actorType, id)
	}
	systemID, err := lookup.GetSystemID(ctx, actorType, id)
	if err != nil {
		return "", engine.NewFetchError(actorType, id, "actor store", err)
	}
	return systemID, nil
}

func unknownType(actorType, id string) error {
	return engine.NewFetchError(actorType, id, "", fmt.Errorf("%w %q", ErrUnknownActorType, actorType))
}

// fetchError converts a manager failure into a FETCH_FAILED error.
func fetchError(actorType, id string, err error) error {
	var fe *manager.FetchError
	if errors.As(err, &fe) {
		return engine.NewFetchError(fe.ActorType, fe.ActorID, fe.Source, fe.Cause)
	}
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		return err
	}
	return engine.NewFetchError(actorType, id, "", err)
}
