package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/evactor/internal/actor"
	"github.com/roach88/evactor/internal/ir"
)

// Router resolves topics to subscribed actor types and types to their
// definitions. *actor.Registry implements it.
type Router interface {
	Route(topic string) []string
	Definition(actorType string) (*actor.Definition, bool)
}

// InstanceManager materializes actor instances and persists their events.
type InstanceManager interface {
	GetOrCreate(ctx context.Context, actorType, id string, readOnly bool) (*actor.Instance, error)
	StoreEvents(ctx context.Context, actorType, systemID string, events []ir.Message) error
	SystemID(ctx context.Context, actorType, id string) (string, error)
}

// Indexer receives searchable field changes after a successful command.
type Indexer interface {
	Update(ctx context.Context, actorType, actorID string, fields []string, updated, original ir.Record) error
}

// Dispatcher routes inbound messages to actor instances.
//
// Handle holds the identity's queue slot for the whole operation: loading
// the instance, applying the message and persisting the produced events.
type Dispatcher struct {
	router  Router
	manager InstanceManager
	applier *Applier
	queue   *KeyedQueue
	search  Indexer
	ids     IDGenerator
	now     func() time.Time
	logger  *slog.Logger

	indexing sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithIDGenerator sets the id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(d *Dispatcher) { d.ids = g }
}

// WithClock sets the time source. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithQueue shares a keyed queue with other components.
func WithQueue(q *KeyedQueue) Option {
	return func(d *Dispatcher) { d.queue = q }
}

// WithIndexer enables search index updates.
func WithIndexer(ix Indexer) Option {
	return func(d *Dispatcher) { d.search = ix }
}

// WithApplier shares an applier with other components.
func WithApplier(a *Applier) Option {
	return func(d *Dispatcher) { d.applier = a }
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(router Router, manager InstanceManager, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		router:  router,
		manager: manager,
		ids:     UUIDv7Generator{},
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.queue == nil {
		d.queue = NewKeyedQueue(DefaultSlots)
	}
	if d.applier == nil {
		d.applier = NewApplier(d.ids, d.now)
	}
	return d
}

// Handle dispatches msg on topic to every actor type subscribed to it,
// addressing the instance with natural id identity.
//
// It returns the per-type results, including rejected ones. It fails
// outright when a subscribed type is not registered, when an instance
// cannot be built, or when produced events cannot be persisted. A topic
// with no subscribers yields no results.
func (d *Dispatcher) Handle(ctx context.Context, identity, topic string, msg ir.Message) (results []Result, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "engine.Dispatcher.Handle",
		trace.WithAttributes(
			attribute.String("topic", topic),
			attribute.String("identity", identity),
		),
	)
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch failed")
		}
		dispatchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		span.End()
	}()

	types := d.router.Route(topic)
	if len(types) == 0 {
		d.logger.Debug("no actor subscribed to topic", "topic", topic)
		return nil, nil
	}

	defs := make([]*actor.Definition, 0, len(types))
	for _, t := range types {
		def, ok := d.router.Definition(t)
		if !ok {
			return nil, NewUnknownActorError(t, topic)
		}
		defs = append(defs, def)
	}

	if msg.ID == "" {
		msg.ID = d.ids.Generate()
	}
	// The routed topic selects the handler list, whatever type the caller
	// put on the message.
	msg.Type = topic
	if msg.Data == nil {
		msg.Data = ir.Record{}
	}

	err = d.queue.Do(ctx, identity, func(ctx context.Context) error {
		for _, def := range defs {
			typed, err := d.handleType(ctx, def, identity, msg)
			results = append(results, typed...)
			if err != nil {
				dispatchTotal.WithLabelValues(def.Type, "error").Inc()
				return err
			}
		}
		return nil
	})
	return results, err
}

func (d *Dispatcher) handleType(ctx context.Context, def *actor.Definition, identity string, msg ir.Message) ([]Result, error) {
	inst, err := d.manager.GetOrCreate(ctx, def.Type, identity, false)
	if err != nil {
		return nil, NewInstantiateError(def.Type, identity, err)
	}

	// Handle already holds the identity's slot.
	results, err := d.applier.Apply(ctx, Immediate{}, inst, msg)
	if err != nil {
		return results, err
	}

	for i := range results {
		res := &results[i]
		if res.Rejected {
			dispatchTotal.WithLabelValues(def.Type, "rejected").Inc()
			d.logger.Info("command rejected",
				"actor_type", def.Type,
				"actor_id", identity,
				"topic", msg.Type,
				"reason", res.ReasonText(),
			)
			continue
		}
		dispatchTotal.WithLabelValues(def.Type, "ok").Inc()
		if len(res.Events) == 0 {
			continue
		}

		groups, err := d.enrich(ctx, inst, res)
		if err != nil {
			return results, err
		}
		for _, g := range groups {
			if err := d.manager.StoreEvents(ctx, g.actorType, g.actorID, g.events); err != nil {
				return results, NewStoreEventsError(g.actorType, g.actorID, err)
			}
			eventsProduced.WithLabelValues(g.actorType).Add(float64(len(g.events)))
		}

		if d.search != nil && len(def.SearchFields) > 0 {
			d.index(ctx, def, identity, res.State, res.Original)
		}
	}
	return results, nil
}

// index updates the search index in the background. Failures are logged.
func (d *Dispatcher) index(ctx context.Context, def *actor.Definition, identity string, updated, original ir.Record) {
	ctx = context.WithoutCancel(ctx)
	d.indexing.Add(1)
	go func() {
		defer d.indexing.Done()
		if err := d.search.Update(ctx, def.Type, identity, def.SearchFields, updated, original); err != nil {
			searchIndexErrors.WithLabelValues(def.Type).Inc()
			d.logger.Warn("search index update failed",
				"actor_type", def.Type,
				"actor_id", identity,
				"error", err,
			)
		}
	}()
}

// Wait blocks until background index updates have finished.
func (d *Dispatcher) Wait() {
	d.indexing.Wait()
}
