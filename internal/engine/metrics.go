package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("evactor.engine")

var (
	// dispatchTotal counts per-type dispatch outcomes.
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evactor_dispatch_total",
		Help: "Total dispatched messages by actor type and outcome",
	}, []string{"actor_type", "outcome"})

	// dispatchDuration tracks Handle latency including queue admission.
	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evactor_dispatch_duration_seconds",
		Help:    "Dispatch duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"result"})

	// eventsProduced counts events persisted by owning actor type.
	eventsProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evactor_events_produced_total",
		Help: "Total events produced by commands, by owning actor type",
	}, []string{"actor_type"})

	// queueWaitDuration tracks time spent waiting for an identity slot.
	queueWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evactor_queue_wait_seconds",
		Help:    "Time waiting for a keyed queue slot in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	// searchIndexErrors counts failed best-effort index updates.
	searchIndexErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evactor_search_index_errors_total",
		Help: "Total failed search index updates by actor type",
	}, []string{"actor_type"})
)
