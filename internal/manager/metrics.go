package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("evactor.manager")

var (
	replayedEvents = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evactor_replayed_events",
		Help:    "Events folded per get-or-create",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"actor_type"})

	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evactor_snapshots_total",
		Help: "Snapshot decisions by actor type and result",
	}, []string{"actor_type", "result"})

	forkResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evactor_fork_resolutions_total",
		Help: "Ancestor lookups caused by sibling snapshots",
	}, []string{"actor_type"})

	// cacheRequests counts cache lookups by layer and result (hit, miss, error).
	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evactor_cache_requests_total",
		Help: "Cache lookups by layer and result",
	}, []string{"layer", "result"})
)
