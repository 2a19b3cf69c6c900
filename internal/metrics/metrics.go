// Package metrics defines the Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the engine's collectors. Create one per process with New
// and share it by pointer.
type Metrics struct {
	TurnsTotal           *prometheus.CounterVec
	RateLimitRejections  prometheus.Counter
	UpstreamDuration     *prometheus.HistogramVec
	DrilldownCacheHits   prometheus.Counter
	DrilldownCacheMisses prometheus.Counter
}

// New registers the collectors on reg and returns them. Pass
// prometheus.DefaultRegisterer outside tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "partsflow_turns_total",
			Help: "Conversation turns processed, by outcome.",
		}, []string{"outcome"}),
		RateLimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "partsflow_rate_limit_rejections_total",
			Help: "Turns rejected by the quota gate.",
		}),
		UpstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "partsflow_upstream_request_duration_seconds",
			Help:    "Latency of external collaborator calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"collaborator"}),
		DrilldownCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "partsflow_drilldown_cache_hits_total",
			Help: "Drill-down steps served from the per-session cache.",
		}),
		DrilldownCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "partsflow_drilldown_cache_misses_total",
			Help: "Drill-down steps that required an external catalog call.",
		}),
	}
}

// NewNop returns metrics backed by a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
