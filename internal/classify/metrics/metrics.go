package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the classification module.
type Metrics struct {
	// Recompute latency by modality
	RecomputeLatency *prometheus.HistogramVec

	// Cache lookups by result ("hit"/"miss")
	CacheLookups *prometheus.CounterVec

	// Recompute failures by modality
	RecomputeFailures *prometheus.CounterVec
}

// New creates a Metrics instance with all classification metrics registered.
func New() *Metrics {
	return &Metrics{
		RecomputeLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crono_classify_recompute_duration_seconds",
			Help:    "Duration of full classification recomputation by modality",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"modality"}),

		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crono_classify_cache_lookups_total",
			Help: "Classification cache lookups by result",
		}, []string{"result"}),

		RecomputeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crono_classify_recompute_failures_total",
			Help: "Classification recomputations that failed to load their snapshot",
		}, []string{"modality"}),
	}
}

// ObserveRecompute records the duration of one recomputation.
func (m *Metrics) ObserveRecompute(modality string, d time.Duration) {
	if m != nil {
		m.RecomputeLatency.WithLabelValues(modality).Observe(d.Seconds())
	}
}

// CacheHit records a cache hit.
func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheLookups.WithLabelValues("hit").Inc()
	}
}

// CacheMiss records a cache miss.
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecomputeFailed records a recomputation that could not complete.
func (m *Metrics) RecomputeFailed(modality string) {
	if m != nil {
		m.RecomputeFailures.WithLabelValues(modality).Inc()
	}
}
