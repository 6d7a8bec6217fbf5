package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ingest module.
type Metrics struct {
	// Gate outcomes by status ("ok"/"duplicate"/"error") and duplicate kind
	Readings *prometheus.CounterVec

	// Batch sizes as received
	BatchSize prometheus.Histogram

	// Corrections, discards and restores by action
	Mutations *prometheus.CounterVec
}

// New creates a Metrics instance with all ingest metrics registered.
func New() *Metrics {
	return &Metrics{
		Readings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crono_ingest_readings_total",
			Help: "Reading gate outcomes by status and duplicate kind",
		}, []string{"status", "kind"}),

		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "crono_ingest_batch_size",
			Help:    "Number of readings per collector batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		Mutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crono_ingest_mutations_total",
			Help: "Manual reading mutations by action",
		}, []string{"action"}), // action: "correct", "discard", "restore"
	}
}

// ObserveReading records one gate outcome.
func (m *Metrics) ObserveReading(status, kind string) {
	if m != nil {
		m.Readings.WithLabelValues(status, kind).Inc()
	}
}

// ObserveBatch records the size of one received batch.
func (m *Metrics) ObserveBatch(size int) {
	if m != nil {
		m.BatchSize.Observe(float64(size))
	}
}

// ObserveMutation records a manual mutation.
func (m *Metrics) ObserveMutation(action string) {
	if m != nil {
		m.Mutations.WithLabelValues(action).Inc()
	}
}
