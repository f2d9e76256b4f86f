// Package observability holds the Prometheus collectors and the structured
// logger shared by the writer and the inspection server.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ensemble_store"

// Metrics holds the counters, histograms and gauges of a run.
type Metrics struct {
	Writes         *prometheus.CounterVec // labels: domain
	WriteErrors    *prometheus.CounterVec // labels: kind
	MembersWritten prometheus.Counter
	TimeCount      prometheus.Gauge

	FinalizeDuration *prometheus.HistogramVec // labels: diagnostic
	Finalized        *prometheus.CounterVec   // labels: diagnostic, outcome={ok,error}

	SourceReads *prometheus.CounterVec // labels: outcome={ok,error}
}

func newCollectors() *Metrics {
	return &Metrics{
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Accepted ensemble batch writes by domain.",
		}, []string{"domain"}),
		WriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Rejected or failed writes by error kind.",
		}, []string{"kind"}),
		MembersWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "members_written_total",
			Help:      "Ensemble members written across all domains.",
		}),
		TimeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "time_count",
			Help:      "Current length of the unlimited time dimension.",
		}),
		FinalizeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalize_duration_seconds",
			Help:      "Duration of a finalize call by diagnostic type.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"diagnostic"}),
		Finalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_total",
			Help:      "Finalize calls by diagnostic type and outcome.",
		}, []string{"diagnostic", "outcome"}),
		SourceReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_reads_total",
			Help:      "Raw field source reads by outcome.",
		}, []string{"outcome"}),
	}
}

// NewMetrics creates the collectors and registers them with the default registry.
func NewMetrics() *Metrics {
	m := newCollectors()
	prometheus.MustRegister(
		m.Writes,
		m.WriteErrors,
		m.MembersWritten,
		m.TimeCount,
		m.FinalizeDuration,
		m.Finalized,
		m.SourceReads,
	)
	return m
}

// NewMetricsForTesting creates unregistered collectors so tests can build
// as many as they like.
func NewMetricsForTesting() *Metrics {
	return newCollectors()
}
