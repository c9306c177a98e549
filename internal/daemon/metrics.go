package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records save pipeline timings for Prometheus. It satisfies
// pipeline.MetricsRecorder.
type Metrics struct {
	registry *prometheus.Registry
	duration *prometheus.HistogramVec
	results  *prometheus.CounterVec
}

// NewMetrics returns a recorder backed by its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kpitarget",
			Name:      "operation_duration_seconds",
			Help:      "Duration of save operations and their phases.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kpitarget",
			Name:      "operations_total",
			Help:      "Save operations and phases by outcome.",
		}, []string{"operation", "outcome"}),
	}
	m.registry.MustRegister(
		m.duration,
		m.results,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one operation.
func (m *Metrics) Observe(_ context.Context, operation string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.duration.WithLabelValues(operation).Observe(d.Seconds())
	m.results.WithLabelValues(operation, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
