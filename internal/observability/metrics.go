// Package observability wires Prometheus metrics for the chat service.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	TurnsTotal        *prometheus.CounterVec
	RetrievalUsed     prometheus.Counter
	GenerationRetries prometheus.Counter
	TurnDuration      prometheus.Histogram
	ActiveStreams     prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the collectors under the given namespace on a
// private registry. A fresh registry per instance keeps parallel tests
// from colliding on duplicate registration.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed conversation turns by outcome.",
		}, []string{"outcome"}),
		RetrievalUsed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_used_total",
			Help:      "Turns that performed knowledge retrieval.",
		}),
		GenerationRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Turns that fell back to the fixed apology reply.",
		}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a full turn including generation.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Streaming turns currently in flight.",
		}),
		registry: reg,
	}
}

// Turn outcome label values.
const (
	OutcomeOK       = "ok"
	OutcomeCanned   = "canned"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// Handler exposes the metrics endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
