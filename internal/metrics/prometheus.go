// Package metrics records isolation outcomes to Prometheus and CloudWatch.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "guardrail"

// Prometheus holds the isolation metrics served on /metrics.
type Prometheus struct {
	reg *prometheus.Registry

	IsolationsTotal    *prometheus.CounterVec
	IsolationDuration  prometheus.Histogram
	EventsTotal        prometheus.Counter
	EventsInvalidTotal prometheus.Counter
}

// NewPrometheus registers the isolation metrics on a fresh registry.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Prometheus{
		reg: reg,
		IsolationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "isolation",
			Name:      "outcomes_total",
			Help:      "Findings handled, by outcome",
		}, []string{"outcome"}),
		IsolationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "isolation",
			Name:      "duration_seconds",
			Help:      "Time from event receipt to terminal state",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		EventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "received_total",
			Help:      "Finding events received from the bus",
		}),
		EventsInvalidTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "invalid_total",
			Help:      "Finding events rejected as undecodable",
		}),
	}
}

// ObserveIsolation implements engine.OutcomeObserver.
func (p *Prometheus) ObserveIsolation(_ context.Context, outcome string, elapsed time.Duration) {
	p.IsolationsTotal.WithLabelValues(outcome).Inc()
	p.IsolationDuration.Observe(elapsed.Seconds())
}

// IncEventsReceived increments the received-events counter.
func (p *Prometheus) IncEventsReceived() { p.EventsTotal.Inc() }

// IncEventsInvalid increments the invalid-events counter.
func (p *Prometheus) IncEventsInvalid() { p.EventsInvalidTotal.Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.reg }
