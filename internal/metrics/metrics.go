// Package metrics exposes pipeline counters for Prometheus scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "guardian"

// Metrics holds every counter the pipeline reports.
type Metrics struct {
	EventsTotal      prometheus.Counter
	EventsInvalid    prometheus.Counter
	EventsDropped    prometheus.CounterFunc
	Assessments      *prometheus.CounterVec
	Escalations      *prometheus.CounterVec
	DispatchFailures prometheus.Counter
}

// New registers all counters on reg. dropped reads the queue's eviction
// count; nil reports zero.
func New(reg prometheus.Registerer, dropped func() uint64) *Metrics {
	if dropped == nil {
		dropped = func() uint64 { return 0 }
	}
	factory := promauto.With(reg)
	return &Metrics{
		EventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events dequeued by the orchestrator.",
		}),
		EventsInvalid: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_invalid_total",
			Help:      "Events rejected at validation.",
		}),
		EventsDropped: factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events evicted from a full queue.",
		}, func() float64 { return float64(dropped()) }),
		Assessments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Assessments by threat level.",
		}, []string{"level"}),
		Escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalations by resolution.",
		}, []string{"resolution"}),
		DispatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Actions that failed to execute.",
		}),
	}
}
