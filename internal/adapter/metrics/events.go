package metrics

import "github.com/prometheus/client_golang/prometheus"

// EventMetrics holds Prometheus metrics for change-event fan-out.
type EventMetrics struct {
	Published     *prometheus.CounterVec
	RelayFailures prometheus.Counter
	RelayDuration prometheus.Histogram
}

// NewEventMetrics creates and registers event metrics on the given registry.
func NewEventMetrics(reg prometheus.Registerer) *EventMetrics {
	m := &EventMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of change events published, by event type.",
		}, []string{"type"}),
		RelayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "relay_failures_total",
			Help:      "Total number of events that fell back to local delivery.",
		}),
		RelayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "relay_duration_seconds",
			Help:      "Duration of Redis relay publishes in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
	}

	reg.MustRegister(m.Published, m.RelayFailures, m.RelayDuration)
	return m
}
