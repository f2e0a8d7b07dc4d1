package detector

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CFSY/meta-reactive/metric"
)

// metrics holds Prometheus metrics for the detector.
type metrics struct {
	rulesActive        prometheus.Gauge
	alertsFired        prometheus.Counter
	evaluationsDropped prometheus.Counter
}

// newMetrics creates and registers detector metrics.
// Returns nil if no registry is provided (nil input = nil feature pattern).
func newMetrics(registry *metric.MetricsRegistry) *metrics {
	if registry == nil {
		return nil
	}

	m := &metrics{
		rulesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "detector",
			Name:      "rules_active",
			Help:      "Number of running detector rules",
		}),
		alertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "detector",
			Name:      "alerts_fired_total",
			Help:      "Total alerts published by all rules",
		}),
		evaluationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "detector",
			Name:      "evaluations_dropped_total",
			Help:      "Total notifications discarded because a rule was busy",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.rulesActive,
		m.alertsFired,
		m.evaluationsDropped,
	)

	return m
}
