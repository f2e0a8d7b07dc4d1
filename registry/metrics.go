package registry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CFSY/meta-reactive/metric"
)

// Metrics holds Prometheus metrics for the subscription registry.
type Metrics struct {
	subscriptionsActive    prometheus.Gauge
	notificationsDelivered prometheus.Counter
	notificationsDropped   prometheus.Counter
}

// newMetrics creates and registers registry metrics.
// Returns nil if no registry is provided (nil input = nil feature pattern).
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		subscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "registry",
			Name:      "subscriptions_active",
			Help:      "Number of live subscriptions",
		}),
		notificationsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "registry",
			Name:      "notifications_delivered_total",
			Help:      "Total notifications enqueued to subscribers",
		}),
		notificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "registry",
			Name:      "notifications_dropped_total",
			Help:      "Total notifications discarded by overflow policies",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		metrics.subscriptionsActive,
		metrics.notificationsDelivered,
		metrics.notificationsDropped,
	)

	return metrics
}
