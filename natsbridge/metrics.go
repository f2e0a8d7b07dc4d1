package natsbridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CFSY/meta-reactive/metric"
)

// metrics holds Prometheus metrics for the NATS bridge.
type metrics struct {
	messagesPublished prometheus.Counter
	publishFailures   prometheus.Counter
}

// newMetrics creates and registers bridge metrics.
// Returns nil if no registry is provided (nil input = nil feature pattern).
func newMetrics(registry *metric.MetricsRegistry) *metrics {
	if registry == nil {
		return nil
	}

	m := &metrics{
		messagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "natsbridge",
			Name:      "messages_published_total",
			Help:      "Total notifications published to NATS",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "natsbridge",
			Name:      "publish_failures_total",
			Help:      "Total publish attempts that failed",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.messagesPublished,
		m.publishFailures,
	)

	return m
}
