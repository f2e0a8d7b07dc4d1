package stream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/CFSY/meta-reactive/metric"
)

// serverMetrics holds Prometheus metrics for the streaming server.
type serverMetrics struct {
	clientsConnected prometheus.Gauge
	connectionsTotal prometheus.Counter
	framesSent       prometheus.Counter
}

// newServerMetrics creates and registers streaming metrics.
// Returns nil if no registry is provided (nil input = nil feature pattern).
func newServerMetrics(registry *metric.MetricsRegistry) *serverMetrics {
	if registry == nil {
		return nil
	}

	m := &serverMetrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "stream",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "stream",
			Name:      "client_connections_total",
			Help:      "Total client connections, including disconnected",
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "stream",
			Name:      "frames_sent_total",
			Help:      "Total frames written to clients",
		}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.clientsConnected,
		m.connectionsTotal,
		m.framesSent,
	)

	return m
}
