package metric

import "github.com/prometheus/client_golang/prometheus"

// Namespace is the metric namespace shared by all components.
const Namespace = "metareactive"

// Metrics holds the core propagation metrics registered with every
// MetricsRegistry.
type Metrics struct {
	PropagationPasses   prometheus.Counter
	PropagationDuration prometheus.Histogram
	NodesChanged        prometheus.Counter
	ComputeFailures     prometheus.Counter
	GraphNodes          prometheus.Gauge
}

// NewMetrics creates the core propagation metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		PropagationPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "graph",
			Name:      "propagation_passes_total",
			Help:      "Total propagation passes executed",
		}),
		PropagationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "graph",
			Name:      "propagation_duration_seconds",
			Help:      "Duration of propagation passes",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		NodesChanged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "graph",
			Name:      "nodes_changed_total",
			Help:      "Total node value changes across all passes",
		}),
		ComputeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "graph",
			Name:      "compute_failures_total",
			Help:      "Total compute function failures",
		}),
		GraphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "graph",
			Name:      "nodes",
			Help:      "Current number of nodes in the graph",
		}),
	}
}
