// Package metric provides Prometheus metrics infrastructure for the
// reactive framework.
//
// MetricsRegistry wraps a prometheus.Registry and tracks component metric
// registrations so duplicates are rejected with classified errors. Core
// propagation metrics are registered on creation; components register
// their own metrics on top, following the nil-registry = nil-metrics
// pattern: a component handed a nil registry simply skips instrumentation.
package metric
