// Package metareactive provides a reactive data-flow framework: producers
// publish value changes into a dependency graph, a propagation engine
// recomputes derived values glitch-free in topological order, and a
// subscription registry fans the resulting change sets out to local
// callbacks and remote streaming clients.
//
// # Architecture
//
// The module is organised around one propagation core with two construction
// styles and two transport bindings:
//
//	classic/     imperative construction: create nodes, connect edges and
//	             set values one call at a time, propagating synchronously
//	meta/        declarative construction: describe the whole graph up
//	             front, validate it, and compile it atomically
//	graph/       the shared core: DAG model, topological ordering and the
//	             change-propagation engine both styles terminate in
//	registry/    subscription registry with per-subscriber bounded queues
//	             and configurable overflow policies
//	stream/      WebSocket streaming boundary (server and client)
//	natsbridge/  NATS fan-out of change notifications
//	detector/    standing subscriber evaluating threshold, N-of-M and
//	             rate-of-change rules, emitting alerts back into the graph
//
// Supporting packages follow the same conventions throughout: errors/ for
// classified error handling, metric/ for Prometheus instrumentation,
// config/ for YAML configuration and service/ for lifecycle orchestration.
//
// # Guarantees
//
//	Glitch-freedom    each node is recomputed at most once per propagation
//	                  pass, always against its dependencies' final values
//	Determinism       identical graph state and leaf batch produce
//	                  identical change sets, in topological order
//	Isolation         a slow subscriber never blocks propagation or other
//	                  subscribers; overflow is governed by per-subscription
//	                  policy (block, drop-oldest, drop-newest)
package metareactive
