// Package classic provides the imperative construction API: nodes are
// created, connected and updated one call at a time, and every SetValue
// runs a synchronous propagation pass before returning.
//
// The builder is a thin facade over graph.Graph and registry.Registry; all
// validation happens in the graph primitives, so the declarative meta
// package and this package share one validation path. Intended for
// incremental, exploratory graph construction.
package classic
