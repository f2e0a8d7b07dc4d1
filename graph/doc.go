// Package graph implements the reactive propagation core: a directed
// acyclic dependency graph of value nodes and the engine that recomputes
// derived values when leaves change.
//
// # Model
//
// A Node is a named value cell. Leaf nodes hold externally-set values and
// have no compute function; derived nodes recompute from their direct
// dependencies' values. Edges point from dependency to dependent, and every
// structural mutation (AddNode, AddEdge, RemoveNode) re-validates the
// acyclicity invariant before committing, so a cycle can never be created.
//
// # Propagation
//
// Leaf updates are staged with SetLeafValue and collapsed into one pass by
// Propagate. The engine walks the cached topological order and recomputes
// each transitively-affected node exactly once, against its dependencies'
// final values for the pass. This is the glitch-freedom guarantee: a node
// with several paths to a changed ancestor never observes a mix of old and
// new ancestor values.
//
// Each pass produces a ChangeSet listing every node whose value actually
// changed, leaves included, in topological order. Value equality uses the
// value's Equal method when present, == for comparable values, and treats
// all other values as always changed.
//
// A compute failure aborts the remainder of the pass. Changes already
// applied stand (they may have been observed) and the partial ChangeSet is
// returned alongside a *errors.ComputeError naming the failing node.
//
// The Graph is single-writer: all mutating entry points serialize through
// one critical section, so exactly one propagation pass runs at a time.
// Reads of committed values may proceed concurrently between passes.
package graph
