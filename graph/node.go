package graph

import (
	"reflect"
	"time"
)

// Value is an opaque node payload. Equality between old and new values
// decides whether a recomputation counts as a change; see Equal.
type Value = any

// ComputeFunc recomputes a derived node from its direct dependencies'
// current values, keyed by dependency node id. It must be pure and
// non-blocking; a failure aborts the remainder of the propagation pass.
type ComputeFunc func(deps map[string]Value) (Value, error)

// Equaler lets value types define their own change-detection equality.
type Equaler interface {
	Equal(other any) bool
}

// Change records one node's transition during a propagation pass.
type Change struct {
	NodeID    string    `json:"node_id"`
	Old       Value     `json:"old,omitempty"`
	New       Value     `json:"new"`
	Timestamp time.Time `json:"timestamp"`
}

// ChangeSet is the ordered record of all nodes that changed during one
// pass, in topological order. It is created at the start of a pass,
// consumed by the subscription registry at the end of the same pass, and
// never retained across passes.
type ChangeSet []Change

// NodeIDs returns the changed node ids in ChangeSet order.
func (cs ChangeSet) NodeIDs() []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.NodeID
	}
	return ids
}

// node is the internal graph cell. All fields are owned by the Graph and
// mutated only under its lock.
type node struct {
	id           string
	seq          int // insertion order, topological tie-break
	value        Value
	compute      ComputeFunc // nil for leaves
	dependencies []string
	dependents   []string
}

func (n *node) isLeaf() bool {
	return n.compute == nil
}

// valuesEqual reports whether two committed values are equal for change
// detection. Values without a defined equality are always considered
// changed.
func valuesEqual(a, b Value) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if eq, ok := a.(Equaler); ok {
		return eq.Equal(b)
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if !ta.Comparable() {
		return false
	}
	return a == b
}
