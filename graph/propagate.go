package graph

import (
	"time"

	"github.com/CFSY/meta-reactive/errors"
)

// Propagate runs one propagation pass over all staged leaf updates and
// returns the ChangeSet of nodes whose value actually changed, in
// topological order.
//
// Every staged leaf is applied first-in-order, then each transitively
// dependent node is recomputed at most once against its dependencies'
// final values. A compute failure aborts the remainder of the pass: the
// partial ChangeSet is returned together with a *errors.ComputeError, and
// changes already applied are not rolled back.
//
// With no staged updates the pass is a no-op returning a nil ChangeSet.
func (g *Graph) Propagate() (ChangeSet, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.staged) == 0 {
		return nil, nil
	}
	staged := g.staged
	g.staged = make(map[string]Value)

	now := time.Now().UTC()
	dirty := make(map[string]bool, len(staged))
	var changes ChangeSet

	for _, id := range g.topoLocked() {
		n := g.nodes[id]

		if v, ok := staged[id]; ok {
			if !valuesEqual(n.value, v) {
				changes = append(changes, Change{NodeID: id, Old: n.value, New: v, Timestamp: now})
				n.value = v
				dirty[id] = true
			}
			continue
		}

		if n.isLeaf() || !g.anyDirty(n.dependencies, dirty) {
			continue
		}

		depValues := make(map[string]Value, len(n.dependencies))
		for _, dep := range n.dependencies {
			depValues[dep] = g.nodes[dep].value
		}

		v, err := n.compute(depValues)
		if err != nil {
			return changes, errors.Wrap(errors.NewComputeError(id, err), "Graph", "Propagate", "recompute node")
		}
		if !valuesEqual(n.value, v) {
			changes = append(changes, Change{NodeID: id, Old: n.value, New: v, Timestamp: now})
			n.value = v
			dirty[id] = true
		}
	}

	return changes, nil
}

// PendingUpdates reports the number of staged leaf updates awaiting the
// next pass.
func (g *Graph) PendingUpdates() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.staged)
}

func (g *Graph) anyDirty(ids []string, dirty map[string]bool) bool {
	for _, id := range ids {
		if dirty[id] {
			return true
		}
	}
	return false
}
