package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/CFSY/meta-reactive/errors"
)

// Options configures per-Graph behavior.
type Options struct {
	// RemoveDependents cascades RemoveNode to all transitive dependents
	// instead of rejecting the removal with ErrHasDependents.
	RemoveDependents bool
}

// Graph owns the mapping from node id to node, the dependency edges and
// the cached topological evaluation order. All mutating entry points
// serialize through one critical section scoped to the Graph.
type Graph struct {
	mu      sync.RWMutex
	opts    Options
	nodes   map[string]*node
	nextSeq int

	// staged leaf updates for the next propagation pass
	staged map[string]Value

	// lazily-cached topological order, nil after any structural change
	topo []string
}

// New creates an empty graph.
func New(opts Options) *Graph {
	return &Graph{
		opts:   opts,
		nodes:  make(map[string]*node),
		staged: make(map[string]Value),
	}
}

// AddNode inserts a node. A nil compute function makes a leaf; a non-nil
// one makes a derived node recomputed from deps. Every dependency id must
// already exist, and the resulting edge set must remain acyclic.
func (g *Graph) AddNode(id string, compute ComputeFunc, deps []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id == "" {
		return errors.WrapInvalid(fmt.Errorf("empty node id"), "Graph", "AddNode", "validate id")
	}
	if _, exists := g.nodes[id]; exists {
		return errors.WrapInvalid(errors.ErrDuplicateID, "Graph", "AddNode", fmt.Sprintf("insert node %q", id))
	}
	if compute == nil && len(deps) > 0 {
		return errors.WrapInvalid(errors.ErrLeafDependency, "Graph", "AddNode", fmt.Sprintf("insert node %q", id))
	}
	seen := make(map[string]bool, len(deps))
	for _, dep := range deps {
		if _, exists := g.nodes[dep]; !exists {
			return errors.WrapInvalid(errors.ErrUnknownDependency, "Graph", "AddNode",
				fmt.Sprintf("resolve dependency %q of node %q", dep, id))
		}
		if seen[dep] {
			return errors.WrapInvalid(fmt.Errorf("dependency %q listed twice", dep),
				"Graph", "AddNode", fmt.Sprintf("insert node %q", id))
		}
		seen[dep] = true
		// Reachability from the dependency back to the new id. A fresh id
		// has no dependents, so this only rejects self-dependencies, but it
		// keeps AddNode and AddEdge on the same validation path.
		if g.reaches(id, dep) || dep == id {
			return errors.WrapInvalid(errors.ErrCycleDetected, "Graph", "AddNode",
				fmt.Sprintf("add edge %s -> %s", dep, id))
		}
	}

	n := &node{
		id:           id,
		seq:          g.nextSeq,
		compute:      compute,
		dependencies: append([]string(nil), deps...),
	}
	g.nextSeq++
	g.nodes[id] = n
	for _, dep := range deps {
		g.nodes[dep].dependents = append(g.nodes[dep].dependents, id)
	}
	g.topo = nil
	return nil
}

// AddEdge makes the node toID depend on fromID. The target must be a
// derived node and the edge must not create a cycle.
func (g *Graph) AddEdge(fromID, toID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	from, ok := g.nodes[fromID]
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownID, "Graph", "AddEdge", fmt.Sprintf("resolve node %q", fromID))
	}
	to, ok := g.nodes[toID]
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownID, "Graph", "AddEdge", fmt.Sprintf("resolve node %q", toID))
	}
	if to.isLeaf() {
		return errors.WrapInvalid(errors.ErrLeafDependency, "Graph", "AddEdge",
			fmt.Sprintf("add edge %s -> %s", fromID, toID))
	}
	for _, dep := range to.dependencies {
		if dep == fromID {
			return nil // edge already present
		}
	}
	if fromID == toID || g.reaches(toID, fromID) {
		return errors.WrapInvalid(errors.ErrCycleDetected, "Graph", "AddEdge",
			fmt.Sprintf("add edge %s -> %s", fromID, toID))
	}

	to.dependencies = append(to.dependencies, fromID)
	from.dependents = append(from.dependents, toID)
	g.topo = nil
	return nil
}

// RemoveNode removes a node. Unless the Graph was built with
// RemoveDependents, a node that still has dependents is rejected.
func (g *Graph) RemoveNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownID, "Graph", "RemoveNode", fmt.Sprintf("resolve node %q", id))
	}
	if len(n.dependents) > 0 && !g.opts.RemoveDependents {
		return errors.WrapInvalid(errors.ErrHasDependents, "Graph", "RemoveNode",
			fmt.Sprintf("remove node %q with %d dependents", id, len(n.dependents)))
	}

	g.removeLocked(id)
	g.topo = nil
	return nil
}

// removeLocked removes id and, under the cascade policy, its dependents.
func (g *Graph) removeLocked(id string) {
	n := g.nodes[id]
	for len(n.dependents) > 0 {
		g.removeLocked(n.dependents[0])
	}
	for _, dep := range n.dependencies {
		d := g.nodes[dep]
		for i, cur := range d.dependents {
			if cur == id {
				d.dependents = append(d.dependents[:i], d.dependents[i+1:]...)
				break
			}
		}
	}
	delete(g.staged, id)
	delete(g.nodes, id)
}

// SetLeafValue stages a new value for a leaf node. The value is applied by
// the next propagation pass; staging the same leaf twice before a pass
// keeps the latest value.
func (g *Graph) SetLeafValue(id string, v Value) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownID, "Graph", "SetLeafValue", fmt.Sprintf("resolve node %q", id))
	}
	if !n.isLeaf() {
		return errors.WrapInvalid(errors.ErrNotALeaf, "Graph", "SetLeafValue", fmt.Sprintf("stage value for %q", id))
	}
	g.staged[id] = v
	return nil
}

// SetLeafValues stages several leaf values under one critical section.
// The batch is all-or-nothing: if any id is unknown or names a derived
// node, nothing is staged.
func (g *Graph) SetLeafValues(updates map[string]Value) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id := range updates {
		n, ok := g.nodes[id]
		if !ok {
			return errors.WrapInvalid(errors.ErrUnknownID, "Graph", "SetLeafValues", fmt.Sprintf("resolve node %q", id))
		}
		if !n.isLeaf() {
			return errors.WrapInvalid(errors.ErrNotALeaf, "Graph", "SetLeafValues", fmt.Sprintf("stage value for %q", id))
		}
	}
	for id, v := range updates {
		g.staged[id] = v
	}
	return nil
}

// Value returns the committed value of a node and whether the node exists.
func (g *Graph) Value(id string) (Value, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.value, true
}

// Contains reports whether a node id exists.
func (g *Graph) Contains(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// IsLeaf reports whether id names a leaf node. The second result is false
// when the node does not exist.
func (g *Graph) IsLeaf(id string) (bool, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return false, false
	}
	return n.isLeaf(), true
}

// NodeIDs returns all node ids in insertion order.
func (g *Graph) NodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return g.nodes[ids[i]].seq < g.nodes[ids[j]].seq
	})
	return ids
}

// Dependencies returns the direct dependency ids of a node.
func (g *Graph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return append([]string(nil), n.dependencies...)
}

// Dependents returns the direct dependent ids of a node.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return append([]string(nil), n.dependents...)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// TopologicalOrder returns a total order consistent with all dependency
// edges. Nodes with no ordering constraint between them are broken by
// ascending insertion order, keeping propagation deterministic. The order
// is cached until the next structural change.
func (g *Graph) TopologicalOrder() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.topoLocked()...)
}

// topoLocked computes (or returns the cached) topological order.
// Kahn's algorithm with an insertion-ordered ready set.
func (g *Graph) topoLocked() []string {
	if g.topo != nil {
		return g.topo
	}

	indegree := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		indegree[id] = len(n.dependencies)
	}

	ready := make([]*node, 0, len(g.nodes))
	for id, n := range g.nodes {
		if indegree[id] == 0 {
			ready = append(ready, n)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n.id)

		for _, depID := range n.dependents {
			indegree[depID]--
			if indegree[depID] == 0 {
				dep := g.nodes[depID]
				// insert keeping the ready set sorted by insertion seq
				pos := sort.Search(len(ready), func(i int) bool { return ready[i].seq > dep.seq })
				ready = append(ready, nil)
				copy(ready[pos+1:], ready[pos:])
				ready[pos] = dep
			}
		}
	}

	g.topo = order
	return g.topo
}

// reaches reports whether dst is reachable from src by walking dependent
// edges. Used for cycle rejection before an edge is committed.
func (g *Graph) reaches(src, dst string) bool {
	start, ok := g.nodes[src]
	if !ok {
		return false
	}
	visited := map[string]bool{src: true}
	stack := append([]string(nil), start.dependents...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == dst {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		stack = append(stack, g.nodes[cur].dependents...)
	}
	return false
}
