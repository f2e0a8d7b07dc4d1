package meta

import (
	"fmt"
	"sort"

	"github.com/CFSY/meta-reactive/errors"
	"github.com/CFSY/meta-reactive/graph"
)

// NodeSpec describes one node of a declarative graph description.
type NodeSpec struct {
	// ID is the unique node id.
	ID string

	// DependsOn names the node's direct dependencies, in any declaration
	// order.
	DependsOn []string

	// Compute derives the node's value from its dependencies. Nil makes a
	// leaf node.
	Compute graph.ComputeFunc

	// Initial optionally stages a starting value for leaf nodes; it is
	// applied by the first propagation pass after compilation.
	Initial graph.Value
}

// Spec is a complete declarative graph description.
type Spec struct {
	Nodes []NodeSpec
	Graph graph.Options
}

// Validate statically checks the description: unique ids, resolvable
// dependency references and an acyclic topology. It returns the specs in
// a valid installation order (dependencies first, declaration order as
// tie-break) without touching any graph.
func (s Spec) Validate() ([]NodeSpec, error) {
	byID := make(map[string]*NodeSpec, len(s.Nodes))
	for i := range s.Nodes {
		spec := &s.Nodes[i]
		if spec.ID == "" {
			return nil, errors.WrapInvalid(fmt.Errorf("node %d has empty id", i),
				"Spec", "Validate", "check node ids")
		}
		if _, dup := byID[spec.ID]; dup {
			return nil, errors.WrapInvalid(errors.ErrDuplicateID, "Spec", "Validate",
				fmt.Sprintf("check node %q", spec.ID))
		}
		if spec.Compute == nil && len(spec.DependsOn) > 0 {
			return nil, errors.WrapInvalid(errors.ErrLeafDependency, "Spec", "Validate",
				fmt.Sprintf("check node %q", spec.ID))
		}
		if spec.Compute != nil && spec.Initial != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("derived node %q declares an initial value", spec.ID),
				"Spec", "Validate", "check initial values")
		}
		byID[spec.ID] = spec
	}

	declOrder := make(map[string]int, len(s.Nodes))
	indegree := make(map[string]int, len(s.Nodes))
	dependents := make(map[string][]string, len(s.Nodes))
	for i := range s.Nodes {
		spec := &s.Nodes[i]
		declOrder[spec.ID] = i
		seen := make(map[string]bool, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, errors.WrapInvalid(errors.ErrUnknownDependency, "Spec", "Validate",
					fmt.Sprintf("resolve dependency %q of node %q", dep, spec.ID))
			}
			if seen[dep] {
				return nil, errors.WrapInvalid(fmt.Errorf("dependency %q of node %q listed twice", dep, spec.ID),
					"Spec", "Validate", "check dependencies")
			}
			seen[dep] = true
			indegree[spec.ID]++
			dependents[dep] = append(dependents[dep], spec.ID)
		}
	}

	// Kahn's algorithm over the description; leftovers mean a cycle
	var ready []string
	for id := range byID {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return declOrder[ready[i]] < declOrder[ready[j]] })

	ordered := make([]NodeSpec, 0, len(s.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, *byID[id])

		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				pos := sort.Search(len(ready), func(i int) bool { return declOrder[ready[i]] > declOrder[next] })
				ready = append(ready, "")
				copy(ready[pos+1:], ready[pos:])
				ready[pos] = next
			}
		}
	}

	if len(ordered) != len(s.Nodes) {
		return nil, errors.WrapInvalid(errors.ErrCycleDetected, "Spec", "Validate", "order nodes")
	}
	return ordered, nil
}

// Compile validates the description and installs it into a fresh graph as
// one atomic step. An invalid description yields no graph at all.
func Compile(s Spec) (*graph.Graph, error) {
	ordered, err := s.Validate()
	if err != nil {
		return nil, err
	}

	g := graph.New(s.Graph)
	for _, spec := range ordered {
		if err := g.AddNode(spec.ID, spec.Compute, spec.DependsOn); err != nil {
			// unreachable after Validate, but never expose a partial graph
			return nil, errors.Wrap(err, "Spec", "Compile", fmt.Sprintf("install node %q", spec.ID))
		}
	}
	for _, spec := range ordered {
		if spec.Compute == nil && spec.Initial != nil {
			if err := g.SetLeafValue(spec.ID, spec.Initial); err != nil {
				return nil, errors.Wrap(err, "Spec", "Compile", fmt.Sprintf("stage initial value for %q", spec.ID))
			}
		}
	}
	return g, nil
}
