package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CFSY/meta-reactive/errors"
	"github.com/CFSY/meta-reactive/graph"
)

func toF(deps map[string]graph.Value) (graph.Value, error) {
	return deps["temp"].(float64)*9/5 + 32, nil
}

func TestCompile(t *testing.T) {
	// declaration order is deliberately dependents-first
	spec := Spec{
		Nodes: []NodeSpec{
			{ID: "tempF", DependsOn: []string{"temp"}, Compute: toF},
			{ID: "temp", Initial: 100.0},
		},
	}

	g, err := Compile(spec)
	require.NoError(t, err)
	require.NotNil(t, g)

	assert.Equal(t, []string{"temp", "tempF"}, g.TopologicalOrder())

	// the initial value is staged, not committed
	assert.Equal(t, 1, g.PendingUpdates())
	cs, err := g.Propagate()
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, 212.0, cs[1].New)
}

func TestCompile_Invalid(t *testing.T) {
	leaf := NodeSpec{ID: "a"}
	derived := func(id string, deps ...string) NodeSpec {
		return NodeSpec{ID: id, DependsOn: deps, Compute: func(map[string]graph.Value) (graph.Value, error) {
			return nil, nil
		}}
	}

	tests := []struct {
		name     string
		spec     Spec
		expected error
	}{
		{
			"duplicate id",
			Spec{Nodes: []NodeSpec{leaf, {ID: "a"}}},
			errors.ErrDuplicateID,
		},
		{
			"unknown dependency",
			Spec{Nodes: []NodeSpec{leaf, derived("b", "missing")}},
			errors.ErrUnknownDependency,
		},
		{
			"two-node cycle",
			Spec{Nodes: []NodeSpec{derived("x", "y"), derived("y", "x")}},
			errors.ErrCycleDetected,
		},
		{
			"self cycle",
			Spec{Nodes: []NodeSpec{derived("x", "x")}},
			errors.ErrCycleDetected,
		},
		{
			"leaf with dependencies",
			Spec{Nodes: []NodeSpec{leaf, {ID: "b", DependsOn: []string{"a"}}}},
			errors.ErrLeafDependency,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			g, err := Compile(test.spec)
			require.Error(t, err)
			assert.ErrorIs(t, err, test.expected)
			// atomicity: no graph at all on failure
			assert.Nil(t, g)
		})
	}
}

func TestCompile_DerivedWithInitialRejected(t *testing.T) {
	spec := Spec{
		Nodes: []NodeSpec{
			{ID: "a"},
			{ID: "b", DependsOn: []string{"a"}, Compute: toF, Initial: 1.0},
		},
	}
	g, err := Compile(spec)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Nil(t, g)
}

func TestValidate_OrderIsDeterministic(t *testing.T) {
	spec := Spec{
		Nodes: []NodeSpec{
			{ID: "c"},
			{ID: "a"},
			{ID: "b"},
		},
	}

	first, err := spec.Validate()
	require.NoError(t, err)
	second, err := spec.Validate()
	require.NoError(t, err)

	ids := func(specs []NodeSpec) []string {
		out := make([]string, len(specs))
		for i, s := range specs {
			out[i] = s.ID
		}
		return out
	}

	// unconstrained nodes keep declaration order
	assert.Equal(t, []string{"c", "a", "b"}, ids(first))
	assert.Equal(t, ids(first), ids(second))
}

func TestCompile_GraphOptionsCarried(t *testing.T) {
	spec := Spec{
		Nodes: []NodeSpec{
			{ID: "a"},
			{ID: "b", DependsOn: []string{"a"}, Compute: toF},
		},
		Graph: graph.Options{RemoveDependents: true},
	}

	g, err := Compile(spec)
	require.NoError(t, err)

	require.NoError(t, g.RemoveNode("a"))
	assert.Equal(t, 0, g.Len())
}

func TestCycleRejection_CyclicSelfInSelfDependency(t *testing.T) {
	// diamond plus a back edge described declaratively
	derived := func(id string, deps ...string) NodeSpec {
		return NodeSpec{ID: id, DependsOn: deps, Compute: func(map[string]graph.Value) (graph.Value, error) {
			return nil, nil
		}}
	}
	spec := Spec{
		Nodes: []NodeSpec{
			{ID: "base"},
			derived("left", "base", "top"),
			derived("right", "base"),
			derived("top", "left", "right"),
		},
	}

	g, err := Compile(spec)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCycleDetected)
	assert.Nil(t, g)
}
