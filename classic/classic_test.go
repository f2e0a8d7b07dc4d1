package classic

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CFSY/meta-reactive/errors"
	"github.com/CFSY/meta-reactive/graph"
	"github.com/CFSY/meta-reactive/registry"
)

func tempToF(deps map[string]graph.Value) (graph.Value, error) {
	return deps["temp"].(float64)*9/5 + 32, nil
}

func TestBuilder_IncrementalConstruction(t *testing.T) {
	b := New(nil)

	require.NoError(t, b.CreateNode("temp", nil))
	require.NoError(t, b.CreateNode("tempF", tempToF, "temp"))

	err := b.CreateNode("temp", nil)
	assert.ErrorIs(t, err, errors.ErrDuplicateID)

	sub, err := b.Subscribe("test", "*", registry.DeliveryOptions{QueueDepth: 8})
	require.NoError(t, err)

	require.NoError(t, b.SetValue("temp", 100.0))

	// SetValue propagates and delivers synchronously
	var got []registry.Notification
	for len(got) < 2 {
		select {
		case n := <-sub.C():
			got = append(got, n)
		case <-time.After(time.Second):
			t.Fatal("expected two notifications")
		}
	}
	assert.Equal(t, "temp", got[0].NodeID)
	assert.Equal(t, 100.0, got[0].Value)
	assert.Equal(t, "tempF", got[1].NodeID)
	assert.Equal(t, 212.0, got[1].Value)
}

func TestBuilder_Connect(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.CreateNode("a", nil))
	require.NoError(t, b.CreateNode("b", nil))
	require.NoError(t, b.CreateNode("total", func(deps map[string]graph.Value) (graph.Value, error) {
		sum := 0.0
		for _, v := range deps {
			if f, ok := v.(float64); ok {
				sum += f
			}
		}
		return sum, nil
	}, "a"))

	require.NoError(t, b.Connect("b", "total"))

	err := b.Connect("total", "total")
	assert.ErrorIs(t, err, errors.ErrCycleDetected)

	require.NoError(t, b.SetValues(map[string]graph.Value{"a": 1.0, "b": 2.0}))
	v, _ := b.Graph().Value("total")
	assert.Equal(t, 3.0, v)
}

func TestBuilder_SetValueErrors(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.CreateNode("temp", nil))
	require.NoError(t, b.CreateNode("tempF", tempToF, "temp"))

	err := b.SetValue("tempF", 1.0)
	assert.ErrorIs(t, err, errors.ErrNotALeaf)

	err = b.SetValue("missing", 1.0)
	assert.ErrorIs(t, err, errors.ErrUnknownID)
}

func TestBuilder_SetValuesRejectedBatchLeavesNoResidue(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.CreateNode("temp", nil))
	require.NoError(t, b.CreateNode("tempF", tempToF, "temp"))
	require.NoError(t, b.CreateNode("other", nil))

	err := b.SetValues(map[string]graph.Value{"temp": 100.0, "tempF": 1.0})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotALeaf)
	assert.Equal(t, 0, b.Graph().PendingUpdates())

	sub, err := b.Subscribe("test", "*", registry.DeliveryOptions{QueueDepth: 8})
	require.NoError(t, err)

	// the failed batch must not ride along with an unrelated pass
	require.NoError(t, b.SetValue("other", 5.0))

	select {
	case n := <-sub.C():
		assert.Equal(t, "other", n.NodeID)
	case <-time.After(time.Second):
		t.Fatal("notification for other not received")
	}
	select {
	case n := <-sub.C():
		t.Fatalf("unexpected notification for %q", n.NodeID)
	default:
	}
}

func TestBuilder_ComputeFailureObserved(t *testing.T) {
	var observed []error
	b := New(nil, WithErrorObserver(func(err error) { observed = append(observed, err) }))

	require.NoError(t, b.CreateNode("leaf", nil))
	require.NoError(t, b.CreateNode("broken", func(map[string]graph.Value) (graph.Value, error) {
		return nil, fmt.Errorf("boom")
	}, "leaf"))

	sub, err := b.Subscribe("test", "*", registry.DeliveryOptions{QueueDepth: 8})
	require.NoError(t, err)

	err = b.SetValue("leaf", 1)
	require.Error(t, err)
	ce, ok := errors.AsComputeError(err)
	require.True(t, ok)
	assert.Equal(t, "broken", ce.NodeID)

	// the initiator and the observer both saw the same failure
	require.Len(t, observed, 1)
	assert.ErrorIs(t, observed[0], err)

	// the partial change set (the leaf) was still delivered
	select {
	case n := <-sub.C():
		assert.Equal(t, "leaf", n.NodeID)
	case <-time.After(time.Second):
		t.Fatal("partial change set was not delivered")
	}
}

func TestBuilder_OnChange(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.CreateNode("temp", nil))

	got := make(chan registry.Notification, 8)
	sub, err := b.OnChange("cb", "temp", func(n registry.Notification) { got <- n })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.SetValue("temp", 1.0))

	select {
	case n := <-got:
		assert.Equal(t, "temp", n.NodeID)
		assert.Equal(t, 1.0, n.Value)
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
}

func TestBuilder_CascadeOption(t *testing.T) {
	b := New(nil, WithGraphOptions(graph.Options{RemoveDependents: true}))
	require.NoError(t, b.CreateNode("a", nil))
	require.NoError(t, b.CreateNode("b", tempToF, "a"))

	require.NoError(t, b.Remove("a"))
	assert.Equal(t, 0, b.Graph().Len())
}
