package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CFSY/meta-reactive/buffer"
	"github.com/CFSY/meta-reactive/errors"
	"github.com/CFSY/meta-reactive/graph"
)

func changeSet(ids ...string) graph.ChangeSet {
	now := time.Now()
	cs := make(graph.ChangeSet, len(ids))
	for i, id := range ids {
		cs[i] = graph.Change{NodeID: id, New: i, Timestamp: now}
	}
	return cs
}

func drain(sub *Subscription) []Notification {
	var out []Notification
	for {
		select {
		case n := <-sub.C():
			out = append(out, n)
		default:
			return out
		}
	}
}

func TestSubscribe_Validation(t *testing.T) {
	r := New(nil, nil)

	_, err := r.Subscribe("", "temp", DeliveryOptions{})
	assert.True(t, errors.IsInvalid(err))

	_, err = r.Subscribe("client-1", "", DeliveryOptions{})
	assert.True(t, errors.IsInvalid(err))
}

func TestDeliver_ExactMatch(t *testing.T) {
	r := New(nil, nil)
	sub, err := r.Subscribe("client-1", "tempF", DeliveryOptions{})
	require.NoError(t, err)

	r.Deliver(changeSet("temp", "tempF", "other"))

	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, "tempF", got[0].NodeID)
}

func TestDeliver_Patterns(t *testing.T) {
	tests := []struct {
		pattern  string
		expected []string
	}{
		{"*", []string{"temp", "sensors.a", "sensors.b", "alert.hot"}},
		{"sensors.*", []string{"sensors.a", "sensors.b"}},
		{"alert.hot", []string{"alert.hot"}},
		{"sensors", nil},
	}

	for _, test := range tests {
		t.Run(test.pattern, func(t *testing.T) {
			r := New(nil, nil)
			sub, err := r.Subscribe("client-1", test.pattern, DeliveryOptions{})
			require.NoError(t, err)

			r.Deliver(changeSet("temp", "sensors.a", "sensors.b", "alert.hot"))

			var ids []string
			for _, n := range drain(sub) {
				ids = append(ids, n.NodeID)
			}
			assert.Equal(t, test.expected, ids)
		})
	}
}

func TestDeliver_PreservesOrder(t *testing.T) {
	r := New(nil, nil)
	sub, err := r.Subscribe("client-1", "*", DeliveryOptions{QueueDepth: 16})
	require.NoError(t, err)

	r.Deliver(changeSet("a", "b", "c"))
	r.Deliver(changeSet("a", "c"))

	var ids []string
	for _, n := range drain(sub) {
		ids = append(ids, n.NodeID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "c"}, ids)
}

func TestDeliver_DropOldestKeepsFreshest(t *testing.T) {
	r := New(nil, nil)
	sub, err := r.Subscribe("client-1", "*", DeliveryOptions{
		QueueDepth: 2,
		OnFull:     buffer.DropOldest,
	})
	require.NoError(t, err)

	r.Deliver(changeSet("a", "b", "c", "d"))

	var ids []string
	for _, n := range drain(sub) {
		ids = append(ids, n.NodeID)
	}
	assert.Equal(t, []string{"c", "d"}, ids)
	assert.Equal(t, int64(2), sub.Dropped())
}

func TestDeliver_DropNewestKeepsBacklog(t *testing.T) {
	r := New(nil, nil)
	sub, err := r.Subscribe("client-1", "*", DeliveryOptions{
		QueueDepth: 2,
		OnFull:     buffer.DropNewest,
	})
	require.NoError(t, err)

	r.Deliver(changeSet("a", "b", "c", "d"))

	var ids []string
	for _, n := range drain(sub) {
		ids = append(ids, n.NodeID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.Equal(t, int64(2), sub.Dropped())
}

func TestDeliver_SlowSubscriberDoesNotBlock(t *testing.T) {
	r := New(nil, nil)

	// never drained, tiny queue, default dropOldest
	_, err := r.Subscribe("slow", "*", DeliveryOptions{QueueDepth: 1})
	require.NoError(t, err)
	fast, err := r.Subscribe("fast", "*", DeliveryOptions{QueueDepth: 64})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Deliver(changeSet("a", "b"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("a full dropOldest subscriber blocked delivery")
	}

	assert.NotEmpty(t, drain(fast))
}

func TestUnsubscribe(t *testing.T) {
	r := New(nil, nil)
	sub, err := r.Subscribe("client-1", "*", DeliveryOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, r.Count())

	require.NoError(t, r.Unsubscribe(sub.ID()))
	assert.Equal(t, 0, r.Count())

	// removing again reports SubscriptionNotFound at the registry level
	err = r.Unsubscribe(sub.ID())
	assert.ErrorIs(t, err, errors.ErrSubscriptionNotFound)

	// Subscription.Unsubscribe stays idempotent
	sub.Unsubscribe()
	sub.Unsubscribe()

	// no delivery after removal
	r.Deliver(changeSet("a"))
	select {
	case <-sub.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestUnsubscribe_BacklogStaysReadable(t *testing.T) {
	r := New(nil, nil)
	sub, err := r.Subscribe("client-1", "*", DeliveryOptions{QueueDepth: 4})
	require.NoError(t, err)

	r.Deliver(changeSet("a", "b"))
	sub.Unsubscribe()

	got := drain(sub)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].NodeID)
	assert.Equal(t, "b", got[1].NodeID)

	// the channel is never closed: after the backlog a receive blocks
	// instead of yielding zero-value notifications
	select {
	case n, ok := <-sub.C():
		t.Fatalf("unexpected receive after drain: %v (ok=%v)", n, ok)
	default:
	}
}

func TestUnsubscribeAll(t *testing.T) {
	r := New(nil, nil)
	_, err := r.Subscribe("conn-1", "a", DeliveryOptions{})
	require.NoError(t, err)
	_, err = r.Subscribe("conn-1", "b", DeliveryOptions{})
	require.NoError(t, err)
	keep, err := r.Subscribe("conn-2", "a", DeliveryOptions{})
	require.NoError(t, err)

	r.UnsubscribeAll("conn-1")

	assert.Equal(t, 1, r.Count())
	assert.False(t, keep.closed())
}

func TestDeliver_DetachesClosedSubscriptions(t *testing.T) {
	r := New(nil, nil)
	sub, err := r.Subscribe("client-1", "*", DeliveryOptions{})
	require.NoError(t, err)

	// simulate a consumer that vanished without going through the registry
	sub.markClosed()

	r.Deliver(changeSet("a"))
	assert.Equal(t, 0, r.Count())
}

func TestDeliver_BlockPolicyWaitsForConsumer(t *testing.T) {
	r := New(nil, nil)
	sub, err := r.Subscribe("client-1", "*", DeliveryOptions{
		QueueDepth: 1,
		OnFull:     buffer.Block,
	})
	require.NoError(t, err)

	delivered := make(chan struct{})
	go func() {
		r.Deliver(changeSet("a", "b", "c"))
		close(delivered)
	}()

	// consumer keeps up, so blocking delivery completes
	var ids []string
	for len(ids) < 3 {
		select {
		case n := <-sub.C():
			ids = append(ids, n.NodeID)
		case <-time.After(2 * time.Second):
			t.Fatal("delivery stalled")
		}
	}
	<-delivered
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, int64(0), sub.Dropped())
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern  string
		nodeID   string
		expected bool
	}{
		{"*", "anything", true},
		{"temp", "temp", true},
		{"temp", "tempF", false},
		{"sensors.*", "sensors.kitchen", true},
		{"sensors.*", "sensors", false},
		{"sensors.*", "sensorsX.kitchen", false},
	}

	for _, test := range tests {
		t.Run(test.pattern+"/"+test.nodeID, func(t *testing.T) {
			assert.Equal(t, test.expected, MatchPattern(test.pattern, test.nodeID))
		})
	}
}
