package natsbridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CFSY/meta-reactive/errors"
	"github.com/CFSY/meta-reactive/graph"
	"github.com/CFSY/meta-reactive/registry"
)

type fakeConn struct {
	mu        sync.Mutex
	published map[string][][]byte
	drained   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{published: make(map[string][][]byte)}
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[subject] = append(f.published[subject], data)
	return nil
}

func (f *fakeConn) Drain() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained = true
	return nil
}

func (f *fakeConn) count(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published[subject])
}

func (f *fakeConn) last(subject string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.published[subject]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		prefix   string
		nodeID   string
		expected string
	}{
		{"reactive", "temp", "reactive.temp"},
		{"reactive", "sensor.room1.temp", "reactive.sensor.room1.temp"},
		{"graph", "alert.overheat", "graph.alert.overheat"},
		{"reactive", "bad*id", "reactive.bad_id"},
		{"reactive", "worse>id still", "reactive.worse_id_still"},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, SubjectFor(test.prefix, test.nodeID))
	}
}

func TestBridge_PublishesNotifications(t *testing.T) {
	reg := registry.New(nil, nil)
	conn := newFakeConn()

	b := NewWithConn(Config{SubjectPrefix: "reactive", Pattern: "*"}, reg, conn, nil, nil)
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start(context.Background()))

	now := time.Now()
	reg.Deliver(graph.ChangeSet{
		{NodeID: "temp", New: 100.0, Timestamp: now},
		{NodeID: "tempF", Old: 32.0, New: 212.0, Timestamp: now},
	})

	assert.Eventually(t, func() bool {
		return conn.count("reactive.temp") == 1 && conn.count("reactive.tempF") == 1
	}, 2*time.Second, 10*time.Millisecond)

	var n registry.Notification
	require.NoError(t, json.Unmarshal(conn.last("reactive.tempF"), &n))
	assert.Equal(t, "tempF", n.NodeID)
	assert.Equal(t, 212.0, n.Value)
	assert.Equal(t, 32.0, n.Old)

	require.NoError(t, b.Stop(time.Second))
	// injected connections are not drained by the bridge
	assert.False(t, conn.drained)
	assert.Equal(t, 0, reg.Count())
}

func TestBridge_PatternLimitsBridgedNodes(t *testing.T) {
	reg := registry.New(nil, nil)
	conn := newFakeConn()

	b := NewWithConn(Config{Pattern: "alert.*"}, reg, conn, nil, nil)
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(time.Second)

	reg.Deliver(graph.ChangeSet{
		{NodeID: "temp", New: 1.0, Timestamp: time.Now()},
		{NodeID: "alert.overheat", New: 212.0, Timestamp: time.Now()},
	})

	assert.Eventually(t, func() bool {
		return conn.count("reactive.alert.overheat") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, conn.count("reactive.temp"))
}

func TestBridge_Lifecycle(t *testing.T) {
	reg := registry.New(nil, nil)

	// no connection and no URL
	b := NewWithConn(Config{}, reg, nil, nil, nil)
	err := b.Initialize()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	conn := newFakeConn()
	b = NewWithConn(Config{}, reg, conn, nil, nil)
	require.NoError(t, b.Initialize())

	err = b.Start(nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	require.NoError(t, b.Start(context.Background()))
	err = b.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	require.NoError(t, b.Stop(time.Second))
	err = b.Stop(time.Second)
	assert.ErrorIs(t, err, errors.ErrAlreadyStopped)
}
