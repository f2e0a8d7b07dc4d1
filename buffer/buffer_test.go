package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_WriteRead(t *testing.T) {
	b := NewRing[int](3)

	require.NoError(t, b.Write(1))
	require.NoError(t, b.Write(2))
	assert.Equal(t, 2, b.Size())
	assert.Equal(t, 3, b.Capacity())

	v, ok := b.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = b.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = b.Read()
	assert.False(t, ok)
}

func TestRing_DropOldest(t *testing.T) {
	var dropped []int
	b := NewRing[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)

	require.NoError(t, b.Write(1))
	require.NoError(t, b.Write(2))
	require.NoError(t, b.Write(3))

	assert.Equal(t, []int{1}, dropped)
	assert.Equal(t, int64(1), b.Stats().Drops())

	got := b.ReadBatch(10)
	assert.Equal(t, []int{2, 3}, got)
}

func TestRing_DropNewest(t *testing.T) {
	var dropped []int
	b := NewRing[int](2,
		WithOverflowPolicy[int](DropNewest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)

	require.NoError(t, b.Write(1))
	require.NoError(t, b.Write(2))
	require.NoError(t, b.Write(3))

	assert.Equal(t, []int{3}, dropped)
	got := b.ReadBatch(10)
	assert.Equal(t, []int{1, 2}, got)
}

func TestRing_DropCallbackMayTouchBuffer(t *testing.T) {
	type observation struct {
		dropped int
		size    int
	}

	var seen []observation
	var b Buffer[int]
	b = NewRing[int](1,
		WithOverflowPolicy[int](DropOldest),
		// the callback re-enters the buffer; it must run unlocked
		WithDropCallback[int](func(item int) {
			seen = append(seen, observation{dropped: item, size: b.Size()})
		}),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, b.Write(1))
		assert.NoError(t, b.Write(2))
		assert.NoError(t, b.Write(3))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drop callback deadlocked against the ring lock")
	}

	require.Equal(t, []observation{{1, 1}, {2, 1}}, seen)

	v, ok := b.Read()
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestRing_DropNewestCallbackMayTouchBuffer(t *testing.T) {
	var observedSize int
	var b Buffer[int]
	b = NewRing[int](1,
		WithOverflowPolicy[int](DropNewest),
		WithDropCallback[int](func(int) { observedSize = b.Size() }),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, b.Write(1))
		assert.NoError(t, b.Write(2))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drop callback deadlocked against the ring lock")
	}

	assert.Equal(t, 1, observedSize)
}

func TestRing_BlockUnblocksOnRead(t *testing.T) {
	b := NewRing[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, b.Write(1))

	done := make(chan error, 1)
	go func() {
		done <- b.Write(2)
	}()

	select {
	case <-done:
		t.Fatal("write should block while the buffer is full")
	case <-time.After(20 * time.Millisecond):
	}

	v, ok := b.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked write was not released by the read")
	}
}

func TestRing_CloseReleasesBlockedWriter(t *testing.T) {
	b := NewRing[int](1, WithOverflowPolicy[int](Block))
	require.NoError(t, b.Write(1))

	done := make(chan error, 1)
	go func() {
		done <- b.Write(2)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked write was not released by Close")
	}

	assert.Error(t, b.Write(3))
}

func TestRing_ConcurrentAccess(t *testing.T) {
	b := NewRing[int](64)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				_ = b.Write(i)
			}
		}()
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				b.Read()
			}
		}()
	}
	wg.Wait()

	stats := b.Stats()
	assert.Equal(t, int64(4000), stats.Writes())
	assert.LessOrEqual(t, stats.MaxSize(), int64(64))
}

func TestParseOverflowPolicy(t *testing.T) {
	tests := []struct {
		in       string
		expected OverflowPolicy
		ok       bool
	}{
		{"dropOldest", DropOldest, true},
		{"drop_oldest", DropOldest, true},
		{"dropNewest", DropNewest, true},
		{"block", Block, true},
		{"", DropOldest, true},
		{"bogus", DropOldest, false},
	}

	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			p, ok := ParseOverflowPolicy(test.in)
			assert.Equal(t, test.expected, p)
			assert.Equal(t, test.ok, ok)
		})
	}
}
