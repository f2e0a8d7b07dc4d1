package buffer

import "sync/atomic"

// Statistics tracks buffer activity with atomic counters. Always enabled.
type Statistics struct {
	writes  atomic.Int64
	reads   atomic.Int64
	drops   atomic.Int64
	size    atomic.Int64
	maxSize atomic.Int64
}

// NewStatistics creates a zeroed statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Write records a successful write and the resulting size.
func (s *Statistics) Write(size int64) {
	s.writes.Add(1)
	s.updateSize(size)
}

// Read records a successful read and the resulting size.
func (s *Statistics) Read(size int64) {
	s.reads.Add(1)
	s.updateSize(size)
}

// Drop records an item discarded by the overflow policy.
func (s *Statistics) Drop() {
	s.drops.Add(1)
}

func (s *Statistics) updateSize(size int64) {
	s.size.Store(size)
	for {
		max := s.maxSize.Load()
		if size <= max || s.maxSize.CompareAndSwap(max, size) {
			return
		}
	}
}

// Writes returns the total number of successful writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the total number of successful reads.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns the total number of items dropped on overflow.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// Size returns the last recorded buffer size.
func (s *Statistics) Size() int64 { return s.size.Load() }

// MaxSize returns the high-water mark of the buffer size.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }
