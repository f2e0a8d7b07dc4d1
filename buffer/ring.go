package buffer

import (
	"sync"

	"github.com/CFSY/meta-reactive/errors"
)

// ring is a thread-safe circular buffer.
type ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	opts     *options[T]

	notFull *sync.Cond // for the Block policy
	closed  bool
}

func newRing[T any](capacity int, opts *options[T]) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	r := &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		opts:     opts,
	}
	r.notFull = sync.NewCond(&r.mu)
	return r
}

func (r *ring[T]) Write(item T) error {
	dropped, wasDropped, err := r.enqueue(item)
	// the callback runs after the lock is released so it may touch the
	// buffer again
	if wasDropped && r.opts.onDrop != nil {
		r.opts.onDrop(dropped)
	}
	return err
}

// enqueue holds the ring mutex and reports the item evicted by a drop
// policy, if any, for Write to hand to the callback outside the lock.
func (r *ring[T]) enqueue(item T) (dropped T, wasDropped bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return dropped, false, errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write", "write to closed buffer")
	}

	if r.size == r.capacity {
		switch r.opts.policy {
		case DropOldest:
			dropped = r.items[r.tail]
			wasDropped = true
			r.tail = (r.tail + 1) % r.capacity
			r.size--
			r.stats.Drop()

		case DropNewest:
			r.stats.Drop()
			return item, true, nil

		case Block:
			for r.size == r.capacity && !r.closed {
				r.notFull.Wait()
			}
			if r.closed {
				return dropped, false, errors.WrapInvalid(errors.ErrAlreadyStopped, "Buffer", "Write",
					"buffer closed during blocking wait")
			}
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.Write(int64(r.size))
	return dropped, wasDropped, nil
}

func (r *ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero // release for GC
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.stats.Read(int64(r.size))
	r.notFull.Signal()
	return item, true
}

func (r *ring[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return nil
	}

	count := max
	if count > r.size {
		count = r.size
	}

	result := make([]T, count)
	var zero T
	for i := 0; i < count; i++ {
		result[i] = r.items[r.tail]
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.stats.Read(int64(r.size))
		r.notFull.Signal()
	}
	return result
}

func (r *ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ring[T]) Capacity() int {
	return r.capacity // immutable
}

func (r *ring[T]) Stats() *Statistics {
	return r.stats
}

func (r *ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.notFull.Broadcast()
	return nil
}
