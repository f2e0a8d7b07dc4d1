// Package buffer provides a generic, thread-safe bounded ring buffer with
// configurable overflow policies.
//
// The buffer backs per-subscriber delivery queues in the streaming path:
// DropOldest trades staleness for liveness (the default for sensor-style
// streams), DropNewest keeps the oldest backlog intact, and Block applies
// backpressure to the writer. Statistics are always collected for
// observability.
package buffer

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest

	// Block causes Write operations to block until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// ParseOverflowPolicy maps a configuration string to an OverflowPolicy.
// The zero value DropOldest is returned for unrecognized input together
// with false.
func ParseOverflowPolicy(s string) (OverflowPolicy, bool) {
	switch s {
	case "dropOldest", "drop_oldest", "":
		return DropOldest, true
	case "dropNewest", "drop_newest":
		return DropNewest, true
	case "block":
		return Block, true
	default:
		return DropOldest, false
	}
}

// DropCallback is called with each item dropped due to the overflow policy.
type DropCallback[T any] func(item T)

// Buffer is a bounded FIFO queue of items of type T.
type Buffer[T any] interface {
	// Write adds an item to the buffer. Behavior when the buffer is full
	// depends on the overflow policy; Write on a closed buffer errors.
	Write(item T) error

	// Read retrieves and removes one item. The second result is false when
	// the buffer is empty.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items.
	ReadBatch(max int) []T

	// Size returns the current number of buffered items.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// Stats returns buffer statistics.
	Stats() *Statistics

	// Close shuts down the buffer and wakes any blocked writers.
	Close() error
}

// Option configures a buffer.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy OverflowPolicy
	onDrop DropCallback[T]
}

// WithOverflowPolicy sets the behavior when the buffer is full.
func WithOverflowPolicy[T any](p OverflowPolicy) Option[T] {
	return func(o *options[T]) { o.policy = p }
}

// WithDropCallback registers a callback invoked for each dropped item.
// The callback runs outside the buffer's lock, so it may call back into
// the buffer.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(o *options[T]) { o.onDrop = cb }
}

// NewRing creates a ring buffer with the given capacity. A capacity below
// one is raised to one.
func NewRing[T any](capacity int, opts ...Option[T]) Buffer[T] {
	o := &options[T]{policy: DropOldest}
	for _, opt := range opts {
		opt(o)
	}
	return newRing(capacity, o)
}
