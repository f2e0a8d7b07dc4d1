package registry

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/CFSY/meta-reactive/buffer"
	"github.com/CFSY/meta-reactive/graph"
)

// Notification is one change delivered to a subscriber.
type Notification struct {
	NodeID    string      `json:"node_id"`
	Timestamp time.Time   `json:"timestamp"`
	Value     graph.Value `json:"value"`
	Old       graph.Value `json:"old,omitempty"`
}

// DeliveryOptions configures a subscription's bounded delivery channel.
type DeliveryOptions struct {
	// QueueDepth is the delivery channel capacity. Zero means the default
	// of 64.
	QueueDepth int

	// OnFull selects the overflow policy when the consumer cannot keep up.
	OnFull buffer.OverflowPolicy
}

// DefaultQueueDepth is the delivery channel capacity when none is given.
const DefaultQueueDepth = 64

func (o DeliveryOptions) depth() int {
	if o.QueueDepth <= 0 {
		return DefaultQueueDepth
	}
	return o.QueueDepth
}

// Subscription represents one subscriber's registered interest in a node
// id pattern. It is created by Registry.Subscribe and owns its delivery
// channel until Unsubscribe (or registry shutdown) closes it.
type Subscription struct {
	id           string
	subscriberID string
	pattern      string
	opts         DeliveryOptions

	ch        chan Notification
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64

	unsubscribe func(*Subscription)
}

// ID returns the unique subscription id.
func (s *Subscription) ID() string { return s.id }

// SubscriberID returns the identity the subscription was created under.
func (s *Subscription) SubscriberID() string { return s.subscriberID }

// Pattern returns the node id pattern the subscription matches.
func (s *Subscription) Pattern() string { return s.pattern }

// C returns the delivery channel. The channel is never closed; removal is
// signalled by Done, and notifications enqueued before removal stay
// readable afterwards. Consumers select on Done rather than ranging over C.
func (s *Subscription) C() <-chan Notification { return s.ch }

// Done is closed when the subscription is removed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns the number of notifications discarded by the overflow
// policy.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Unsubscribe removes the subscription from its registry. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.markClosed()
	if s.unsubscribe != nil {
		s.unsubscribe(s)
	}
}

// markClosed closes the done channel exactly once.
func (s *Subscription) markClosed() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Subscription) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// matches reports whether the subscription's pattern covers a node id.
func (s *Subscription) matches(nodeID string) bool {
	return MatchPattern(s.pattern, nodeID)
}

// deliver enqueues one notification under the subscription's overflow
// policy. It reports false when the subscription is closed.
func (s *Subscription) deliver(n Notification) bool {
	if s.closed() {
		return false
	}

	switch s.opts.OnFull {
	case buffer.Block:
		select {
		case s.ch <- n:
		case <-s.done:
			return false
		}

	case buffer.DropNewest:
		select {
		case s.ch <- n:
		default:
			s.dropped.Add(1)
		}

	default: // DropOldest
		select {
		case s.ch <- n:
		default:
			// evict the oldest entry, then retry once; if the consumer
			// raced us to the slot the new notification still fits
			select {
			case <-s.ch:
				s.dropped.Add(1)
			default:
			}
			select {
			case s.ch <- n:
			default:
				s.dropped.Add(1)
			}
		}
	}
	return true
}

// MatchPattern reports whether a node id matches a subscription pattern.
// Patterns are an exact node id, "*" for all nodes, or "prefix.*" matching
// every id under a dotted prefix.
func MatchPattern(pattern, nodeID string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(nodeID, prefix+".")
	}
	return pattern == nodeID
}

func newSubscription(subscriberID, pattern string, opts DeliveryOptions, unsub func(*Subscription)) *Subscription {
	return &Subscription{
		id:           uuid.NewString(),
		subscriberID: subscriberID,
		pattern:      pattern,
		opts:         opts,
		ch:           make(chan Notification, opts.depth()),
		done:         make(chan struct{}),
		unsubscribe:  unsub,
	}
}
