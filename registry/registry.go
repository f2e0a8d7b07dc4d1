package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/CFSY/meta-reactive/errors"
	"github.com/CFSY/meta-reactive/graph"
	"github.com/CFSY/meta-reactive/metric"
)

type snapshot map[string]*Subscription

// Registry maps node id patterns to subscribers and delivers change sets.
type Registry struct {
	mu     sync.Mutex // serializes subscription mutations
	subs   atomic.Pointer[snapshot]
	logger *slog.Logger

	metrics *Metrics
}

// New creates a subscription registry. The metrics registry may be nil.
func New(logger *slog.Logger, metrics *metric.MetricsRegistry) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		logger:  logger.With("component", "registry"),
		metrics: newMetrics(metrics),
	}
	empty := make(snapshot)
	r.subs.Store(&empty)
	return r
}

// Subscribe registers interest in a node id pattern and returns the
// subscription whose channel receives matching notifications.
func (r *Registry) Subscribe(subscriberID, pattern string, opts DeliveryOptions) (*Subscription, error) {
	if subscriberID == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("empty subscriber id"), "Registry", "Subscribe", "validate subscriber")
	}
	if pattern == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("empty pattern"), "Registry", "Subscribe", "validate pattern")
	}

	sub := newSubscription(subscriberID, pattern, opts, r.detach)

	r.mu.Lock()
	next := r.copySnapshot()
	next[sub.id] = sub
	r.subs.Store(&next)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.subscriptionsActive.Inc()
	}
	r.logger.Debug("subscribed", "subscriber", subscriberID, "pattern", pattern, "subscription", sub.id)
	return sub, nil
}

// Unsubscribe removes a subscription by id. Removing an id that is not
// registered returns ErrSubscriptionNotFound; Subscription.Unsubscribe
// itself is idempotent.
func (r *Registry) Unsubscribe(subscriptionID string) error {
	subs := *r.subs.Load()
	sub, ok := subs[subscriptionID]
	if !ok {
		return errors.WrapInvalid(errors.ErrSubscriptionNotFound, "Registry", "Unsubscribe",
			fmt.Sprintf("remove subscription %q", subscriptionID))
	}
	sub.Unsubscribe()
	return nil
}

// UnsubscribeAll removes every subscription held by a subscriber. Used by
// the streaming boundary when a remote client disconnects.
func (r *Registry) UnsubscribeAll(subscriberID string) {
	for _, sub := range *r.subs.Load() {
		if sub.subscriberID == subscriberID {
			sub.Unsubscribe()
		}
	}
}

// Deliver fans one ChangeSet out to all matching subscriptions, preserving
// the set's topological order per subscriber. Once handed over, the caller
// must not retain the ChangeSet.
func (r *Registry) Deliver(cs graph.ChangeSet) {
	if len(cs) == 0 {
		return
	}

	for _, sub := range *r.subs.Load() {
		if sub.closed() {
			r.detach(sub)
			continue
		}
		for _, c := range cs {
			if !sub.matches(c.NodeID) {
				continue
			}
			n := Notification{
				NodeID:    c.NodeID,
				Timestamp: c.Timestamp,
				Value:     c.New,
				Old:       c.Old,
			}
			if !sub.deliver(n) {
				// consumer went away mid-delivery
				r.detach(sub)
				break
			}
			if r.metrics != nil {
				r.metrics.notificationsDelivered.Inc()
			}
		}
	}
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int {
	return len(*r.subs.Load())
}

// Close unsubscribes everything. The registry stays usable afterwards.
func (r *Registry) Close() {
	for _, sub := range *r.subs.Load() {
		sub.Unsubscribe()
	}
}

// detach removes a subscription from the snapshot. Called from
// Subscription.Unsubscribe and from the delivery path when a consumer is
// gone; safe to call repeatedly.
func (r *Registry) detach(sub *Subscription) {
	sub.markClosed()

	r.mu.Lock()
	current := *r.subs.Load()
	if _, ok := current[sub.id]; !ok {
		r.mu.Unlock()
		return
	}
	next := r.copySnapshot()
	delete(next, sub.id)
	r.subs.Store(&next)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.subscriptionsActive.Dec()
		r.metrics.notificationsDropped.Add(float64(sub.Dropped()))
	}
	r.logger.Debug("unsubscribed", "subscriber", sub.subscriberID, "subscription", sub.id, "dropped", sub.Dropped())
}

// copySnapshot clones the current snapshot; callers hold r.mu.
func (r *Registry) copySnapshot() snapshot {
	current := *r.subs.Load()
	next := make(snapshot, len(current)+1)
	for id, sub := range current {
		next[id] = sub
	}
	return next
}
