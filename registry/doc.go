// Package registry implements the subscription registry: it maps node id
// patterns to subscribers and fans each propagation pass's ChangeSet out
// to every matching subscription.
//
// Subscriptions are held in an atomically-swappable copy-on-write
// snapshot. The delivery path reads the snapshot without locking, so
// subscribe and unsubscribe proceed concurrently with delivery.
//
// Each subscription owns a bounded delivery channel governed by an
// overflow policy: Block applies backpressure to the deliverer,
// DropOldest (the default) trades staleness for liveness, and DropNewest
// preserves the oldest backlog. Notifications preserve the ChangeSet's
// topological order per subscriber. A subscription whose consumer is gone
// is detached on the next delivery and never stalls other subscribers.
package registry
