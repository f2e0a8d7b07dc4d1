// Package stream exposes the subscription registry to remote consumers
// over WebSocket. A client connects, sends a subscribe request naming one
// or more node id patterns, and receives an ordered sequence of change
// notifications until it unsubscribes or disconnects; disconnecting tears
// down every subscription the connection held.
//
// All frames are JSON envelopes with type discrimination:
//
//	client -> server: "subscribe", "unsubscribe"
//	server -> client: "subscribed", "change", "error"
//
// Per-subscription ordering follows the change set's topological order.
// A slow connection sheds the oldest pending frames instead of stalling
// delivery to other subscribers.
package stream
