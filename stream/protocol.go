package stream

import (
	"encoding/json"
	"time"

	"github.com/CFSY/meta-reactive/buffer"
)

// Message types carried in Envelope.Type.
const (
	MessageSubscribe   = "subscribe"
	MessageSubscribed  = "subscribed"
	MessageUnsubscribe = "unsubscribe"
	MessageChange      = "change"
	MessageError       = "error"
)

// Envelope wraps every WebSocket frame with type discrimination.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SubscribeRequest names the node id patterns a client wants and its
// delivery options. Policy strings follow configuration spelling
// ("dropOldest", "dropNewest", "block"); empty means the default.
type SubscribeRequest struct {
	Patterns   []string `json:"patterns"`
	QueueDepth int      `json:"queue_depth,omitempty"`
	OnFull     string   `json:"on_full,omitempty"`
}

// SubscribedReply acknowledges a subscribe request with the created
// subscription ids, in request pattern order.
type SubscribedReply struct {
	SubscriptionIDs []string `json:"subscription_ids"`
}

// UnsubscribeRequest removes the connection's subscriptions for the named
// patterns.
type UnsubscribeRequest struct {
	Patterns []string `json:"patterns"`
}

// ErrorReply reports a protocol-level failure to the client.
type ErrorReply struct {
	Message string `json:"message"`
}

func policyWire(p buffer.OverflowPolicy) string {
	switch p {
	case buffer.DropNewest:
		return "dropNewest"
	case buffer.Block:
		return "block"
	default:
		return "dropOldest"
	}
}

func newEnvelope(msgType, id string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Envelope{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	})
}
