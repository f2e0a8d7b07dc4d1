package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CFSY/meta-reactive/buffer"
	"github.com/CFSY/meta-reactive/errors"
	"github.com/CFSY/meta-reactive/registry"
)

// Client is the remote consumer side of the streaming boundary. It keeps
// one connection, demultiplexes server frames, and surfaces change
// notifications on a single ordered channel.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	changes    chan registry.Notification
	subscribed chan SubscribedReply
	serverErrs chan ErrorReply

	writeMutex sync.Mutex
	msgCounter atomic.Uint64

	done      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	readErr   error
}

const clientQueueDepth = 256

// Dial connects to a streaming server endpoint, ws://host:port/path.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Dial", "connect "+url)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Client{
		conn:       conn,
		logger:     logger.With("component", "stream_client"),
		changes:    make(chan registry.Notification, clientQueueDepth),
		subscribed: make(chan SubscribedReply, 1),
		serverErrs: make(chan ErrorReply, 4),
		done:       make(chan struct{}),
		closing:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Subscribe requests the given node id patterns and waits for the
// server's acknowledgment.
func (c *Client) Subscribe(ctx context.Context, patterns []string, queueDepth int, onFull buffer.OverflowPolicy) ([]string, error) {
	req := SubscribeRequest{
		Patterns:   patterns,
		QueueDepth: queueDepth,
		OnFull:     policyWire(onFull),
	}
	if err := c.write(MessageSubscribe, req); err != nil {
		return nil, err
	}

	select {
	case reply := <-c.subscribed:
		return reply.SubscriptionIDs, nil
	case e := <-c.serverErrs:
		return nil, errors.WrapInvalid(fmt.Errorf("%s", e.Message), "Client", "Subscribe", "server rejected request")
	case <-c.done:
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "Subscribe", "connection closed")
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "Client", "Subscribe", "wait for acknowledgment")
	}
}

// Unsubscribe removes the connection's subscriptions for the given
// patterns.
func (c *Client) Unsubscribe(patterns []string) error {
	return c.write(MessageUnsubscribe, UnsubscribeRequest{Patterns: patterns})
}

// Changes returns the ordered stream of change notifications. The channel
// is closed when the connection ends.
func (c *Client) Changes() <-chan registry.Notification { return c.changes }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended, nil after a clean Close.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMutex.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMutex.Unlock()
		_ = c.conn.Close()
	})
	return nil
}

func (c *Client) write(msgType string, payload any) error {
	id := fmt.Sprintf("req-%d", c.msgCounter.Add(1))
	data, err := newEnvelope(msgType, id, payload)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "write", "marshal "+msgType)
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapTransient(err, "Client", "write", "send "+msgType)
	}
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		c.closeOnce.Do(func() {
			close(c.closing)
			_ = c.conn.Close()
		})
		close(c.done)
		close(c.changes)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.readErr = errors.WrapTransient(err, "Client", "readLoop", "read frame")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch env.Type {
		case MessageChange:
			var n registry.Notification
			if err := json.Unmarshal(env.Payload, &n); err != nil {
				c.logger.Warn("dropping malformed change", "error", err)
				continue
			}
			select {
			case c.changes <- n:
			case <-c.closing:
				return
			}

		case MessageSubscribed:
			var reply SubscribedReply
			if err := json.Unmarshal(env.Payload, &reply); err != nil {
				continue
			}
			select {
			case c.subscribed <- reply:
			default:
			}

		case MessageError:
			var e ErrorReply
			if err := json.Unmarshal(env.Payload, &e); err != nil {
				continue
			}
			c.logger.Warn("server error", "message", e.Message)
			select {
			case c.serverErrs <- e:
			default:
			}
		}
	}
}
