package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/CFSY/meta-reactive/buffer"
	"github.com/CFSY/meta-reactive/errors"
	"github.com/CFSY/meta-reactive/metric"
	"github.com/CFSY/meta-reactive/registry"
)

// ServerConfig holds the streaming server's settings.
type ServerConfig struct {
	// Addr is the listen address, host:port. Port 0 picks a free port.
	Addr string

	// Path is the WebSocket endpoint path.
	Path string

	// WriteTimeout bounds a single frame write to one client.
	WriteTimeout time.Duration

	// PingInterval is the keepalive ping period.
	PingInterval time.Duration

	// PendingFrames bounds the per-client outbound frame queue. A slow
	// connection drops its oldest pending frames beyond this.
	PendingFrames int
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:          ":8080",
		Path:          "/ws",
		WriteTimeout:  10 * time.Second,
		PingInterval:  30 * time.Second,
		PendingFrames: 256,
	}
}

func (c *ServerConfig) applyDefaults() {
	def := DefaultServerConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PendingFrames <= 0 {
		c.PendingFrames = def.PendingFrames
	}
}

// Server bridges WebSocket connections to the subscription registry. Each
// connection is one subscriber identity; its subscriptions are removed
// when it disconnects.
type Server struct {
	cfg      ServerConfig
	registry *registry.Registry
	logger   *slog.Logger
	metrics  *serverMetrics

	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*client]struct{}

	mu          sync.Mutex
	initialized bool
	running     bool
	stopped     bool
	server      *http.Server
	listener    net.Listener
	shutdown    chan struct{}
	wg          sync.WaitGroup

	frameCounter atomic.Uint64
}

// client is one WebSocket connection and its registry subscriptions.
type client struct {
	id   string
	conn *websocket.Conn

	writeMutex sync.Mutex
	pending    buffer.Buffer[[]byte]
	kick       chan struct{}

	subsMu sync.Mutex
	subs   map[string]*registry.Subscription // pattern -> subscription

	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewServer creates a streaming server over the given registry.
func NewServer(cfg ServerConfig, reg *registry.Registry, logger *slog.Logger, metricsRegistry *metric.MetricsRegistry) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Server{
		cfg:      cfg,
		registry: reg,
		logger:   logger.With("component", "stream"),
		metrics:  newServerMetrics(metricsRegistry),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:  make(map[*client]struct{}),
		shutdown: make(chan struct{}),
	}
}

// Initialize validates the configuration.
func (s *Server) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	if s.registry == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Server", "Initialize", "check registry")
	}
	if s.cfg.Path == "" || s.cfg.Path[0] != '/' {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize",
			fmt.Sprintf("endpoint path %q must start with /", s.cfg.Path))
	}
	s.initialized = true
	return nil
}

// Handler returns the WebSocket endpoint handler. Exposed so the server
// can be mounted on an external mux or an httptest server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocket)
	return mux
}

// Start binds the listen address and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.WrapInvalid(errors.ErrNotStarted, "Server", "Start", "initialize first")
	}
	if s.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "start server")
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Start", "context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Server", "Start", "check context")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start", "bind "+s.cfg.Addr)
	}
	s.listener = ln
	s.server = &http.Server{Handler: s.Handler()}
	s.running = true

	s.wg.Add(2)
	go s.serve()
	go s.maintainClients(ctx)

	s.logger.Info("stream server listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) serve() {
	defer s.wg.Done()
	if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		s.logger.Error("stream server failed", "error", err)
	}
}

// Stop shuts the listener down, disconnects every client and waits for
// the connection goroutines.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Server", "Stop", "stop server")
	}
	s.stopped = true
	s.running = false
	close(s.shutdown)
	server := s.server
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown did not complete", "error", err)
		}
	}

	s.clientsMu.Lock()
	for c := range s.clients {
		s.closeClient(c)
	}
	s.clientsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrShuttingDown, "Server", "Stop",
			"wait for connection goroutines")
	}

	s.logger.Info("stream server stopped")
	return nil
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("connection upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		id:      "stream-" + uuid.NewString(),
		conn:    conn,
		pending: buffer.NewRing[[]byte](s.cfg.PendingFrames),
		kick:    make(chan struct{}, 1),
		subs:    make(map[string]*registry.Subscription),
		done:    make(chan struct{}),
	}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.connectionsTotal.Inc()
		s.metrics.clientsConnected.Set(float64(count))
	}
	s.logger.Debug("client connected", "client", c.id, "remote", r.RemoteAddr)

	s.wg.Add(2)
	go s.writeLoop(c)
	go s.readLoop(c)
}

// readLoop consumes control frames from one client until it disconnects.
func (s *Server) readLoop(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
	})
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(c, "malformed envelope")
			continue
		}

		switch env.Type {
		case MessageSubscribe:
			s.handleSubscribe(c, env)
		case MessageUnsubscribe:
			s.handleUnsubscribe(c, env)
		default:
			s.sendError(c, fmt.Sprintf("unknown message type %q", env.Type))
		}
	}
}

func (s *Server) handleSubscribe(c *client, env Envelope) {
	var req SubscribeRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		s.sendError(c, "malformed subscribe payload")
		return
	}
	if len(req.Patterns) == 0 {
		s.sendError(c, "subscribe needs at least one pattern")
		return
	}
	policy, ok := buffer.ParseOverflowPolicy(req.OnFull)
	if !ok {
		s.sendError(c, fmt.Sprintf("unknown overflow policy %q", req.OnFull))
		return
	}
	opts := registry.DeliveryOptions{QueueDepth: req.QueueDepth, OnFull: policy}

	ids := make([]string, 0, len(req.Patterns))
	for _, pattern := range req.Patterns {
		c.subsMu.Lock()
		_, exists := c.subs[pattern]
		c.subsMu.Unlock()
		if exists {
			continue
		}

		sub, err := s.registry.Subscribe(c.id, pattern, opts)
		if err != nil {
			s.sendError(c, fmt.Sprintf("subscribe %q: %v", pattern, err))
			continue
		}
		c.subsMu.Lock()
		c.subs[pattern] = sub
		c.subsMu.Unlock()
		ids = append(ids, sub.ID())

		s.wg.Add(1)
		go s.forward(c, sub)
	}

	s.send(c, MessageSubscribed, SubscribedReply{SubscriptionIDs: ids})
	s.logger.Debug("client subscribed", "client", c.id, "patterns", req.Patterns)
}

func (s *Server) handleUnsubscribe(c *client, env Envelope) {
	var req UnsubscribeRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		s.sendError(c, "malformed unsubscribe payload")
		return
	}
	for _, pattern := range req.Patterns {
		c.subsMu.Lock()
		sub, ok := c.subs[pattern]
		delete(c.subs, pattern)
		c.subsMu.Unlock()
		if ok {
			sub.Unsubscribe()
		}
	}
}

// forward pumps one subscription's notifications into the client's
// outbound frame queue.
func (s *Server) forward(c *client, sub *registry.Subscription) {
	defer s.wg.Done()
	for {
		select {
		case n := <-sub.C():
			s.send(c, MessageChange, n)
		case <-sub.Done():
			for {
				select {
				case n := <-sub.C():
					s.send(c, MessageChange, n)
				default:
					return
				}
			}
		case <-c.done:
			return
		case <-s.shutdown:
			return
		}
	}
}

// send enqueues one outbound frame; the oldest pending frame is shed when
// the client's queue is full.
func (s *Server) send(c *client, msgType string, payload any) {
	if c.closed.Load() {
		return
	}
	id := fmt.Sprintf("msg-%d", s.frameCounter.Add(1))
	data, err := newEnvelope(msgType, id, payload)
	if err != nil {
		s.logger.Error("envelope marshal failed", "type", msgType, "error", err)
		return
	}
	if err := c.pending.Write(data); err != nil {
		return
	}
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (s *Server) sendError(c *client, message string) {
	s.send(c, MessageError, ErrorReply{Message: message})
}

// writeLoop drains the client's frame queue onto the connection. A single
// writer per connection keeps gorilla's one-writer rule.
func (s *Server) writeLoop(c *client) {
	defer s.wg.Done()
	for {
		select {
		case <-c.kick:
			for _, data := range c.pending.ReadBatch(64) {
				if err := s.writeFrame(c, data); err != nil {
					s.removeClient(c)
					return
				}
			}
			if c.pending.Size() > 0 {
				select {
				case c.kick <- struct{}{}:
				default:
				}
			}
		case <-c.done:
			return
		case <-s.shutdown:
			return
		}
	}
}

func (s *Server) writeFrame(c *client, data []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	err := c.conn.WriteMessage(websocket.TextMessage, data)
	if err == nil && s.metrics != nil {
		s.metrics.framesSent.Inc()
	}
	return err
}

// maintainClients pings clients periodically so half-open connections get
// torn down by the read deadline.
func (s *Server) maintainClients(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.clientsMu.Lock()
			snapshot := make([]*client, 0, len(s.clients))
			for c := range s.clients {
				snapshot = append(snapshot, c)
			}
			s.clientsMu.Unlock()

			for _, c := range snapshot {
				c.writeMutex.Lock()
				_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
				err := c.conn.WriteMessage(websocket.PingMessage, nil)
				c.writeMutex.Unlock()
				if err != nil {
					s.removeClient(c)
				}
			}
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		}
	}
}

// removeClient tears one connection down: registry subscriptions first so
// no further notifications arrive, then the socket.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.closeClient(c)

	if present {
		if s.metrics != nil {
			s.metrics.clientsConnected.Set(float64(count))
		}
		s.logger.Debug("client disconnected", "client", c.id)
	}
}

func (s *Server) closeClient(c *client) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		s.registry.UnsubscribeAll(c.id)
		_ = c.pending.Close()
		_ = c.conn.Close()
	})
}
