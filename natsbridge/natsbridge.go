// Package natsbridge fans change notifications out to NATS. Every change
// is published as a JSON notification on "<prefix>.<node id>", making the
// reactive graph consumable by plain NATS subscribers without the
// WebSocket boundary.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/CFSY/meta-reactive/buffer"
	"github.com/CFSY/meta-reactive/errors"
	"github.com/CFSY/meta-reactive/metric"
	"github.com/CFSY/meta-reactive/registry"
)

// Config holds the bridge settings.
type Config struct {
	// URL is the NATS server address.
	URL string

	// SubjectPrefix is prepended to every node id. Defaults to "reactive".
	SubjectPrefix string

	// Pattern selects which node ids are bridged. Defaults to "*".
	Pattern string

	// QueueDepth bounds the bridge's delivery queue.
	QueueDepth int
}

// DefaultConfig returns the bridge defaults. The URL is left empty and
// must be provided.
func DefaultConfig() Config {
	return Config{
		SubjectPrefix: "reactive",
		Pattern:       "*",
		QueueDepth:    256,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = def.SubjectPrefix
	}
	if c.Pattern == "" {
		c.Pattern = def.Pattern
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = def.QueueDepth
	}
}

// Publisher is the slice of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Bridge pumps a registry subscription onto NATS subjects.
type Bridge struct {
	cfg      Config
	registry *registry.Registry
	logger   *slog.Logger
	metrics  *metrics

	conn     Publisher
	ownsConn bool

	mu          sync.Mutex
	initialized bool
	started     bool
	stopped     bool
	sub         *registry.Subscription
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

// New creates a bridge that connects to cfg.URL on Start.
func New(cfg Config, reg *registry.Registry, logger *slog.Logger, metricsRegistry *metric.MetricsRegistry) *Bridge {
	return newBridge(cfg, reg, nil, true, logger, metricsRegistry)
}

// NewWithConn creates a bridge over an existing connection; the caller
// keeps ownership of it.
func NewWithConn(cfg Config, reg *registry.Registry, conn Publisher, logger *slog.Logger, metricsRegistry *metric.MetricsRegistry) *Bridge {
	return newBridge(cfg, reg, conn, false, logger, metricsRegistry)
}

func newBridge(cfg Config, reg *registry.Registry, conn Publisher, ownsConn bool, logger *slog.Logger, metricsRegistry *metric.MetricsRegistry) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Bridge{
		cfg:      cfg,
		registry: reg,
		logger:   logger.With("component", "natsbridge"),
		metrics:  newMetrics(metricsRegistry),
		conn:     conn,
		ownsConn: ownsConn,
		shutdown: make(chan struct{}),
	}
}

// Initialize validates the configuration.
func (b *Bridge) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}
	if b.registry == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "Initialize", "check registry")
	}
	if b.conn == nil && b.cfg.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "Initialize", "check NATS url")
	}
	b.initialized = true
	return nil
}

// Start connects (unless a connection was injected), subscribes to the
// registry and launches the pump goroutine.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return errors.WrapInvalid(errors.ErrNotStarted, "Bridge", "Start", "initialize first")
	}
	if b.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Start", "start bridge")
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Bridge", "Start", "context cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Bridge", "Start", "check context")
	}

	if b.conn == nil {
		conn, err := nats.Connect(b.cfg.URL,
			nats.Name("meta-reactive-bridge"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return errors.WrapTransient(errors.ErrNoConnection, "Bridge", "Start",
				fmt.Sprintf("connect %s: %v", b.cfg.URL, err))
		}
		b.conn = conn
	}

	sub, err := b.registry.Subscribe("natsbridge", b.cfg.Pattern, registry.DeliveryOptions{
		QueueDepth: b.cfg.QueueDepth,
		OnFull:     buffer.DropOldest,
	})
	if err != nil {
		return errors.Wrap(err, "Bridge", "Start", "subscribe pattern "+b.cfg.Pattern)
	}
	b.sub = sub
	b.started = true

	b.wg.Add(1)
	go b.pump(ctx, sub)

	b.logger.Info("nats bridge started", "prefix", b.cfg.SubjectPrefix, "pattern", b.cfg.Pattern)
	return nil
}

func (b *Bridge) pump(ctx context.Context, sub *registry.Subscription) {
	defer b.wg.Done()
	for {
		select {
		case n := <-sub.C():
			b.publish(n)
		case <-sub.Done():
			for {
				select {
				case n := <-sub.C():
					b.publish(n)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		case <-b.shutdown:
			return
		}
	}
}

func (b *Bridge) publish(n registry.Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		b.logger.Error("notification marshal failed", "node", n.NodeID, "error", err)
		return
	}
	subject := SubjectFor(b.cfg.SubjectPrefix, n.NodeID)
	if err := b.conn.Publish(subject, data); err != nil {
		if b.metrics != nil {
			b.metrics.publishFailures.Inc()
		}
		b.logger.Warn("publish failed", "subject", subject, "error", err)
		return
	}
	if b.metrics != nil {
		b.metrics.messagesPublished.Inc()
	}
}

// Stop unsubscribes, waits for the pump and drains the connection when
// the bridge owns it.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Bridge", "Stop", "stop bridge")
	}
	b.stopped = true
	close(b.shutdown)
	sub := b.sub
	b.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrShuttingDown, "Bridge", "Stop", "wait for pump")
	}

	if b.ownsConn && b.conn != nil {
		if err := b.conn.Drain(); err != nil {
			b.logger.Warn("connection drain failed", "error", err)
		}
	}
	b.logger.Info("nats bridge stopped")
	return nil
}

// SubjectFor maps a node id onto a NATS subject under the prefix. Dotted
// node ids become subject token hierarchies; characters NATS reserves are
// replaced with underscores.
func SubjectFor(prefix, nodeID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, nodeID)
	return prefix + "." + sanitized
}
