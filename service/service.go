// Package service assembles the reactive runtime: graph and builder,
// subscription registry, streaming boundary, detector, optional NATS
// bridge and optional metrics endpoint, all under one lifecycle.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CFSY/meta-reactive/classic"
	"github.com/CFSY/meta-reactive/config"
	"github.com/CFSY/meta-reactive/detector"
	"github.com/CFSY/meta-reactive/errors"
	"github.com/CFSY/meta-reactive/graph"
	"github.com/CFSY/meta-reactive/metric"
	"github.com/CFSY/meta-reactive/natsbridge"
	"github.com/CFSY/meta-reactive/registry"
	"github.com/CFSY/meta-reactive/stream"
)

// Service owns every component of one reactive runtime.
type Service struct {
	cfg    config.Config
	logger *slog.Logger

	metricsRegistry *metric.MetricsRegistry
	metricsServer   *metric.Server
	registry        *registry.Registry
	builder         *classic.Builder
	detector        *detector.Detector
	stream          *stream.Server
	bridge          *natsbridge.Bridge

	group *errgroup.Group

	mu          sync.Mutex
	initialized bool
	started     bool
	stopped     bool
}

// New creates a service from a validated configuration.
func New(cfg config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		logger: logger.With("service", cfg.Service.Name),
	}
}

// Initialize builds and validates every component without starting any of
// them. Construction order follows the data flow: graph and registry
// first, then the consumers on top.
func (s *Service) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	if s.cfg.Metrics.Enabled {
		s.metricsRegistry = metric.NewMetricsRegistry()
		s.metricsServer = metric.NewServer(s.cfg.Metrics.ListenAddr, "/metrics", s.metricsRegistry)
	}

	s.registry = registry.New(s.logger, s.metricsRegistry)
	s.builder = classic.NewWithGraph(nil, s.registry, s.logger,
		classic.WithGraphOptions(graph.Options{RemoveDependents: s.cfg.Graph.RemoveDependents}),
		classic.WithMetrics(s.metricsRegistry),
	)

	rules, err := s.cfg.Rules()
	if err != nil {
		return err
	}
	for _, rule := range rules {
		// synthetic leaf per rule so alerts flow through the ordinary
		// propagation and delivery path
		if err := s.builder.CreateNode(rule.AlertNodeID(), nil); err != nil {
			return errors.Wrap(err, "Service", "Initialize", "create alert node for rule "+rule.ID)
		}
	}

	s.detector = detector.New(rules, s.registry, detector.AlertPublisherFunc(s.publishAlert),
		s.logger, s.metricsRegistry)
	if err := s.detector.Initialize(); err != nil {
		return err
	}

	s.stream = stream.NewServer(stream.ServerConfig{
		Addr: s.cfg.Service.ListenAddr,
		Path: s.cfg.Service.WSPath,
	}, s.registry, s.logger, s.metricsRegistry)
	if err := s.stream.Initialize(); err != nil {
		return err
	}

	if s.cfg.NATS.Enabled {
		s.bridge = natsbridge.New(natsbridge.Config{
			URL:           s.cfg.NATS.URL,
			SubjectPrefix: s.cfg.NATS.SubjectPrefix,
			QueueDepth:    s.cfg.Delivery.QueueDepth,
		}, s.registry, s.logger, s.metricsRegistry)
		if err := s.bridge.Initialize(); err != nil {
			return err
		}
	}

	s.initialized = true
	return nil
}

// publishAlert turns a fired alert into a leaf update on its rule's
// alert node.
func (s *Service) publishAlert(a detector.Alert) error {
	return s.builder.SetValue("alert."+a.RuleID, a)
}

// Start brings the components up, producers last so nothing observes a
// half-started runtime.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.WrapInvalid(errors.ErrNotStarted, "Service", "Start", "initialize first")
	}
	if s.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Service", "Start", "start service")
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Service", "Start", "context cannot be nil")
	}

	if err := s.detector.Start(ctx); err != nil {
		return err
	}
	if err := s.stream.Start(ctx); err != nil {
		return err
	}
	if s.bridge != nil {
		if err := s.bridge.Start(ctx); err != nil {
			return err
		}
	}

	s.group, _ = errgroup.WithContext(ctx)
	if s.metricsServer != nil {
		s.group.Go(s.metricsServer.Start)
	}

	s.started = true
	s.logger.Info("service started",
		"stream_addr", s.stream.Addr(),
		"metrics", s.cfg.Metrics.Enabled,
		"nats", s.cfg.NATS.Enabled,
		"rules", len(s.cfg.Detector.Rules))
	return nil
}

// Stop tears the components down in reverse start order.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Service", "Stop", "stop service")
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.bridge != nil {
		record(s.bridge.Stop(timeout))
	}
	record(s.stream.Stop(timeout))
	record(s.detector.Stop(timeout))
	if s.metricsServer != nil {
		record(s.metricsServer.Stop())
	}
	if s.group != nil {
		record(s.group.Wait())
	}
	s.registry.Close()

	s.logger.Info("service stopped")
	return firstErr
}

// Builder returns the construction API over the service's graph.
func (s *Service) Builder() *classic.Builder { return s.builder }

// Registry returns the service's subscription registry.
func (s *Service) Registry() *registry.Registry { return s.registry }

// StreamAddr returns the streaming server's bound address, empty before
// Start.
func (s *Service) StreamAddr() string {
	if s.stream == nil {
		return ""
	}
	return s.stream.Addr()
}
