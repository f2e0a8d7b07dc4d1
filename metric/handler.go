package metric

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CFSY/meta-reactive/errors"
)

// Server represents the metrics HTTP server
type Server struct {
	addr     string
	path     string
	server   *http.Server
	registry *MetricsRegistry
	mu       sync.Mutex // protects server field
}

// NewServer creates a new metrics server with the provided registry
func NewServer(addr, path string, registry *MetricsRegistry) *Server {
	if path == "" {
		path = "/metrics"
	}
	if addr == "" {
		addr = ":9090"
	}

	return &Server{
		addr:     addr,
		path:     path,
		registry: registry,
	}
}

// Start starts the metrics HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()

	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "start metrics server")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(fmt.Errorf("nil registry"), "Server", "Start", "metrics registry not provided")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}
	server := s.server
	s.mu.Unlock()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("serve metrics on %s", s.addr))
	}
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		err := s.server.Close()
		s.server = nil // allow restart
		if err != nil {
			return errors.WrapTransient(err, "Server", "Stop", "close HTTP server")
		}
	}
	return nil
}

// Address returns the configured listen address and path.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s%s", s.addr, s.path)
}
