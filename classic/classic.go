package classic

import (
	"log/slog"
	"time"

	"github.com/CFSY/meta-reactive/graph"
	"github.com/CFSY/meta-reactive/metric"
	"github.com/CFSY/meta-reactive/registry"
)

// ErrorObserver receives every propagation error in addition to the
// initiating caller. Construction errors are not observed; they are
// returned synchronously and leave the graph unchanged.
type ErrorObserver func(error)

// Builder is the imperative facade over one graph and its subscription
// registry.
type Builder struct {
	graph    *graph.Graph
	registry *registry.Registry
	logger   *slog.Logger
	observer ErrorObserver
	metrics  *metric.Metrics
}

// Option configures a Builder.
type Option func(*Builder)

// WithGraphOptions sets the options of the graph a builder creates.
// Ignored by NewWithGraph.
func WithGraphOptions(opts graph.Options) Option {
	return func(b *Builder) {
		if b.graph == nil {
			b.graph = graph.New(opts)
		}
	}
}

// WithErrorObserver registers a process-wide observer for propagation
// errors.
func WithErrorObserver(obs ErrorObserver) Option {
	return func(b *Builder) { b.observer = obs }
}

// WithMetrics instruments propagation with the core metrics of the given
// registry. A nil registry disables instrumentation.
func WithMetrics(m *metric.MetricsRegistry) Option {
	return func(b *Builder) {
		if m != nil {
			b.metrics = m.CoreMetrics()
		}
	}
}

// New creates a builder over a fresh graph and registry.
func New(logger *slog.Logger, opts ...Option) *Builder {
	return NewWithGraph(nil, nil, logger, opts...)
}

// NewWithGraph wraps an existing graph (for example one compiled by the
// meta package) and registry. Nil arguments are replaced with fresh
// instances.
func NewWithGraph(g *graph.Graph, reg *registry.Registry, logger *slog.Logger, opts ...Option) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Builder{
		graph:    g,
		registry: reg,
		logger:   logger.With("component", "classic"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.graph == nil {
		b.graph = graph.New(graph.Options{})
	}
	if b.registry == nil {
		b.registry = registry.New(logger, nil)
	}
	return b
}

// Graph returns the underlying graph.
func (b *Builder) Graph() *graph.Graph { return b.graph }

// Registry returns the underlying subscription registry.
func (b *Builder) Registry() *registry.Registry { return b.registry }

// CreateNode inserts a node. A nil compute function creates a leaf.
func (b *Builder) CreateNode(id string, compute graph.ComputeFunc, deps ...string) error {
	if err := b.graph.AddNode(id, compute, deps); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.GraphNodes.Set(float64(b.graph.Len()))
	}
	return nil
}

// Connect makes toID depend on fromID.
func (b *Builder) Connect(fromID, toID string) error {
	return b.graph.AddEdge(fromID, toID)
}

// Remove removes a node, subject to the graph's cascade policy.
func (b *Builder) Remove(id string) error {
	if err := b.graph.RemoveNode(id); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.GraphNodes.Set(float64(b.graph.Len()))
	}
	return nil
}

// SetValue stages a leaf value and runs a synchronous propagation pass.
// The resulting ChangeSet is delivered to subscribers before SetValue
// returns; on a compute failure the partial ChangeSet is still delivered
// and the error is returned and observed.
func (b *Builder) SetValue(id string, v graph.Value) error {
	if err := b.graph.SetLeafValue(id, v); err != nil {
		return err
	}
	return b.propagate()
}

// SetValues stages several leaf values and collapses them into one pass.
// A rejected batch stages nothing, so no value rides along with a later
// unrelated pass.
func (b *Builder) SetValues(updates map[string]graph.Value) error {
	if err := b.graph.SetLeafValues(updates); err != nil {
		return err
	}
	return b.propagate()
}

// Subscribe registers a subscriber for matching change notifications.
func (b *Builder) Subscribe(subscriberID, pattern string, opts registry.DeliveryOptions) (*registry.Subscription, error) {
	return b.registry.Subscribe(subscriberID, pattern, opts)
}

// OnChange registers a local callback for matching change notifications,
// consumed by a dedicated goroutine until the returned subscription is
// unsubscribed.
func (b *Builder) OnChange(subscriberID, pattern string, fn func(registry.Notification)) (*registry.Subscription, error) {
	sub, err := b.registry.Subscribe(subscriberID, pattern, registry.DeliveryOptions{})
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			select {
			case n := <-sub.C():
				fn(n)
			case <-sub.Done():
				// drain what was enqueued before removal
				for {
					select {
					case n := <-sub.C():
						fn(n)
					default:
						return
					}
				}
			}
		}
	}()
	return sub, nil
}

func (b *Builder) propagate() error {
	start := time.Now()
	cs, err := b.graph.Propagate()

	if b.metrics != nil {
		b.metrics.PropagationPasses.Inc()
		b.metrics.PropagationDuration.Observe(time.Since(start).Seconds())
		b.metrics.NodesChanged.Add(float64(len(cs)))
	}

	// deliver whatever the pass committed, even on failure: downstream
	// consumers of an already-applied change must not be told it never
	// happened
	b.registry.Deliver(cs)

	if err != nil {
		if b.metrics != nil {
			b.metrics.ComputeFailures.Inc()
		}
		b.logger.Error("propagation pass failed", "error", err)
		if b.observer != nil {
			b.observer(err)
		}
		return err
	}
	return nil
}
