package detector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CFSY/meta-reactive/buffer"
	"github.com/CFSY/meta-reactive/errors"
	"github.com/CFSY/meta-reactive/metric"
	"github.com/CFSY/meta-reactive/registry"
)

// Alert is one fired rule occurrence.
type Alert struct {
	RuleID string    `json:"rule_id"`
	NodeID string    `json:"node_id"`
	Value  float64   `json:"value"`
	At     time.Time `json:"at"`
}

// AlertPublisher receives fired alerts. The service binds it to a leaf
// update on the rule's alert node so alerts flow through the ordinary
// change notification path.
type AlertPublisher interface {
	PublishAlert(alert Alert) error
}

// AlertPublisherFunc adapts a function to AlertPublisher.
type AlertPublisherFunc func(alert Alert) error

// PublishAlert implements AlertPublisher.
func (f AlertPublisherFunc) PublishAlert(alert Alert) error { return f(alert) }

// ruleQueueDepth bounds each rule's private evaluation channel.
const ruleQueueDepth = 64

// Detector runs standing rules over change notifications from a
// subscription registry.
type Detector struct {
	rules    []Rule
	registry *registry.Registry
	pub      AlertPublisher
	logger   *slog.Logger
	metrics  *metrics

	mu          sync.Mutex
	initialized bool
	started     bool
	stopped     bool
	shutdown    chan struct{}
	wg          sync.WaitGroup
	subs        []*registry.Subscription
}

// New creates a detector over the given registry. Rules are validated by
// Initialize.
func New(rules []Rule, reg *registry.Registry, pub AlertPublisher, logger *slog.Logger, metricsRegistry *metric.MetricsRegistry) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		rules:    rules,
		registry: reg,
		pub:      pub,
		logger:   logger.With("component", "detector"),
		metrics:  newMetrics(metricsRegistry),
		shutdown: make(chan struct{}),
	}
}

// Initialize validates the rule set.
func (d *Detector) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}
	if d.registry == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Detector", "Initialize", "check registry")
	}
	if d.pub == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Detector", "Initialize", "check alert publisher")
	}

	seen := make(map[string]bool, len(d.rules))
	for _, rule := range d.rules {
		if err := rule.Validate(); err != nil {
			return err
		}
		if seen[rule.ID] {
			return errors.WrapInvalid(errors.ErrDuplicateID, "Detector", "Initialize",
				"check rule "+rule.ID)
		}
		seen[rule.ID] = true
	}

	d.initialized = true
	return nil
}

// Start subscribes every rule's inputs and launches one evaluation
// goroutine per rule. It returns once all rules are running.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return errors.WrapInvalid(errors.ErrNotStarted, "Detector", "Start", "initialize first")
	}
	if d.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Detector", "Start", "start detector")
	}
	if ctx == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Detector", "Start", "context cannot be nil")
	}
	d.started = true

	for i := range d.rules {
		if err := d.startRule(ctx, d.rules[i]); err != nil {
			return err
		}
	}
	if d.metrics != nil {
		d.metrics.rulesActive.Set(float64(len(d.rules)))
	}
	d.logger.Info("detector started", "rules", len(d.rules))
	return nil
}

func (d *Detector) startRule(ctx context.Context, rule Rule) error {
	r := &runner{
		rule:    rule,
		in:      make(chan registry.Notification, ruleQueueDepth),
		windows: make(map[string][]Sample, len(rule.Inputs)),
	}

	for _, input := range rule.Inputs {
		sub, err := d.registry.Subscribe("detector."+rule.ID, input, registry.DeliveryOptions{
			QueueDepth: ruleQueueDepth,
			OnFull:     buffer.DropOldest,
		})
		if err != nil {
			return errors.Wrap(err, "Detector", "Start", "subscribe rule input "+input)
		}
		d.subs = append(d.subs, sub)

		d.wg.Add(1)
		go d.pump(sub, r)
	}

	d.wg.Add(1)
	go d.run(ctx, r)
	return nil
}

// pump forwards one input subscription into the rule's private channel.
// A busy rule drops the oldest pending work rather than stalling the
// subscription or another rule.
func (d *Detector) pump(sub *registry.Subscription, r *runner) {
	defer d.wg.Done()
	for {
		select {
		case n := <-sub.C():
			select {
			case r.in <- n:
			default:
				select {
				case <-r.in:
				default:
				}
				select {
				case r.in <- n:
				default:
				}
				if d.metrics != nil {
					d.metrics.evaluationsDropped.Inc()
				}
			}
		case <-sub.Done():
			return
		case <-d.shutdown:
			return
		}
	}
}

func (d *Detector) run(ctx context.Context, r *runner) {
	defer d.wg.Done()
	for {
		select {
		case n := <-r.in:
			d.evaluate(r, n)
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		}
	}
}

// Stop tears down subscriptions and waits for the evaluation goroutines.
func (d *Detector) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Detector", "Stop", "stop detector")
	}
	d.stopped = true
	close(d.shutdown)
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrShuttingDown, "Detector", "Stop",
			"wait for rule goroutines")
	}

	if d.metrics != nil {
		d.metrics.rulesActive.Set(0)
	}
	d.logger.Info("detector stopped")
	return nil
}

// runner is the single-goroutine state of one rule.
type runner struct {
	rule      Rule
	in        chan registry.Notification
	windows   map[string][]Sample
	lastFired time.Time
}

func (d *Detector) evaluate(r *runner, n registry.Notification) {
	v, ok := toFloat(n.Value)
	if !ok {
		d.logger.Debug("ignoring non-numeric sample", "rule", r.rule.ID, "node", n.NodeID)
		return
	}

	window := append(r.windows[n.NodeID], Sample{Value: v, At: n.Timestamp})
	if len(window) > r.rule.WindowSize {
		window = window[len(window)-r.rule.WindowSize:]
	}
	r.windows[n.NodeID] = window

	if !r.rule.Predicate.Evaluate(window) {
		return
	}

	// cooldown runs on notification time so replays behave the same
	if !r.lastFired.IsZero() && n.Timestamp.Sub(r.lastFired) < r.rule.Cooldown {
		return
	}
	r.lastFired = n.Timestamp

	alert := Alert{RuleID: r.rule.ID, NodeID: n.NodeID, Value: v, At: n.Timestamp}
	if err := d.pub.PublishAlert(alert); err != nil {
		d.logger.Error("alert publication failed", "rule", r.rule.ID, "error", err)
		return
	}
	if d.metrics != nil {
		d.metrics.alertsFired.Inc()
	}
	d.logger.Info("alert fired", "rule", r.rule.ID, "node", n.NodeID, "value", v)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}
