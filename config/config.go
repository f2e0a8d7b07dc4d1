// Package config loads and validates the YAML service configuration: the
// listen surfaces, graph and delivery behavior, the optional NATS bridge
// and metrics endpoint, and the detector rule set.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CFSY/meta-reactive/buffer"
	"github.com/CFSY/meta-reactive/detector"
	"github.com/CFSY/meta-reactive/errors"
)

// Config is the complete service configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Graph    GraphConfig    `yaml:"graph"`
	Delivery DeliveryConfig `yaml:"delivery"`
	NATS     NATSConfig     `yaml:"nats"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Detector DetectorConfig `yaml:"detector"`
}

// ServiceConfig names the service and its streaming endpoint.
type ServiceConfig struct {
	Name       string `yaml:"name"`
	ListenAddr string `yaml:"listen_addr"`
	WSPath     string `yaml:"ws_path"`
}

// GraphConfig holds per-graph behavior.
type GraphConfig struct {
	// RemoveDependents cascades node removal to dependents instead of
	// rejecting it.
	RemoveDependents bool `yaml:"remove_dependents"`
}

// DeliveryConfig holds the default subscription delivery options.
type DeliveryConfig struct {
	QueueDepth int    `yaml:"queue_depth"`
	OnFull     string `yaml:"on_full"`
}

// NATSConfig holds the optional NATS bridge settings.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig holds the optional Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// DetectorConfig holds the rule set.
type DetectorConfig struct {
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig is the YAML form of one detector rule.
type RuleConfig struct {
	ID         string          `yaml:"id"`
	Inputs     []string        `yaml:"inputs"`
	WindowSize int             `yaml:"window_size"`
	Cooldown   Duration        `yaml:"cooldown"`
	Predicate  PredicateConfig `yaml:"predicate"`
}

// Duration decodes YAML duration strings such as "10s" or "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// PredicateConfig is the YAML form of a rule predicate. Type selects the
// predicate kind: "threshold", "n_of_m" or "rate_of_change".
type PredicateConfig struct {
	Type    string   `yaml:"type"`
	Op      string   `yaml:"op,omitempty"`
	Value   float64  `yaml:"value,omitempty"`
	N       int      `yaml:"n,omitempty"`
	M       int      `yaml:"m,omitempty"`
	MinRate *float64 `yaml:"min_rate,omitempty"`
	MaxRate *float64 `yaml:"max_rate,omitempty"`
}

// Default returns the configuration used when a field is omitted.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Name:       "reactived",
			ListenAddr: ":8080",
			WSPath:     "/ws",
		},
		Delivery: DeliveryConfig{
			QueueDepth: 64,
			OnFull:     "dropOldest",
		},
		NATS: NATSConfig{
			SubjectPrefix: "reactive",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
	}
}

// Load reads a YAML file, applies defaults and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WrapFatal(err, "Config", "Load", "read "+path)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.WrapInvalid(err, "Config", "Parse", "decode yaml")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Service.Name == "" {
		c.Service.Name = def.Service.Name
	}
	if c.Service.ListenAddr == "" {
		c.Service.ListenAddr = def.Service.ListenAddr
	}
	if c.Service.WSPath == "" {
		c.Service.WSPath = def.Service.WSPath
	}
	if c.Delivery.QueueDepth <= 0 {
		c.Delivery.QueueDepth = def.Delivery.QueueDepth
	}
	if c.Delivery.OnFull == "" {
		c.Delivery.OnFull = def.Delivery.OnFull
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = def.NATS.SubjectPrefix
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = def.Metrics.ListenAddr
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Service.WSPath == "" || c.Service.WSPath[0] != '/' {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("ws_path %q must start with /", c.Service.WSPath))
	}
	if _, ok := buffer.ParseOverflowPolicy(c.Delivery.OnFull); !ok {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown delivery policy %q", c.Delivery.OnFull))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"nats.url is required when nats.enabled")
	}

	// rule conversion performs the full per-rule validation
	if _, err := c.Rules(); err != nil {
		return err
	}
	return nil
}

// OverflowPolicy returns the configured default delivery policy.
func (c *Config) OverflowPolicy() buffer.OverflowPolicy {
	policy, _ := buffer.ParseOverflowPolicy(c.Delivery.OnFull)
	return policy
}

// Rules converts the configured rule set into detector rules.
func (c *Config) Rules() ([]detector.Rule, error) {
	if len(c.Detector.Rules) == 0 {
		return nil, nil
	}
	rules := make([]detector.Rule, 0, len(c.Detector.Rules))
	for _, rc := range c.Detector.Rules {
		pred, err := rc.Predicate.build(rc.ID)
		if err != nil {
			return nil, err
		}
		windowSize := rc.WindowSize
		if windowSize == 0 {
			windowSize = defaultWindowSize(pred)
		}
		rule := detector.Rule{
			ID:         rc.ID,
			Inputs:     rc.Inputs,
			WindowSize: windowSize,
			Cooldown:   time.Duration(rc.Cooldown),
			Predicate:  pred,
		}
		if err := rule.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func defaultWindowSize(pred detector.Predicate) int {
	switch p := pred.(type) {
	case detector.NOfM:
		return p.M
	case detector.RateOfChange:
		return 16
	default:
		return 1
	}
}

func (p PredicateConfig) build(ruleID string) (detector.Predicate, error) {
	switch p.Type {
	case "threshold":
		return detector.Threshold{Op: detector.CompareOp(p.Op), Value: p.Value}, nil
	case "n_of_m":
		return detector.NOfM{N: p.N, M: p.M, Op: detector.CompareOp(p.Op), Value: p.Value}, nil
	case "rate_of_change":
		return detector.RateOfChange{Min: p.MinRate, Max: p.MaxRate}, nil
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Rules",
			fmt.Sprintf("rule %q: unknown predicate type %q", ruleID, p.Type))
	}
}
