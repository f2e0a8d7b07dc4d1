package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CFSY/meta-reactive/buffer"
	"github.com/CFSY/meta-reactive/detector"
	"github.com/CFSY/meta-reactive/errors"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`service: {name: sensors}`))
	require.NoError(t, err)

	assert.Equal(t, "sensors", cfg.Service.Name)
	assert.Equal(t, ":8080", cfg.Service.ListenAddr)
	assert.Equal(t, "/ws", cfg.Service.WSPath)
	assert.Equal(t, 64, cfg.Delivery.QueueDepth)
	assert.Equal(t, buffer.DropOldest, cfg.OverflowPolicy())
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "reactive", cfg.NATS.SubjectPrefix)
	assert.Equal(t, ":9090", cfg.Metrics.ListenAddr)
}

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
service:
  name: thermal
  listen_addr: ":9000"
  ws_path: /stream
graph:
  remove_dependents: true
delivery:
  queue_depth: 128
  on_full: block
nats:
  enabled: true
  url: nats://localhost:4222
  subject_prefix: thermal
metrics:
  enabled: true
  listen_addr: ":9100"
detector:
  rules:
    - id: overheat
      inputs: [tempF]
      window_size: 4
      cooldown: 10s
      predicate:
        type: threshold
        op: gt
        value: 200
    - id: flapping
      inputs: [state]
      cooldown: 1m
      predicate:
        type: n_of_m
        op: ge
        value: 1
        n: 3
        m: 5
    - id: spike
      inputs: [pressure]
      window_size: 8
      predicate:
        type: rate_of_change
        max_rate: 2.5
`))
	require.NoError(t, err)

	assert.True(t, cfg.Graph.RemoveDependents)
	assert.Equal(t, buffer.Block, cfg.OverflowPolicy())
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "thermal", cfg.NATS.SubjectPrefix)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, "overheat", rules[0].ID)
	assert.Equal(t, 10*time.Second, rules[0].Cooldown)
	assert.Equal(t, detector.Threshold{Op: detector.GT, Value: 200}, rules[0].Predicate)

	// n_of_m window defaults to m
	assert.Equal(t, 5, rules[1].WindowSize)
	assert.Equal(t, time.Minute, rules[1].Cooldown)

	rate, ok := rules[2].Predicate.(detector.RateOfChange)
	require.True(t, ok)
	require.NotNil(t, rate.Max)
	assert.Equal(t, 2.5, *rate.Max)
	assert.Nil(t, rate.Min)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad ws path", `service: {ws_path: nope}`},
		{"bad delivery policy", `delivery: {on_full: whatever}`},
		{"nats enabled without url", `nats: {enabled: true}`},
		{"unknown predicate type", `
detector:
  rules:
    - id: r
      inputs: [a]
      predicate: {type: median}
`},
		{"rule without inputs", `
detector:
  rules:
    - id: r
      predicate: {type: threshold, op: gt, value: 1}
`},
		{"bad cooldown string", `
detector:
  rules:
    - id: r
      inputs: [a]
      cooldown: soon
      predicate: {type: threshold, op: gt, value: 1}
`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse([]byte(test.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reactived.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service: {name: fromfile}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromfile", cfg.Service.Name)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
