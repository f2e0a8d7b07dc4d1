package detector

import (
	"fmt"
	"time"

	"github.com/CFSY/meta-reactive/errors"
)

// Sample is one observed value of an input node.
type Sample struct {
	Value float64
	At    time.Time
}

// Predicate decides whether a rule fires given the rolling window of the
// input that just changed. The window is ordered oldest first and never
// empty.
type Predicate interface {
	Evaluate(window []Sample) bool
}

// CompareOp is a comparison between a sample value and a rule constant.
type CompareOp string

const (
	GT CompareOp = "gt"
	GE CompareOp = "ge"
	LT CompareOp = "lt"
	LE CompareOp = "le"
)

func (op CompareOp) valid() bool {
	switch op {
	case GT, GE, LT, LE:
		return true
	}
	return false
}

func (op CompareOp) compare(v, bound float64) bool {
	switch op {
	case GT:
		return v > bound
	case GE:
		return v >= bound
	case LT:
		return v < bound
	case LE:
		return v <= bound
	}
	return false
}

// Threshold fires when the latest sample compares true against Value.
type Threshold struct {
	Op    CompareOp
	Value float64
}

// Evaluate implements Predicate.
func (t Threshold) Evaluate(window []Sample) bool {
	return t.Op.compare(window[len(window)-1].Value, t.Value)
}

// NOfM fires when at least N of the last M samples compare true against
// Value. Fewer than M samples are evaluated as-is, so a burst can fire
// before the window fills.
type NOfM struct {
	N     int
	M     int
	Op    CompareOp
	Value float64
}

// Evaluate implements Predicate.
func (p NOfM) Evaluate(window []Sample) bool {
	tail := window
	if len(tail) > p.M {
		tail = tail[len(tail)-p.M:]
	}
	matched := 0
	for _, s := range tail {
		if p.Op.compare(s.Value, p.Value) {
			matched++
		}
	}
	return matched >= p.N
}

// RateOfChange fires when the per-second rate across the window leaves
// the [Min, Max] band. A nil bound is unbounded on that side. At least
// two samples with distinct timestamps are required.
type RateOfChange struct {
	Min *float64
	Max *float64
}

// Evaluate implements Predicate.
func (p RateOfChange) Evaluate(window []Sample) bool {
	if len(window) < 2 {
		return false
	}
	first, last := window[0], window[len(window)-1]
	elapsed := last.At.Sub(first.At).Seconds()
	if elapsed <= 0 {
		return false
	}
	rate := (last.Value - first.Value) / elapsed
	if p.Min != nil && rate < *p.Min {
		return true
	}
	if p.Max != nil && rate > *p.Max {
		return true
	}
	return false
}

// Rule is one standing pattern over a set of input nodes.
type Rule struct {
	// ID names the rule; alerts appear on node "alert.<ID>".
	ID string

	// Inputs are the node ids whose changes feed the rule.
	Inputs []string

	// WindowSize bounds the rolling sample window kept per input.
	WindowSize int

	// Cooldown suppresses further alerts after a fire. Zero disables
	// suppression.
	Cooldown time.Duration

	Predicate Predicate
}

// AlertNodeID returns the synthetic node the rule's alerts appear on.
func (r Rule) AlertNodeID() string { return "alert." + r.ID }

// Validate checks the rule for consistency.
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.WrapInvalid(fmt.Errorf("rule has empty id"),
			"Rule", "Validate", "check rule id")
	}
	if len(r.Inputs) == 0 {
		return errors.WrapInvalid(fmt.Errorf("rule %q has no inputs", r.ID),
			"Rule", "Validate", "check inputs")
	}
	for _, in := range r.Inputs {
		if in == "" {
			return errors.WrapInvalid(fmt.Errorf("rule %q has an empty input id", r.ID),
				"Rule", "Validate", "check inputs")
		}
	}
	if r.WindowSize < 1 {
		return errors.WrapInvalid(fmt.Errorf("rule %q has window size %d", r.ID, r.WindowSize),
			"Rule", "Validate", "check window size")
	}
	if r.Cooldown < 0 {
		return errors.WrapInvalid(fmt.Errorf("rule %q has negative cooldown", r.ID),
			"Rule", "Validate", "check cooldown")
	}
	if r.Predicate == nil {
		return errors.WrapInvalid(fmt.Errorf("rule %q has no predicate", r.ID),
			"Rule", "Validate", "check predicate")
	}
	switch p := r.Predicate.(type) {
	case Threshold:
		if !p.Op.valid() {
			return errors.WrapInvalid(fmt.Errorf("rule %q: unknown comparison %q", r.ID, p.Op),
				"Rule", "Validate", "check predicate")
		}
	case NOfM:
		if !p.Op.valid() {
			return errors.WrapInvalid(fmt.Errorf("rule %q: unknown comparison %q", r.ID, p.Op),
				"Rule", "Validate", "check predicate")
		}
		if p.N < 1 || p.M < p.N {
			return errors.WrapInvalid(fmt.Errorf("rule %q: need 1 <= n <= m, got n=%d m=%d", r.ID, p.N, p.M),
				"Rule", "Validate", "check predicate")
		}
		if r.WindowSize < p.M {
			return errors.WrapInvalid(fmt.Errorf("rule %q: window size %d smaller than m=%d", r.ID, r.WindowSize, p.M),
				"Rule", "Validate", "check predicate")
		}
	case RateOfChange:
		if p.Min == nil && p.Max == nil {
			return errors.WrapInvalid(fmt.Errorf("rule %q: rate predicate needs a bound", r.ID),
				"Rule", "Validate", "check predicate")
		}
		if r.WindowSize < 2 {
			return errors.WrapInvalid(fmt.Errorf("rule %q: rate predicate needs window size >= 2", r.ID),
				"Rule", "Validate", "check predicate")
		}
	}
	return nil
}
