// Package recipe defines the quantization recipe: an ordered list of scoped
// rules describing how operators should be quantized, plus tensor-level
// exclusions. Rules added later win over earlier ones for the same operator.
package recipe

import (
	"fmt"
	"regexp"

	"github.com/EdgeAINexus/ai-edge-quantizer/pkg/mgf"
)

// Mode selects how much of an operator's computation runs in integer.
type Mode string

const (
	// ModeWeightOnly quantizes constants for storage; computation stays float.
	ModeWeightOnly Mode = "weight_only"
	// ModeDynamic quantizes weights ahead of time and activations at runtime.
	ModeDynamic Mode = "dynamic"
	// ModeStatic quantizes weights and activations with calibrated ranges.
	ModeStatic Mode = "static"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeWeightOnly, ModeDynamic, ModeStatic:
		return Mode(s), nil
	}
	return "", fmt.Errorf("recipe: unknown mode %q", s)
}

// TensorSpec describes the numeric scheme for one tensor class.
type TensorSpec struct {
	Bits       int  `json:"bits" yaml:"bits"`
	Symmetric  bool `json:"symmetric" yaml:"symmetric"`
	PerChannel bool `json:"per_channel" yaml:"per_channel"`
}

// Validate rejects schemes no kernel could execute.
func (s *TensorSpec) Validate(kind string) error {
	switch s.Bits {
	case 4, 8, 16:
	default:
		return fmt.Errorf("recipe: %s bit width %d not in {4, 8, 16}", kind, s.Bits)
	}
	return nil
}

// Rule scopes a quantization configuration to operators whose name matches
// Scope and whose code matches Op ("*" matches every operator code).
type Rule struct {
	Scope     string      `json:"scope" yaml:"scope"`
	Op        string      `json:"op" yaml:"op"`
	Algorithm string      `json:"algorithm" yaml:"algorithm"`
	Mode      Mode        `json:"mode" yaml:"mode"`
	Weights   *TensorSpec `json:"weights,omitempty" yaml:"weights,omitempty"`
	Acts      *TensorSpec `json:"activations,omitempty" yaml:"activations,omitempty"`

	// MinWeightElements leaves constants smaller than this in float.
	MinWeightElements int `json:"min_weight_elements,omitempty" yaml:"min_weight_elements,omitempty"`

	// OverrideAlgorithm lets this rule replace the algorithm chosen by an
	// earlier matching rule. Without it a later rule refines the scheme
	// but keeps the established algorithm.
	OverrideAlgorithm bool `json:"override_algorithm,omitempty" yaml:"override_algorithm,omitempty"`

	scope *regexp.Regexp
}

// MatchAllOps is the wildcard operator selector.
const MatchAllOps = "*"

// DefaultAlgorithm is assumed when a rule names no algorithm.
const DefaultAlgorithm = "minmax"

func (r *Rule) compile() error {
	if r.Algorithm == "" {
		r.Algorithm = DefaultAlgorithm
	}
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return err
	}
	if r.Op != MatchAllOps {
		if _, err := mgf.ParseOpCode(r.Op); err != nil {
			return fmt.Errorf("recipe: %w", err)
		}
	}
	if r.Weights != nil {
		if err := r.Weights.Validate("weight"); err != nil {
			return err
		}
	}
	if r.Acts != nil {
		if err := r.Acts.Validate("activation"); err != nil {
			return err
		}
	}
	if r.Mode != ModeWeightOnly && r.Weights == nil {
		return fmt.Errorf("recipe: mode %s requires a weight spec", r.Mode)
	}
	if r.Mode == ModeStatic && r.Acts == nil {
		return fmt.Errorf("recipe: mode static requires an activation spec")
	}
	re, err := regexp.Compile(r.Scope)
	if err != nil {
		return fmt.Errorf("recipe: scope %q: %w", r.Scope, err)
	}
	r.scope = re
	return nil
}

// Matches reports whether the rule applies to the named operator.
func (r *Rule) Matches(opName string, code mgf.OpCode) bool {
	if r.Op != MatchAllOps && r.Op != code.String() {
		return false
	}
	return r.scope.MatchString(opName)
}

// Recipe is an ordered rule list plus tensor exclusions.
type Recipe struct {
	Rules          []Rule   `json:"rules" yaml:"rules"`
	ExcludeTensors []string `json:"exclude_tensors,omitempty" yaml:"exclude_tensors,omitempty"`

	exclude map[string]bool
}

// Compile validates every rule and prepares matchers. It must be called
// before Resolve; the load helpers call it.
func (r *Recipe) Compile() error {
	for i := range r.Rules {
		if err := r.Rules[i].compile(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	r.exclude = make(map[string]bool, len(r.ExcludeTensors))
	for _, name := range r.ExcludeTensors {
		r.exclude[name] = true
	}
	return nil
}

// Resolve returns the configuration governing the named operator: the last
// matching rule wins, except that it only displaces an earlier match's
// algorithm when OverrideAlgorithm is set. A nil result means the operator
// is left in float.
func (r *Recipe) Resolve(opName string, code mgf.OpCode) *Rule {
	var winner *Rule
	for i := range r.Rules {
		rule := &r.Rules[i]
		if !rule.Matches(opName, code) {
			continue
		}
		if winner != nil && rule.Algorithm != winner.Algorithm && !rule.OverrideAlgorithm {
			kept := *rule
			kept.Algorithm = winner.Algorithm
			winner = &kept
			continue
		}
		winner = rule
	}
	return winner
}

// TensorExcluded reports whether the named tensor is pinned to float.
func (r *Recipe) TensorExcluded(name string) bool { return r.exclude[name] }

// NeedsCalibration reports whether any rule requires calibrated ranges.
func (r *Recipe) NeedsCalibration() bool {
	for i := range r.Rules {
		if r.Rules[i].Mode == ModeStatic {
			return true
		}
	}
	return false
}
