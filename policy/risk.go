package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// Risk classifies an action
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

var amountKeys = []string{"amount", "value", "price", "cost", "total"}

// RiskConfig represents risk based settings
type RiskConfig struct {
	RequireHigh     *bool               `json:"requireHigh,omitempty" yaml:"requireHigh,omitempty"`
	RequireMedium   bool                `json:"requireMedium,omitempty" yaml:"requireMedium,omitempty"`
	HighRiskActions []string            `json:"highRiskActions,omitempty" yaml:"highRiskActions,omitempty"`
	SensitiveArgs   map[string][]string `json:"sensitiveArgs,omitempty" yaml:"sensitiveArgs,omitempty"`
	MaxAmount       *float64            `json:"maxAmount,omitempty" yaml:"maxAmount,omitempty"`
}

// RiskBased asks for approval depending on the action risk class, listed
// high risk actions, sensitive argument values and amount thresholds.
type RiskBased struct {
	requireHigh     bool
	requireMedium   bool
	highRiskActions map[string]bool
	sensitiveArgs   map[string][]string
	maxAmount       *float64
}

// Evaluate checks, in order: high risk action list, risk class, sensitive
// arguments, amount threshold.
func (r *RiskBased) Evaluate(action *Action) Verdict {
	if r.highRiskActions[strings.ToLower(action.Name)] {
		return Verdict{NeedsApproval: true, Reason: fmt.Sprintf("action %q is in high risk list", action.Name)}
	}
	switch action.Risk {
	case RiskHigh:
		if r.requireHigh {
			return Verdict{NeedsApproval: true, Reason: "action has high risk classification"}
		}
	case RiskMedium:
		if r.requireMedium {
			return Verdict{NeedsApproval: true, Reason: "action has medium risk classification"}
		}
	}
	for name, patterns := range r.sensitiveArgs {
		value, ok := action.Args[name]
		if !ok {
			continue
		}
		text := strings.ToLower(fmt.Sprint(value))
		for _, pattern := range patterns {
			if strings.Contains(text, strings.ToLower(pattern)) {
				return Verdict{NeedsApproval: true, Reason: fmt.Sprintf("argument %q contains sensitive pattern %q", name, pattern)}
			}
		}
	}
	if r.maxAmount != nil {
		for _, key := range amountKeys {
			amount, ok := toFloat(action.Args[key])
			if ok && amount > *r.maxAmount {
				return Verdict{NeedsApproval: true, Reason: fmt.Sprintf("amount %.2f exceeds threshold %.2f", amount, *r.maxAmount)}
			}
		}
	}
	return Verdict{Reason: "action does not meet approval criteria"}
}

// Config returns serialisable settings
func (r *RiskBased) Config() *RiskConfig {
	requireHigh := r.requireHigh
	ret := &RiskConfig{RequireHigh: &requireHigh, RequireMedium: r.requireMedium, SensitiveArgs: r.sensitiveArgs, MaxAmount: r.maxAmount}
	for name := range r.highRiskActions {
		ret.HighRiskActions = append(ret.HighRiskActions, name)
	}
	return ret
}

func toFloat(value any) (float64, bool) {
	switch actual := value.(type) {
	case float64:
		return actual, true
	case float32:
		return float64(actual), true
	case int:
		return float64(actual), true
	case int64:
		return float64(actual), true
	case string:
		f, err := strconv.ParseFloat(actual, 64)
		return f, err == nil
	}
	return 0, false
}

// NewRiskBased creates a risk based evaluator; a nil config requires
// approval for high risk actions only
func NewRiskBased(config *RiskConfig) *RiskBased {
	ret := &RiskBased{requireHigh: true, highRiskActions: map[string]bool{}}
	if config == nil {
		return ret
	}
	if config.RequireHigh != nil {
		ret.requireHigh = *config.RequireHigh
	}
	ret.requireMedium = config.RequireMedium
	ret.sensitiveArgs = config.SensitiveArgs
	ret.maxAmount = config.MaxAmount
	for _, name := range config.HighRiskActions {
		ret.highRiskActions[strings.ToLower(name)] = true
	}
	return ret
}
