package policy

import (
	"context"
	"fmt"
	"strings"
)

// Modes recognised by Policy.
const (
	ModeAsk  = "ask"  // ask a human before every action
	ModeAuto = "auto" // execute automatically (default)
	ModeDeny = "deny" // block execution
	ModeRisk = "risk" // ask depending on the action risk
)

// Action describes an operation proposed for execution
type Action struct {
	Name string         `json:"name" yaml:"name"`
	Risk Risk           `json:"risk,omitempty" yaml:"risk,omitempty"`
	Args map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// Verdict is the result of evaluating an action
type Verdict struct {
	NeedsApproval bool   `json:"needsApproval"`
	Denied        bool   `json:"denied,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Evaluator evaluates proposed actions
type Evaluator interface {
	Evaluate(action *Action) Verdict
}

// Policy represents approval settings.
//
//   - Mode controls the high-level behaviour (ask / auto / deny / risk).
//   - AllowList, BlockList allow coarse filtering regardless of Mode.
//   - Risk is only used when Mode==risk.
type Policy struct {
	Mode      string
	AllowList []string
	BlockList []string
	Risk      *RiskBased
}

// Config represents the declarative, serialisable form of a Policy.
type Config struct {
	Mode      string      `json:"mode,omitempty" yaml:"mode,omitempty"`
	AllowList []string    `json:"allow,omitempty" yaml:"allow,omitempty"`
	BlockList []string    `json:"block,omitempty" yaml:"block,omitempty"`
	Risk      *RiskConfig `json:"risk,omitempty" yaml:"risk,omitempty"`
}

// Validate checks mode
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	switch strings.ToLower(c.Mode) {
	case "", ModeAsk, ModeAuto, ModeDeny, ModeRisk:
		return nil
	}
	return fmt.Errorf("unsupported policy mode: %v", c.Mode)
}

// ToConfig converts a runtime Policy into a persistable Config.
func ToConfig(p *Policy) *Config {
	if p == nil {
		return nil
	}
	ret := &Config{
		Mode:      p.Mode,
		AllowList: append([]string(nil), p.AllowList...),
		BlockList: append([]string(nil), p.BlockList...),
	}
	if p.Risk != nil {
		ret.Risk = p.Risk.Config()
	}
	return ret
}

// FromConfig converts a stored Config back to a runtime Policy.
func FromConfig(c *Config) *Policy {
	if c == nil {
		return nil
	}
	ret := &Policy{
		Mode:      strings.ToLower(c.Mode),
		AllowList: append([]string(nil), c.AllowList...),
		BlockList: append([]string(nil), c.BlockList...),
	}
	if c.Risk != nil || ret.Mode == ModeRisk {
		ret.Risk = NewRiskBased(c.Risk)
	}
	return ret
}

// IsAllowed evaluates AllowList / BlockList. Both lists match the action name
// case-insensitively.
func (p *Policy) IsAllowed(action string) bool {
	if p == nil {
		return true
	}
	normalized := strings.ToLower(action)
	// BlockList has priority.
	for _, b := range p.BlockList {
		if normalized == strings.ToLower(b) {
			return false
		}
	}
	if len(p.AllowList) == 0 {
		return true
	}
	for _, a := range p.AllowList {
		if normalized == strings.ToLower(a) {
			return true
		}
	}
	return false
}

// Evaluate returns verdict for action
func (p *Policy) Evaluate(action *Action) Verdict {
	if p == nil {
		return Verdict{Reason: "no policy"}
	}
	if !p.IsAllowed(action.Name) {
		return Verdict{Denied: true, Reason: fmt.Sprintf("action %q is not allowed", action.Name)}
	}
	switch p.Mode {
	case ModeDeny:
		return Verdict{Denied: true, Reason: "policy denies execution"}
	case ModeAsk:
		return Verdict{NeedsApproval: true, Reason: "policy requires approval for every action"}
	case ModeRisk:
		if p.Risk != nil {
			return p.Risk.Evaluate(action)
		}
		return NewRiskBased(nil).Evaluate(action)
	}
	return Verdict{Reason: "policy executes automatically"}
}

type ctxKeyT struct{}

var ctxKey ctxKeyT

// WithPolicy embeds policy in ctx.
func WithPolicy(ctx context.Context, p *Policy) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey, p)
}

// FromContext extracts policy embedded with WithPolicy.
func FromContext(ctx context.Context) *Policy {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxKey).(*Policy); ok {
		return v
	}
	return nil
}
