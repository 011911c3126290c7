package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Evaluate(t *testing.T) {
	type testCase struct {
		name           string
		policy         *Policy
		action         *Action
		expectApproval bool
		expectDenied   bool
	}
	for _, tc := range []testCase{
		{name: "nil policy", policy: nil, action: &Action{Name: "deploy"}},
		{name: "auto", policy: &Policy{Mode: ModeAuto}, action: &Action{Name: "deploy"}},
		{name: "ask", policy: &Policy{Mode: ModeAsk}, action: &Action{Name: "deploy"}, expectApproval: true},
		{name: "deny", policy: &Policy{Mode: ModeDeny}, action: &Action{Name: "deploy"}, expectDenied: true},
		{name: "blocked", policy: &Policy{Mode: ModeAuto, BlockList: []string{"Deploy"}}, action: &Action{Name: "deploy"}, expectDenied: true},
		{name: "not in allow list", policy: &Policy{Mode: ModeAsk, AllowList: []string{"read"}}, action: &Action{Name: "deploy"}, expectDenied: true},
		{name: "in allow list", policy: &Policy{Mode: ModeAsk, AllowList: []string{"DEPLOY"}}, action: &Action{Name: "deploy"}, expectApproval: true},
		{name: "risk high", policy: &Policy{Mode: ModeRisk}, action: &Action{Name: "deploy", Risk: RiskHigh}, expectApproval: true},
		{name: "risk low", policy: &Policy{Mode: ModeRisk}, action: &Action{Name: "deploy", Risk: RiskLow}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			verdict := tc.policy.Evaluate(tc.action)
			assert.Equal(t, tc.expectApproval, verdict.NeedsApproval)
			assert.Equal(t, tc.expectDenied, verdict.Denied)
			assert.NotEmpty(t, verdict.Reason)
		})
	}
}

func TestRiskBased_Evaluate(t *testing.T) {
	limit := 100.0
	off := false
	type testCase struct {
		name           string
		config         *RiskConfig
		action         *Action
		expectApproval bool
	}
	for _, tc := range []testCase{
		{name: "default high", action: &Action{Name: "x", Risk: RiskHigh}, expectApproval: true},
		{name: "default medium", action: &Action{Name: "x", Risk: RiskMedium}},
		{name: "medium required", config: &RiskConfig{RequireMedium: true}, action: &Action{Name: "x", Risk: RiskMedium}, expectApproval: true},
		{name: "high disabled", config: &RiskConfig{RequireHigh: &off}, action: &Action{Name: "x", Risk: RiskHigh}},
		{name: "high risk action", config: &RiskConfig{HighRiskActions: []string{"Send_Email"}}, action: &Action{Name: "send_email", Risk: RiskLow}, expectApproval: true},
		{name: "sensitive arg", config: &RiskConfig{SensitiveArgs: map[string][]string{"to": {"@external.com"}}}, action: &Action{Name: "send_email", Args: map[string]any{"to": "Bob@External.com"}}, expectApproval: true},
		{name: "amount over limit", config: &RiskConfig{MaxAmount: &limit}, action: &Action{Name: "pay", Args: map[string]any{"amount": 250}}, expectApproval: true},
		{name: "amount string over limit", config: &RiskConfig{MaxAmount: &limit}, action: &Action{Name: "pay", Args: map[string]any{"total": "100.5"}}, expectApproval: true},
		{name: "amount under limit", config: &RiskConfig{MaxAmount: &limit}, action: &Action{Name: "pay", Args: map[string]any{"amount": 99.0}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			verdict := NewRiskBased(tc.config).Evaluate(tc.action)
			assert.Equal(t, tc.expectApproval, verdict.NeedsApproval, verdict.Reason)
		})
	}
}

func TestConfig_RoundTrip(t *testing.T) {
	config := &Config{Mode: "RISK", AllowList: []string{"a"}, BlockList: []string{"b"}, Risk: &RiskConfig{RequireMedium: true}}
	require.NoError(t, config.Validate())
	p := FromConfig(config)
	assert.Equal(t, ModeRisk, p.Mode)
	require.NotNil(t, p.Risk)
	back := ToConfig(p)
	assert.Equal(t, []string{"a"}, back.AllowList)
	assert.True(t, back.Risk.RequireMedium)
	assert.Error(t, (&Config{Mode: "maybe"}).Validate())
}

func TestFromContext(t *testing.T) {
	p := &Policy{Mode: ModeAsk}
	ctx := WithPolicy(context.Background(), p)
	assert.Same(t, p, FromContext(ctx))
	assert.Nil(t, FromContext(context.Background()))
}
