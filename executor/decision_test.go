package executor

import (
	"context"
	"testing"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDecisionUpstream struct {
	result DecisionResult
	err    error
}

func (s *stubDecisionUpstream) Decide(ctx context.Context, inputs DecisionInputs) (DecisionResult, error) {
	return s.result, s.err
}

func withFields(income, balance float64) map[string]any {
	return map[string]any{"monthly_income": income, "closing_balance": balance}
}

func TestNumericRuleApprovesBelowBothThresholds(t *testing.T) {
	p := DefaultPolicy()
	income, balance := 3000.0, 1000.0
	outcome, benefit := numericRule(p, &income, &balance)
	assert.Equal(t, domain.OutcomeApproved, outcome)
	require.NotNil(t, benefit)
	assert.Greater(t, *benefit, 0.0)
}

func TestNumericRuleRejectsAboveIncomeThreshold(t *testing.T) {
	p := DefaultPolicy()
	income, balance := 9000.0, 1000.0
	outcome, benefit := numericRule(p, &income, &balance)
	assert.Equal(t, domain.OutcomeRejected, outcome)
	assert.Nil(t, benefit)
}

func TestNumericRuleNeedsReviewOnMissingField(t *testing.T) {
	p := DefaultPolicy()
	balance := 1000.0
	outcome, _ := numericRule(p, nil, &balance)
	assert.Equal(t, domain.OutcomeNeedsReview, outcome)
}

func TestFuseAcceptsHighConfidenceModelAgreeingWithRule(t *testing.T) {
	p := DefaultPolicy()
	inputs := DecisionInputs{BankExtract: withFields(3000, 1000)}
	model := DecisionResult{Outcome: domain.OutcomeApproved, Confidence: 0.9, Reasoning: "model says so"}
	fused, disagreed := Fuse(p, inputs, model)
	assert.False(t, disagreed)
	assert.Equal(t, domain.OutcomeApproved, fused.Outcome)
}

func TestFuseNumericRuleOverridesConfidentDisagreement(t *testing.T) {
	p := DefaultPolicy()
	inputs := DecisionInputs{BankExtract: withFields(3000, 1000)}
	model := DecisionResult{Outcome: domain.OutcomeRejected, Confidence: 0.95, Reasoning: "model says reject"}
	fused, disagreed := Fuse(p, inputs, model)
	assert.True(t, disagreed)
	assert.Equal(t, domain.OutcomeApproved, fused.Outcome)
	assert.Equal(t, "numeric_rule_overrode_model", fused.Reasoning)
}

func TestFuseLowConfidenceModelFallsBackToNeedsReview(t *testing.T) {
	p := DefaultPolicy()
	inputs := DecisionInputs{BankExtract: withFields(3000, 1000)}
	model := DecisionResult{Outcome: domain.OutcomeApproved, Confidence: 0.5}
	fused, _ := Fuse(p, inputs, model)
	assert.Equal(t, domain.OutcomeNeedsReview, fused.Outcome)
	assert.Equal(t, "insufficient_data", fused.Reasoning)
}

func TestFuseMissingBankExtractNeedsReview(t *testing.T) {
	p := DefaultPolicy()
	inputs := DecisionInputs{}
	model := DecisionResult{Outcome: domain.OutcomeApproved, Confidence: 0.95}
	fused, _ := Fuse(p, inputs, model)
	assert.Equal(t, domain.OutcomeNeedsReview, fused.Outcome)
}

func TestDecisionExecutorFallsBackWhenUpstreamUnavailable(t *testing.T) {
	upstream := &stubDecisionUpstream{err: NewError(ClassUpstreamUnavail, "model service down")}
	exec := NewDecisionExecutor(upstream, DefaultPolicy(), 0)

	result, err := exec.Run(context.Background(), DecisionInputs{BankExtract: withFields(3000, 1000)})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApproved, result.Outcome)
	assert.Equal(t, "numeric_rule_fallback", result.Reasoning)
}

func TestDecisionExecutorFallbackNeedsReviewOnInsufficientData(t *testing.T) {
	upstream := &stubDecisionUpstream{err: NewError(ClassUpstreamUnavail, "model service down")}
	exec := NewDecisionExecutor(upstream, DefaultPolicy(), 0)

	result, err := exec.Run(context.Background(), DecisionInputs{})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNeedsReview, result.Outcome)
	assert.Equal(t, "insufficient_data", result.Reasoning)
}

func TestDecisionExecutorPropagatesNonUpstreamErrors(t *testing.T) {
	upstream := &stubDecisionUpstream{err: NewError(ClassParseFailed, "malformed request")}
	exec := NewDecisionExecutor(upstream, DefaultPolicy(), 0)

	_, err := exec.Run(context.Background(), DecisionInputs{BankExtract: withFields(3000, 1000)})
	require.Error(t, err)
}
