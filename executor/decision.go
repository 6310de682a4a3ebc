package executor

import (
	"context"
	"errors"
	"time"

	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/common"
	"github.com/Muaazbinsaeed/ai-social-support-app-sub000/domain"
)

// DecisionInputs aggregates the inputs of §4.3.3. Either extract may be
// absent in partial-success mode.
type DecisionInputs struct {
	Form        domain.Form
	BankExtract map[string]any // nil if absent
	IDExtract   map[string]any // nil if absent
}

// DecisionResult is the typed output of §4.3.3.
type DecisionResult struct {
	Outcome       domain.Outcome
	Confidence    float64
	Reasoning     string
	BenefitAmount *float64
}

// DecisionUpstream is the collaborator interface of §6: decide(inputs_map)
// -> {outcome, confidence, reasoning, benefit_amount?}, with cancellation.
type DecisionUpstream interface {
	Decide(ctx context.Context, inputs DecisionInputs) (DecisionResult, error)
}

// HTTPDecisionUpstream implements DecisionUpstream over HTTPUpstream.
type HTTPDecisionUpstream struct {
	*HTTPUpstream
}

func (u *HTTPDecisionUpstream) Decide(ctx context.Context, inputs DecisionInputs) (DecisionResult, error) {
	var resp DecisionResult
	if err := u.postJSON(ctx, "/decision/decide", inputs, &resp); err != nil {
		return DecisionResult{}, err
	}
	return resp, nil
}

// Policy holds the business-rule knobs of §6 ("business rule knobs").
type Policy struct {
	IncomeThreshold  float64
	BalanceThreshold float64
	ConfidenceMin    float64 // below this, NEEDS_REVIEW regardless of outcome
	AutoApproveMin   float64 // at/above this, accept the model outcome verbatim
}

// DefaultPolicy returns the spec's literal example thresholds (§4.4.3):
// income <= 4000, balance <= 1500, confidence_min 0.7, auto_approve_min 0.8.
func DefaultPolicy() Policy {
	return Policy{IncomeThreshold: 4000, BalanceThreshold: 1500, ConfidenceMin: 0.7, AutoApproveMin: 0.8}
}

func numericField(fields map[string]any, key string) (float64, bool) {
	if fields == nil {
		return 0, false
	}
	v, ok := fields[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// numericRule implements the deterministic fallback of §4.4.3 given
// monthly_income (M) and closing_balance (B), both optional. It is shared by
// the fused policy below and by Run's upstream-unavailable fallback, and is
// kept as a standalone function so it can be tested in isolation as "the
// same outcome across runs" (§8).
func numericRule(p Policy, monthlyIncome, closingBalance *float64) (outcome domain.Outcome, benefit *float64) {
	switch {
	case monthlyIncome == nil || closingBalance == nil:
		return domain.OutcomeNeedsReview, nil
	case *monthlyIncome <= p.IncomeThreshold && *closingBalance <= p.BalanceThreshold:
		amount := 4000 - *monthlyIncome + 500
		if amount > 2500 {
			amount = 2500
		}
		return domain.OutcomeApproved, common.Ptr(amount)
	case *monthlyIncome > p.IncomeThreshold:
		return domain.OutcomeRejected, nil
	default:
		return domain.OutcomeNeedsReview, nil
	}
}

// Fuse combines the numeric rule with the upstream model's outcome per
// §4.4.3's fusion rule, recording any disagreement in the returned
// disagreement flag so the caller can attach it to the WorkflowStep
// payload. Implementers should revisit this fusion with business
// stakeholders before production (spec §9 Open Questions); this
// implementation picks: numeric rule wins on disagreement when both sides
// carry high confidence.
func Fuse(p Policy, inputs DecisionInputs, model DecisionResult) (DecisionResult, bool) {
	income, hasIncome := numericField(inputs.BankExtract, "monthly_income")
	balance, hasBalance := numericField(inputs.BankExtract, "closing_balance")

	var incomePtr, balancePtr *float64
	if hasIncome {
		incomePtr = &income
	}
	if hasBalance {
		balancePtr = &balance
	}

	ruleOutcome, ruleBenefit := numericRule(p, incomePtr, balancePtr)

	if !hasIncome || !hasBalance || model.Confidence < p.ConfidenceMin {
		return DecisionResult{Outcome: domain.OutcomeNeedsReview, Confidence: model.Confidence, Reasoning: "insufficient_data"}, false
	}

	if model.Confidence >= p.AutoApproveMin && (model.Outcome == domain.OutcomeApproved || model.Outcome == domain.OutcomeRejected) {
		if model.Outcome != ruleOutcome {
			// Both sides are confident and disagree: the numeric rule wins.
			return DecisionResult{Outcome: ruleOutcome, Confidence: model.Confidence, Reasoning: "numeric_rule_overrode_model", BenefitAmount: ruleBenefit}, true
		}
		return model, false
	}

	return DecisionResult{Outcome: ruleOutcome, Confidence: model.Confidence, Reasoning: "numeric_rule", BenefitAmount: ruleBenefit}, false
}

// DecisionExecutor adapts DecisionUpstream to the Stage Executor contract.
type DecisionExecutor struct {
	Upstream DecisionUpstream
	Policy   Policy
	Timeout  time.Duration // default 60s per §4.3.3
}

// NewDecisionExecutor constructs an executor with the default 60s timeout.
func NewDecisionExecutor(upstream DecisionUpstream, policy Policy, timeout time.Duration) *DecisionExecutor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &DecisionExecutor{Upstream: upstream, Policy: policy, Timeout: timeout}
}

// Run calls the decision upstream and fuses its result with the numeric
// rule. If the upstream is unavailable, the deterministic fallback of
// §4.3.3 applies directly: apply the numeric rule to available fields, or
// NEEDS_REVIEW with reasoning "insufficient_data" if inputs are
// insufficient.
func (e *DecisionExecutor) Run(ctx context.Context, inputs DecisionInputs) (DecisionResult, error) {
	var model DecisionResult
	err := withTimeout(ctx, e.Timeout, func(cctx context.Context) error {
		r, err := e.Upstream.Decide(cctx, inputs)
		if err != nil {
			return err
		}
		model = r
		return nil
	})
	if err != nil {
		var execErr *Error
		if errors.As(err, &execErr) && execErr.Class == ClassUpstreamUnavail {
			income, hasIncome := numericField(inputs.BankExtract, "monthly_income")
			balance, hasBalance := numericField(inputs.BankExtract, "closing_balance")
			var incomePtr, balancePtr *float64
			if hasIncome {
				incomePtr = &income
			}
			if hasBalance {
				balancePtr = &balance
			}
			if !hasIncome || !hasBalance {
				return DecisionResult{Outcome: domain.OutcomeNeedsReview, Confidence: 0, Reasoning: "insufficient_data"}, nil
			}
			outcome, benefit := numericRule(e.Policy, incomePtr, balancePtr)
			return DecisionResult{Outcome: outcome, Confidence: 0, Reasoning: "numeric_rule_fallback", BenefitAmount: benefit}, nil
		}
		return DecisionResult{}, err
	}

	fused, _ := Fuse(e.Policy, inputs, model)
	return fused, nil
}
