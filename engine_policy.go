package sca

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	otellog "go.opentelemetry.io/otel/log"

	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/policy"
)

var requirementRules = map[policy.Rule]RequirementRule{
	policy.RuleNone:       RuleNone,
	policy.RuleAmount:     RuleAmount,
	policy.RuleCumulative: RuleCumulative,
	policy.RuleDailyCount: RuleDailyCount,
	policy.RuleNewAccount: RuleNewAccount,
	policy.RuleRiskScore:  RuleRiskScore,
}

var exemptionReasons = map[policy.Exemption]ExemptionReason{
	policy.ExemptionLowValue:            ReasonLowValue,
	policy.ExemptionTrustedCounterparty: ReasonTrustedCounterparty,
	policy.ExemptionRecurringPattern:    ReasonRecurringPattern,
	policy.ExemptionCorporate:           ReasonCorporate,
}

// subjectData memoises the subject profile for one engine call, so a single
// Initiate reads it at most once across policy checks and method selection.
type subjectData struct {
	engine    *Engine
	subjectID string
	loaded    bool
	profile   SubjectProfile
}

func (d *subjectData) get(ctx context.Context) (SubjectProfile, error) {
	if d.loaded {
		return d.profile, nil
	}
	p, err := d.engine.subjects.Profile(ctx, d.subjectID)
	if err != nil {
		return SubjectProfile{}, err
	}
	d.profile, d.loaded = p, true
	return p, nil
}

func (e *Engine) policyDeps(subject *subjectData, now time.Time) policy.Deps {
	return policy.Deps{
		Now: now,
		Profile: func(ctx context.Context) (policy.Profile, error) {
			p, err := subject.get(ctx)
			if err != nil {
				return policy.Profile{}, err
			}
			return policy.Profile{
				AccountCreatedAt:      p.AccountCreatedAt,
				RiskScore:             p.RiskScore,
				Corporate:             p.Corporate,
				TrustedCounterparties: p.TrustedCounterparties,
			}, nil
		},
		TransactionsSince: func(ctx context.Context, since time.Time) ([]policy.Transaction, error) {
			txns, err := e.history.AuthorizedSince(ctx, subject.subjectID, since)
			if err != nil {
				return nil, err
			}
			out := make([]policy.Transaction, len(txns))
			for i, t := range txns {
				out[i] = policy.Transaction{
					Amount:         t.Amount,
					CounterpartyID: t.CounterpartyID,
					AuthorizedAt:   t.AuthorizedAt,
				}
			}
			return out, nil
		},
		SuccessfulWith: func(ctx context.Context, counterpartyID string) (int, error) {
			return e.history.SuccessfulCount(ctx, subject.subjectID, counterpartyID)
		},
	}
}

func (e *Engine) thresholds() policy.Thresholds {
	p := e.config.Policy
	return policy.Thresholds{
		Amount:         p.AmountThreshold,
		Cumulative:     p.CumulativeThreshold,
		DailyCount:     p.DailyCountThreshold,
		NewAccountDays: p.NewAccountDays,
		RiskScore:      p.RiskScoreThreshold,
	}
}

func (e *Engine) ceilings() policy.Ceilings {
	x := e.config.Exemption
	return policy.Ceilings{
		LowValue:                  x.LowValueCeiling,
		Corporate:                 x.CorporateCeiling,
		TrustedMinSuccessful:      x.TrustedMinSuccessful,
		RecurringMinCount:         x.RecurringMinCount,
		RecurringWindow:           x.RecurringWindow,
		RecurringTolerancePercent: x.RecurringTolerancePercent,
	}
}

// IsAuthenticationRequired reports whether the transaction needs strong
// authentication. Any internal error yields true.
func (e *Engine) IsAuthenticationRequired(ctx context.Context, subjectID string, amount decimal.Decimal, paymentMethod string) bool {
	decision, _ := e.EvaluateRequirement(ctx, subjectID, amount, paymentMethod)
	return decision.Required
}

// EvaluateRequirement runs the requirement rules in order and reports the
// first that fired. When a data source fails the decision is Required with
// RuleFailClosed and the error is returned alongside it.
func (e *Engine) EvaluateRequirement(ctx context.Context, subjectID string, amount decimal.Decimal, paymentMethod string) (RequirementDecision, error) {
	failClosed := RequirementDecision{Required: true, Rule: RuleFailClosed}
	if err := e.ready(); err != nil {
		return failClosed, err
	}
	if subjectID == "" || amount.IsNegative() {
		return failClosed, ErrValidation
	}
	return e.evaluateRequirement(ctx, &subjectData{engine: e, subjectID: subjectID}, amount, paymentMethod)
}

func (e *Engine) evaluateRequirement(ctx context.Context, subject *subjectData, amount decimal.Decimal, paymentMethod string) (RequirementDecision, error) {
	rule, err := policy.Requirement(ctx, e.thresholds(), amount, e.policyDeps(subject, e.now()))
	if err != nil {
		e.metricInc(MetricPolicyFailClosed)
		e.log(ctx, otellog.SeverityWarn, "sca requirement check failed closed",
			otellog.String("subject_id", subject.subjectID),
			otellog.String("payment_method", paymentMethod),
			otellog.String("error", err.Error()),
		)
		e.emitAudit(ctx, auditEventPolicyFailClosed, false, auditSubject{subjectID: subject.subjectID}, err, nil)
		return RequirementDecision{Required: true, Rule: RuleFailClosed}, err
	}

	decision := RequirementDecision{Required: rule != policy.RuleNone, Rule: requirementRules[rule]}
	e.log(ctx, otellog.SeverityDebug, "sca requirement evaluated",
		otellog.String("subject_id", subject.subjectID),
		otellog.String("payment_method", paymentMethod),
		otellog.String("rule", string(decision.Rule)),
		otellog.Bool("required", decision.Required),
	)
	return decision, nil
}

// CheckExemption evaluates the exemption rules in order; the first match
// wins. On a data-source error the transaction is not exempt and the error
// is returned.
func (e *Engine) CheckExemption(ctx context.Context, subjectID string, amount decimal.Decimal, counterpartyID string) (ExemptionResult, error) {
	if err := e.ready(); err != nil {
		return ExemptionResult{}, err
	}
	if subjectID == "" || amount.IsNegative() {
		return ExemptionResult{}, ErrValidation
	}
	return e.checkExemption(ctx, &subjectData{engine: e, subjectID: subjectID}, amount, counterpartyID)
}

func (e *Engine) checkExemption(ctx context.Context, subject *subjectData, amount decimal.Decimal, counterpartyID string) (ExemptionResult, error) {
	exemption, err := policy.Exempt(ctx, e.ceilings(), amount, counterpartyID, e.policyDeps(subject, e.now()))
	if err != nil {
		e.log(ctx, otellog.SeverityWarn, "sca exemption check failed",
			otellog.String("subject_id", subject.subjectID),
			otellog.String("error", err.Error()),
		)
		return ExemptionResult{}, err
	}
	if exemption == policy.ExemptionNone {
		return ExemptionResult{}, nil
	}
	return ExemptionResult{Exempt: true, Reason: exemptionReasons[exemption]}, nil
}
