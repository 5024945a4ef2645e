package policy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Rule identifies the requirement rule that fired.
type Rule uint8

const (
	RuleNone Rule = iota
	RuleAmount
	RuleCumulative
	RuleDailyCount
	RuleNewAccount
	RuleRiskScore
)

// Exemption identifies the exemption that matched.
type Exemption uint8

const (
	ExemptionNone Exemption = iota
	ExemptionLowValue
	ExemptionTrustedCounterparty
	ExemptionRecurringPattern
	ExemptionCorporate
)

const (
	requirementWindow = 24 * time.Hour
	day               = 24 * time.Hour
)

// Transaction is one authorised transaction of the subject.
type Transaction struct {
	Amount         decimal.Decimal
	CounterpartyID string
	AuthorizedAt   time.Time
}

// Profile is the subject data the rules read.
type Profile struct {
	AccountCreatedAt      time.Time
	RiskScore             float64
	Corporate             bool
	TrustedCounterparties []string
}

// Thresholds configures [Requirement].
type Thresholds struct {
	Amount         decimal.Decimal
	Cumulative     decimal.Decimal
	DailyCount     int
	NewAccountDays int
	RiskScore      float64
}

// Ceilings configures [Exempt].
type Ceilings struct {
	LowValue                  decimal.Decimal
	Corporate                 decimal.Decimal
	TrustedMinSuccessful      int
	RecurringMinCount         int
	RecurringWindow           time.Duration
	RecurringTolerancePercent decimal.Decimal
}

// Deps supplies subject data on demand.
type Deps struct {
	Now               time.Time
	Profile           func(ctx context.Context) (Profile, error)
	TransactionsSince func(ctx context.Context, since time.Time) ([]Transaction, error)
	SuccessfulWith    func(ctx context.Context, counterpartyID string) (int, error)
}

// lazyProfile memoises the first profile lookup for the duration of one call.
type lazyProfile struct {
	fetch  func(ctx context.Context) (Profile, error)
	loaded bool
	value  Profile
}

func (l *lazyProfile) get(ctx context.Context) (Profile, error) {
	if l.loaded {
		return l.value, nil
	}
	p, err := l.fetch(ctx)
	if err != nil {
		return Profile{}, err
	}
	l.value, l.loaded = p, true
	return p, nil
}

// Requirement returns the first requirement rule that fires for amount, or
// RuleNone. On any data-source error it returns the rule being evaluated
// together with the error; callers must treat that as "required".
func Requirement(ctx context.Context, th Thresholds, amount decimal.Decimal, deps Deps) (Rule, error) {
	if amount.GreaterThan(th.Amount) {
		return RuleAmount, nil
	}

	recent, err := deps.TransactionsSince(ctx, deps.Now.Add(-requirementWindow))
	if err != nil {
		return RuleCumulative, err
	}
	total := amount
	for _, txn := range recent {
		total = total.Add(txn.Amount)
	}
	if total.GreaterThan(th.Cumulative) {
		return RuleCumulative, nil
	}
	if len(recent) >= th.DailyCount {
		return RuleDailyCount, nil
	}

	p, err := deps.Profile(ctx)
	if err != nil {
		return RuleNewAccount, err
	}
	if deps.Now.Sub(p.AccountCreatedAt) < time.Duration(th.NewAccountDays)*day {
		return RuleNewAccount, nil
	}
	if p.RiskScore > th.RiskScore {
		return RuleRiskScore, nil
	}

	return RuleNone, nil
}

// Exempt returns the first exemption matching the transaction, or
// ExemptionNone. Errors leave the transaction not exempt.
func Exempt(ctx context.Context, c Ceilings, amount decimal.Decimal, counterpartyID string, deps Deps) (Exemption, error) {
	if amount.LessThanOrEqual(c.LowValue) {
		return ExemptionLowValue, nil
	}

	profile := &lazyProfile{fetch: deps.Profile}

	if counterpartyID != "" {
		p, err := profile.get(ctx)
		if err != nil {
			return ExemptionNone, err
		}
		for _, trusted := range p.TrustedCounterparties {
			if trusted == counterpartyID {
				return ExemptionTrustedCounterparty, nil
			}
		}
		successful, err := deps.SuccessfulWith(ctx, counterpartyID)
		if err != nil {
			return ExemptionNone, err
		}
		if successful >= c.TrustedMinSuccessful {
			return ExemptionTrustedCounterparty, nil
		}

		history, err := deps.TransactionsSince(ctx, deps.Now.Add(-c.RecurringWindow))
		if err != nil {
			return ExemptionNone, err
		}
		if countSimilar(history, counterpartyID, amount, c.RecurringTolerancePercent) >= c.RecurringMinCount {
			return ExemptionRecurringPattern, nil
		}
	}

	p, err := profile.get(ctx)
	if err != nil {
		return ExemptionNone, err
	}
	if p.Corporate && amount.LessThan(c.Corporate) {
		return ExemptionCorporate, nil
	}

	return ExemptionNone, nil
}

// Similar reports whether candidate lies within tolerancePercent of amount.
func Similar(amount, candidate, tolerancePercent decimal.Decimal) bool {
	tolerance := amount.Abs().Mul(tolerancePercent).Div(decimal.NewFromInt(100))
	return candidate.Sub(amount).Abs().LessThanOrEqual(tolerance)
}

func countSimilar(history []Transaction, counterpartyID string, amount, tolerancePercent decimal.Decimal) int {
	n := 0
	for _, txn := range history {
		if txn.CounterpartyID != counterpartyID {
			continue
		}
		if Similar(amount, txn.Amount, tolerancePercent) {
			n++
		}
	}
	return n
}
