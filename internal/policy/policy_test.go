package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testThresholds() Thresholds {
	return Thresholds{
		Amount:         d("500"),
		Cumulative:     d("1000"),
		DailyCount:     5,
		NewAccountDays: 30,
		RiskScore:      0.7,
	}
}

func testCeilings() Ceilings {
	return Ceilings{
		LowValue:                  d("30"),
		Corporate:                 d("2000"),
		TrustedMinSuccessful:      5,
		RecurringMinCount:         2,
		RecurringWindow:           30 * 24 * time.Hour,
		RecurringTolerancePercent: d("10"),
	}
}

type fakeSource struct {
	profile      Profile
	profileErr   error
	txns         []Transaction
	txnErr       error
	successful   int
	profileCalls int
	txnCalls     int
}

func (f *fakeSource) deps() Deps {
	return Deps{
		Now: testNow,
		Profile: func(context.Context) (Profile, error) {
			f.profileCalls++
			return f.profile, f.profileErr
		},
		TransactionsSince: func(_ context.Context, since time.Time) ([]Transaction, error) {
			f.txnCalls++
			if f.txnErr != nil {
				return nil, f.txnErr
			}
			var out []Transaction
			for _, txn := range f.txns {
				if !txn.AuthorizedAt.Before(since) {
					out = append(out, txn)
				}
			}
			return out, nil
		},
		SuccessfulWith: func(context.Context, string) (int, error) {
			return f.successful, nil
		},
	}
}

func establishedProfile() Profile {
	return Profile{AccountCreatedAt: testNow.Add(-365 * 24 * time.Hour), RiskScore: 0.1}
}

func TestRequirementOrder(t *testing.T) {
	hourAgo := testNow.Add(-time.Hour)

	tests := []struct {
		name   string
		amount string
		source fakeSource
		want   Rule
	}{
		{name: "amount above threshold", amount: "500.01", source: fakeSource{profile: establishedProfile()}, want: RuleAmount},
		{name: "amount at threshold is not enough", amount: "500", source: fakeSource{profile: establishedProfile()}, want: RuleNone},
		{
			name:   "cumulative",
			amount: "400",
			source: fakeSource{profile: establishedProfile(), txns: []Transaction{{Amount: d("700"), AuthorizedAt: hourAgo}}},
			want:   RuleCumulative,
		},
		{
			name:   "old transactions do not count",
			amount: "400",
			source: fakeSource{profile: establishedProfile(), txns: []Transaction{{Amount: d("700"), AuthorizedAt: testNow.Add(-25 * time.Hour)}}},
			want:   RuleNone,
		},
		{
			name:   "daily count",
			amount: "10",
			source: fakeSource{profile: establishedProfile(), txns: []Transaction{
				{Amount: d("1"), AuthorizedAt: hourAgo}, {Amount: d("1"), AuthorizedAt: hourAgo},
				{Amount: d("1"), AuthorizedAt: hourAgo}, {Amount: d("1"), AuthorizedAt: hourAgo},
				{Amount: d("1"), AuthorizedAt: hourAgo},
			}},
			want: RuleDailyCount,
		},
		{
			name:   "new account",
			amount: "10",
			source: fakeSource{profile: Profile{AccountCreatedAt: testNow.Add(-10 * 24 * time.Hour)}},
			want:   RuleNewAccount,
		},
		{
			name:   "risk score",
			amount: "10",
			source: fakeSource{profile: Profile{AccountCreatedAt: testNow.Add(-400 * 24 * time.Hour), RiskScore: 0.9}},
			want:   RuleRiskScore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.source
			got, err := Requirement(context.Background(), testThresholds(), d(tt.amount), src.deps())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected rule %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRequirementAmountRuleSkipsDataSources(t *testing.T) {
	src := &fakeSource{txnErr: errors.New("history down")}
	got, err := Requirement(context.Background(), testThresholds(), d("9000"), src.deps())
	if err != nil || got != RuleAmount {
		t.Fatalf("expected RuleAmount without error, got %d, %v", got, err)
	}
	if src.txnCalls != 0 || src.profileCalls != 0 {
		t.Fatalf("data sources must not be consulted after the first match")
	}
}

func TestRequirementPropagatesErrors(t *testing.T) {
	src := &fakeSource{txnErr: errors.New("history down")}
	if _, err := Requirement(context.Background(), testThresholds(), d("10"), src.deps()); err == nil {
		t.Fatalf("expected history error")
	}
	src = &fakeSource{profileErr: errors.New("profile down")}
	if _, err := Requirement(context.Background(), testThresholds(), d("10"), src.deps()); err == nil {
		t.Fatalf("expected profile error")
	}
}

func TestExemptLowValueBoundary(t *testing.T) {
	src := &fakeSource{profile: establishedProfile()}

	got, err := Exempt(context.Background(), testCeilings(), d("30"), "merchant-1", src.deps())
	if err != nil || got != ExemptionLowValue {
		t.Fatalf("ceiling value must be exempt: %d, %v", got, err)
	}
	if src.profileCalls != 0 {
		t.Fatalf("low-value exemption must not read the profile")
	}

	got, err = Exempt(context.Background(), testCeilings(), d("30.01"), "merchant-1", src.deps())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == ExemptionLowValue {
		t.Fatalf("ceiling plus smallest unit must fall through")
	}
}

func TestExemptTrustedCounterparty(t *testing.T) {
	src := &fakeSource{profile: establishedProfile()}
	src.profile.TrustedCounterparties = []string{"merchant-1"}
	if got, _ := Exempt(context.Background(), testCeilings(), d("100"), "merchant-1", src.deps()); got != ExemptionTrustedCounterparty {
		t.Fatalf("explicitly trusted counterparty should be exempt, got %d", got)
	}

	src = &fakeSource{profile: establishedProfile(), successful: 5}
	if got, _ := Exempt(context.Background(), testCeilings(), d("100"), "merchant-2", src.deps()); got != ExemptionTrustedCounterparty {
		t.Fatalf("five prior successes should be exempt, got %d", got)
	}

	src = &fakeSource{profile: establishedProfile(), successful: 4}
	if got, _ := Exempt(context.Background(), testCeilings(), d("100"), "merchant-2", src.deps()); got != ExemptionNone {
		t.Fatalf("four prior successes should not be exempt, got %d", got)
	}
}

func TestExemptRecurringPattern(t *testing.T) {
	src := &fakeSource{profile: establishedProfile(), txns: []Transaction{
		{Amount: d("95"), CounterpartyID: "gym", AuthorizedAt: testNow.Add(-10 * 24 * time.Hour)},
		{Amount: d("109"), CounterpartyID: "gym", AuthorizedAt: testNow.Add(-20 * 24 * time.Hour)},
		{Amount: d("100"), CounterpartyID: "other", AuthorizedAt: testNow.Add(-5 * 24 * time.Hour)},
	}}
	if got, _ := Exempt(context.Background(), testCeilings(), d("100"), "gym", src.deps()); got != ExemptionRecurringPattern {
		t.Fatalf("expected recurring pattern, got %d", got)
	}

	src.txns[1].Amount = d("150")
	if got, _ := Exempt(context.Background(), testCeilings(), d("100"), "gym", src.deps()); got != ExemptionNone {
		t.Fatalf("dissimilar amount must not count, got %d", got)
	}

	src.txns[1].Amount = d("100")
	src.txns[1].AuthorizedAt = testNow.Add(-40 * 24 * time.Hour)
	if got, _ := Exempt(context.Background(), testCeilings(), d("100"), "gym", src.deps()); got != ExemptionNone {
		t.Fatalf("transactions outside the window must not count, got %d", got)
	}
}

func TestExemptCorporate(t *testing.T) {
	src := &fakeSource{profile: establishedProfile()}
	src.profile.Corporate = true

	if got, _ := Exempt(context.Background(), testCeilings(), d("1999.99"), "", src.deps()); got != ExemptionCorporate {
		t.Fatalf("expected corporate exemption, got %d", got)
	}
	if got, _ := Exempt(context.Background(), testCeilings(), d("2000"), "", src.deps()); got != ExemptionNone {
		t.Fatalf("corporate ceiling is exclusive, got %d", got)
	}
	if src.profileCalls != 2 {
		t.Fatalf("expected one profile read per evaluation, got %d", src.profileCalls)
	}
}

func TestExemptErrorsAreNotExempt(t *testing.T) {
	src := &fakeSource{profileErr: errors.New("down")}
	got, err := Exempt(context.Background(), testCeilings(), d("100"), "m", src.deps())
	if err == nil || got != ExemptionNone {
		t.Fatalf("expected not exempt with error, got %d, %v", got, err)
	}
}

func TestSimilar(t *testing.T) {
	if !Similar(d("100"), d("110"), d("10")) {
		t.Fatalf("10%% boundary should be similar")
	}
	if Similar(d("100"), d("110.01"), d("10")) {
		t.Fatalf("just above tolerance should not be similar")
	}
}
