package sca

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDefaultConfigWithKeyValidates(t *testing.T) {
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestDefaultConfigRequiresSigningKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "SigningKey") {
		t.Fatalf("expected signing key error, got %v", err)
	}
}

func TestConfigValidateRules(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "zero amount threshold",
			mutate:    func(c *Config) { c.Policy.AmountThreshold = decimal.Zero },
			wantValid: false,
		},
		{
			name:      "cumulative below amount",
			mutate:    func(c *Config) { c.Policy.CumulativeThreshold = decimal.NewFromInt(100) },
			wantValid: false,
		},
		{
			name:      "risk score above one",
			mutate:    func(c *Config) { c.Policy.RiskScoreThreshold = 1.5 },
			wantValid: false,
		},
		{
			name:      "low value ceiling at amount threshold",
			mutate:    func(c *Config) { c.Exemption.LowValueCeiling = decimal.NewFromInt(500) },
			wantValid: false,
		},
		{
			name:      "tolerance above 100",
			mutate:    func(c *Config) { c.Exemption.RecurringTolerancePercent = decimal.NewFromInt(101) },
			wantValid: false,
		},
		{
			name:      "max attempts zero",
			mutate:    func(c *Config) { c.Challenge.MaxAttempts = 0 },
			wantValid: false,
		},
		{
			name:      "max attempts twenty",
			mutate:    func(c *Config) { c.Challenge.MaxAttempts = 20 },
			wantValid: true,
		},
		{
			name:      "token leeway too large",
			mutate:    func(c *Config) { c.Token.Leeway = 3 * time.Minute },
			wantValid: false,
		},
		{
			name:      "otp digits too few",
			mutate:    func(c *Config) { c.OneTimeCode.Digits = 4 },
			wantValid: false,
		},
		{
			name:      "otp template without placeholder",
			mutate:    func(c *Config) { c.OneTimeCode.MessageTemplate = "your code" },
			wantValid: false,
		},
		{
			name:      "otp template with extra verb",
			mutate:    func(c *Config) { c.OneTimeCode.MessageTemplate = "code %s valid for %d minutes" },
			wantValid: false,
		},
		{
			name:      "otp template with trailing percent",
			mutate:    func(c *Config) { c.OneTimeCode.MessageTemplate = "code %s at 100%" },
			wantValid: false,
		},
		{
			name:      "otp template with escaped percent",
			mutate:    func(c *Config) { c.OneTimeCode.MessageTemplate = "100%% sure: %s" },
			wantValid: true,
		},
		{
			name: "retired keys need an active kid",
			mutate: func(c *Config) {
				c.Token.RetiredKeys = []string{"k1=" + string(testSigningKey)}
			},
			wantValid: false,
		},
		{
			name: "retired key reuses active kid",
			mutate: func(c *Config) {
				c.Token.KeyID = "k1"
				c.Token.RetiredKeys = []string{"k1=" + string(testSigningKey)}
			},
			wantValid: false,
		},
		{
			name: "retired key too short",
			mutate: func(c *Config) {
				c.Token.KeyID = "k2"
				c.Token.RetiredKeys = []string{"k1=short"}
			},
			wantValid: false,
		},
		{
			name: "retired key without kid",
			mutate: func(c *Config) {
				c.Token.KeyID = "k2"
				c.Token.RetiredKeys = []string{string(testSigningKey)}
			},
			wantValid: false,
		},
		{
			name: "retired keys valid",
			mutate: func(c *Config) {
				c.Token.KeyID = "k2"
				c.Token.RetiredKeys = []string{"k1=" + string(testSigningKey)}
			},
			wantValid: true,
		},
		{
			name:      "rate window below one second",
			mutate:    func(c *Config) { c.RateLimit.Auth.Window = 500 * time.Millisecond },
			wantValid: false,
		},
		{
			name: "rate limits ignored when disabled",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = false
				c.RateLimit.Auth.MaxRequests = 0
			},
			wantValid: true,
		},
		{
			name:      "relative sensitive prefix",
			mutate:    func(c *Config) { c.Security.SensitivePrefixes = []string{"v1/payments"} },
			wantValid: false,
		},
		{
			name:      "heuristics block threshold one",
			mutate:    func(c *Config) { c.Heuristics.BlockThreshold = 1 },
			wantValid: false,
		},
		{
			name:      "unknown log level",
			mutate:    func(c *Config) { c.Logging.Level = "trace" },
			wantValid: false,
		},
		{
			name: "audit buffer zero",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestWithConfigCopiesSlices(t *testing.T) {
	cfg := testConfig()
	b := New().WithConfig(cfg)
	cfg.Security.SigningKey[0] = 'X'
	cfg.Security.SensitivePrefixes[0] = "/mutated"

	if b.config.Security.SigningKey[0] == 'X' {
		t.Fatal("signing key shares backing array")
	}
	if b.config.Security.SensitivePrefixes[0] == "/mutated" {
		t.Fatal("sensitive prefixes share backing array")
	}
}

func TestLintDefaultConfigHasNoHighWarnings(t *testing.T) {
	cfg := testConfig()
	if err := cfg.Lint().AsError(LintHigh); err != nil {
		t.Fatalf("default config should not lint HIGH: %v", err)
	}
}

func TestLintCodes(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = false
	cfg.Heuristics.Enabled = false
	cfg.Logging.LogSensitiveBodies = true
	cfg.Token.Expiry = time.Hour
	cfg.Challenge.MaxAttempts = 8

	ws := cfg.Lint()
	for _, code := range []string{
		"rate_limits_disabled",
		"heuristics_disabled",
		"log_sensitive_bodies",
		"token_ttl_long",
		"max_attempts_high",
	} {
		if !containsCode(ws.Codes(), code) {
			t.Errorf("expected %s warning", code)
		}
	}

	high := ws.BySeverity(LintHigh)
	if len(high) != 2 {
		t.Fatalf("expected 2 HIGH warnings, got %v", high.Codes())
	}
	if err := ws.AsError(LintHigh); err == nil || !strings.Contains(err.Error(), "rate_limits_disabled") {
		t.Fatalf("expected AsError to list HIGH codes, got %v", err)
	}
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
