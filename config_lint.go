package sca

import (
	"fmt"
	"strings"
	"time"
)

// LintSeverity ranks configuration warnings.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is a configuration that validates but is risky in production.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of warnings returned by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Code
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError returns an error listing every warning at or above min, or nil.
func (r LintResult) AsError(min LintSeverity) error {
	hits := r.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	parts := make([]string, len(hits))
	for i, w := range hits {
		parts[i] = fmt.Sprintf("%s(%s): %s", w.Code, w.Severity, w.Message)
	}
	return fmt.Errorf("config lint: %s", strings.Join(parts, "; "))
}

// Lint reports settings that pass [Config.Validate] but weaken the
// deployment. It never mutates c.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if !c.RateLimit.Enabled {
		add("rate_limits_disabled", LintHigh, "rate limiting is disabled for every endpoint class")
	}
	if len(c.Security.SensitivePrefixes) == 0 {
		add("sensitive_prefixes_empty", LintHigh, "no endpoint requires a request signature")
	}
	if c.Logging.LogSensitiveBodies {
		add("log_sensitive_bodies", LintHigh, "bodies of sensitive endpoints are logged")
	}
	if !c.Heuristics.Enabled {
		add("heuristics_disabled", LintWarn, "suspicious activity detection is off")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintWarn, "audit events are not recorded")
	}
	if c.Token.Expiry > 30*time.Minute {
		add("token_ttl_long", LintWarn, "SCA tokens live longer than 30m")
	}
	if c.Token.Leeway > 30*time.Second {
		add("leeway_large", LintWarn, "token leeway exceeds 30s")
	}
	if c.Challenge.Expiry > 15*time.Minute {
		add("challenge_expiry_long", LintWarn, "challenges stay open longer than 15m")
	}
	if c.Challenge.MaxAttempts > 5 {
		add("max_attempts_high", LintWarn, "more than 5 proof attempts per challenge")
	}
	if c.OneTimeCode.Expiry > c.Challenge.Expiry {
		add("otp_expiry_capped", LintInfo, "one-time codes are capped at the challenge expiry")
	}
	if c.Security.TrustForwardedFor {
		add("trust_forwarded_for", LintInfo, "client IPs are taken from X-Forwarded-For")
	}

	return ws
}
