package sca

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config defines every tunable of the SCA engine and the request security middleware.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Policy      PolicyConfig      `mapstructure:"policy"`
	Exemption   ExemptionConfig   `mapstructure:"exemption"`
	Challenge   ChallengeConfig   `mapstructure:"challenge"`
	Token       TokenConfig       `mapstructure:"token"`
	OneTimeCode OneTimeCodeConfig `mapstructure:"one_time_code"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Security    SecurityConfig    `mapstructure:"security"`
	Heuristics  HeuristicsConfig  `mapstructure:"heuristics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Store       StoreConfig       `mapstructure:"store"`
}

/*
====================================
POLICY CONFIG
====================================
*/

// PolicyConfig holds the requirement thresholds, evaluated in field order.
//
// PolicyConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PolicyConfig struct {
	AmountThreshold     decimal.Decimal `mapstructure:"amount_threshold"`
	CumulativeThreshold decimal.Decimal `mapstructure:"cumulative_threshold"`
	DailyCountThreshold int             `mapstructure:"daily_count_threshold"`
	NewAccountDays      int             `mapstructure:"new_account_days"`
	RiskScoreThreshold  float64         `mapstructure:"risk_score_threshold"`
}

// ExemptionConfig holds the exemption ceilings.
//
// ExemptionConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ExemptionConfig struct {
	LowValueCeiling           decimal.Decimal `mapstructure:"low_value_ceiling"`
	CorporateCeiling          decimal.Decimal `mapstructure:"corporate_ceiling"`
	TrustedMinSuccessful      int             `mapstructure:"trusted_min_successful"`
	RecurringMinCount         int             `mapstructure:"recurring_min_count"`
	RecurringWindow           time.Duration   `mapstructure:"recurring_window"`
	RecurringTolerancePercent decimal.Decimal `mapstructure:"recurring_tolerance_percent"`
}

/*
====================================
CHALLENGE + TOKEN CONFIG
====================================
*/

// ChallengeConfig controls challenge lifetime and attempt budget.
//
// ChallengeConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ChallengeConfig struct {
	Expiry          time.Duration `mapstructure:"expiry"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	ExemptedTTL     time.Duration `mapstructure:"exempted_ttl"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
}

// TokenConfig controls the signed SCA token.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	Expiry   time.Duration `mapstructure:"expiry"`
	Leeway   time.Duration `mapstructure:"leeway"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	KeyID    string        `mapstructure:"key_id"`
	// RetiredKeys lists "kid=key" entries for signing keys that no longer
	// sign but still verify during rotation. Keys use the signing key format
	// (raw or "base64:"). KeyID is required when any are set.
	RetiredKeys []string `mapstructure:"retired_keys"`
}

// OneTimeCodeConfig controls out-of-band codes.
//
// OneTimeCodeConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type OneTimeCodeConfig struct {
	Expiry time.Duration `mapstructure:"expiry"`
	Digits int           `mapstructure:"digits"`

	// MessageTemplate must contain exactly one %s for the code.
	MessageTemplate string `mapstructure:"message_template"`
}

/*
====================================
REQUEST SECURITY CONFIG
====================================
*/

// RateLimitClass is one (maxRequests, window) pair.
type RateLimitClass struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// RateLimitConfig holds the per-class rate limits.
//
// RateLimitConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RateLimitConfig struct {
	Enabled          bool           `mapstructure:"enabled"`
	Default          RateLimitClass `mapstructure:"default"`
	SensitivePayment RateLimitClass `mapstructure:"sensitive_payment"`
	Auth             RateLimitClass `mapstructure:"auth"`
}

// SecurityConfig controls request signing, body limits and endpoint classes.
//
// SecurityConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SecurityConfig struct {
	// SigningKey is shared by request signatures, token signatures and the
	// one-time-code hash key derivation. It is never read from a config file
	// field directly; see LoadConfig.
	SigningKey      []byte        `mapstructure:"-"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	SignatureWindow time.Duration `mapstructure:"signature_window"`
	// SensitivePrefixes require signatures and use the sensitive-payment limit.
	SensitivePrefixes []string `mapstructure:"sensitive_prefixes"`
	// AuthPrefixes use the auth limit.
	AuthPrefixes      []string      `mapstructure:"auth_prefixes"`
	TrustForwardedFor bool          `mapstructure:"trust_forwarded_for"`
	HSTSMaxAge        time.Duration `mapstructure:"hsts_max_age"`
}

// HeuristicsConfig controls the soft abuse-detection layer.
//
// HeuristicsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HeuristicsConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	BotUserAgents        []string      `mapstructure:"bot_user_agents"`
	FrequencyThreshold   int           `mapstructure:"frequency_threshold"`
	FrequencyWindow      time.Duration `mapstructure:"frequency_window"`
	SensitiveIdentifiers []string      `mapstructure:"sensitive_identifiers"`
	BlockThreshold       int           `mapstructure:"block_threshold"`
}

/*
====================================
AMBIENT CONFIG
====================================
*/

// LoggingConfig controls structured request and decision logging.
//
// LoggingConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type LoggingConfig struct {
	Level              string `mapstructure:"level"`
	LogBodies          bool   `mapstructure:"log_bodies"`
	LogSensitiveBodies bool   `mapstructure:"log_sensitive_bodies"`
	MaxLoggedBodyBytes int    `mapstructure:"max_logged_body_bytes"`
}

// AuditConfig controls the async audit dispatcher.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

// StoreConfig controls challenge store key layout.
type StoreConfig struct {
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DefaultConfig returns production-leaning defaults. SigningKey is left empty
// and must be supplied.
func DefaultConfig() Config {
	return Config{
		Policy: PolicyConfig{
			AmountThreshold:     decimal.NewFromInt(500),
			CumulativeThreshold: decimal.NewFromInt(1500),
			DailyCountThreshold: 5,
			NewAccountDays:      30,
			RiskScoreThreshold:  0.7,
		},
		Exemption: ExemptionConfig{
			LowValueCeiling:           decimal.NewFromInt(30),
			CorporateCeiling:          decimal.NewFromInt(5000),
			TrustedMinSuccessful:      5,
			RecurringMinCount:         2,
			RecurringWindow:           30 * 24 * time.Hour,
			RecurringTolerancePercent: decimal.NewFromInt(10),
		},
		Challenge: ChallengeConfig{
			Expiry:          10 * time.Minute,
			MaxAttempts:     3,
			ExemptedTTL:     5 * time.Minute,
			ProviderTimeout: 10 * time.Second,
		},
		Token: TokenConfig{
			Expiry: 15 * time.Minute,
			Issuer: "sca",
		},
		OneTimeCode: OneTimeCodeConfig{
			Expiry:          5 * time.Minute,
			Digits:          6,
			MessageTemplate: "Your verification code is %s",
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			Default:          RateLimitClass{MaxRequests: 100, Window: time.Minute},
			SensitivePayment: RateLimitClass{MaxRequests: 10, Window: time.Minute},
			Auth:             RateLimitClass{MaxRequests: 5, Window: time.Minute},
		},
		Security: SecurityConfig{
			MaxBodyBytes:      1 << 20,
			SignatureWindow:   5 * time.Minute,
			SensitivePrefixes: []string{"/v1/payments", "/v1/sca"},
			AuthPrefixes:      []string{"/v1/auth"},
			HSTSMaxAge:        365 * 24 * time.Hour,
		},
		Heuristics: HeuristicsConfig{
			Enabled:              true,
			BotUserAgents:        []string{"bot", "crawler", "spider", "curl", "wget", "python-requests", "headless"},
			FrequencyThreshold:   50,
			FrequencyWindow:      10 * time.Second,
			SensitiveIdentifiers: []string{"ssn", "personnummer", "card_number", "cardnumber", "cvv", "iban", "account_number"},
			BlockThreshold:       2,
		},
		Logging: LoggingConfig{
			Level:              "info",
			MaxLoggedBodyBytes: 4096,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Store: StoreConfig{
			KeyPrefix: "sca",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Security.SigningKey = cloneBytes(cfg.Security.SigningKey)
	out.Token.RetiredKeys = cloneStrings(cfg.Token.RetiredKeys)
	out.Security.SensitivePrefixes = cloneStrings(cfg.Security.SensitivePrefixes)
	out.Security.AuthPrefixes = cloneStrings(cfg.Security.AuthPrefixes)
	out.Heuristics.BotUserAgents = cloneStrings(cfg.Heuristics.BotUserAgents)
	out.Heuristics.SensitiveIdentifiers = cloneStrings(cfg.Heuristics.SensitiveIdentifiers)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

const minSigningKeyBytes = 32

// Validate returns the first violated configuration rule.
func (c *Config) Validate() error {
	// Policy
	if !c.Policy.AmountThreshold.IsPositive() {
		return errors.New("Policy AmountThreshold must be > 0")
	}
	if c.Policy.CumulativeThreshold.LessThan(c.Policy.AmountThreshold) {
		return errors.New("Policy CumulativeThreshold must be >= AmountThreshold")
	}
	if c.Policy.DailyCountThreshold <= 0 {
		return errors.New("Policy DailyCountThreshold must be > 0")
	}
	if c.Policy.NewAccountDays < 0 {
		return errors.New("Policy NewAccountDays must be >= 0")
	}
	if c.Policy.RiskScoreThreshold < 0 || c.Policy.RiskScoreThreshold > 1 {
		return errors.New("Policy RiskScoreThreshold must be within [0,1]")
	}

	// Exemption
	if c.Exemption.LowValueCeiling.IsNegative() {
		return errors.New("Exemption LowValueCeiling must be >= 0")
	}
	if c.Exemption.LowValueCeiling.GreaterThanOrEqual(c.Policy.AmountThreshold) {
		return errors.New("Exemption LowValueCeiling must be < Policy AmountThreshold")
	}
	if c.Exemption.CorporateCeiling.IsNegative() {
		return errors.New("Exemption CorporateCeiling must be >= 0")
	}
	if c.Exemption.TrustedMinSuccessful <= 0 {
		return errors.New("Exemption TrustedMinSuccessful must be > 0")
	}
	if c.Exemption.RecurringMinCount <= 0 {
		return errors.New("Exemption RecurringMinCount must be > 0")
	}
	if c.Exemption.RecurringWindow <= 0 {
		return errors.New("Exemption RecurringWindow must be > 0")
	}
	if c.Exemption.RecurringTolerancePercent.IsNegative() || c.Exemption.RecurringTolerancePercent.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("Exemption RecurringTolerancePercent must be within [0,100]")
	}

	// Challenge
	if c.Challenge.Expiry <= 0 {
		return errors.New("Challenge Expiry must be > 0")
	}
	if c.Challenge.MaxAttempts <= 0 || c.Challenge.MaxAttempts > 20 {
		return errors.New("Challenge MaxAttempts must be within [1,20]")
	}
	if c.Challenge.ExemptedTTL <= 0 {
		return errors.New("Challenge ExemptedTTL must be > 0")
	}
	if c.Challenge.ProviderTimeout <= 0 {
		return errors.New("Challenge ProviderTimeout must be > 0")
	}

	// Token
	if c.Token.Expiry <= 0 {
		return errors.New("Token Expiry must be > 0")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be within [0,2m]")
	}
	if _, err := c.Token.retiredKeys(); err != nil {
		return err
	}

	// One-time code
	if c.OneTimeCode.Expiry <= 0 {
		return errors.New("OneTimeCode Expiry must be > 0")
	}
	if c.OneTimeCode.Digits < 6 || c.OneTimeCode.Digits > 10 {
		return errors.New("OneTimeCode Digits must be within [6,10]")
	}
	if !validCodeTemplate(c.OneTimeCode.MessageTemplate) {
		return errors.New("OneTimeCode MessageTemplate must contain exactly one %s and no other verbs")
	}

	// Rate limits
	if c.RateLimit.Enabled {
		for name, class := range map[string]RateLimitClass{
			"Default":          c.RateLimit.Default,
			"SensitivePayment": c.RateLimit.SensitivePayment,
			"Auth":             c.RateLimit.Auth,
		} {
			if class.MaxRequests <= 0 {
				return errors.New("RateLimit " + name + " MaxRequests must be > 0")
			}
			if class.Window < time.Second {
				return errors.New("RateLimit " + name + " Window must be >= 1s")
			}
		}
	}

	// Security
	if len(c.Security.SigningKey) < minSigningKeyBytes {
		return errors.New("Security SigningKey must be at least 32 bytes")
	}
	if c.Security.MaxBodyBytes <= 0 {
		return errors.New("Security MaxBodyBytes must be > 0")
	}
	if c.Security.SignatureWindow <= 0 {
		return errors.New("Security SignatureWindow must be > 0")
	}
	for _, p := range append(cloneStrings(c.Security.SensitivePrefixes), c.Security.AuthPrefixes...) {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Security endpoint prefixes must start with /")
		}
	}
	if c.Security.HSTSMaxAge < 0 {
		return errors.New("Security HSTSMaxAge must be >= 0")
	}

	// Heuristics
	if c.Heuristics.Enabled {
		if c.Heuristics.FrequencyThreshold <= 0 {
			return errors.New("Heuristics FrequencyThreshold must be > 0")
		}
		if c.Heuristics.FrequencyWindow < time.Second {
			return errors.New("Heuristics FrequencyWindow must be >= 1s")
		}
		if c.Heuristics.BlockThreshold < 2 {
			return errors.New("Heuristics BlockThreshold must be >= 2")
		}
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.New("Logging Level must be one of debug, info, warn, error")
	}
	if c.Logging.MaxLoggedBodyBytes < 0 {
		return errors.New("Logging MaxLoggedBodyBytes must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

// validCodeTemplate accepts templates whose only formatting verb is a single
// %s. A literal percent sign must be written as %%.
func validCodeTemplate(tpl string) bool {
	verbs := 0
	for i := 0; i < len(tpl); i++ {
		if tpl[i] != '%' {
			continue
		}
		if i+1 >= len(tpl) {
			return false
		}
		switch tpl[i+1] {
		case '%':
		case 's':
			verbs++
		default:
			return false
		}
		i++
	}
	return verbs == 1
}

// retiredKeys parses RetiredKeys into a kid to key map. It returns nil when
// no rotation is configured.
func (t TokenConfig) retiredKeys() (map[string][]byte, error) {
	if len(t.RetiredKeys) == 0 {
		return nil, nil
	}
	if strings.TrimSpace(t.KeyID) == "" {
		return nil, errors.New("Token KeyID is required with RetiredKeys")
	}
	out := make(map[string][]byte, len(t.RetiredKeys))
	for _, entry := range t.RetiredKeys {
		kid, raw, ok := strings.Cut(entry, "=")
		kid = strings.TrimSpace(kid)
		if !ok || kid == "" {
			return nil, errors.New("Token RetiredKeys entries must be kid=key")
		}
		if kid == strings.TrimSpace(t.KeyID) {
			return nil, fmt.Errorf("Token RetiredKeys must not reuse the active kid %q", kid)
		}
		if _, dup := out[kid]; dup {
			return nil, fmt.Errorf("Token RetiredKeys lists kid %q twice", kid)
		}
		key, err := parseSigningKey(raw)
		if err != nil {
			return nil, err
		}
		if len(key) < minSigningKeyBytes {
			return nil, fmt.Errorf("Token RetiredKeys key for kid %q must be at least 32 bytes", kid)
		}
		out[kid] = key
	}
	return out, nil
}
