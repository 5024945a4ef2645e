package sca

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	envPrefix           = "SCA"
	signingKeyKey       = "security.signing_key"
	base64SigningPrefix = "base64:"
)

// LoadConfig builds a Config from defaults, an optional file and SCA_*
// environment variables, in increasing order of precedence, then validates it.
//
// Nested keys map to environment variables by upper-casing and replacing dots
// with underscores: challenge.max_attempts becomes SCA_CHALLENGE_MAX_ATTEMPTS.
// The signing key is read from security.signing_key (SCA_SECURITY_SIGNING_KEY)
// and may be given as "base64:<data>".
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		decimalHook,
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}

	key, err := parseSigningKey(v.GetString(signingKeyKey))
	if err != nil {
		return Config{}, err
	}
	cfg.Security.SigningKey = key

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func parseSigningKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, base64SigningPrefix) {
		key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(raw, base64SigningPrefix))
		if err != nil {
			return nil, errors.New("config: signing key is not valid base64")
		}
		return key, nil
	}
	return []byte(raw), nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook decodes strings and numbers into decimal.Decimal.
func decimalHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case decimal.Decimal:
		return v, nil
	default:
		return nil, fmt.Errorf("cannot decode %s into decimal", from)
	}
}

// setDefaults registers every key so AutomaticEnv can resolve nested keys.
func setDefaults(v *viper.Viper, d Config) {
	defaults := map[string]any{
		"policy.amount_threshold":      d.Policy.AmountThreshold.String(),
		"policy.cumulative_threshold":  d.Policy.CumulativeThreshold.String(),
		"policy.daily_count_threshold": d.Policy.DailyCountThreshold,
		"policy.new_account_days":      d.Policy.NewAccountDays,
		"policy.risk_score_threshold":  d.Policy.RiskScoreThreshold,

		"exemption.low_value_ceiling":           d.Exemption.LowValueCeiling.String(),
		"exemption.corporate_ceiling":           d.Exemption.CorporateCeiling.String(),
		"exemption.trusted_min_successful":      d.Exemption.TrustedMinSuccessful,
		"exemption.recurring_min_count":         d.Exemption.RecurringMinCount,
		"exemption.recurring_window":            d.Exemption.RecurringWindow.String(),
		"exemption.recurring_tolerance_percent": d.Exemption.RecurringTolerancePercent.String(),

		"challenge.expiry":           d.Challenge.Expiry.String(),
		"challenge.max_attempts":     d.Challenge.MaxAttempts,
		"challenge.exempted_ttl":     d.Challenge.ExemptedTTL.String(),
		"challenge.provider_timeout": d.Challenge.ProviderTimeout.String(),

		"token.expiry":       d.Token.Expiry.String(),
		"token.leeway":       d.Token.Leeway.String(),
		"token.issuer":       d.Token.Issuer,
		"token.audience":     d.Token.Audience,
		"token.key_id":       d.Token.KeyID,
		"token.retired_keys": append([]string{}, d.Token.RetiredKeys...),

		"one_time_code.expiry":           d.OneTimeCode.Expiry.String(),
		"one_time_code.digits":           d.OneTimeCode.Digits,
		"one_time_code.message_template": d.OneTimeCode.MessageTemplate,

		"rate_limit.enabled":                        d.RateLimit.Enabled,
		"rate_limit.default.max_requests":           d.RateLimit.Default.MaxRequests,
		"rate_limit.default.window":                 d.RateLimit.Default.Window.String(),
		"rate_limit.sensitive_payment.max_requests": d.RateLimit.SensitivePayment.MaxRequests,
		"rate_limit.sensitive_payment.window":       d.RateLimit.SensitivePayment.Window.String(),
		"rate_limit.auth.max_requests":              d.RateLimit.Auth.MaxRequests,
		"rate_limit.auth.window":                    d.RateLimit.Auth.Window.String(),

		signingKeyKey:                  "",
		"security.max_body_bytes":      d.Security.MaxBodyBytes,
		"security.signature_window":    d.Security.SignatureWindow.String(),
		"security.sensitive_prefixes":  d.Security.SensitivePrefixes,
		"security.auth_prefixes":       d.Security.AuthPrefixes,
		"security.trust_forwarded_for": d.Security.TrustForwardedFor,
		"security.hsts_max_age":        d.Security.HSTSMaxAge.String(),

		"heuristics.enabled":               d.Heuristics.Enabled,
		"heuristics.bot_user_agents":       d.Heuristics.BotUserAgents,
		"heuristics.frequency_threshold":   d.Heuristics.FrequencyThreshold,
		"heuristics.frequency_window":      d.Heuristics.FrequencyWindow.String(),
		"heuristics.sensitive_identifiers": d.Heuristics.SensitiveIdentifiers,
		"heuristics.block_threshold":       d.Heuristics.BlockThreshold,

		"logging.level":                 d.Logging.Level,
		"logging.log_bodies":            d.Logging.LogBodies,
		"logging.log_sensitive_bodies":  d.Logging.LogSensitiveBodies,
		"logging.max_logged_body_bytes": d.Logging.MaxLoggedBodyBytes,

		"audit.enabled":      d.Audit.Enabled,
		"audit.buffer_size":  d.Audit.BufferSize,
		"audit.drop_if_full": d.Audit.DropIfFull,

		"metrics.enabled":                   d.Metrics.Enabled,
		"metrics.enable_latency_histograms": d.Metrics.EnableLatencyHistograms,

		"store.key_prefix": d.Store.KeyPrefix,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
