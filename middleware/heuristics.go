package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

const (
	signalBotUserAgent        = "bot_user_agent"
	signalHighFrequency       = "high_frequency"
	signalInjectionPattern    = "injection_pattern"
	signalSensitiveIdentifier = "sensitive_identifier"
)

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\b.+\bselect\b`),
	regexp.MustCompile(`(?i)\b(or|and)\b\s+['"]?\d+['"]?\s*=\s*['"]?\d+`),
	regexp.MustCompile(`(?i);\s*(drop|delete|insert|update)\b`),
	regexp.MustCompile(`(?i)(--|#|/\*)\s*$`),
	regexp.MustCompile(`(?i)\b(sleep|benchmark|pg_sleep)\s*\(`),
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)\bon(error|load|click)\s*=`),
}

// evaluate returns the signals that fired. A processing error never becomes
// a signal; it is returned so the caller can log it.
func (s *Security) evaluate(ctx context.Context, r *http.Request, client string) (signals []string, procErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			signals = nil
			procErr = fmt.Errorf("heuristics panic: %v", rec)
		}
	}()

	h := s.config.Heuristics

	ua := strings.ToLower(r.UserAgent())
	for _, bot := range s.botAgents {
		if bot != "" && strings.Contains(ua, bot) {
			signals = append(signals, signalBotUserAgent)
			break
		}
	}

	if client != "" {
		limit := int64(h.FrequencyThreshold) + 1
		counter, err := s.store.AtomicIncrement(ctx, "hf:"+client, limit, h.FrequencyWindow)
		switch {
		case err != nil:
			procErr = err
		case !counter.Allowed || counter.Count > int64(h.FrequencyThreshold):
			signals = append(signals, signalHighFrequency)
		}
	}

	query := r.URL.RawQuery
	if decoded, err := url.QueryUnescape(query); err == nil {
		query = decoded
	}
	for _, re := range injectionPatterns {
		if query != "" && re.MatchString(query) {
			signals = append(signals, signalInjectionPattern)
			break
		}
	}

	target := strings.ToLower(r.URL.Path + "?" + query)
	for _, id := range s.identifiers {
		if id != "" && strings.Contains(target, id) {
			signals = append(signals, signalSensitiveIdentifier)
			break
		}
	}

	return signals, procErr
}
