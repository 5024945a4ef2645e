package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/store"
)

// Class selects the limit applied to an endpoint.
type Class uint8

const (
	ClassDefault Class = iota
	ClassSensitivePayment
	ClassAuth
)

func (c Class) String() string {
	switch c {
	case ClassSensitivePayment:
		return "sensitive"
	case ClassAuth:
		return "auth"
	default:
		return "default"
	}
}

// Limit is one (maxRequests, window) pair.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// Config holds rate limiter tuning parameters.
type Config struct {
	Enabled           bool
	Limits            map[Class]Limit
	SensitivePrefixes []string
	AuthPrefixes      []string
}

// Decision is the outcome of [Limiter.Allow].
type Decision struct {
	Allowed    bool
	Class      Class
	Endpoint   string
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter enforces per-client, per-endpoint fixed-window limits using
// counters in the shared store.
type Limiter struct {
	store  store.Store
	config Config
}

// New creates a [Limiter] backed by st.
func New(st store.Store, cfg Config) *Limiter {
	return &Limiter{store: st, config: cfg}
}

// Classify returns the class of path. Sensitive prefixes win over auth.
func (l *Limiter) Classify(path string) Class {
	switch {
	case MatchPrefix(path, l.config.SensitivePrefixes):
		return ClassSensitivePayment
	case MatchPrefix(path, l.config.AuthPrefixes):
		return ClassAuth
	default:
		return ClassDefault
	}
}

// Allow charges one request for (client, subject, path). A disabled limiter
// always allows. Store failures return ErrStoreUnavailable and no decision;
// callers must reject the request.
func (l *Limiter) Allow(ctx context.Context, client, subject, path string) (Decision, error) {
	class := l.Classify(path)
	endpoint := Normalize(path)
	d := Decision{Allowed: true, Class: class, Endpoint: endpoint}
	if !l.config.Enabled {
		return d, nil
	}

	limit, ok := l.config.Limits[class]
	if !ok || limit.MaxRequests <= 0 || limit.Window <= 0 {
		limit = l.config.Limits[ClassDefault]
	}
	if limit.MaxRequests <= 0 || limit.Window <= 0 {
		return Decision{}, fmt.Errorf("%w: no limit for class %s", ErrStoreUnavailable, class)
	}

	counter, err := l.store.AtomicIncrement(ctx, Key(class, client, subject, endpoint), int64(limit.MaxRequests), limit.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	d.Allowed = counter.Allowed
	d.Limit = limit.MaxRequests
	d.Remaining = int(counter.Remaining())
	d.RetryAfter = counter.ResetIn
	if !d.Allowed {
		return d, ErrRateLimited
	}
	return d, nil
}

// Key builds the counter key. Empty parts are replaced with "-".
func Key(class Class, client, subject, endpoint string) string {
	return "rl:" + class.String() + ":" + part(client) + ":" + part(subject) + ":" + endpoint
}

func part(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

// MatchPrefix reports whether path equals a prefix or continues it with a
// slash, so "/v1/pay" does not match "/v1/payments".
func MatchPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
