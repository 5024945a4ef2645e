package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	otellog "go.opentelemetry.io/otel/log"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/logging"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/rate"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/store"
)

// HeaderCorrelationID carries the request correlation id in both directions.
const HeaderCorrelationID = "X-Correlation-ID"

const maxCorrelationIDLen = 64

// Option customises a [Security] gate.
type Option func(*Security)

// WithLoggerProvider sets the OpenTelemetry logger provider used for request
// and decision logs.
func WithLoggerProvider(p otellog.LoggerProvider) Option {
	return func(s *Security) { s.logger = logging.New(p, s.config.Logging.Level) }
}

// WithMetrics shares the engine's metrics.
func WithMetrics(m *sca.Metrics) Option {
	return func(s *Security) { s.metrics = m }
}

// WithAuditSink emits middleware audit events to sink.
func WithAuditSink(sink sca.AuditSink) Option {
	return func(s *Security) { s.audit = sink }
}

// WithSubjectFunc extracts the authenticated subject used in rate-limit keys.
// Without it the key uses the client address only.
func WithSubjectFunc(fn func(*http.Request) string) Option {
	return func(s *Security) { s.subject = fn }
}

// WithClock overrides time.Now. Intended for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Security) { s.now = clock }
}

// Security is the per-request gate placed in front of business handlers.
//
// Security instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Security struct {
	config      sca.Config
	store       store.Store
	limiter     *rate.Limiter
	logger      *logging.Logger
	metrics     *sca.Metrics
	audit       sca.AuditSink
	subject     func(*http.Request) string
	now         func() time.Time
	botAgents   []string
	identifiers []string
}

// NewSecurity validates cfg and returns a gate whose counters live in st.
func NewSecurity(cfg sca.Config, st store.Store, opts ...Option) (*Security, error) {
	if st == nil {
		return nil, errors.New("middleware: store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Security{
		config: cfg,
		store:  st,
		limiter: rate.New(st, rate.Config{
			Enabled: cfg.RateLimit.Enabled,
			Limits: map[rate.Class]rate.Limit{
				rate.ClassDefault:          limit(cfg.RateLimit.Default),
				rate.ClassSensitivePayment: limit(cfg.RateLimit.SensitivePayment),
				rate.ClassAuth:             limit(cfg.RateLimit.Auth),
			},
			SensitivePrefixes: cfg.Security.SensitivePrefixes,
			AuthPrefixes:      cfg.Security.AuthPrefixes,
		}),
		now:         time.Now,
		botAgents:   lowerAll(cfg.Heuristics.BotUserAgents),
		identifiers: lowerAll(cfg.Heuristics.SensitiveIdentifiers),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func limit(c sca.RateLimitClass) rate.Limit {
	return rate.Limit{MaxRequests: c.MaxRequests, Window: c.Window}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Handler wraps next with the security checks.
func (s *Security) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		correlationID := correlationID(r.Header.Get(HeaderCorrelationID))
		client := s.clientIP(r)

		ctx := sca.WithCorrelationID(r.Context(), correlationID)
		ctx = sca.WithClientIP(ctx, client)
		r = r.WithContext(ctx)

		s.setSecurityHeaders(w, r)
		w.Header().Set(HeaderCorrelationID, correlationID)

		rec := &recorder{ResponseWriter: w, status: http.StatusOK, capture: s.captureLimit(r)}
		sensitive := rate.MatchPrefix(r.URL.Path, s.config.Security.SensitivePrefixes)

		body, passed := s.check(rec, r, client, sensitive)
		if passed {
			next.ServeHTTP(rec, r)
		}

		elapsed := s.now().Sub(start)
		s.metrics.Observe(sca.MetricRequestLatency, elapsed)
		s.logRequest(ctx, r, rec, client, body, sensitive, elapsed)
	})
}

// check runs the gate in order and returns the buffered body. It writes the
// rejection itself and reports false when the request must not proceed.
func (s *Security) check(w http.ResponseWriter, r *http.Request, client string, sensitive bool) ([]byte, bool) {
	ctx := r.Context()

	body, err := s.readBody(r)
	if err != nil {
		if errors.Is(err, sca.ErrPayloadTooLarge) {
			s.metricInc(sca.MetricRequestPayloadTooLarge)
			s.emitAudit(ctx, sca.AuditEventPayloadTooLarge, r, nil)
		} else {
			s.rejectedInternal(ctx, r, "body", err)
			err = sca.ErrValidation
		}
		s.writeError(w, r, err)
		return nil, false
	}

	subject := ""
	if s.subject != nil {
		subject = s.subject(r)
	}
	decision, err := s.limiter.Allow(ctx, client, subject, r.URL.Path)
	switch {
	case errors.Is(err, rate.ErrRateLimited):
		setRateHeaders(w, decision, s.now())
		retry := int(math.Ceil(decision.RetryAfter.Seconds()))
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		s.metricInc(sca.MetricRequestRateLimited)
		s.log(ctx, otellog.SeverityWarn, "request rate limited",
			otellog.String("endpoint", decision.Endpoint),
			otellog.String("class", decision.Class.String()),
		)
		s.emitAudit(ctx, sca.AuditEventRateLimited, r, map[string]string{
			"endpoint": decision.Endpoint,
			"class":    decision.Class.String(),
		})
		s.writeError(w, r, sca.ErrRateLimitExceeded)
		return nil, false
	case err != nil:
		s.rejectedInternal(ctx, r, "rate_limit", err)
		s.writeError(w, r, sca.ErrStoreUnavailable)
		return nil, false
	}
	if s.config.RateLimit.Enabled {
		setRateHeaders(w, decision, s.now())
	}

	if sensitive && !verifySignature(
		s.config.Security.SigningKey,
		r.Method, r.URL.Path, r.URL.RawQuery, body,
		r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature),
		s.now(), s.config.Security.SignatureWindow,
	) {
		s.metricInc(sca.MetricRequestSignatureInvalid)
		s.log(ctx, otellog.SeverityWarn, "request signature invalid", otellog.String("path", r.URL.Path))
		s.emitAudit(ctx, sca.AuditEventSignatureInvalid, r, nil)
		s.writeError(w, r, sca.ErrSignatureInvalid)
		return nil, false
	}

	if s.config.Heuristics.Enabled {
		signals, procErr := s.evaluate(ctx, r, client)
		if procErr != nil {
			s.log(ctx, otellog.SeverityWarn, "heuristics degraded", otellog.String("error", procErr.Error()))
		}
		switch {
		case len(signals) >= s.config.Heuristics.BlockThreshold:
			s.metricInc(sca.MetricRequestSuspiciousBlocked)
			s.log(ctx, otellog.SeverityWarn, "suspicious request blocked", otellog.String("signals", strings.Join(signals, ",")))
			s.emitAudit(ctx, sca.AuditEventSuspiciousBlocked, r, map[string]string{"signals": strings.Join(signals, ",")})
			s.writeError(w, r, sca.ErrSuspiciousActivityBlocked)
			return nil, false
		case len(signals) > 0:
			s.metricInc(sca.MetricRequestSuspiciousFlagged)
			s.log(ctx, otellog.SeverityInfo, "suspicious request flagged", otellog.String("signals", strings.Join(signals, ",")))
			s.emitAudit(ctx, sca.AuditEventSuspiciousFlagged, r, map[string]string{"signals": strings.Join(signals, ",")})
		}
	}

	return body, true
}

// readBody buffers the body up to the ceiling and restores it on r.
func (s *Security) readBody(r *http.Request) ([]byte, error) {
	max := s.config.Security.MaxBodyBytes
	if r.ContentLength > max {
		return nil, sca.ErrPayloadTooLarge
	}
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, max+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > max {
		return nil, sca.ErrPayloadTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func (s *Security) clientIP(r *http.Request) string {
	if s.config.Security.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Security) setSecurityHeaders(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Content-Security-Policy", "frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")
	if s.encrypted(r) && s.config.Security.HSTSMaxAge > 0 {
		h.Set("Strict-Transport-Security", fmt.Sprintf("max-age=%d; includeSubDomains", int64(s.config.Security.HSTSMaxAge.Seconds())))
	}
}

func (s *Security) encrypted(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return s.config.Security.TrustForwardedFor && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func setRateHeaders(w http.ResponseWriter, d rate.Decision, now time.Time) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(d.RetryAfter).Unix(), 10))
}

func (s *Security) writeError(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, err, s.now())
}

// WriteError writes the structured error body for err.
func WriteError(w http.ResponseWriter, r *http.Request, err error, now time.Time) {
	body := sca.NewErrorBody(err, sca.CorrelationIDFromContext(r.Context()), now)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(sca.HTTPStatus(err))
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		log.Printf("sca: write error body: %v", encErr)
	}
}

func correlationID(incoming string) string {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" || len(incoming) > maxCorrelationIDLen {
		return uuid.NewString()
	}
	for i := 0; i < len(incoming); i++ {
		c := incoming[i]
		if !(c == '-' || c == '_' || c == '.' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return uuid.NewString()
		}
	}
	return incoming
}

func (s *Security) rejectedInternal(ctx context.Context, r *http.Request, stage string, err error) {
	s.metricInc(sca.MetricRequestRejectedInternal)
	s.log(ctx, otellog.SeverityError, "request rejected on internal error",
		otellog.String("stage", stage),
		otellog.String("error", err.Error()),
	)
	s.emitAudit(ctx, sca.AuditEventRejectedInternal, r, map[string]string{"stage": stage})
}

func (s *Security) metricInc(id sca.MetricID) {
	s.metrics.Inc(id)
}

func (s *Security) log(ctx context.Context, sev otellog.Severity, msg string, attrs ...otellog.KeyValue) {
	s.logger.Log(ctx, sev, msg, attrs...)
}

func (s *Security) emitAudit(ctx context.Context, eventType string, r *http.Request, metadata map[string]string) {
	if s.audit == nil {
		return
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["method"] = r.Method
	metadata["path"] = rate.Normalize(r.URL.Path)
	s.audit.Emit(ctx, sca.AuditEvent{
		Timestamp:     s.now().UTC(),
		EventType:     eventType,
		CorrelationID: sca.CorrelationIDFromContext(ctx),
		IP:            sca.ClientIPFromContext(ctx),
		Success:       false,
		Metadata:      metadata,
	})
}
