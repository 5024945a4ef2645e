package sca

import (
	"context"
	"errors"
	"strings"
	"time"

	otellog "go.opentelemetry.io/otel/log"

	internalaudit "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/audit"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/logging"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/stores"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/store"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/token"
)

// Engine is the SCA orchestrator. It decides whether a transaction needs
// strong authentication, drives the selected proof method, and issues and
// validates SCA tokens. All shared state lives in the challenge store, so any
// number of Engine instances may serve the same subjects.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config       Config
	store        store.Store
	challenges   *stores.ChallengeStore
	tokens       *stores.TokenStore
	tokenManager *token.Manager
	methods      map[Method]proofMethod
	subjects     SubjectProvider
	history      TransactionHistory
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	logger       *logging.Logger
	now          func() time.Time
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditSink returns the engine's asynchronous audit dispatcher, so other
// components such as the security middleware share its buffer and sink.
func (e *Engine) AuditSink() AuditSink {
	if e == nil || e.audit == nil {
		return NoOpSink{}
	}
	return e.audit
}

// MetricsSnapshot returns the engine's counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Metrics returns the engine's metrics so other components can share them.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// Methods lists the proof methods this engine can drive.
func (e *Engine) Methods() []Method {
	if e == nil {
		return nil
	}
	out := make([]Method, 0, len(e.methods))
	for _, m := range methodPreference {
		if _, ok := e.methods[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) ready() error {
	if e == nil || e.challenges == nil || e.tokenManager == nil || e.subjects == nil || e.history == nil {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) challengeKey(subjectID, sessionID, challengeID string) string {
	return "ch:" + subjectID + ":" + sessionID + ":" + challengeID
}

func (e *Engine) tokenKey(subjectID, sessionID, tokenID string) string {
	return "tok:" + subjectID + ":" + sessionID + ":" + tokenID
}

// validKeyPart rejects empty identifiers and the key separator, so one
// subject's keys can never alias another's.
func validKeyPart(v string) bool {
	return v != "" && len(v) <= 256 && !strings.ContainsAny(v, ": \t\r\n")
}

// storeErr maps a challenge store failure onto the public taxonomy. Store
// failures fail closed.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stores.ErrChallengeNotFound), errors.Is(err, stores.ErrChallengeExpired):
		return ErrChallengeExpired
	default:
		return ErrStoreUnavailable
	}
}

func (e *Engine) log(ctx context.Context, sev otellog.Severity, msg string, attrs ...otellog.KeyValue) {
	if e == nil {
		return
	}
	e.logger.Log(ctx, sev, msg, attrs...)
}

func challengeAttrs(rec *stores.ChallengeRecord) []otellog.KeyValue {
	if rec == nil {
		return nil
	}
	return []otellog.KeyValue{
		otellog.String("subject_id", rec.SubjectID),
		otellog.String("challenge_id", rec.ID),
		otellog.String("method", Method(rec.Method).String()),
		otellog.String("status", ChallengeStatus(rec.Status).String()),
		otellog.Int("attempts", int(rec.Attempts)),
	}
}

func unixTime(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

func optionalTime(nanos int64) *time.Time {
	if nanos == 0 {
		return nil
	}
	t := unixTime(nanos)
	return &t
}

func toChallenge(rec *stores.ChallengeRecord, display map[string]string) *Challenge {
	return &Challenge{
		ID:              rec.ID,
		SubjectID:       rec.SubjectID,
		SessionID:       rec.SessionID,
		Status:          ChallengeStatus(rec.Status),
		Method:          Method(rec.Method),
		ExemptionReason: ExemptionReason(rec.Reason),
		CreatedAt:       unixTime(rec.CreatedAt),
		ExpiresAt:       unixTime(rec.ExpiresAt),
		AttemptCount:    int(rec.Attempts),
		MaxAttempts:     int(rec.MaxAttempts),
		LastAttemptAt:   optionalTime(rec.LastAttemptAt),
		CompletedAt:     optionalTime(rec.CompletedAt),
		Display:         display,
	}
}

func attemptsRemaining(rec *stores.ChallengeRecord) int {
	if rec.Attempts >= rec.MaxAttempts {
		return 0
	}
	return int(rec.MaxAttempts - rec.Attempts)
}

// Health reports whether the challenge store answers. A missing health key is
// healthy.
func (e *Engine) Health(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := e.store.Get(ctx, "health"); err != nil && !errors.Is(err, store.ErrNotFound) {
		return ErrStoreUnavailable
	}
	return nil
}
