package sca

import (
	"context"
	"time"
)

const (
	auditEventChallengeInitiated  = "sca_challenge_initiated"
	auditEventChallengeExempted   = "sca_challenge_exempted"
	auditEventChallengeCompleted  = "sca_challenge_completed"
	auditEventChallengeFailed     = "sca_challenge_failed"
	auditEventChallengeExpired    = "sca_challenge_expired"
	auditEventAttemptsExceeded    = "sca_attempts_exceeded"
	auditEventProofRejected       = "sca_proof_rejected"
	auditEventProviderUnavailable = "sca_provider_unavailable"
	auditEventPolicyFailClosed    = "sca_policy_fail_closed"
	auditEventTokenIssued         = "sca_token_issued"
	auditEventTokenRejected       = "sca_token_rejected"
	auditEventTokenRevoked        = "sca_token_revoked"
	auditEventRateLimited         = "request_rate_limited"
	auditEventSignatureInvalid    = "request_signature_invalid"
	auditEventSuspiciousFlagged   = "request_suspicious_flagged"
	auditEventSuspiciousBlocked   = "request_suspicious_blocked"
	auditEventPayloadTooLarge     = "request_payload_too_large"
	auditEventRejectedInternal    = "request_rejected_internal"
)

// Audit event types emitted by the security middleware. The engine's own
// event types are unexported.
const (
	AuditEventRateLimited       = auditEventRateLimited
	AuditEventSignatureInvalid  = auditEventSignatureInvalid
	AuditEventSuspiciousFlagged = auditEventSuspiciousFlagged
	AuditEventSuspiciousBlocked = auditEventSuspiciousBlocked
	AuditEventPayloadTooLarge   = auditEventPayloadTooLarge
	AuditEventRejectedInternal  = auditEventRejectedInternal
)

type auditSubject struct {
	subjectID   string
	sessionID   string
	challengeID string
	method      Method
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject auditSubject,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:     e.now().UTC(),
		EventType:     eventType,
		CorrelationID: CorrelationIDFromContext(ctx),
		SubjectID:     subject.subjectID,
		SessionID:     subject.sessionID,
		ChallengeID:   subject.challengeID,
		IP:            ClientIPFromContext(ctx),
		Success:       success,
		Metadata:      metadata,
	}
	if subject.method != MethodNone {
		event.Method = subject.method.String()
	}
	if err != nil {
		event.Error = ErrorCode(err)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, e.now().Sub(start))
}
