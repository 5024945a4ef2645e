package sca

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	otellog "go.opentelemetry.io/otel/log"

	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/stores"
)

// Initiate starts strong authentication for one transaction.
//
// When authentication is not required, or an exemption applies, the returned
// challenge is already EXEMPTED and no provider is contacted. Otherwise a
// proof method is selected, exactly one provider or delivery call is made,
// and the challenge is persisted as PENDING. A failed or timed-out provider
// call persists nothing and returns [ErrProviderUnavailable].
func (e *Engine) Initiate(ctx context.Context, req InitiateRequest) (*Challenge, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	defer e.observe(MetricInitiateLatency, e.now())

	if !validKeyPart(req.SubjectID) || !validKeyPart(req.SessionID) || req.Amount.IsNegative() {
		return nil, ErrValidation
	}

	subject := &subjectData{engine: e, subjectID: req.SubjectID}

	// Requirement errors fail closed: the decision is already Required.
	decision, _ := e.evaluateRequirement(ctx, subject, req.Amount, req.PaymentMethod)
	if !decision.Required {
		return e.exempt(ctx, req, ReasonNotRequired)
	}

	// Exemption errors leave the transaction not exempt.
	if exemption, err := e.checkExemption(ctx, subject, req.Amount, req.CounterpartyID); err == nil && exemption.Exempt {
		return e.exempt(ctx, req, exemption.Reason)
	}

	profile, err := subject.get(ctx)
	if err != nil {
		e.log(ctx, otellog.SeverityError, "sca subject lookup failed",
			otellog.String("subject_id", req.SubjectID),
			otellog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("sca: load subject: %w", err)
	}

	method, ok := e.selectMethod(profile, req.PreferredMethod)
	if !ok {
		e.log(ctx, otellog.SeverityWarn, "sca no proof method available", otellog.String("subject_id", req.SubjectID))
		return nil, ErrNoProofMethod
	}

	now := e.now()
	rec := &stores.ChallengeRecord{
		ID:          uuid.NewString(),
		SubjectID:   req.SubjectID,
		SessionID:   req.SessionID,
		Status:      uint8(StatusInitiated),
		Method:      uint8(method.kind()),
		MaxAttempts: uint16(e.config.Challenge.MaxAttempts),
		CreatedAt:   now.UnixNano(),
		ExpiresAt:   now.Add(e.config.Challenge.Expiry).UnixNano(),
	}
	audit := auditSubject{subjectID: rec.SubjectID, sessionID: rec.SessionID, challengeID: rec.ID, method: method.kind()}

	pctx, cancel := context.WithTimeout(ctx, e.config.Challenge.ProviderTimeout)
	startedAt := e.now()
	started, err := method.start(pctx, startRequest{
		challengeID:   rec.ID,
		subjectID:     rec.SubjectID,
		amount:        req.Amount,
		paymentMethod: req.PaymentMethod,
		expiresAt:     unixTime(rec.ExpiresAt),
		profile:       profile,
	})
	e.observe(MetricProviderLatency, startedAt)
	cancel()
	if err != nil {
		e.metricInc(MetricProviderUnavailable)
		e.log(ctx, otellog.SeverityWarn, "sca provider initiate failed",
			append(challengeAttrs(rec), otellog.String("error", err.Error()))...)
		e.emitAudit(ctx, auditEventProviderUnavailable, false, audit, ErrProviderUnavailable, func() map[string]string {
			return map[string]string{"phase": "initiate"}
		})
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	rec.ProviderHandle = started.handle
	rec.Secret = started.secret
	if !started.expiresAt.IsZero() {
		rec.ExpiresAt = started.expiresAt.UnixNano()
	}
	rec.Status = uint8(StatusPending)

	if err := e.challenges.Save(ctx, e.challengeKey(rec.SubjectID, rec.SessionID, rec.ID), rec); err != nil {
		e.log(ctx, otellog.SeverityError, "sca challenge persist failed",
			append(challengeAttrs(rec), otellog.String("error", err.Error()))...)
		return nil, ErrStoreUnavailable
	}

	e.metricInc(MetricChallengeInitiated)
	e.log(ctx, otellog.SeverityInfo, "sca challenge initiated", challengeAttrs(rec)...)
	e.emitAudit(ctx, auditEventChallengeInitiated, true, audit, nil, func() map[string]string {
		return map[string]string{"rule": string(decision.Rule)}
	})

	return toChallenge(rec, started.display), nil
}

// exempt persists an informational EXEMPTED challenge with a short TTL.
func (e *Engine) exempt(ctx context.Context, req InitiateRequest, reason ExemptionReason) (*Challenge, error) {
	now := e.now()
	rec := &stores.ChallengeRecord{
		ID:          uuid.NewString(),
		SubjectID:   req.SubjectID,
		SessionID:   req.SessionID,
		Status:      uint8(StatusExempted),
		Reason:      uint8(reason),
		MaxAttempts: uint16(e.config.Challenge.MaxAttempts),
		CreatedAt:   now.UnixNano(),
		ExpiresAt:   now.Add(e.config.Challenge.ExemptedTTL).UnixNano(),
		CompletedAt: now.UnixNano(),
	}

	if err := e.challenges.Save(ctx, e.challengeKey(rec.SubjectID, rec.SessionID, rec.ID), rec); err != nil {
		e.log(ctx, otellog.SeverityError, "sca exempted challenge persist failed",
			otellog.String("subject_id", rec.SubjectID),
			otellog.String("error", err.Error()),
		)
		return nil, ErrStoreUnavailable
	}

	e.metricInc(MetricChallengeExempted)
	e.log(ctx, otellog.SeverityInfo, "sca challenge exempted",
		append(challengeAttrs(rec), otellog.String("reason", reason.String()))...)
	e.emitAudit(ctx, auditEventChallengeExempted, true, auditSubject{
		subjectID:   rec.SubjectID,
		sessionID:   rec.SessionID,
		challengeID: rec.ID,
	}, nil, func() map[string]string {
		return map[string]string{"reason": reason.String()}
	})

	return toChallenge(rec, nil), nil
}

// GetChallenge returns the current state of a challenge without charging an
// attempt. Unknown and expired challenges both yield [ErrChallengeExpired].
func (e *Engine) GetChallenge(ctx context.Context, ref ChallengeRef) (*Challenge, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !validRef(ref) {
		return nil, ErrValidation
	}

	rec, err := e.challenges.Get(ctx, e.challengeKey(ref.SubjectID, ref.SessionID, ref.ChallengeID))
	if err != nil {
		if mapped := storeErr(err); !errors.Is(mapped, ErrChallengeExpired) {
			e.log(ctx, otellog.SeverityError, "sca challenge read failed", otellog.String("error", err.Error()))
			return nil, mapped
		}
		return nil, ErrChallengeExpired
	}
	return toChallenge(rec, nil), nil
}

func validRef(ref ChallengeRef) bool {
	return validKeyPart(ref.SubjectID) && validKeyPart(ref.SessionID) && validKeyPart(ref.ChallengeID)
}
