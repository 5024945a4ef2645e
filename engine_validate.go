package sca

import (
	"context"
	"errors"
	"fmt"

	otellog "go.opentelemetry.io/otel/log"

	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/stores"
)

var (
	errAlreadyCompleted = errors.New("challenge already completed")
	errExempted         = errors.New("challenge exempted")
)

// Validate submits a proof for a pending challenge.
//
// The attempt is charged before the proof is checked and the charge survives
// caller cancellation. A pending provider outcome refunds it. Exactly one
// caller observes a fresh COMPLETED transition and receives a token; later
// calls on the same challenge get a stable AlreadyCompleted result. When the
// token copy cannot be stored the challenge stays PENDING and the attempt is
// returned. A challenge whose budget runs out on a provider failure is moved
// to FAILED.
//
// Errors: [ErrChallengeExpired] for unknown or expired challenges,
// [ErrChallengeAttemptsExceeded] once the budget is spent, [ErrProofInvalid]
// for a rejected proof (with the updated result), [ErrProofPending] while the
// provider has no outcome, [ErrProviderUnavailable] when the provider call
// fails, and [ErrStoreUnavailable] when the store cannot be read or written.
func (e *Engine) Validate(ctx context.Context, req ValidateRequest) (*ValidateResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	defer e.observe(MetricValidateLatency, e.now())

	if !validRef(req.ChallengeRef) {
		return nil, ErrValidation
	}

	key := e.challengeKey(req.SubjectID, req.SessionID, req.ChallengeID)
	subject := auditSubject{subjectID: req.SubjectID, sessionID: req.SessionID, challengeID: req.ChallengeID}

	rec, err := e.challenges.Get(ctx, key)
	if err != nil {
		return nil, e.validateReadFailed(ctx, subject, err)
	}
	subject.method = Method(rec.Method)

	if res, err := e.settled(ctx, rec, subject); res != nil {
		return res, err
	}

	method, ok := e.methods[Method(rec.Method)]
	if !ok {
		e.log(ctx, otellog.SeverityError, "sca challenge method not configured", challengeAttrs(rec)...)
		return nil, ErrProviderUnavailable
	}
	if err := method.checkProof(req.Proof); err != nil {
		return nil, err
	}

	// The charge must be durable even if the caller abandons the request.
	durable := context.WithoutCancel(ctx)

	rec, err = e.challenges.Update(durable, key, func(r *stores.ChallengeRecord) (bool, error) {
		switch ChallengeStatus(r.Status) {
		case StatusCompleted:
			return false, errAlreadyCompleted
		case StatusExempted:
			return false, errExempted
		case StatusPending:
		default:
			return false, ErrChallengeAttemptsExceeded
		}
		if r.Attempts >= r.MaxAttempts {
			return false, ErrChallengeAttemptsExceeded
		}
		r.Attempts++
		r.LastAttemptAt = e.now().UnixNano()
		return true, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, errAlreadyCompleted), errors.Is(err, errExempted), errors.Is(err, ErrChallengeAttemptsExceeded):
			return e.settled(ctx, rec, subject)
		default:
			return nil, e.validateReadFailed(ctx, subject, err)
		}
	}

	pctx, cancel := context.WithTimeout(ctx, e.config.Challenge.ProviderTimeout)
	collectStart := e.now()
	outcome, verr := method.verify(pctx, rec, req.Proof)
	e.observe(MetricProviderLatency, collectStart)
	cancel()
	if verr != nil {
		e.metricInc(MetricProviderUnavailable)
		e.log(ctx, otellog.SeverityWarn, "sca provider collect failed",
			append(challengeAttrs(rec), otellog.String("error", verr.Error()))...)
		e.emitAudit(ctx, auditEventProviderUnavailable, false, subject, ErrProviderUnavailable, func() map[string]string {
			return map[string]string{"phase": "collect"}
		})
		if rec.Attempts >= rec.MaxAttempts {
			e.markExhausted(durable, rec, subject)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, verr)
	}

	switch outcome {
	case OutcomeApproved:
		return e.complete(durable, key, subject)
	case OutcomePending:
		return e.refund(durable, key, subject)
	default:
		return e.reject(durable, key, subject)
	}
}

// settled answers for challenges that can no longer take an attempt. It
// returns a nil result while rec is still pending with budget left.
func (e *Engine) settled(ctx context.Context, rec *stores.ChallengeRecord, subject auditSubject) (*ValidateResult, error) {
	switch ChallengeStatus(rec.Status) {
	case StatusCompleted:
		e.metricInc(MetricChallengeAlreadyCompleted)
		e.log(ctx, otellog.SeverityInfo, "sca challenge already completed", challengeAttrs(rec)...)
		return &ValidateResult{Status: StatusCompleted, AlreadyCompleted: true}, nil
	case StatusExempted:
		return &ValidateResult{Status: StatusExempted}, nil
	case StatusPending:
		if rec.Attempts < rec.MaxAttempts {
			return nil, nil
		}
		e.markExhausted(ctx, rec, subject)
	}

	e.metricInc(MetricChallengeAttemptsExceeded)
	e.log(ctx, otellog.SeverityWarn, "sca challenge attempts exceeded", challengeAttrs(rec)...)
	e.emitAudit(ctx, auditEventAttemptsExceeded, false, subject, ErrChallengeAttemptsExceeded, nil)
	return &ValidateResult{Status: StatusFailed}, ErrChallengeAttemptsExceeded
}

// markExhausted moves a PENDING challenge with no attempts left to FAILED so
// reads agree with Validate. Failures are logged; the next Validate retries.
func (e *Engine) markExhausted(ctx context.Context, rec *stores.ChallengeRecord, subject auditSubject) {
	ctx = context.WithoutCancel(ctx)
	key := e.challengeKey(rec.SubjectID, rec.SessionID, rec.ID)
	failed := false
	_, err := e.challenges.Update(ctx, key, func(r *stores.ChallengeRecord) (bool, error) {
		failed = false
		if ChallengeStatus(r.Status) != StatusPending || r.Attempts < r.MaxAttempts {
			return false, nil
		}
		r.Status = uint8(StatusFailed)
		failed = true
		return true, nil
	})
	if err != nil {
		e.log(ctx, otellog.SeverityWarn, "sca challenge exhaust failed",
			append(challengeAttrs(rec), otellog.String("error", err.Error()))...)
		return
	}
	if failed {
		e.metricInc(MetricChallengeFailed)
		e.emitAudit(ctx, auditEventChallengeFailed, false, subject, ErrChallengeAttemptsExceeded, nil)
	}
}

func (e *Engine) validateReadFailed(ctx context.Context, subject auditSubject, err error) error {
	mapped := storeErr(err)
	if errors.Is(mapped, ErrChallengeExpired) {
		e.metricInc(MetricChallengeExpired)
		e.log(ctx, otellog.SeverityInfo, "sca challenge expired or unknown",
			otellog.String("subject_id", subject.subjectID),
			otellog.String("challenge_id", subject.challengeID),
		)
		e.emitAudit(ctx, auditEventChallengeExpired, false, subject, ErrChallengeExpired, nil)
		return ErrChallengeExpired
	}
	e.log(ctx, otellog.SeverityError, "sca challenge store failure",
		otellog.String("challenge_id", subject.challengeID),
		otellog.String("error", err.Error()),
	)
	return mapped
}

// complete records the COMPLETED transition. The token copy is stored first
// so a completed challenge always has a token behind it; only the caller
// whose write performs the transition keeps its token.
func (e *Engine) complete(ctx context.Context, key string, subject auditSubject) (*ValidateResult, error) {
	issued, err := e.mintToken(ctx, subject.subjectID, subject.sessionID)
	if err != nil {
		if _, uerr := e.uncharge(ctx, key); uerr != nil {
			e.log(ctx, otellog.SeverityWarn, "sca attempt refund failed",
				otellog.String("challenge_id", subject.challengeID),
				otellog.String("error", uerr.Error()),
			)
		}
		return nil, err
	}

	fresh := false
	rec, err := e.challenges.Update(ctx, key, func(r *stores.ChallengeRecord) (bool, error) {
		fresh = false
		if ChallengeStatus(r.Status) != StatusPending {
			return false, nil
		}
		r.Status = uint8(StatusCompleted)
		r.CompletedAt = e.now().UnixNano()
		fresh = true
		return true, nil
	})
	if err != nil {
		e.discardToken(ctx, issued)
		return nil, e.validateReadFailed(ctx, subject, err)
	}
	if !fresh {
		e.discardToken(ctx, issued)
		return e.settled(ctx, rec, subject)
	}

	e.tokenIssued(ctx, issued)
	e.metricInc(MetricChallengeCompleted)
	e.log(ctx, otellog.SeverityInfo, "sca challenge completed", challengeAttrs(rec)...)
	e.emitAudit(ctx, auditEventChallengeCompleted, true, subject, nil, nil)

	return &ValidateResult{
		Status:            StatusCompleted,
		Token:             issued,
		AttemptsRemaining: attemptsRemaining(rec),
	}, nil
}

// uncharge returns one attempt to a PENDING challenge.
func (e *Engine) uncharge(ctx context.Context, key string) (*stores.ChallengeRecord, error) {
	return e.challenges.Update(ctx, key, func(r *stores.ChallengeRecord) (bool, error) {
		if ChallengeStatus(r.Status) != StatusPending || r.Attempts == 0 {
			return false, nil
		}
		r.Attempts--
		return true, nil
	})
}

// refund returns the charged attempt when the provider has no outcome yet.
func (e *Engine) refund(ctx context.Context, key string, subject auditSubject) (*ValidateResult, error) {
	rec, err := e.uncharge(ctx, key)
	if err != nil {
		return nil, e.validateReadFailed(ctx, subject, err)
	}
	if ChallengeStatus(rec.Status) != StatusPending {
		return e.settled(ctx, rec, subject)
	}

	e.metricInc(MetricProofPending)
	e.log(ctx, otellog.SeverityDebug, "sca proof pending", challengeAttrs(rec)...)
	return &ValidateResult{Status: StatusPending, AttemptsRemaining: attemptsRemaining(rec)}, ErrProofPending
}

// reject keeps the challenge PENDING while budget remains and marks it FAILED
// on the final attempt. The FAILED record stays until the store evicts it.
func (e *Engine) reject(ctx context.Context, key string, subject auditSubject) (*ValidateResult, error) {
	failed := false
	rec, err := e.challenges.Update(ctx, key, func(r *stores.ChallengeRecord) (bool, error) {
		failed = false
		if ChallengeStatus(r.Status) != StatusPending || r.Attempts < r.MaxAttempts {
			return false, nil
		}
		r.Status = uint8(StatusFailed)
		failed = true
		return true, nil
	})
	if err != nil {
		return nil, e.validateReadFailed(ctx, subject, err)
	}
	if ChallengeStatus(rec.Status) == StatusCompleted {
		return e.settled(ctx, rec, subject)
	}

	e.metricInc(MetricProofRejected)
	e.log(ctx, otellog.SeverityInfo, "sca proof rejected", challengeAttrs(rec)...)
	e.emitAudit(ctx, auditEventProofRejected, false, subject, ErrProofInvalid, nil)
	if failed {
		e.metricInc(MetricChallengeFailed)
		e.emitAudit(ctx, auditEventChallengeFailed, false, subject, ErrProofInvalid, nil)
	}

	return &ValidateResult{
		Status:            ChallengeStatus(rec.Status),
		AttemptsRemaining: attemptsRemaining(rec),
	}, ErrProofInvalid
}
