package sca

import (
	"context"
	"errors"
	"strings"

	otellog "go.opentelemetry.io/otel/log"

	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/stores"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/token"
)

// IssueToken signs a token bound to the subject and session and stores its
// copy for server-side revocation.
func (e *Engine) IssueToken(ctx context.Context, subjectID, sessionID string) (*IssuedToken, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !validKeyPart(subjectID) || !validKeyPart(sessionID) {
		return nil, ErrValidation
	}

	issued, err := e.mintToken(ctx, subjectID, sessionID)
	if err != nil {
		return nil, err
	}
	e.tokenIssued(ctx, issued)
	return issued, nil
}

// mintToken signs a token and persists its store copy without announcing it.
// Validate mints before the COMPLETED transition and discards the copy when
// the transition is lost.
func (e *Engine) mintToken(ctx context.Context, subjectID, sessionID string) (*IssuedToken, error) {
	raw, claims, err := e.tokenManager.Issue(subjectID, sessionID)
	if err != nil {
		return nil, err
	}

	key := e.tokenKey(subjectID, sessionID, claims.ID)
	if err := e.tokens.Save(ctx, key, raw, e.tokenManager.TTL()); err != nil {
		e.log(ctx, otellog.SeverityError, "sca token persist failed",
			otellog.String("subject_id", subjectID),
			otellog.String("error", err.Error()),
		)
		return nil, ErrStoreUnavailable
	}

	return &IssuedToken{
		Token:     raw,
		ID:        claims.ID,
		SubjectID: subjectID,
		SessionID: sessionID,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

func (e *Engine) tokenIssued(ctx context.Context, t *IssuedToken) {
	e.metricInc(MetricTokenIssued)
	e.emitAudit(ctx, auditEventTokenIssued, true, auditSubject{subjectID: t.SubjectID, sessionID: t.SessionID}, nil, func() map[string]string {
		return map[string]string{"token_id": t.ID}
	})
}

// discardToken removes the store copy of a minted token that was never
// handed out.
func (e *Engine) discardToken(ctx context.Context, t *IssuedToken) {
	if err := e.tokens.Delete(ctx, e.tokenKey(t.SubjectID, t.SessionID, t.ID)); err != nil {
		e.log(ctx, otellog.SeverityWarn, "sca minted token discard failed",
			otellog.String("subject_id", t.SubjectID),
			otellog.String("error", err.Error()),
		)
	}
}

// ValidateToken verifies the signature and expiry of raw and that its store
// copy still exists. A token whose copy was deleted is rejected with
// [ErrTokenRevoked] even though its signature verifies.
func (e *Engine) ValidateToken(ctx context.Context, raw string) (*TokenClaims, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	claims, err := e.tokenManager.Parse(raw)
	if err != nil {
		mapped := ErrTokenInvalid
		if errors.Is(err, token.ErrExpired) {
			mapped = ErrTokenExpired
		}
		e.tokenRejected(ctx, auditSubject{}, mapped)
		return nil, mapped
	}

	subject := auditSubject{subjectID: claims.Subject, sessionID: claims.SessionID}
	if !validKeyPart(claims.Subject) || !validKeyPart(claims.SessionID) {
		e.tokenRejected(ctx, subject, ErrTokenInvalid)
		return nil, ErrTokenInvalid
	}

	err = e.tokens.Verify(ctx, e.tokenKey(claims.Subject, claims.SessionID, claims.ID), raw)
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrTokenNotFound):
		e.tokenRejected(ctx, subject, ErrTokenRevoked)
		return nil, ErrTokenRevoked
	case errors.Is(err, stores.ErrTokenMismatch):
		e.tokenRejected(ctx, subject, ErrTokenInvalid)
		return nil, ErrTokenInvalid
	default:
		e.log(ctx, otellog.SeverityError, "sca token store failure", otellog.String("error", err.Error()))
		return nil, ErrStoreUnavailable
	}

	return &TokenClaims{
		ID:        claims.ID,
		SubjectID: claims.Subject,
		SessionID: claims.SessionID,
		IssuedAt:  claims.IssuedAt.Time.UTC(),
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// ValidateTokenFor validates raw and additionally requires it to be bound to
// the given subject and session.
func (e *Engine) ValidateTokenFor(ctx context.Context, raw, subjectID, sessionID string) (*TokenClaims, error) {
	claims, err := e.ValidateToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	if claims.SubjectID != subjectID || claims.SessionID != sessionID {
		e.tokenRejected(ctx, auditSubject{subjectID: subjectID, sessionID: sessionID}, ErrTokenInvalid)
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// RevokeToken deletes the store copy of raw. The token must still verify;
// revoking an already revoked token succeeds.
func (e *Engine) RevokeToken(ctx context.Context, raw string) error {
	claims, err := e.ValidateToken(ctx, raw)
	if errors.Is(err, ErrTokenRevoked) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := e.tokens.Delete(ctx, e.tokenKey(claims.SubjectID, claims.SessionID, claims.ID)); err != nil {
		e.log(ctx, otellog.SeverityError, "sca token revoke failed", otellog.String("error", err.Error()))
		return ErrStoreUnavailable
	}

	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, auditEventTokenRevoked, true, auditSubject{subjectID: claims.SubjectID, sessionID: claims.SessionID}, nil, func() map[string]string {
		return map[string]string{"token_id": claims.ID}
	})
	return nil
}

func (e *Engine) tokenRejected(ctx context.Context, subject auditSubject, err error) {
	e.metricInc(MetricTokenRejected)
	e.log(ctx, otellog.SeverityInfo, "sca token rejected",
		otellog.String("subject_id", subject.subjectID),
		otellog.String("reason", ErrorCode(err)),
	)
	e.emitAudit(ctx, auditEventTokenRejected, false, subject, err, nil)
}
