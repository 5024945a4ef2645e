package sca

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrValidation reports malformed input. It is not security relevant.
	ErrValidation = errors.New("validation failed")
	// ErrAuthenticationRequired is a policy outcome: the transaction needs SCA.
	// No engine operation returns it; [Engine.IsAuthenticationRequired]
	// reports the outcome as a value. Hosts that reject an unauthenticated
	// payment return it so [ErrorCode] and [HTTPStatus] map it.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrExemptionDenied is a policy outcome: no exemption applies. Like
	// [ErrAuthenticationRequired] it is never returned by the engine;
	// [Engine.CheckExemption] reports the outcome as a value.
	ErrExemptionDenied = errors.New("exemption denied")
	// ErrChallengeExpired is returned for expired and for unknown challenges alike.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeAttemptsExceeded is returned once the attempt budget is spent.
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	// ErrProviderUnavailable reports a failed or timed-out proof provider call.
	// Callers may retry by initiating a new challenge.
	ErrProviderUnavailable = errors.New("proof provider unavailable")
	// ErrProofInvalid reports a rejected proof. The attempt was charged.
	ErrProofInvalid = errors.New("proof invalid")
	// ErrProofPending reports that the provider has not reached an outcome
	// yet. The attempt is not charged and the caller may validate again.
	ErrProofPending = errors.New("proof pending")
	// ErrNoProofMethod is returned when no proof method is available for the subject.
	ErrNoProofMethod = errors.New("no proof method available")
	// ErrSignatureInvalid reports a missing, stale or mismatched request signature.
	ErrSignatureInvalid = errors.New("request signature invalid")
	// ErrRateLimitExceeded reports an exhausted rate-limit window.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrSuspiciousActivityBlocked reports a request blocked by compounded heuristics.
	ErrSuspiciousActivityBlocked = errors.New("suspicious activity blocked")
	// ErrPayloadTooLarge reports a request body above the configured ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrStoreUnavailable reports a challenge store failure. The subsystem fails closed.
	ErrStoreUnavailable = errors.New("challenge store unavailable")
	// ErrTokenInvalid reports a token whose signature or claims do not verify.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired reports a correctly signed but expired token.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked reports a token whose store copy is gone.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrEngineNotReady is returned by a nil or partially built Engine.
	ErrEngineNotReady = errors.New("engine not ready")
)

type errorClass struct {
	err       error
	code      string
	status    int
	retryable bool
}

var errorClasses = []errorClass{
	{ErrValidation, "VALIDATION_ERROR", http.StatusBadRequest, false},
	{ErrAuthenticationRequired, "AUTHENTICATION_REQUIRED", http.StatusForbidden, false},
	{ErrExemptionDenied, "EXEMPTION_DENIED", http.StatusForbidden, false},
	{ErrChallengeExpired, "CHALLENGE_EXPIRED", http.StatusGone, false},
	{ErrChallengeAttemptsExceeded, "CHALLENGE_ATTEMPTS_EXCEEDED", http.StatusForbidden, false},
	{ErrProviderUnavailable, "PROVIDER_UNAVAILABLE", http.StatusServiceUnavailable, true},
	{ErrProofInvalid, "PROOF_INVALID", http.StatusUnauthorized, false},
	{ErrProofPending, "PROOF_PENDING", http.StatusAccepted, true},
	{ErrNoProofMethod, "NO_PROOF_METHOD", http.StatusUnprocessableEntity, false},
	{ErrSignatureInvalid, "SIGNATURE_INVALID", http.StatusUnauthorized, false},
	{ErrRateLimitExceeded, "RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests, true},
	{ErrSuspiciousActivityBlocked, "SUSPICIOUS_ACTIVITY_BLOCKED", http.StatusForbidden, false},
	{ErrPayloadTooLarge, "PAYLOAD_TOO_LARGE", http.StatusRequestEntityTooLarge, false},
	{ErrStoreUnavailable, "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, true},
	{ErrTokenInvalid, "TOKEN_INVALID", http.StatusUnauthorized, false},
	{ErrTokenExpired, "TOKEN_EXPIRED", http.StatusUnauthorized, false},
	{ErrTokenRevoked, "TOKEN_INVALID", http.StatusUnauthorized, false},
	{ErrEngineNotReady, "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, true},
}

const (
	internalErrorCode    = "INTERNAL_ERROR"
	internalErrorMessage = "internal error"
)

func classify(err error) (errorClass, bool) {
	if err == nil {
		return errorClass{}, false
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return c, true
		}
	}
	return errorClass{}, false
}

// ErrorCode returns the stable, caller-visible code for err.
func ErrorCode(err error) string {
	if c, ok := classify(err); ok {
		return c.code
	}
	return internalErrorCode
}

// HTTPStatus returns the response status for err.
func HTTPStatus(err error) int {
	if c, ok := classify(err); ok {
		return c.status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the caller may retry the operation that failed with err.
func Retryable(err error) bool {
	c, ok := classify(err)
	return ok && c.retryable
}

// ErrorBody is the structured error response returned to callers.
type ErrorBody struct {
	Code          string    `json:"code"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewErrorBody renders err for callers. Only the sentinel's own message is
// exposed; wrapped detail and unknown errors never leave the process.
func NewErrorBody(err error, correlationID string, now time.Time) ErrorBody {
	body := ErrorBody{
		Code:          internalErrorCode,
		Message:       internalErrorMessage,
		CorrelationID: correlationID,
		Timestamp:     now.UTC(),
	}
	if c, ok := classify(err); ok {
		body.Code = c.code
		body.Message = c.err.Error()
		if c.err == ErrStoreUnavailable || c.err == ErrEngineNotReady {
			body.Message = "service unavailable"
		}
		if c.err == ErrTokenRevoked {
			body.Message = ErrTokenInvalid.Error()
		}
	}
	return body
}
