package internaldefs

import (
	"strconv"
	"strings"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
)

// Def binds an engine metric to its exported name.
type Def struct {
	ID   sca.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter.
var CounterDefs = []Def{
	{sca.MetricChallengeInitiated, "sca_challenge_initiated_total", "Challenges that reached PENDING."},
	{sca.MetricChallengeExempted, "sca_challenge_exempted_total", "Challenges bypassed as EXEMPTED."},
	{sca.MetricChallengeCompleted, "sca_challenge_completed_total", "Challenges completed with a fresh proof."},
	{sca.MetricChallengeAlreadyCompleted, "sca_challenge_already_completed_total", "Validations of an already completed challenge."},
	{sca.MetricChallengeFailed, "sca_challenge_failed_total", "Challenges that reached FAILED."},
	{sca.MetricChallengeExpired, "sca_challenge_expired_total", "Validations of expired or unknown challenges."},
	{sca.MetricChallengeAttemptsExceeded, "sca_challenge_attempts_exceeded_total", "Validations refused for a spent attempt budget."},
	{sca.MetricProofRejected, "sca_proof_rejected_total", "Proofs rejected by a method."},
	{sca.MetricProofPending, "sca_proof_pending_total", "Validations answered with a pending provider outcome."},
	{sca.MetricProviderUnavailable, "sca_provider_unavailable_total", "Failed or timed-out provider calls."},
	{sca.MetricPolicyFailClosed, "sca_policy_fail_closed_total", "Requirement checks forced to required by a data-source error."},
	{sca.MetricTokenIssued, "sca_token_issued_total", "Issued SCA tokens."},
	{sca.MetricTokenRejected, "sca_token_rejected_total", "Presented SCA tokens that failed validation."},
	{sca.MetricTokenRevoked, "sca_token_revoked_total", "Revoked SCA tokens."},
	{sca.MetricRequestRateLimited, "sca_request_rate_limited_total", "Requests rejected by the rate limiter."},
	{sca.MetricRequestSignatureInvalid, "sca_request_signature_invalid_total", "Requests rejected for a missing or bad signature."},
	{sca.MetricRequestPayloadTooLarge, "sca_request_payload_too_large_total", "Requests rejected for body size."},
	{sca.MetricRequestSuspiciousFlagged, "sca_request_suspicious_flagged_total", "Requests passed with a single heuristic signal."},
	{sca.MetricRequestSuspiciousBlocked, "sca_request_suspicious_blocked_total", "Requests blocked by compounded heuristic signals."},
	{sca.MetricRequestRejectedInternal, "sca_request_rejected_internal_total", "Requests rejected because a security check failed internally."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []Def{
	{sca.MetricValidateLatency, "sca_validate_latency_seconds", "Validate latency."},
	{sca.MetricInitiateLatency, "sca_initiate_latency_seconds", "Initiate latency."},
	{sca.MetricProviderLatency, "sca_provider_latency_seconds", "Proof provider round-trip latency."},
	{sca.MetricRequestLatency, "sca_request_latency_seconds", "Request latency through the security middleware."},
}

// AuditDropped is exported next to the engine metrics.
var AuditDropped = Def{Name: "sca_audit_dropped_total", Help: "Dropped audit events due to dispatcher backpressure."}

// Bucket is one exported histogram bucket: its Prometheus le label and a
// metric-name-safe suffix.
type Bucket struct {
	Le     string
	Suffix string
}

// Buckets mirrors sca.LatencyBuckets plus the +Inf overflow bucket.
var Buckets = func() []Bucket {
	out := make([]Bucket, 0, len(sca.LatencyBuckets)+1)
	for _, bound := range sca.LatencyBuckets {
		le := strconv.FormatFloat(bound.Seconds(), 'f', -1, 64)
		out = append(out, Bucket{Le: le, Suffix: strings.ReplaceAll(le, ".", "_")})
	}
	return append(out, Bucket{Le: "+Inf", Suffix: "inf"})
}()

// Cumulative converts per-bucket counts into cumulative counts over
// len(Buckets) entries. Missing buckets count as zero.
func Cumulative(raw []uint64) []uint64 {
	out := make([]uint64, len(Buckets))
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
