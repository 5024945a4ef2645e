package sca

import (
	"sort"
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	// MetricChallengeInitiated counts challenges that reached PENDING.
	MetricChallengeInitiated MetricID = iota
	// MetricChallengeExempted counts challenges bypassed as EXEMPTED.
	MetricChallengeExempted
	// MetricChallengeCompleted counts fresh COMPLETED transitions.
	MetricChallengeCompleted
	// MetricChallengeAlreadyCompleted counts validations of an already completed challenge.
	MetricChallengeAlreadyCompleted
	// MetricChallengeFailed counts challenges that reached FAILED.
	MetricChallengeFailed
	// MetricChallengeExpired counts validations answered with an expired challenge.
	MetricChallengeExpired
	// MetricChallengeAttemptsExceeded counts validations refused for a spent attempt budget.
	MetricChallengeAttemptsExceeded
	// MetricProofRejected counts proofs rejected by a method.
	MetricProofRejected
	// MetricProofPending counts validations answered with a pending provider outcome.
	MetricProofPending
	// MetricProviderUnavailable counts failed or timed-out provider calls.
	MetricProviderUnavailable
	// MetricPolicyFailClosed counts requirement checks forced to required by an error.
	MetricPolicyFailClosed
	// MetricTokenIssued counts issued SCA tokens.
	MetricTokenIssued
	// MetricTokenRejected counts presented SCA tokens that failed validation.
	MetricTokenRejected
	// MetricTokenRevoked counts revoked SCA tokens.
	MetricTokenRevoked
	// MetricRequestRateLimited counts requests rejected by the rate limiter.
	MetricRequestRateLimited
	// MetricRequestSignatureInvalid counts requests rejected for a bad signature.
	MetricRequestSignatureInvalid
	// MetricRequestPayloadTooLarge counts requests rejected for body size.
	MetricRequestPayloadTooLarge
	// MetricRequestSuspiciousFlagged counts requests with exactly one heuristic signal.
	MetricRequestSuspiciousFlagged
	// MetricRequestSuspiciousBlocked counts requests blocked by compounded heuristic signals.
	MetricRequestSuspiciousBlocked
	// MetricRequestRejectedInternal counts requests rejected because a core check failed internally.
	MetricRequestRejectedInternal
	// MetricValidateLatency is the end-to-end Validate latency.
	MetricValidateLatency
	// MetricInitiateLatency is the end-to-end Initiate latency.
	MetricInitiateLatency
	// MetricProviderLatency is the latency of one proof provider round trip.
	MetricProviderLatency
	// MetricRequestLatency is the latency of a request through the security middleware.
	MetricRequestLatency
	metricIDCount
)

// LatencyBuckets are the upper bounds of the latency histograms. Each
// histogram has one more bucket for observations above the last bound.
var LatencyBuckets = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(LatencyBuckets) + 1

// histogramIDs are the histogram-backed metrics, in slot order.
var histogramIDs = [...]MetricID{
	MetricValidateLatency,
	MetricInitiateLatency,
	MetricProviderLatency,
	MetricRequestLatency,
}

// IsHistogram reports whether id is recorded with [Metrics.Observe].
func IsHistogram(id MetricID) bool {
	return histogramSlot(id) >= 0
}

func histogramSlot(id MetricID) int {
	for i, h := range histogramIDs {
		if h == id {
			return i
		}
	}
	return -1
}

type latencyHistogram struct {
	buckets [histBucketCount]atomic.Uint64
	sum     atomic.Int64
}

// counterCell keeps each counter on its own cache line.
type counterCell struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics holds lock-free counters and latency histograms. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]counterCell
	histograms    [len(histogramIDs)]latencyHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
// Histograms holds per-bucket (non-cumulative) counts; Sums holds the total
// observed duration per histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	Sums       map[MetricID]time.Duration
}

// NewMetrics returns a Metrics configured from cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter for id. Histogram ids are ignored.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount || IsHistogram(id) {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d in the histogram for id. Counter ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() {
		return
	}
	slot := histogramSlot(id)
	if slot < 0 {
		return
	}
	if d < 0 {
		d = 0
	}
	h := &m.histograms[slot]
	h.buckets[bucketIndex(d)].Add(1)
	h.sum.Add(int64(d))
}

// Since observes the time elapsed from start. It is meant for defer.
func (m *Metrics) Since(id MetricID, start time.Time) {
	if m.LatencyEnabled() {
		m.Observe(id, time.Since(start))
	}
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies the current values. Disabled metrics return empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
		Sums:       map[MetricID]time.Duration{},
	}
	if !m.Enabled() {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if !IsHistogram(id) {
			s.Counters[id] = m.counters[id].Load()
		}
	}

	if m.enableLatency {
		for slot, id := range histogramIDs {
			h := &m.histograms[slot]
			buckets := make([]uint64, histBucketCount)
			for i := range buckets {
				buckets[i] = h.buckets[i].Load()
			}
			s.Histograms[id] = buckets
			s.Sums[id] = time.Duration(h.sum.Load())
		}
	}

	return s
}

func bucketIndex(d time.Duration) int {
	return sort.Search(len(LatencyBuckets), func(i int) bool { return d <= LatencyBuckets[i] })
}
