package sca

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	internalaudit "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/audit"
)

// Method is one of the four regulated proof methods.
type Method uint8

const (
	// MethodNone means no method was selected or preferred.
	MethodNone Method = iota
	// MethodDigitalIdentity is a national digital-identity signature.
	MethodDigitalIdentity
	// MethodMobileWallet is a push approval in the subject's mobile wallet.
	MethodMobileWallet
	// MethodOneTimeCode is a code delivered out-of-band and typed back by the subject.
	MethodOneTimeCode
	// MethodBiometric is a device biometric assertion.
	MethodBiometric
)

var methodNames = map[Method]string{
	MethodDigitalIdentity: "digital_identity",
	MethodMobileWallet:    "mobile_wallet",
	MethodOneTimeCode:     "one_time_code",
	MethodBiometric:       "biometric",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "none"
}

// ParseMethod maps a method name back to its value. Unknown names return MethodNone.
func ParseMethod(name string) Method {
	name = strings.ToLower(strings.TrimSpace(name))
	for m, n := range methodNames {
		if n == name {
			return m
		}
	}
	return MethodNone
}

// ChallengeStatus is the state of a challenge.
//
//	INITIATED -> PENDING -> {COMPLETED | FAILED | EXPIRED}
//	INITIATED -> EXEMPTED
type ChallengeStatus uint8

const (
	StatusInitiated ChallengeStatus = iota + 1
	StatusPending
	StatusCompleted
	StatusFailed
	StatusExpired
	StatusExempted
)

func (s ChallengeStatus) String() string {
	switch s {
	case StatusInitiated:
		return "INITIATED"
	case StatusPending:
		return "PENDING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	case StatusExpired:
		return "EXPIRED"
	case StatusExempted:
		return "EXEMPTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is allowed.
func (s ChallengeStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusExempted:
		return true
	default:
		return false
	}
}

// ExemptionReason names the exemption rule that matched.
type ExemptionReason uint8

const (
	ReasonNone ExemptionReason = iota
	ReasonLowValue
	ReasonTrustedCounterparty
	ReasonRecurringPattern
	ReasonCorporate
	// ReasonNotRequired marks challenges bypassed because SCA was not required.
	ReasonNotRequired
)

func (r ExemptionReason) String() string {
	switch r {
	case ReasonLowValue:
		return "low_value"
	case ReasonTrustedCounterparty:
		return "trusted_counterparty"
	case ReasonRecurringPattern:
		return "recurring_pattern"
	case ReasonCorporate:
		return "corporate"
	case ReasonNotRequired:
		return "not_required"
	default:
		return ""
	}
}

// ExemptionResult is the outcome of [Engine.CheckExemption].
type ExemptionResult struct {
	Exempt bool
	Reason ExemptionReason
}

// RequirementRule names the requirement rule that fired.
type RequirementRule string

const (
	RuleNone       RequirementRule = "none"
	RuleAmount     RequirementRule = "amount"
	RuleCumulative RequirementRule = "cumulative"
	RuleDailyCount RequirementRule = "daily_count"
	RuleNewAccount RequirementRule = "new_account"
	RuleRiskScore  RequirementRule = "risk_score"
	// RuleFailClosed marks a decision forced by a data-source error.
	RuleFailClosed RequirementRule = "fail_closed"
)

// RequirementDecision is the outcome of [Engine.EvaluateRequirement].
type RequirementDecision struct {
	Required bool
	Rule     RequirementRule
}

// Challenge is the caller-visible view of one authentication attempt.
// Secret material never appears here.
type Challenge struct {
	ID              string
	SubjectID       string
	SessionID       string
	Status          ChallengeStatus
	Method          Method
	ExemptionReason ExemptionReason
	CreatedAt       time.Time
	ExpiresAt       time.Time
	AttemptCount    int
	MaxAttempts     int
	LastAttemptAt   *time.Time
	CompletedAt     *time.Time
	// Display carries method-specific data for the client, such as a
	// launch URL or a masked delivery destination.
	Display map[string]string
}

// InitiateRequest starts a challenge for one transaction.
type InitiateRequest struct {
	SubjectID       string
	SessionID       string
	Amount          decimal.Decimal
	PaymentMethod   string
	CounterpartyID  string
	PreferredMethod Method
}

// ChallengeRef addresses a stored challenge. Keys are namespaced by subject
// and session, so all three fields are required.
type ChallengeRef struct {
	SubjectID   string
	SessionID   string
	ChallengeID string
}

// Proof is the caller-supplied credential for [Engine.Validate]. Only the
// field matching the challenge method is read; push methods need none.
type Proof struct {
	Code      string
	Assertion string
}

// ValidateRequest submits a proof for a challenge.
type ValidateRequest struct {
	ChallengeRef
	Proof Proof
}

// ValidateResult is returned by [Engine.Validate].
type ValidateResult struct {
	Status            ChallengeStatus
	Token             *IssuedToken
	AttemptsRemaining int
	// AlreadyCompleted is set when the challenge was completed by an earlier
	// call. No token is issued in that case.
	AlreadyCompleted bool
}

// IssuedToken is a signed SCA token together with its bound fields.
type IssuedToken struct {
	Token     string
	ID        string
	SubjectID string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenClaims are the verified fields of a presented token.
type TokenClaims struct {
	ID        string
	SubjectID string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SubjectProfile is the subject data used by policy checks and method selection.
type SubjectProfile struct {
	SubjectID             string
	AccountCreatedAt      time.Time
	RiskScore             float64
	Corporate             bool
	TrustedCounterparties []string
	RegisteredMethods     []Method
	BiometricEnabled      bool
	// ContactDestination is the phone number or address used for one-time codes.
	ContactDestination string
}

func (p SubjectProfile) hasMethod(m Method) bool {
	for _, registered := range p.RegisteredMethods {
		if registered == m {
			return true
		}
	}
	return false
}

// SubjectProvider loads subject profiles.
type SubjectProvider interface {
	Profile(ctx context.Context, subjectID string) (SubjectProfile, error)
}

// Transaction is one authorised transaction of a subject.
type Transaction struct {
	Amount         decimal.Decimal
	CounterpartyID string
	AuthorizedAt   time.Time
}

// TransactionHistory reads a subject's transaction history.
type TransactionHistory interface {
	// AuthorizedSince returns the subject's authorised transactions at or after since.
	AuthorizedSince(ctx context.Context, subjectID string, since time.Time) ([]Transaction, error)
	// SuccessfulCount returns the number of successful transactions with the counterparty.
	SuccessfulCount(ctx context.Context, subjectID, counterpartyID string) (int, error)
}

// ProofRequest is sent to a provider when a challenge starts.
type ProofRequest struct {
	ChallengeID   string
	SubjectID     string
	Method        Method
	Amount        decimal.Decimal
	PaymentMethod string
	ExpiresAt     time.Time
}

// ProviderHandle identifies an in-flight proof at the provider.
type ProviderHandle struct {
	Handle  string
	Display map[string]string
}

// CollectRequest asks a provider for the outcome of a proof.
type CollectRequest struct {
	Handle    string
	SubjectID string
	Method    Method
	// Assertion is the device assertion for biometric proofs.
	Assertion string
}

// ProviderOutcome is the state of a proof at the provider.
type ProviderOutcome uint8

const (
	OutcomePending ProviderOutcome = iota + 1
	OutcomeApproved
	OutcomeRejected
)

func (o ProviderOutcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeApproved:
		return "approved"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ProviderResult is returned by [ProofProvider.Collect].
type ProviderResult struct {
	Outcome    ProviderOutcome
	Attributes map[string]string
}

// ProofProvider is an external identity-proof system. Initiate is called
// once per challenge; Collect may be polled until a terminal outcome.
type ProofProvider interface {
	Initiate(ctx context.Context, req ProofRequest) (ProviderHandle, error)
	Collect(ctx context.Context, req CollectRequest) (ProviderResult, error)
}

// DeliveryChannel delivers one-time codes out of band.
type DeliveryChannel interface {
	Send(ctx context.Context, destination, message string) error
}

// AuditEvent is the audit record emitted by the engine and the security middleware.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink writes audit events into a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// NewChannelSink returns a [ChannelSink] with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// JSONWriterSink writes one JSON object per audit event.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewJSONWriterSink returns a [JSONWriterSink] writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MultiSink fans each audit event out to several sinks.
type MultiSink = internalaudit.MultiSink

// NewMultiSink combines sinks, skipping nil ones.
func NewMultiSink(sinks ...AuditSink) MultiSink {
	return internalaudit.NewMultiSink(sinks...)
}
