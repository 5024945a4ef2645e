package sca

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/stores"
)

const (
	otpKeyInfo   = "sca-one-time-code"
	tokenKeyInfo = "sca-token"
)

// methodPreference is the default selection order when the caller states no
// usable preference.
var methodPreference = []Method{
	MethodDigitalIdentity,
	MethodMobileWallet,
	MethodOneTimeCode,
	MethodBiometric,
}

type startRequest struct {
	challengeID   string
	subjectID     string
	amount        decimal.Decimal
	paymentMethod string
	expiresAt     time.Time
	profile       SubjectProfile
}

type startResult struct {
	handle  string
	secret  []byte
	display map[string]string
	// expiresAt shortens the challenge lifetime when non-zero.
	expiresAt time.Time
}

// proofMethod is implemented by exactly four variants, one per [Method].
type proofMethod interface {
	kind() Method
	eligible(p SubjectProfile) bool
	checkProof(p Proof) error
	start(ctx context.Context, req startRequest) (startResult, error)
	verify(ctx context.Context, rec *stores.ChallengeRecord, p Proof) (ProviderOutcome, error)
}

func buildMethods(cfg Config, providers map[Method]ProofProvider, delivery DeliveryChannel, clock func() time.Time) (map[Method]proofMethod, error) {
	methods := make(map[Method]proofMethod, len(methodPreference))
	for m, p := range providers {
		if p == nil {
			continue
		}
		switch m {
		case MethodDigitalIdentity:
			methods[m] = &digitalIdentityProof{pushProof{method: m, provider: p}}
		case MethodMobileWallet:
			methods[m] = &walletProof{pushProof{method: m, provider: p}}
		case MethodBiometric:
			methods[m] = &biometricProof{provider: p}
		case MethodOneTimeCode:
			return nil, errors.New("one-time codes use a delivery channel, not a provider")
		default:
			return nil, fmt.Errorf("unknown proof method %d", m)
		}
	}
	if delivery != nil {
		methods[MethodOneTimeCode] = &oneTimeCodeProof{
			delivery: delivery,
			key:      deriveKey(cfg.Security.SigningKey, otpKeyInfo),
			digits:   cfg.OneTimeCode.Digits,
			ttl:      cfg.OneTimeCode.Expiry,
			template: cfg.OneTimeCode.MessageTemplate,
			now:      clock,
		}
	}
	if len(methods) == 0 {
		return nil, errors.New("at least one proof method must be configured")
	}
	return methods, nil
}

func deriveKey(master []byte, info string) []byte {
	return internal.DeriveKey(master, info)
}

// selectMethod honours a registered preference, then falls back to the
// fixed preference order.
func (e *Engine) selectMethod(profile SubjectProfile, preferred Method) (proofMethod, bool) {
	if preferred != MethodNone && profile.hasMethod(preferred) {
		if m, ok := e.methods[preferred]; ok && m.eligible(profile) {
			return m, true
		}
	}
	for _, kind := range methodPreference {
		if m, ok := e.methods[kind]; ok && m.eligible(profile) {
			return m, true
		}
	}
	return nil, false
}

func providerOutcome(res ProviderResult) (ProviderOutcome, error) {
	switch res.Outcome {
	case OutcomePending, OutcomeApproved, OutcomeRejected:
		return res.Outcome, nil
	default:
		return 0, fmt.Errorf("provider returned unknown outcome %d", res.Outcome)
	}
}

// digitalIdentityProof is approval through the national digital identity app.
type digitalIdentityProof struct{ pushProof }

// walletProof is approval inside the subject's mobile wallet.
type walletProof struct{ pushProof }

// pushProof holds the shared behaviour of the two push-approval variants. The
// subject confirms out of band; Validate collects the outcome.
type pushProof struct {
	method   Method
	provider ProofProvider
}

func (p *pushProof) kind() Method { return p.method }

func (p *pushProof) eligible(profile SubjectProfile) bool {
	return profile.hasMethod(p.method)
}

func (p *pushProof) checkProof(Proof) error { return nil }

func (p *pushProof) start(ctx context.Context, req startRequest) (startResult, error) {
	handle, err := p.provider.Initiate(ctx, ProofRequest{
		ChallengeID:   req.challengeID,
		SubjectID:     req.subjectID,
		Method:        p.method,
		Amount:        req.amount,
		PaymentMethod: req.paymentMethod,
		ExpiresAt:     req.expiresAt,
	})
	if err != nil {
		return startResult{}, err
	}
	if handle.Handle == "" {
		return startResult{}, errors.New("provider returned an empty handle")
	}
	return startResult{handle: handle.Handle, display: handle.Display}, nil
}

func (p *pushProof) verify(ctx context.Context, rec *stores.ChallengeRecord, _ Proof) (ProviderOutcome, error) {
	res, err := p.provider.Collect(ctx, CollectRequest{
		Handle:    rec.ProviderHandle,
		SubjectID: rec.SubjectID,
		Method:    p.method,
	})
	if err != nil {
		return 0, err
	}
	return providerOutcome(res)
}

// biometricProof asks the provider for a device challenge and then submits
// the device assertion for verification.
type biometricProof struct {
	provider ProofProvider
}

func (p *biometricProof) kind() Method { return MethodBiometric }

func (p *biometricProof) eligible(profile SubjectProfile) bool {
	return profile.BiometricEnabled
}

func (p *biometricProof) checkProof(proof Proof) error {
	if strings.TrimSpace(proof.Assertion) == "" {
		return ErrValidation
	}
	return nil
}

func (p *biometricProof) start(ctx context.Context, req startRequest) (startResult, error) {
	handle, err := p.provider.Initiate(ctx, ProofRequest{
		ChallengeID:   req.challengeID,
		SubjectID:     req.subjectID,
		Method:        MethodBiometric,
		Amount:        req.amount,
		PaymentMethod: req.paymentMethod,
		ExpiresAt:     req.expiresAt,
	})
	if err != nil {
		return startResult{}, err
	}
	if handle.Handle == "" {
		return startResult{}, errors.New("provider returned an empty handle")
	}
	return startResult{handle: handle.Handle, display: handle.Display}, nil
}

func (p *biometricProof) verify(ctx context.Context, rec *stores.ChallengeRecord, proof Proof) (ProviderOutcome, error) {
	res, err := p.provider.Collect(ctx, CollectRequest{
		Handle:    rec.ProviderHandle,
		SubjectID: rec.SubjectID,
		Method:    MethodBiometric,
		Assertion: proof.Assertion,
	})
	if err != nil {
		return 0, err
	}
	return providerOutcome(res)
}

// oneTimeCodeProof sends a random code over the delivery channel and keeps
// only its keyed digest.
type oneTimeCodeProof struct {
	delivery DeliveryChannel
	key      []byte
	digits   int
	ttl      time.Duration
	template string
	now      func() time.Time
}

func (p *oneTimeCodeProof) kind() Method { return MethodOneTimeCode }

func (p *oneTimeCodeProof) eligible(profile SubjectProfile) bool {
	return strings.TrimSpace(profile.ContactDestination) != ""
}

func (p *oneTimeCodeProof) checkProof(proof Proof) error {
	code := strings.TrimSpace(proof.Code)
	if len(code) != p.digits || strings.Trim(code, "0123456789") != "" {
		return ErrValidation
	}
	return nil
}

func (p *oneTimeCodeProof) start(ctx context.Context, req startRequest) (startResult, error) {
	code, err := internal.NewOTP(p.digits)
	if err != nil {
		return startResult{}, err
	}
	destination := strings.TrimSpace(req.profile.ContactDestination)
	if err := p.delivery.Send(ctx, destination, fmt.Sprintf(p.template, code)); err != nil {
		return startResult{}, err
	}

	expiresAt := p.now().Add(p.ttl)
	if req.expiresAt.Before(expiresAt) {
		expiresAt = req.expiresAt
	}
	return startResult{
		secret:    internal.HashOTP(p.key, req.challengeID, code),
		display:   map[string]string{"destination": internal.MaskDestination(destination)},
		expiresAt: expiresAt,
	}, nil
}

func (p *oneTimeCodeProof) verify(_ context.Context, rec *stores.ChallengeRecord, proof Proof) (ProviderOutcome, error) {
	if internal.VerifyOTP(p.key, rec.ID, strings.TrimSpace(proof.Code), rec.Secret) {
		return OutcomeApproved, nil
	}
	return OutcomeRejected, nil
}
