package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
)

// Handlers contains the HTTP handlers for the SCA endpoints.
type Handlers struct {
	engine Orchestrator
}

// NewHandlers creates new handlers.
func NewHandlers(engine Orchestrator) *Handlers {
	return &Handlers{engine: engine}
}

type transactionRequest struct {
	SubjectID      string          `json:"subject_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentMethod  string          `json:"payment_method"`
	CounterpartyID string          `json:"counterparty_id"`
}

type initiateRequest struct {
	transactionRequest
	SessionID       string `json:"session_id" binding:"required"`
	PreferredMethod string `json:"preferred_method"`
}

type validateRequest struct {
	SubjectID string `json:"subject_id" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
	Code      string `json:"code"`
	Assertion string `json:"assertion"`
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type challengeView struct {
	ID              string            `json:"id"`
	SubjectID       string            `json:"subject_id"`
	SessionID       string            `json:"session_id"`
	Status          string            `json:"status"`
	Method          string            `json:"method,omitempty"`
	ExemptionReason string            `json:"exemption_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ExpiresAt       time.Time         `json:"expires_at"`
	AttemptCount    int               `json:"attempt_count"`
	MaxAttempts     int               `json:"max_attempts"`
	LastAttemptAt   *time.Time        `json:"last_attempt_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Display         map[string]string `json:"display,omitempty"`
}

func toChallengeView(ch *sca.Challenge) challengeView {
	v := challengeView{
		ID:              ch.ID,
		SubjectID:       ch.SubjectID,
		SessionID:       ch.SessionID,
		Status:          ch.Status.String(),
		ExemptionReason: ch.ExemptionReason.String(),
		CreatedAt:       ch.CreatedAt,
		ExpiresAt:       ch.ExpiresAt,
		AttemptCount:    ch.AttemptCount,
		MaxAttempts:     ch.MaxAttempts,
		LastAttemptAt:   ch.LastAttemptAt,
		CompletedAt:     ch.CompletedAt,
		Display:         ch.Display,
	}
	if ch.Method != sca.MethodNone {
		v.Method = ch.Method.String()
	}
	return v
}

type tokenView struct {
	Token     string    `json:"token,omitempty"`
	ID        string    `json:"id"`
	SubjectID string    `json:"subject_id"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type validateView struct {
	Status            string     `json:"status"`
	AttemptsRemaining int        `json:"attempts_remaining"`
	AlreadyCompleted  bool       `json:"already_completed,omitempty"`
	Token             *tokenView `json:"token,omitempty"`
}

// validateErrorView carries the updated challenge state next to the error
// for rejected and pending proofs.
type validateErrorView struct {
	sca.ErrorBody
	Status            string `json:"status"`
	AttemptsRemaining int    `json:"attempts_remaining"`
}

func bindError(c *gin.Context) {
	respondError(c, sca.ErrValidation)
}

// Requirement reports whether a transaction needs strong authentication.
// Data-source failures still answer 200 with required=true.
func (h *Handlers) Requirement(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c)
		return
	}

	decision, err := h.engine.EvaluateRequirement(c.Request.Context(), req.SubjectID, req.Amount, req.PaymentMethod)
	if err != nil && (errors.Is(err, sca.ErrValidation) || errors.Is(err, sca.ErrEngineNotReady)) {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"required": decision.Required,
		"rule":     string(decision.Rule),
	})
}

// Exemption reports the exemption that applies, if any.
func (h *Handlers) Exemption(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c)
		return
	}

	res, err := h.engine.CheckExemption(c.Request.Context(), req.SubjectID, req.Amount, req.CounterpartyID)
	if err != nil && (errors.Is(err, sca.ErrValidation) || errors.Is(err, sca.ErrEngineNotReady)) {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exempt": res.Exempt,
		"reason": res.Reason.String(),
	})
}

// Initiate starts a challenge.
func (h *Handlers) Initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c)
		return
	}

	ch, err := h.engine.Initiate(c.Request.Context(), sca.InitiateRequest{
		SubjectID:       req.SubjectID,
		SessionID:       req.SessionID,
		Amount:          req.Amount,
		PaymentMethod:   req.PaymentMethod,
		CounterpartyID:  req.CounterpartyID,
		PreferredMethod: sca.ParseMethod(req.PreferredMethod),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if ch.Status == sca.StatusExempted {
		status = http.StatusOK
	}
	c.JSON(status, toChallengeView(ch))
}

// GetChallenge returns the challenge state without charging an attempt.
func (h *Handlers) GetChallenge(c *gin.Context) {
	ch, err := h.engine.GetChallenge(c.Request.Context(), sca.ChallengeRef{
		SubjectID:   c.Query("subject_id"),
		SessionID:   c.Query("session_id"),
		ChallengeID: c.Param("id"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toChallengeView(ch))
}

// Validate submits a proof.
func (h *Handlers) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c)
		return
	}

	res, err := h.engine.Validate(c.Request.Context(), sca.ValidateRequest{
		ChallengeRef: sca.ChallengeRef{
			SubjectID:   req.SubjectID,
			SessionID:   req.SessionID,
			ChallengeID: c.Param("id"),
		},
		Proof: sca.Proof{Code: req.Code, Assertion: req.Assertion},
	})
	if err != nil {
		if res != nil {
			c.AbortWithStatusJSON(sca.HTTPStatus(err), validateErrorView{
				ErrorBody:         errorBody(c, err),
				Status:            res.Status.String(),
				AttemptsRemaining: res.AttemptsRemaining,
			})
			return
		}
		respondError(c, err)
		return
	}

	view := validateView{
		Status:            res.Status.String(),
		AttemptsRemaining: res.AttemptsRemaining,
		AlreadyCompleted:  res.AlreadyCompleted,
	}
	if res.Token != nil {
		view.Token = &tokenView{
			Token:     res.Token.Token,
			ID:        res.Token.ID,
			SubjectID: res.Token.SubjectID,
			SessionID: res.Token.SessionID,
			IssuedAt:  res.Token.IssuedAt,
			ExpiresAt: res.Token.ExpiresAt,
		}
	}
	c.JSON(http.StatusOK, view)
}

// Introspect verifies a token and returns its claims.
func (h *Handlers) Introspect(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c)
		return
	}

	claims, err := h.engine.ValidateToken(c.Request.Context(), req.Token)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, claimsView(claims))
}

// Revoke deletes the server-side copy of a token.
func (h *Handlers) Revoke(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c)
		return
	}

	if err := h.engine.RevokeToken(c.Request.Context(), req.Token); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CurrentToken returns the claims injected by [RequireSCAToken].
func (h *Handlers) CurrentToken(c *gin.Context) {
	claims, ok := c.Get(claimsKey)
	if !ok {
		respondError(c, sca.ErrTokenInvalid)
		return
	}
	c.JSON(http.StatusOK, claimsView(claims.(*sca.TokenClaims)))
}

func claimsView(claims *sca.TokenClaims) tokenView {
	return tokenView{
		ID:        claims.ID,
		SubjectID: claims.SubjectID,
		SessionID: claims.SessionID,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}
}

// Health reports store reachability.
func (h *Handlers) Health(c *gin.Context) {
	if err := h.engine.Health(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
