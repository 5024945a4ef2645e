// Package http exposes the SCA engine over a gin router.
package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/middleware"
)

// Orchestrator is the part of [sca.Engine] served over HTTP.
type Orchestrator interface {
	EvaluateRequirement(ctx context.Context, subjectID string, amount decimal.Decimal, paymentMethod string) (sca.RequirementDecision, error)
	CheckExemption(ctx context.Context, subjectID string, amount decimal.Decimal, counterpartyID string) (sca.ExemptionResult, error)
	Initiate(ctx context.Context, req sca.InitiateRequest) (*sca.Challenge, error)
	GetChallenge(ctx context.Context, ref sca.ChallengeRef) (*sca.Challenge, error)
	Validate(ctx context.Context, req sca.ValidateRequest) (*sca.ValidateResult, error)
	ValidateToken(ctx context.Context, raw string) (*sca.TokenClaims, error)
	RevokeToken(ctx context.Context, raw string) error
	Health(ctx context.Context) error
}

const (
	healthPath  = "/healthz"
	metricsPath = "/metrics"
)

// SetupRouter sets up the gin router. metrics may be nil.
func SetupRouter(engine Orchestrator, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	handlers := NewHandlers(engine)

	router.GET(healthPath, handlers.Health)
	if metrics != nil {
		router.GET(metricsPath, gin.WrapH(metrics))
	}

	v1 := router.Group("/v1/sca")
	{
		v1.POST("/requirement", handlers.Requirement)
		v1.POST("/exemption", handlers.Exemption)
		v1.POST("/challenges", handlers.Initiate)
		v1.GET("/challenges/:id", handlers.GetChallenge)
		v1.POST("/challenges/:id/validate", handlers.Validate)
		v1.POST("/tokens/introspect", handlers.Introspect)
		v1.POST("/tokens/revoke", handlers.Revoke)
	}

	guarded := v1.Group("/tokens")
	guarded.Use(RequireSCAToken(engine))
	{
		guarded.GET("/current", handlers.CurrentToken)
	}

	return router
}

// NewHandler puts the security gate in front of router. Health and metrics
// probes bypass it.
func NewHandler(router *gin.Engine, sec *middleware.Security) http.Handler {
	if sec == nil {
		return router
	}
	gated := sec.Handler(router)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && (r.URL.Path == healthPath || r.URL.Path == metricsPath) {
			router.ServeHTTP(w, r)
			return
		}
		gated.ServeHTTP(w, r)
	})
}

// SubjectFromHeader returns a subject extractor for rate-limit keys that
// reads a header set by a trusted gateway.
func SubjectFromHeader(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}
