package http

import (
	"time"

	"github.com/gin-gonic/gin"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/middleware"
)

const claimsKey = "scaClaims"

// RequireSCAToken is the gin form of [middleware.RequireSCAToken].
func RequireSCAToken(engine middleware.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if engine == nil {
			respondError(c, sca.ErrEngineNotReady)
			return
		}

		token, ok := middleware.RequestToken(c.Request)
		if !ok {
			respondError(c, sca.ErrTokenInvalid)
			return
		}

		claims, err := engine.ValidateToken(c.Request.Context(), token)
		if err != nil {
			respondError(c, err)
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func respondError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(sca.HTTPStatus(err), errorBody(c, err))
}

func errorBody(c *gin.Context, err error) sca.ErrorBody {
	return sca.NewErrorBody(err, sca.CorrelationIDFromContext(c.Request.Context()), time.Now())
}
