package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
)

// HeaderSCAToken may carry the SCA token instead of the Authorization header.
const HeaderSCAToken = "X-SCA-Token"

// TokenValidator is the part of [sca.Engine] the guard needs.
type TokenValidator interface {
	ValidateToken(ctx context.Context, raw string) (*sca.TokenClaims, error)
}

type tokenClaimsContextKey struct{}

// TokenClaimsFromContext returns the claims injected by [RequireSCAToken].
func TokenClaimsFromContext(ctx context.Context) (*sca.TokenClaims, bool) {
	claims, ok := ctx.Value(tokenClaimsContextKey{}).(*sca.TokenClaims)
	return claims, ok
}

// RequireSCAToken rejects requests without a valid, unrevoked SCA token and
// injects the verified claims into the request context.
func RequireSCAToken(engine TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, r, sca.ErrEngineNotReady, time.Now())
				return
			}

			token, ok := RequestToken(r)
			if !ok {
				WriteError(w, r, sca.ErrTokenInvalid, time.Now())
				return
			}

			claims, err := engine.ValidateToken(r.Context(), token)
			if err != nil {
				WriteError(w, r, err, time.Now())
				return
			}

			ctx := context.WithValue(r.Context(), tokenClaimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestToken extracts the SCA token from a "Bearer" Authorization header or
// from [HeaderSCAToken], trimming surrounding whitespace. Blank values are
// reported as missing.
func RequestToken(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	token := strings.TrimSpace(r.Header.Get(HeaderSCAToken))
	return token, token != ""
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
