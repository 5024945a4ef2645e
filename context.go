package sca

import (
	"context"

	"github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002/internal/logging"
)

type clientIPContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine copies it
// into audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithCorrelationID attaches the request correlation id to ctx. Log records,
// audit events and error bodies carry it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return logging.WithCorrelationID(ctx, id)
}

// CorrelationIDFromContext returns the id attached by [WithCorrelationID], or "".
func CorrelationIDFromContext(ctx context.Context) string {
	return logging.CorrelationID(ctx)
}

// ClientIPFromContext returns the IP attached by [WithClientIP], or "".
func ClientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
