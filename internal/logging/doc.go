// Package logging emits structured OpenTelemetry log records for the SCA
// engine and the request security middleware.
//
// Records carry the request correlation id taken from the context. Callers
// must never pass raw credentials (codes, assertions, tokens, signatures) as
// attributes.
package logging
