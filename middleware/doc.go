// Package middleware exposes the request security gate and the SCA token
// guard as net/http middleware.
//
// # Security
//
// [Security.Handler] applies, in order: body size ceiling, rate limiting,
// request signature verification for sensitive endpoints, and soft abuse
// heuristics. Security headers are set on every response and every request is
// logged under one correlation id.
//
// Every check fails closed except the heuristics, where a processing error
// counts as "no signal".
//
// # Guards
//
//   - [RequireSCAToken] re-validates the SCA token of a request and injects
//     its claims into the request context.
//
// # What this package must NOT do
//
//   - Drive challenges or decide SCA policy (the engine does).
//   - Keep counters in process memory; all counters live in the shared store.
package middleware
