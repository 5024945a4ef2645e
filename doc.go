// Package sca is a strong customer authentication (SCA) orchestrator for
// checkout and payment flows.
//
// The [Engine] decides whether a transaction needs strong authentication,
// applies the regulated exemptions, drives one of four proof methods
// (national digital identity, mobile wallet push, one-time code, device
// biometric) and, on success, issues a signed SCA token that can be revoked
// server side. Engine methods are safe for concurrent use after
// [Builder.Build].
//
// # Architecture boundaries
//
// sca is the public surface: [Engine], [Builder], [Config], errors and value
// types. All shared state lives in a store.Store so several processes can
// serve the same subjects; challenge records are updated with compare-and-swap
// so a double-submitted proof completes a challenge exactly once. Request
// level protection (rate limits, signatures, heuristics) lives in the
// middleware package and shares the same store.
//
// # What this package must NOT do
//
//   - Persist or log raw one-time codes, assertions, tokens or signatures.
//   - Retry provider calls internally. Provider failures surface as
//     [ErrProviderUnavailable] and the caller decides.
//   - Treat a store failure as "not required". Store errors fail closed.
package sca
