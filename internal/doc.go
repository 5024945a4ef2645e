// Package internal holds secret-handling helpers private to the SCA module:
// one-time-code generation and hashing, purpose-bound key derivation, and
// destination masking.
//
// # Sub-packages
//
//   - audit: async event dispatch
//   - logging: OpenTelemetry log emitter with correlation ids
//   - policy: requirement and exemption rules
//   - rate: endpoint normalisation and fixed-window limiting
//   - stores: challenge and token records over the shared store
package internal
