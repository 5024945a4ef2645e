// Package stores persists SCA challenge records and issued-token copies on top
// of a [store.Store].
//
// # Design
//
// Challenge records are versioned, binary-encoded values written with a TTL
// equal to the remaining challenge lifetime. Every read re-checks the record's
// own expiry, so a record whose TTL eviction was delayed is still reported as
// expired and removed. Mutations run as read-modify-compare-and-swap loops with
// a bounded retry count; a lost race re-reads the record and re-applies the
// mutation to the fresh value.
//
// Token copies are stored as SHA-256 digests of the signed token. The raw token
// never reaches the store.
//
// # What this package must NOT do
//
//   - Import the root sca package.
//   - Decide challenge state transitions (callers pass a [Mutation]).
//   - Log or expose verifiable secret material.
package stores
