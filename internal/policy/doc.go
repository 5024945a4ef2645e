// Package policy holds the pure decision functions behind SCA requirement and
// exemption checks.
//
// Rules are evaluated in a fixed order and the first match wins. Data the
// rules need (subject profile, transaction history) is pulled lazily through
// [Deps] so that an early match never touches the data sources.
//
// # What this package must NOT do
//
//   - Import the root sca package or any store.
//   - Hold state between calls.
package policy
