// Package audit implements async event dispatching for SCA and request
// security decisions.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON lines, fan-out, no-op).
//   - [Dispatcher]: single-worker relay that stamps events and strips credential-bearing metadata keys.
//   - [Event]: structured audit record with correlation id, subject, challenge, IP and metadata.
//
// This package owns buffering and sink delivery. It does not decide which
// events to emit; the Engine and the security middleware do. It must not
// import the root sca package or any sibling internal package.
package audit
