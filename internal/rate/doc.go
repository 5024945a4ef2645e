// Package rate provides the fixed-window request limiter used by the security
// middleware, together with endpoint normalisation and rate classes.
//
// # Window semantics
//
// Fixed-window counters kept in the shared [store.Store]. The window starts on
// the first hit and the counter saturates at the class limit, so a rejected
// request never pushes the counter past it. Key prefix:
//   - rl:{class}:{client}:{subject}:{endpoint}
//
// # What this package must NOT do
//
//   - Decide HTTP status codes or headers (the middleware does).
//   - Be imported outside this module.
package rate
