package rate

import "errors"

var (
	// ErrRateLimited is returned when the window for a key is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable is returned when the counter cannot be read or written.
	ErrStoreUnavailable = errors.New("rate store unavailable")
)
