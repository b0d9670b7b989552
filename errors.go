package providercache

import (
	"errors"
	"fmt"
)

var (
	// ErrNilSource is returned by New when no Source is supplied.
	ErrNilSource = errors.New("source must not be nil")

	// ErrRefreshFailed marks a provider whose most recent refresh attempt
	// failed. Errors returned by Cache.LastError support errors.Is against
	// this sentinel.
	ErrRefreshFailed = errors.New("refresh failed")
)

// refreshError wraps a fetch failure with the concrete error
// ErrRefreshFailed. We do not expose this publicly because the interface
// methods of Is and Unwrap should give the user all they need.
type refreshError struct {
	provider string
	details  error
}

// Is allows the error to support equality to ErrRefreshFailed.
func (e *refreshError) Is(target error) bool {
	return target == ErrRefreshFailed
}

func (e *refreshError) Error() string {
	return fmt.Sprintf("%s for provider %q: %s", ErrRefreshFailed, e.provider, e.details)
}

// Unwrap allows the error to support equality to the underlying error and
// not just ErrRefreshFailed.
func (e *refreshError) Unwrap() error {
	return e.details
}
