package gateway

import (
	"context"
	"errors"
	"fmt"
)

// HTTPError is a completed response with a non-2xx status.
type HTTPError struct {
	Status     int
	StatusText string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request to %s failed: %d %s", e.URL, e.Status, e.StatusText)
}

// NetworkError is a request which could not complete: DNS failure, refused
// connection, timeout or cancellation.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error requesting %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the request was abandoned by a deadline.
func (e *NetworkError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsNetwork returns true if |err| is or wraps a *NetworkError.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsStatus returns true if |err| is or wraps a *HTTPError with |status|.
func IsStatus(err error, status int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Status == status
}
