package irail

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse marks a body that could not be decoded. It is never retried.
var ErrMalformedResponse = errors.New("malformed response body")

// RateLimitError is returned for HTTP 429.
type RateLimitError struct {
	Resource string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited fetching %s", e.Resource)
}

// TransientError covers network failures, request timeouts and 5xx replies.
type TransientError struct {
	Resource   string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient error fetching %s: status %d", e.Resource, e.StatusCode)
	}
	return fmt.Sprintf("transient error fetching %s: %v", e.Resource, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// StatusError is a non-retryable HTTP reply (4xx other than 429).
type StatusError struct {
	Resource   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %d", e.Resource, e.StatusCode)
}

// StationError is the permanent failure of one station's fetch, after
// retries were exhausted or a non-retryable error occurred.
type StationError struct {
	Station  string
	Attempts int
	Err      error
}

func (e *StationError) Error() string {
	return fmt.Sprintf("station %s failed after %d attempt(s): %v", e.Station, e.Attempts, e.Err)
}

func (e *StationError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should be retried.
func IsRetryable(err error) bool {
	var rl *RateLimitError
	var te *TransientError
	return errors.As(err, &rl) || errors.As(err, &te)
}
