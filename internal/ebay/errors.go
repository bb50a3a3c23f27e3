package ebay

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for outbound calls. The bid engine classifies every failure
// into exactly one of these kinds; anything unrecognized is treated as
// transient by callers that retry, and surfaced otherwise.

// ErrAuthExpired signals that the OAuth credential was rejected or is known
// to be expired. The engine performs one credential refresh and retries the
// same attempt slot.
var ErrAuthExpired = errors.New("ebay: auth token expired")

// ErrNotFound signals that the listing does not exist or is not accessible.
var ErrNotFound = errors.New("ebay: listing not found")

// TransientError wraps timeouts and 5xx responses: safe to retry within the
// caller's time budget.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RateLimitedError wraps 429 responses. RetryAfter is zero when the service
// provided no hint.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
}
func (e *RateLimitedError) Unwrap() error { return e.Err }

// RejectionError is a terminal 4xx-class refusal: invalid amount, auction
// ended, not biddable, duplicate bid. Never retried.
type RejectionError struct {
	Code   string
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rejected (%s): %s", e.Code, e.Reason)
	}
	return "rejected: " + e.Reason
}

func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}
