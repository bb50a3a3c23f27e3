package engine

import (
	"context"
	"errors"
	"time"

	"snipebot/internal/ebay"
)

// Decision is the engine's verdict on a failed bid attempt.
type Decision int

const (
	// DecisionRetry: transient failure, retry after the attempt's backoff.
	DecisionRetry Decision = iota
	// DecisionRetryAfter: rate limited with a service-provided hint; prefer
	// the hint over the fixed backoff.
	DecisionRetryAfter
	// DecisionRefreshAuth: credential rejected; refresh once and retry the
	// same attempt slot.
	DecisionRefreshAuth
	// DecisionFail: terminal rejection, stop immediately.
	DecisionFail
)

// Classify maps a PlaceBid error to a retry decision. It is a pure function
// so the retry protocol can be tested apart from any I/O.
func Classify(err error) (Decision, time.Duration) {
	if err == nil {
		return DecisionRetry, 0
	}

	var rl *ebay.RateLimitedError
	if errors.As(err, &rl) {
		return DecisionRetryAfter, rl.RetryAfter
	}
	if errors.Is(err, ebay.ErrAuthExpired) {
		return DecisionRefreshAuth, 0
	}
	if ebay.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		return DecisionRetry, 0
	}
	// Terminal rejections and anything unrecognized: never retried. An
	// unknown error could mean the bid landed; blind retries are worse than
	// stopping with a specific cause.
	return DecisionFail, 0
}
