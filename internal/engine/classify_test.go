package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"snipebot/internal/ebay"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		want     Decision
		wantHint time.Duration
	}{
		{
			name: "transient",
			err:  ebay.Transient(errors.New("http 503")),
			want: DecisionRetry,
		},
		{
			name: "wrapped transient",
			err:  fmt.Errorf("place bid: %w", ebay.Transient(errors.New("reset"))),
			want: DecisionRetry,
		},
		{
			name: "deadline exceeded",
			err:  context.DeadlineExceeded,
			want: DecisionRetry,
		},
		{
			name:     "rate limited with hint",
			err:      &ebay.RateLimitedError{RetryAfter: 200 * time.Millisecond, Err: errors.New("429")},
			want:     DecisionRetryAfter,
			wantHint: 200 * time.Millisecond,
		},
		{
			name: "rate limited without hint",
			err:  &ebay.RateLimitedError{Err: errors.New("429")},
			want: DecisionRetryAfter,
		},
		{
			name: "auth expired",
			err:  ebay.ErrAuthExpired,
			want: DecisionRefreshAuth,
		},
		{
			name: "terminal rejection",
			err:  &ebay.RejectionError{Code: "12233", Reason: "auction ended"},
			want: DecisionFail,
		},
		{
			name: "unknown error",
			err:  errors.New("something odd"),
			want: DecisionFail,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, hint := Classify(tc.err)
			if got != tc.want {
				t.Fatalf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
			if hint != tc.wantHint {
				t.Fatalf("hint = %v, want %v", hint, tc.wantHint)
			}
		})
	}
}
