// Package auction defines the tracked-auction entity and its state machine.
package auction

import (
	"time"
)

// Status is the lifecycle state of a tracked auction.
//
// Scheduled -> PreflightSkipped | Executing | Cancelled
// Executing -> Succeeded | Failed
//
// Everything except Scheduled and Executing is terminal.
type Status string

const (
	StatusScheduled        Status = "Scheduled"
	StatusPreflightSkipped Status = "PreflightSkipped"
	StatusExecuting        Status = "Executing"
	StatusSucceeded        Status = "Succeeded"
	StatusFailed           Status = "Failed"
	StatusCancelled        Status = "Cancelled"
)

// Terminal reports whether no further status transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusPreflightSkipped, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is a legal state machine edge.
// Terminal states never regress.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusScheduled:
		return to == StatusPreflightSkipped || to == StatusExecuting || to == StatusCancelled
	case StatusExecuting:
		return to == StatusSucceeded || to == StatusFailed
	}
	return false
}

// Outcome is the post-deadline result, resolved best-effort after the
// auction ends. It is decoupled from Status on purpose.
type Outcome string

const (
	OutcomePending Outcome = "Pending"
	OutcomeWon     Outcome = "Won"
	OutcomeLost    Outcome = "Lost"
)

// AttemptResult records how a bid attempt concluded.
type AttemptResult string

const (
	AttemptSuccess AttemptResult = "success"
	AttemptFailed  AttemptResult = "failed"
)

// Auction is one scheduled snipe: a listing, a bid ceiling, and a deadline.
type Auction struct {
	ID            string
	ListingNumber string
	ListingURL    string
	ItemTitle     string
	SellerName    string

	CurrentPrice Money
	MaxBid       Money
	Currency     string

	EndTime          time.Time
	LastPriceRefresh time.Time // zero means never refreshed

	Status       Status
	StatusDetail string

	Outcome    Outcome
	FinalPrice Money // valid only once Outcome is resolved

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BidAttempt is the single execution attempt record for an auction (1:1).
// Later attempts overwrite the record; there is no attempt history table.
type BidAttempt struct {
	AuctionID    string
	AttemptTime  time.Time
	Result       AttemptResult
	ErrorMessage string
}
