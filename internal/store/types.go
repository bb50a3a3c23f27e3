package store

import (
	"context"
	"errors"
	"time"

	"snipebot/internal/auction"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("listing already tracked")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process map store (tests, throwaway runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the worker, engine and admin API.
//
// Transition is the single concurrency-safety primitive: a conditional
// status update that succeeds for exactly one caller. No in-memory lock
// substitutes for it across process boundaries.
type Store interface {
	CreateAuction(ctx context.Context, a *auction.Auction) error
	GetAuction(ctx context.Context, id string) (*auction.Auction, error)
	GetByListing(ctx context.Context, listingNumber string) (*auction.Auction, error)

	// ListAuctions returns every tracked auction ordered by end time.
	ListAuctions(ctx context.Context) ([]*auction.Auction, error)

	// ListDue returns Scheduled/Executing auctions ending at or before until,
	// ordered by end time.
	ListDue(ctx context.Context, until time.Time) ([]*auction.Auction, error)

	// ListOutcomePending returns Succeeded auctions whose deadline has passed
	// but whose outcome is still Pending.
	ListOutcomePending(ctx context.Context, now time.Time) ([]*auction.Auction, error)

	// ListStalePrices returns non-terminal auctions whose cached price is
	// older than cutoff (or never refreshed).
	ListStalePrices(ctx context.Context, cutoff time.Time) ([]*auction.Auction, error)

	// Transition performs the atomic conditional status update
	// "from -> to where id = X and status = from". It reports whether this
	// caller won the transition. Zero rows affected is not an error.
	Transition(ctx context.Context, id string, from, to auction.Status, detail string) (bool, error)

	// ClaimForExecution is Transition(Scheduled -> Executing).
	ClaimForExecution(ctx context.Context, id string) (bool, error)

	// RefreshListing updates the cached price, metadata and refresh timestamp
	// together. It is a no-op (fully skipped) for Cancelled, Failed and
	// PreflightSkipped auctions.
	RefreshListing(ctx context.Context, a *auction.Auction, at time.Time) error

	SetOutcome(ctx context.Context, id string, oc auction.Outcome, finalPrice auction.Money) error

	// SaveAttempt upserts the single bid attempt record for an auction.
	SaveAttempt(ctx context.Context, at auction.BidAttempt) error
	GetAttempt(ctx context.Context, auctionID string) (*auction.BidAttempt, error)

	AppendAudit(ctx context.Context, e AuditEntry) error

	Close() error
}

// AuditEntry records a lifecycle event for post-hoc inspection.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time
	Event         string
	AuctionID     string
	ListingNumber string
	Detail        string
}
