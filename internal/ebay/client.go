// Package ebay is the I/O boundary toward the auction service: fetching
// listing details, placing bids, and resolving post-auction outcomes.
package ebay

import (
	"context"
	"time"

	"snipebot/internal/auction"
)

// ItemDetails is the current remote view of a listing.
type ItemDetails struct {
	ListingNumber string
	ListingURL    string
	ItemTitle     string
	SellerName    string
	CurrentPrice  auction.Money
	Currency      string
	EndTime       time.Time
	IsBiddable    bool
}

// Outcome is the post-auction result for a listing.
type Outcome struct {
	Won        bool
	FinalPrice auction.Money
}

// Client is the auction service boundary. It holds no sniper state.
//
// FetchDetails and FetchOutcome fail with ErrNotFound, a TransientError, or
// ErrAuthExpired. PlaceBid additionally fails with RateLimitedError or a
// terminal RejectionError.
type Client interface {
	FetchDetails(ctx context.Context, listingNumber string) (*ItemDetails, error)
	PlaceBid(ctx context.Context, listingNumber string, amount auction.Money) error
	FetchOutcome(ctx context.Context, listingNumber string) (*Outcome, error)
}

// TokenProvider supplies a bearer credential that must remain valid until
// beforeDeadline; implementations refresh proactively when the credential
// would expire too close to it.
type TokenProvider interface {
	EnsureValid(ctx context.Context, beforeDeadline time.Time) (string, error)
}
