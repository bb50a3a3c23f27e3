package pricecache

import (
	"time"

	"snipebot/internal/auction"
)

// DefaultTTL is how long a cached price stays fresh.
const DefaultTTL = 60 * time.Second

// ShouldRefresh reports whether the auction's cached price is due for a
// refresh at now.
//
// Refresh is skipped for Cancelled, Failed and PreflightSkipped auctions,
// and for Succeeded auctions past their deadline (the cached value is frozen
// pending outcome resolution).
func ShouldRefresh(a *auction.Auction, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch a.Status {
	case auction.StatusCancelled, auction.StatusFailed, auction.StatusPreflightSkipped:
		return false
	case auction.StatusSucceeded:
		if !now.Before(a.EndTime) {
			return false
		}
	}
	if a.LastPriceRefresh.IsZero() {
		return true
	}
	return now.Sub(a.LastPriceRefresh) > ttl
}
