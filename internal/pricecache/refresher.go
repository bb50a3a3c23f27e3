package pricecache

import (
	"context"
	"time"

	"snipebot/internal/auction"
	"snipebot/internal/clock"
	"snipebot/internal/eventbus"
	"snipebot/internal/store"
	logx "snipebot/pkg/logx"
)

// Refresher ties the TTL policy, the coalescer and the store together for
// the read path: refresh-on-read with fail-open semantics.
type Refresher struct {
	st    store.Store
	coal  *Coalescer
	clk   clock.Clock
	bus   eventbus.Bus
	log   logx.Logger
	ttl   time.Duration
}

func NewRefresher(st store.Store, coal *Coalescer, clk clock.Clock, bus eventbus.Bus, log logx.Logger, ttl time.Duration) *Refresher {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Refresher{st: st, coal: coal, clk: clk, bus: bus, log: log, ttl: ttl}
}

func (r *Refresher) TTL() time.Duration { return r.ttl }

// RefreshIfStale refreshes the cached price when the policy says it's due.
// On fetch failure the cached values are left untouched and the stale
// auction is returned: the read path fails open.
func (r *Refresher) RefreshIfStale(ctx context.Context, a *auction.Auction) *auction.Auction {
	now := r.clk.Now()
	if !ShouldRefresh(a, now, r.ttl) {
		return a
	}

	updated, err := r.Refresh(ctx, a)
	if err != nil {
		r.log.Warn("price refresh failed, serving cached value",
			logx.String("auction", a.ID), logx.String("listing", a.ListingNumber), logx.Err(err))
		return a
	}
	return updated
}

// Refresh fetches the current listing details through the coalescer and
// commits price, metadata and refresh timestamp together.
func (r *Refresher) Refresh(ctx context.Context, a *auction.Auction) (*auction.Auction, error) {
	details, err := r.coal.Fetch(ctx, a.ListingNumber)
	if err != nil {
		return nil, err
	}

	now := r.clk.Now()
	cp := *a
	cp.CurrentPrice = details.CurrentPrice
	cp.Currency = details.Currency
	cp.ListingURL = details.ListingURL
	cp.ItemTitle = details.ItemTitle
	if details.SellerName != "" {
		cp.SellerName = details.SellerName
	}
	if !details.EndTime.IsZero() {
		cp.EndTime = details.EndTime
	}
	cp.LastPriceRefresh = now

	if err := r.st.RefreshListing(ctx, &cp, now); err != nil {
		return nil, err
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TypePriceRefreshed,
			Time: now,
			Data: map[string]string{"auction_id": a.ID, "listing": a.ListingNumber, "price": cp.CurrentPrice.String()},
		})
	}
	return &cp, nil
}
