package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"snipebot/internal/auction"
)

// Memory is a map-backed Store. It honors the same conditional-transition
// contract as the SQLite store and is used for tests and throwaway runs.
type Memory struct {
	mu       sync.Mutex
	auctions map[string]*auction.Auction
	attempts map[string]auction.BidAttempt
	audit    []AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		auctions: map[string]*auction.Auction{},
		attempts: map[string]auction.BidAttempt{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateAuction(_ context.Context, a *auction.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.auctions {
		if ex.ListingNumber == a.ListingNumber {
			return ErrDuplicate
		}
	}
	cp := *a
	m.auctions[a.ID] = &cp
	return nil
}

func (m *Memory) GetAuction(_ context.Context, id string) (*auction.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) GetByListing(_ context.Context, listingNumber string) (*auction.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.auctions {
		if a.ListingNumber == listingNumber {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListAuctions(context.Context) ([]*auction.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(func(*auction.Auction) bool { return true }), nil
}

func (m *Memory) ListDue(_ context.Context, until time.Time) ([]*auction.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(func(a *auction.Auction) bool {
		if a.Status != auction.StatusScheduled && a.Status != auction.StatusExecuting {
			return false
		}
		return !a.EndTime.After(until)
	}), nil
}

func (m *Memory) ListOutcomePending(_ context.Context, now time.Time) ([]*auction.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(func(a *auction.Auction) bool {
		return a.Status == auction.StatusSucceeded &&
			a.Outcome == auction.OutcomePending &&
			!a.EndTime.After(now)
	}), nil
}

func (m *Memory) ListStalePrices(_ context.Context, cutoff time.Time) ([]*auction.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(func(a *auction.Auction) bool {
		if a.Status != auction.StatusScheduled && a.Status != auction.StatusExecuting {
			return false
		}
		return a.LastPriceRefresh.IsZero() || a.LastPriceRefresh.Before(cutoff)
	}), nil
}

func (m *Memory) collect(keep func(*auction.Auction) bool) []*auction.Auction {
	var out []*auction.Auction
	for _, a := range m.auctions {
		if keep(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out
}

func (m *Memory) Transition(_ context.Context, id string, from, to auction.Status, detail string) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	if detail != "" {
		a.StatusDetail = detail
	}
	a.UpdatedAt = time.Now()
	return true, nil
}

func (m *Memory) ClaimForExecution(ctx context.Context, id string) (bool, error) {
	return m.Transition(ctx, id, auction.StatusScheduled, auction.StatusExecuting, "")
}

func (m *Memory) RefreshListing(_ context.Context, a *auction.Auction, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ex, ok := m.auctions[a.ID]
	if !ok {
		return ErrNotFound
	}
	switch ex.Status {
	case auction.StatusCancelled, auction.StatusFailed, auction.StatusPreflightSkipped:
		return nil
	}
	ex.CurrentPrice = a.CurrentPrice
	ex.Currency = a.Currency
	ex.ListingURL = a.ListingURL
	ex.ItemTitle = a.ItemTitle
	ex.SellerName = a.SellerName
	ex.EndTime = a.EndTime
	ex.LastPriceRefresh = at
	ex.UpdatedAt = at
	return nil
}

func (m *Memory) SetOutcome(_ context.Context, id string, oc auction.Outcome, finalPrice auction.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return ErrNotFound
	}
	a.Outcome = oc
	a.FinalPrice = finalPrice
	a.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) SaveAttempt(_ context.Context, at auction.BidAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[at.AuctionID] = at
	return nil
}

func (m *Memory) GetAttempt(_ context.Context, auctionID string) (*auction.BidAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.attempts[auctionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := at
	return &cp, nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	m.audit = append(m.audit, e)
	m.mu.Unlock()
	return nil
}

// AuditEntries returns a copy of the audit log (test helper).
func (m *Memory) AuditEntries() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}
