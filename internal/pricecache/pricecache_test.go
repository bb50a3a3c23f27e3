package pricecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"snipebot/internal/auction"
	"snipebot/internal/clock"
	"snipebot/internal/ebay"
	"snipebot/internal/store"
	logx "snipebot/pkg/logx"
)

type blockingClient struct {
	fetches atomic.Int64
	release chan struct{}
	details *ebay.ItemDetails
	err     error
}

func (c *blockingClient) FetchDetails(ctx context.Context, listing string) (*ebay.ItemDetails, error) {
	c.fetches.Add(1)
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	d := *c.details
	d.ListingNumber = listing
	return &d, nil
}

func (c *blockingClient) PlaceBid(context.Context, string, auction.Money) error {
	return errors.New("not implemented")
}

func (c *blockingClient) FetchOutcome(context.Context, string) (*ebay.Outcome, error) {
	return nil, errors.New("not implemented")
}

func TestShouldRefresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ttl := time.Minute

	cases := []struct {
		name string
		a    auction.Auction
		want bool
	}{
		{
			name: "never refreshed",
			a:    auction.Auction{Status: auction.StatusScheduled},
			want: true,
		},
		{
			name: "fresh",
			a:    auction.Auction{Status: auction.StatusScheduled, LastPriceRefresh: now.Add(-30 * time.Second)},
			want: false,
		},
		{
			name: "stale",
			a:    auction.Auction{Status: auction.StatusScheduled, LastPriceRefresh: now.Add(-2 * time.Minute)},
			want: true,
		},
		{
			name: "cancelled never refreshes",
			a:    auction.Auction{Status: auction.StatusCancelled},
			want: false,
		},
		{
			name: "failed never refreshes",
			a:    auction.Auction{Status: auction.StatusFailed, LastPriceRefresh: now.Add(-time.Hour)},
			want: false,
		},
		{
			name: "preflight skipped never refreshes",
			a:    auction.Auction{Status: auction.StatusPreflightSkipped},
			want: false,
		},
		{
			name: "succeeded past deadline is frozen",
			a:    auction.Auction{Status: auction.StatusSucceeded, EndTime: now.Add(-time.Minute)},
			want: false,
		},
		{
			name: "succeeded before deadline still refreshes",
			a:    auction.Auction{Status: auction.StatusSucceeded, EndTime: now.Add(time.Minute)},
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldRefresh(&tc.a, now, ttl); got != tc.want {
				t.Fatalf("ShouldRefresh = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCoalescerCollapsesConcurrentFetches(t *testing.T) {
	client := &blockingClient{
		release: make(chan struct{}),
		details: &ebay.ItemDetails{CurrentPrice: 1234, Currency: "USD"},
	}
	coal := NewCoalescer(client)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*ebay.ItemDetails, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = coal.Fetch(context.Background(), "111111111111")
		}(i)
	}

	// Let the goroutines pile onto the single in-flight call.
	deadline := time.Now().Add(2 * time.Second)
	for client.fetches.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(client.release)
	wg.Wait()

	if n := client.fetches.Load(); n != 1 {
		t.Fatalf("underlying fetches = %d, want 1", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].CurrentPrice != 1234 {
			t.Fatalf("caller %d got price %d", i, results[i].CurrentPrice)
		}
	}
}

func TestCoalescerFansOutError(t *testing.T) {
	boom := errors.New("boom")
	client := &blockingClient{release: make(chan struct{}), err: boom}
	coal := NewCoalescer(client)

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coal.Fetch(context.Background(), "222222222222")
		}(i)
	}
	deadline := time.Now().Add(2 * time.Second)
	for client.fetches.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(client.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if !errors.Is(errs[i], boom) {
			t.Fatalf("caller %d err = %v, want %v", i, errs[i], boom)
		}
	}

	// The in-flight marker must be gone: a new call hits the client again.
	before := client.fetches.Load()
	_, _ = coal.Fetch(context.Background(), "222222222222")
	if client.fetches.Load() != before+1 {
		t.Fatalf("error result was cached across calls")
	}
}

func TestRefresherFailsOpen(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	st := store.NewMemory()

	a := &auction.Auction{
		ID:               "a1",
		ListingNumber:    "333333333333",
		CurrentPrice:     900,
		MaxBid:           2000,
		EndTime:          start.Add(time.Hour),
		LastPriceRefresh: start.Add(-5 * time.Minute),
		Status:           auction.StatusScheduled,
	}
	if err := st.CreateAuction(context.Background(), a); err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}

	client := &blockingClient{err: errors.New("marketplace down")}
	refr := NewRefresher(st, NewCoalescer(client), clk, nil, logx.Nop(), time.Minute)

	got := refr.RefreshIfStale(context.Background(), a)
	if got.CurrentPrice != 900 {
		t.Fatalf("stale price mutated: %d", got.CurrentPrice)
	}
	stored, err := st.GetAuction(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetAuction: %v", err)
	}
	if !stored.LastPriceRefresh.Equal(a.LastPriceRefresh) {
		t.Fatalf("refresh timestamp advanced despite failed fetch")
	}
}

func TestRefresherCommitsPriceAndTimestamp(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	st := store.NewMemory()

	a := &auction.Auction{
		ID:            "a2",
		ListingNumber: "444444444444",
		CurrentPrice:  900,
		MaxBid:        2000,
		EndTime:       start.Add(time.Hour),
		Status:        auction.StatusScheduled,
	}
	if err := st.CreateAuction(context.Background(), a); err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}

	client := &blockingClient{details: &ebay.ItemDetails{CurrentPrice: 1500, Currency: "USD", ItemTitle: "vintage lens"}}
	refr := NewRefresher(st, NewCoalescer(client), clk, nil, logx.Nop(), time.Minute)

	updated := refr.RefreshIfStale(context.Background(), a)
	if updated.CurrentPrice != 1500 {
		t.Fatalf("price = %d, want 1500", updated.CurrentPrice)
	}
	stored, err := st.GetAuction(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetAuction: %v", err)
	}
	if stored.CurrentPrice != 1500 || stored.ItemTitle != "vintage lens" {
		t.Fatalf("store not updated: %+v", stored)
	}
	if !stored.LastPriceRefresh.Equal(start) {
		t.Fatalf("refresh timestamp = %v, want %v", stored.LastPriceRefresh, start)
	}
}
