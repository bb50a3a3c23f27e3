package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"snipebot/internal/auction"
	"snipebot/internal/clock"
	"snipebot/internal/ebay"
	"snipebot/internal/engine"
	"snipebot/internal/pricecache"
	"snipebot/internal/runtime/supervisor"
	"snipebot/internal/store"
	logx "snipebot/pkg/logx"
)

type fakeClient struct {
	price    auction.Money
	fetchErr error
	bidErr   error
	outcome  *ebay.Outcome
	bids     atomic.Int64
}

func (c *fakeClient) FetchDetails(_ context.Context, listing string) (*ebay.ItemDetails, error) {
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	return &ebay.ItemDetails{ListingNumber: listing, CurrentPrice: c.price, Currency: "USD", IsBiddable: true}, nil
}

func (c *fakeClient) PlaceBid(context.Context, string, auction.Money) error {
	c.bids.Add(1)
	return c.bidErr
}

func (c *fakeClient) FetchOutcome(context.Context, string) (*ebay.Outcome, error) {
	if c.outcome == nil {
		return nil, errors.New("outcome unavailable")
	}
	return c.outcome, nil
}

type fakeTokens struct{}

func (fakeTokens) EnsureValid(context.Context, time.Time) (string, error) { return "tok", nil }

type harness struct {
	st     *store.Memory
	client *fakeClient
	clk    *clock.Fake
	svc    *Service
	sup    *supervisor.Supervisor
	cancel context.CancelFunc
}

func newHarness(t *testing.T, client *fakeClient) *harness {
	t.Helper()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemory()
	clk := clock.NewFake(start)

	eng := engine.New(engine.Config{}, st, client, fakeTokens{}, clk, nil, logx.Nop())
	refr := pricecache.NewRefresher(st, pricecache.NewCoalescer(client), clk, nil, logx.Nop(), time.Minute)

	svc := New(Config{}, st, eng, refr, clk, nil, logx.Nop())
	svc.SetClient(client)

	ctx, cancel := context.WithCancel(context.Background())
	sup := supervisor.New(ctx)
	svc.sup = sup
	t.Cleanup(func() {
		cancel()
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer waitCancel()
		_ = sup.Wait(waitCtx)
	})
	return &harness{st: st, client: client, clk: clk, svc: svc, sup: sup, cancel: cancel}
}

func (h *harness) add(t *testing.T, id string, endIn time.Duration, status auction.Status) *auction.Auction {
	t.Helper()
	now := h.clk.Now()
	a := &auction.Auction{
		ID:               id,
		ListingNumber:    "90000000000" + id[len(id)-1:],
		CurrentPrice:     1000,
		MaxBid:           5000,
		EndTime:          now.Add(endIn),
		LastPriceRefresh: now,
		Status:           status,
		Outcome:          auction.OutcomePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.st.CreateAuction(context.Background(), a); err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	return a
}

func (h *harness) get(t *testing.T, id string) *auction.Auction {
	t.Helper()
	a, err := h.st.GetAuction(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAuction: %v", err)
	}
	return a
}

func (h *harness) waitStatus(t *testing.T, id string, want auction.Status) *auction.Auction {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		a := h.get(t, id)
		if a.Status == want {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("auction %s never reached %s (now %s)", id, want, h.get(t, id).Status)
	return nil
}

func TestPollSkipsWhenPriceExceedsCeiling(t *testing.T) {
	client := &fakeClient{price: 6000} // above the 5000 ceiling
	h := newHarness(t, client)
	a := h.add(t, "a1", 60*time.Second, auction.StatusScheduled)

	if err := h.svc.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	got := h.get(t, a.ID)
	if got.Status != auction.StatusPreflightSkipped {
		t.Fatalf("status = %s, want %s", got.Status, auction.StatusPreflightSkipped)
	}
	if got.StatusDetail != detailPreflightSkip {
		t.Fatalf("detail = %q", got.StatusDetail)
	}
}

func TestPollPreflightFailsOpen(t *testing.T) {
	client := &fakeClient{fetchErr: errors.New("marketplace down")}
	h := newHarness(t, client)
	a := h.add(t, "a1", 60*time.Second, auction.StatusScheduled)

	if err := h.svc.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if got := h.get(t, a.ID).Status; got != auction.StatusScheduled {
		t.Fatalf("status = %s, want still Scheduled", got)
	}
}

func TestPollPreflightRunsOnce(t *testing.T) {
	client := &fakeClient{price: 1500}
	h := newHarness(t, client)
	a := h.add(t, "a1", 60*time.Second, auction.StatusScheduled)

	for i := 0; i < 3; i++ {
		if err := h.svc.Poll(context.Background()); err != nil {
			t.Fatalf("Poll %d: %v", i, err)
		}
	}
	if !h.svc.preflightRan(a.ID) {
		t.Fatalf("pre-flight not recorded")
	}
	// One refresh per auction at the pre-flight mark, not one per cycle.
	stored := h.get(t, a.ID)
	if stored.Status != auction.StatusScheduled {
		t.Fatalf("status = %s", stored.Status)
	}
}

func TestPollDispatchesExecution(t *testing.T) {
	client := &fakeClient{price: 1500}
	h := newHarness(t, client)
	a := h.add(t, "a1", 2*time.Second, auction.StatusScheduled)

	if err := h.svc.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	got := h.waitStatus(t, a.ID, auction.StatusSucceeded)
	if got.StatusDetail != "" {
		t.Fatalf("detail = %q", got.StatusDetail)
	}
	if n := client.bids.Load(); n != 1 {
		t.Fatalf("bids = %d, want 1", n)
	}
}

func TestPollRecoversOrphan(t *testing.T) {
	client := &fakeClient{}
	h := newHarness(t, client)
	a := h.add(t, "a1", -5*time.Second, auction.StatusExecuting)

	if err := h.svc.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	got := h.get(t, a.ID)
	if got.Status != auction.StatusFailed {
		t.Fatalf("status = %s, want %s", got.Status, auction.StatusFailed)
	}
	if got.StatusDetail != detailOrphanRecovered {
		t.Fatalf("detail = %q", got.StatusDetail)
	}
	att, err := h.st.GetAttempt(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if att.Result != auction.AttemptFailed {
		t.Fatalf("attempt result = %s", att.Result)
	}
}

func TestPollLeavesLiveExecutionAlone(t *testing.T) {
	client := &fakeClient{}
	h := newHarness(t, client)
	a := h.add(t, "a1", -5*time.Second, auction.StatusExecuting)

	// Mark the auction as owned by this process.
	h.svc.mu.Lock()
	h.svc.executing[a.ID] = struct{}{}
	h.svc.mu.Unlock()

	if err := h.svc.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got := h.get(t, a.ID).Status; got != auction.StatusExecuting {
		t.Fatalf("status = %s, want untouched Executing", got)
	}
}

func TestResolveOutcomes(t *testing.T) {
	client := &fakeClient{outcome: &ebay.Outcome{Won: true, FinalPrice: 4200}}
	h := newHarness(t, client)
	a := h.add(t, "a1", -time.Minute, auction.StatusSucceeded)

	h.svc.ResolveOutcomes(context.Background())

	got := h.get(t, a.ID)
	if got.Outcome != auction.OutcomeWon {
		t.Fatalf("outcome = %s, want %s", got.Outcome, auction.OutcomeWon)
	}
	if got.FinalPrice != 4200 {
		t.Fatalf("final price = %d", got.FinalPrice)
	}
}

func TestResolveOutcomesBestEffort(t *testing.T) {
	client := &fakeClient{} // FetchOutcome errors
	h := newHarness(t, client)
	a := h.add(t, "a1", -time.Minute, auction.StatusSucceeded)

	h.svc.ResolveOutcomes(context.Background())

	if got := h.get(t, a.ID).Outcome; got != auction.OutcomePending {
		t.Fatalf("outcome = %s, want still pending", got)
	}
}
