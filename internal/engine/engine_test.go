package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"snipebot/internal/auction"
	"snipebot/internal/clock"
	"snipebot/internal/ebay"
	"snipebot/internal/store"
	logx "snipebot/pkg/logx"
)

type bidCall struct {
	listing string
	amount  auction.Money
}

// scriptedClient returns the scripted errors in order; nil means success.
type scriptedClient struct {
	mu    sync.Mutex
	errs  []error
	calls []bidCall
}

func (c *scriptedClient) PlaceBid(_ context.Context, listing string, amount auction.Money) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, bidCall{listing: listing, amount: amount})
	if len(c.errs) == 0 {
		return nil
	}
	err := c.errs[0]
	c.errs = c.errs[1:]
	return err
}

func (c *scriptedClient) FetchDetails(context.Context, string) (*ebay.ItemDetails, error) {
	return nil, errors.New("not implemented")
}

func (c *scriptedClient) FetchOutcome(context.Context, string) (*ebay.Outcome, error) {
	return nil, errors.New("not implemented")
}

func (c *scriptedClient) bidCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeTokens struct {
	refreshes  int
	refreshErr error
}

func (f *fakeTokens) EnsureValid(context.Context, time.Time) (string, error) { return "tok", nil }

func (f *fakeTokens) ForceRefresh(context.Context) (string, error) {
	f.refreshes++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return "tok2", nil
}

type fixture struct {
	st     *store.Memory
	client *scriptedClient
	tokens *fakeTokens
	clk    *clock.Fake
	eng    *Engine
	a      *auction.Auction
	sleeps []time.Duration
}

func newFixture(t *testing.T, endIn time.Duration, errs ...error) *fixture {
	t.Helper()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		st:     store.NewMemory(),
		client: &scriptedClient{errs: errs},
		tokens: &fakeTokens{},
		clk:    clock.NewFake(start),
	}
	f.clk.OnSleep = func(d time.Duration) { f.sleeps = append(f.sleeps, d) }
	f.eng = New(Config{}, f.st, f.client, f.tokens, f.clk, nil, logx.Nop())

	f.a = &auction.Auction{
		ID:            "a1",
		ListingNumber: "123456789012",
		CurrentPrice:  1000,
		MaxBid:        5000,
		EndTime:       start.Add(endIn),
		Status:        auction.StatusScheduled,
		Outcome:       auction.OutcomePending,
		CreatedAt:     start,
		UpdatedAt:     start,
	}
	if err := f.st.CreateAuction(context.Background(), f.a); err != nil {
		t.Fatalf("CreateAuction: %v", err)
	}
	return f
}

func (f *fixture) status(t *testing.T) *auction.Auction {
	t.Helper()
	got, err := f.st.GetAuction(context.Background(), f.a.ID)
	if err != nil {
		t.Fatalf("GetAuction: %v", err)
	}
	return got
}

func TestExecuteFirstAttemptSuccess(t *testing.T) {
	f := newFixture(t, 3*time.Second)

	st, err := f.eng.Execute(context.Background(), f.a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if st != auction.StatusSucceeded {
		t.Fatalf("status = %s, want %s", st, auction.StatusSucceeded)
	}
	if got := f.status(t).Status; got != auction.StatusSucceeded {
		t.Fatalf("stored status = %s", got)
	}
	if n := f.client.bidCount(); n != 1 {
		t.Fatalf("bid calls = %d, want 1", n)
	}
	if amt := f.client.calls[0].amount; amt != f.a.MaxBid {
		t.Fatalf("bid amount = %d, want max bid %d", amt, f.a.MaxBid)
	}
	att, err := f.st.GetAttempt(context.Background(), f.a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if att.Result != auction.AttemptSuccess {
		t.Fatalf("attempt result = %s", att.Result)
	}
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	f := newFixture(t, 5*time.Second, ebay.Transient(errors.New("503")), nil)

	st, err := f.eng.Execute(context.Background(), f.a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if st != auction.StatusSucceeded {
		t.Fatalf("status = %s", st)
	}
	if n := f.client.bidCount(); n != 2 {
		t.Fatalf("bid calls = %d, want 2", n)
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != 100*time.Millisecond {
		t.Fatalf("sleeps = %v, want [100ms]", f.sleeps)
	}
}

func TestExecuteClaimLost(t *testing.T) {
	f := newFixture(t, 3*time.Second)
	if ok, err := f.st.ClaimForExecution(context.Background(), f.a.ID); err != nil || !ok {
		t.Fatalf("pre-claim: ok=%v err=%v", ok, err)
	}

	st, err := f.eng.Execute(context.Background(), f.a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if st != "" {
		t.Fatalf("status = %q, want empty (claim lost)", st)
	}
	if n := f.client.bidCount(); n != 0 {
		t.Fatalf("claim loser placed %d bids", n)
	}
}

func TestExecuteDeadlineAlreadyPassed(t *testing.T) {
	f := newFixture(t, 2*time.Second)
	f.clk.Advance(3 * time.Second)

	st, err := f.eng.Execute(context.Background(), f.a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if st != auction.StatusFailed {
		t.Fatalf("status = %s", st)
	}
	if n := f.client.bidCount(); n != 0 {
		t.Fatalf("placed %d bids past deadline", n)
	}
	if got := f.status(t).StatusDetail; got != detailDeadlinePassed {
		t.Fatalf("detail = %q, want %q", got, detailDeadlinePassed)
	}
}

func TestExecuteWindowTooNarrow(t *testing.T) {
	// 200ms left is under the abort floor: no bid goes out.
	f := newFixture(t, 200*time.Millisecond)

	st, err := f.eng.Execute(context.Background(), f.a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if st != auction.StatusFailed {
		t.Fatalf("status = %s", st)
	}
	if n := f.client.bidCount(); n != 0 {
		t.Fatalf("placed %d bids inside abort floor", n)
	}
	if got := f.status(t).StatusDetail; got != detailWindowExhausted {
		t.Fatalf("detail = %q, want %q", got, detailWindowExhausted)
	}
}

func TestExecuteRejectionNotRetried(t *testing.T) {
	f := newFixture(t, 5*time.Second, &ebay.RejectionError{Code: "12345", Reason: "bid below current price"})

	st, err := f.eng.Execute(context.Background(), f.a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if st != auction.StatusFailed {
		t.Fatalf("status = %s", st)
	}
	if n := f.client.bidCount(); n != 1 {
		t.Fatalf("rejection retried: %d calls", n)
	}
	if len(f.sleeps) != 0 {
		t.Fatalf("slept %v after terminal rejection", f.sleeps)
	}
}

func TestExecuteAllAttemptsExhausted(t *testing.T) {
	transient := func() error { return ebay.Transient(errors.New("502")) }
	f := newFixture(t, 10*time.Second, transient(), transient(), transient(), transient())

	st, err := f.eng.Execute(context.Background(), f.a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if st != auction.StatusFailed {
		t.Fatalf("status = %s", st)
	}
	if n := f.client.bidCount(); n != DefaultMaxAttempts {
		t.Fatalf("bid calls = %d, want %d", n, DefaultMaxAttempts)
	}
	want := []time.Duration{100 * time.Millisecond, 250 * time.Millisecond, 500 * time.Millisecond}
	if len(f.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", f.sleeps, want)
	}
	for i := range want {
		if f.sleeps[i] != want[i] {
			t.Fatalf("sleeps = %v, want %v", f.sleeps, want)
		}
	}
	if got := f.status(t).StatusDetail; got != detailAllExhausted {
		t.Fatalf("detail = %q, want %q", got, detailAllExhausted)
	}
	att, err := f.st.GetAttempt(context.Background(), f.a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if att.Result != auction.AttemptFailed {
		t.Fatalf("attempt result = %s", att.Result)
	}
}

func TestExecuteAuthRefreshPreservesBudget(t *testing.T) {
	f := newFixture(t, 10*time.Second, ebay.ErrAuthExpired, nil)

	st, err := f.eng.Execute(context.Background(), f.a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if st != auction.StatusSucceeded {
		t.Fatalf("status = %s", st)
	}
	if f.tokens.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", f.tokens.refreshes)
	}
	if len(f.sleeps) != 0 {
		t.Fatalf("auth refresh consumed backoff sleeps: %v", f.sleeps)
	}
}

func TestExecuteSecondAuthRejectionIsTerminal(t *testing.T) {
	f := newFixture(t, 10*time.Second, ebay.ErrAuthExpired, ebay.ErrAuthExpired)

	st, err := f.eng.Execute(context.Background(), f.a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if st != auction.StatusFailed {
		t.Fatalf("status = %s", st)
	}
	if f.tokens.refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", f.tokens.refreshes)
	}
}

func TestExecuteRefreshFailureIsTerminal(t *testing.T) {
	f := newFixture(t, 10*time.Second, ebay.ErrAuthExpired)
	f.tokens.refreshErr = errors.New("identity endpoint down")

	st, err := f.eng.Execute(context.Background(), f.a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if st != auction.StatusFailed {
		t.Fatalf("status = %s", st)
	}
	if n := f.client.bidCount(); n != 1 {
		t.Fatalf("bid calls = %d, want 1", n)
	}
}

func TestExecutePrefersRetryAfterHint(t *testing.T) {
	f := newFixture(t, 10*time.Second,
		&ebay.RateLimitedError{RetryAfter: 150 * time.Millisecond, Err: errors.New("429")}, nil)

	st, err := f.eng.Execute(context.Background(), f.a)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if st != auction.StatusSucceeded {
		t.Fatalf("status = %s", st)
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != 150*time.Millisecond {
		t.Fatalf("sleeps = %v, want [150ms]", f.sleeps)
	}
}
