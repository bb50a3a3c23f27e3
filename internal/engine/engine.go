// Package engine performs the time-windowed bid placement protocol:
// atomic claim, bounded retries, and terminal classification, all against
// an injected clock so the window math is testable.
package engine

import (
	"context"
	"time"

	"snipebot/internal/auction"
	"snipebot/internal/clock"
	"snipebot/internal/ebay"
	"snipebot/internal/eventbus"
	"snipebot/internal/store"
	logx "snipebot/pkg/logx"
)

const (
	// DefaultMaxAttempts bounds the retry loop.
	DefaultMaxAttempts = 4
	// abortFloor guards against issuing a bid the remote system would
	// reject as late.
	abortFloor = 300 * time.Millisecond
	// DefaultBidTimeout is the per-call ceiling for PlaceBid.
	DefaultBidTimeout = 500 * time.Millisecond
)

// backoffs are the inter-attempt delays; applied only between attempts.
var backoffs = []time.Duration{100 * time.Millisecond, 250 * time.Millisecond, 500 * time.Millisecond}

// Failure detail strings. These end up in status_detail and must stay
// distinguishable for operators.
const (
	detailDeadlinePassed  = "deadline passed before bid could be placed"
	detailWindowExhausted = "time window exhausted"
	detailAllExhausted    = "all attempts exhausted"
)

// TokenRefresher is implemented by token providers that can discard a
// rejected credential and fetch a fresh one.
type TokenRefresher interface {
	ForceRefresh(ctx context.Context) (string, error)
}

type Config struct {
	MaxAttempts int
	BidTimeout  time.Duration
}

type Engine struct {
	cfg    Config
	st     store.Store
	client ebay.Client
	tokens ebay.TokenProvider
	clk    clock.Clock
	bus    eventbus.Bus
	log    logx.Logger
}

func New(cfg Config, st store.Store, client ebay.Client, tokens ebay.TokenProvider, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BidTimeout <= 0 {
		cfg.BidTimeout = DefaultBidTimeout
	}
	if cfg.BidTimeout < abortFloor {
		cfg.BidTimeout = abortFloor
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg, st: st, client: client, tokens: tokens, clk: clk, bus: bus, log: log}
}

// Execute runs the snipe protocol for one auction. It returns the final
// status (Succeeded or Failed), or ("", nil) when the atomic claim was lost
// to another executor, which is a normal concurrency outcome, not an error.
func (e *Engine) Execute(ctx context.Context, a *auction.Auction) (auction.Status, error) {
	log := e.log.With(logx.String("auction", a.ID), logx.String("listing", a.ListingNumber))

	// Atomic claim: the sole cross-process concurrency mechanism. Zero rows
	// affected means another executor owns this auction (or it left
	// Scheduled for another reason); yield without side effects.
	claimed, err := e.st.ClaimForExecution(ctx, a.ID)
	if err != nil {
		return "", err
	}
	if !claimed {
		log.Debug("claim lost, auction no longer Scheduled")
		return "", nil
	}

	if now := e.clk.Now(); !now.Before(a.EndTime) {
		return e.fail(ctx, a, detailDeadlinePassed, log)
	}

	amount := a.MaxBid
	authRefreshed := false

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		remaining := a.EndTime.Sub(e.clk.Now())
		if remaining < abortFloor {
			log.Warn("bid window exhausted", logx.Int("attempt", attempt), logx.Duration("remaining", remaining))
			return e.fail(ctx, a, detailWindowExhausted, log)
		}

		timeout := e.cfg.BidTimeout
		if remaining < timeout {
			timeout = remaining
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := e.client.PlaceBid(callCtx, a.ListingNumber, amount)
		cancel()

		if err == nil {
			return e.succeed(ctx, a, log)
		}

		decision, hint := Classify(err)
		switch decision {
		case DecisionFail:
			log.Warn("bid rejected", logx.Int("attempt", attempt), logx.Err(err))
			return e.fail(ctx, a, err.Error(), log)

		case DecisionRefreshAuth:
			// One-shot: a second auth rejection after a successful refresh
			// is terminal.
			if authRefreshed {
				return e.fail(ctx, a, "auth rejected after credential refresh", log)
			}
			log.Warn("auth rejected, refreshing credential", logx.Int("attempt", attempt))
			r, ok := e.tokens.(TokenRefresher)
			if !ok {
				return e.fail(ctx, a, "auth expired and token provider cannot refresh", log)
			}
			if _, rerr := r.ForceRefresh(ctx); rerr != nil {
				log.Warn("credential refresh failed", logx.Err(rerr))
				return e.fail(ctx, a, "credential refresh failed: "+rerr.Error(), log)
			}
			authRefreshed = true
			// Retry the same attempt slot without consuming budget.
			attempt--

		case DecisionRetry, DecisionRetryAfter:
			if attempt == e.cfg.MaxAttempts {
				break // loop exit handles the exhausted case
			}
			delay := backoffDelay(attempt)
			if decision == DecisionRetryAfter && hint > 0 {
				delay = hint
			}
			log.Warn("bid attempt failed, retrying",
				logx.Int("attempt", attempt), logx.Duration("backoff", delay), logx.Err(err))
			if serr := e.clk.Sleep(ctx, delay); serr != nil {
				return e.fail(ctx, a, "cancelled during retry backoff", log)
			}
		}
	}

	return e.fail(ctx, a, detailAllExhausted, log)
}

func backoffDelay(attempt int) time.Duration {
	i := attempt - 1
	if i >= len(backoffs) {
		i = len(backoffs) - 1
	}
	return backoffs[i]
}

func (e *Engine) succeed(ctx context.Context, a *auction.Auction, log logx.Logger) (auction.Status, error) {
	now := e.clk.Now()
	if _, err := e.st.Transition(ctx, a.ID, auction.StatusExecuting, auction.StatusSucceeded, ""); err != nil {
		return "", err
	}
	att := auction.BidAttempt{AuctionID: a.ID, AttemptTime: now, Result: auction.AttemptSuccess}
	if err := e.st.SaveAttempt(ctx, att); err != nil {
		log.Error("bid placed but attempt record write failed", logx.Err(err))
	}
	log.Info("bid placed", logx.String("amount", a.MaxBid.String()))
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{
			Type: eventbus.TypeBidPlaced,
			Time: now,
			Data: map[string]string{"auction_id": a.ID, "listing": a.ListingNumber, "amount": a.MaxBid.String()},
		})
	}
	return auction.StatusSucceeded, nil
}

func (e *Engine) fail(ctx context.Context, a *auction.Auction, detail string, log logx.Logger) (auction.Status, error) {
	now := e.clk.Now()
	if _, err := e.st.Transition(ctx, a.ID, auction.StatusExecuting, auction.StatusFailed, detail); err != nil {
		return "", err
	}
	att := auction.BidAttempt{AuctionID: a.ID, AttemptTime: now, Result: auction.AttemptFailed, ErrorMessage: detail}
	if err := e.st.SaveAttempt(ctx, att); err != nil {
		log.Error("attempt record write failed", logx.Err(err))
	}
	log.Warn("snipe failed", logx.String("detail", detail))
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{
			Type: eventbus.TypeBidFailed,
			Time: now,
			Data: map[string]string{"auction_id": a.ID, "listing": a.ListingNumber, "detail": detail},
		})
	}
	return auction.StatusFailed, nil
}
