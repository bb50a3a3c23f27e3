// Package worker drives the snipe schedule: a fixed-cadence poll loop that
// fires the pre-flight price check and the bid engine at their offsets
// before each auction's end, recovers orphaned executions, and runs the
// periodic outcome/price sweeps on cron schedules.
package worker

import (
	"context"
	"sync"
	"time"

	"snipebot/internal/auction"
	"snipebot/internal/clock"
	"snipebot/internal/ebay"
	"snipebot/internal/engine"
	"snipebot/internal/eventbus"
	"snipebot/internal/pricecache"
	"snipebot/internal/runtime/supervisor"
	"snipebot/internal/store"
	logx "snipebot/pkg/logx"
)

type Config struct {
	PollInterval    time.Duration // default 500ms
	PreflightOffset time.Duration // default 60s before end
	ExecuteOffset   time.Duration // default 3s before end
	OutcomeSchedule string        // cron spec, default "@every 30s"
	SweepSchedule   string        // cron spec for the stale-price sweep, default "@every 1m"
	PriceTTL        time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.PreflightOffset <= 0 {
		c.PreflightOffset = 60 * time.Second
	}
	if c.ExecuteOffset <= 0 {
		c.ExecuteOffset = 3 * time.Second
	}
	if c.OutcomeSchedule == "" {
		c.OutcomeSchedule = "@every 30s"
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = "@every 1m"
	}
	if c.PriceTTL <= 0 {
		c.PriceTTL = pricecache.DefaultTTL
	}
	return c
}

const detailOrphanRecovered = "orphaned execution recovered past deadline"
const detailPreflightSkip = "observed value exceeded ceiling at pre-check"

type Service struct {
	cfg  Config
	st   store.Store
	eng  *engine.Engine
	refr *pricecache.Refresher
	clk    clock.Clock
	bus    eventbus.Bus
	log    logx.Logger
	client ebay.Client

	mu            sync.Mutex
	preflightDone map[string]struct{}
	executing     map[string]struct{}

	sup *supervisor.Supervisor
}

func New(cfg Config, st store.Store, eng *engine.Engine, refr *pricecache.Refresher, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:           cfg.withDefaults(),
		st:            st,
		eng:           eng,
		refr:          refr,
		clk:           clk,
		bus:           bus,
		log:           log,
		preflightDone: map[string]struct{}{},
		executing:     map[string]struct{}{},
	}
}

// Start launches the poll loop and the cron sweeps under the given
// supervisor. The loop self-heals on error via GoRestart.
func (s *Service) Start(sup *supervisor.Supervisor) {
	s.sup = sup
	sup.GoRestart("sniper.loop", s.run)
	s.startCron(sup)
	s.log.Info("sniper worker started",
		logx.Duration("poll", s.cfg.PollInterval),
		logx.Duration("preflight_offset", s.cfg.PreflightOffset),
		logx.Duration("execute_offset", s.cfg.ExecuteOffset))
}

func (s *Service) run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := s.Poll(ctx); err != nil {
			// A single bad cycle should not kill the loop.
			s.log.Error("poll cycle failed", logx.Err(err))
		}
	}
}

// Poll runs one scheduler cycle. Exported so tests can drive the loop with
// a fake clock instead of real ticks.
func (s *Service) Poll(ctx context.Context) error {
	now := s.clk.Now()

	// Horizon covers the earliest trigger (pre-flight) plus one poll so an
	// item is always visible by the cycle its offset falls in.
	due, err := s.st.ListDue(ctx, now.Add(s.cfg.PreflightOffset+s.cfg.PollInterval))
	if err != nil {
		return err
	}

	for _, a := range due {
		s.processOne(ctx, now, a)
	}
	return nil
}

func (s *Service) processOne(ctx context.Context, now time.Time, a *auction.Auction) {
	switch a.Status {
	case auction.StatusExecuting:
		// Orphan recovery: a claimed auction past its deadline means the
		// executor died mid-flight. Skip auctions this process is still
		// working on; their engine owns the terminal transition.
		if !now.Before(a.EndTime) && !s.isExecuting(a.ID) {
			s.recoverOrphan(ctx, a)
		}
		return
	case auction.StatusScheduled:
	default:
		return
	}

	preflightAt := a.EndTime.Add(-s.cfg.PreflightOffset)
	executeAt := a.EndTime.Add(-s.cfg.ExecuteOffset)

	if !now.Before(preflightAt) && now.Before(executeAt) && !s.preflightRan(a.ID) {
		if !s.preflight(ctx, a) {
			return
		}
	}

	if !now.Before(executeAt) {
		s.execute(a)
	}
}

// preflight refreshes the price at T-preflightOffset and skips the auction
// when the observed price already exceeds the ceiling. A failed fetch is
// fail-open: the auction stays Scheduled and will still be sniped.
func (s *Service) preflight(ctx context.Context, a *auction.Auction) (proceed bool) {
	s.markPreflight(a.ID)
	log := s.log.With(logx.String("auction", a.ID), logx.String("listing", a.ListingNumber))

	updated, err := s.refr.Refresh(ctx, a)
	if err != nil {
		log.Warn("pre-flight price check failed, proceeding anyway", logx.Err(err))
		return true
	}

	if updated.CurrentPrice > updated.MaxBid {
		ok, terr := s.st.Transition(ctx, a.ID, auction.StatusScheduled, auction.StatusPreflightSkipped, detailPreflightSkip)
		if terr != nil {
			log.Error("pre-flight skip transition failed", logx.Err(terr))
			return false
		}
		if ok {
			log.Info("auction skipped at pre-check",
				logx.String("price", updated.CurrentPrice.String()),
				logx.String("max_bid", updated.MaxBid.String()))
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{
					Type: eventbus.TypeAuctionSkipped,
					Time: s.clk.Now(),
					Data: map[string]string{"auction_id": a.ID, "listing": a.ListingNumber, "detail": detailPreflightSkip},
				})
			}
		}
		return false
	}
	return true
}

// execute hands the auction to the bid engine on its own goroutine so one
// snipe's retry sleeps never delay checks for other auctions.
func (s *Service) execute(a *auction.Auction) {
	s.mu.Lock()
	if _, inflight := s.executing[a.ID]; inflight {
		s.mu.Unlock()
		return
	}
	s.executing[a.ID] = struct{}{}
	s.mu.Unlock()

	item := *a
	s.sup.Go("snipe."+a.ListingNumber, func(ctx context.Context) error {
		defer func() {
			s.mu.Lock()
			delete(s.executing, item.ID)
			s.mu.Unlock()
		}()
		_, err := s.eng.Execute(ctx, &item)
		return err
	})
}

func (s *Service) recoverOrphan(ctx context.Context, a *auction.Auction) {
	ok, err := s.st.Transition(ctx, a.ID, auction.StatusExecuting, auction.StatusFailed, detailOrphanRecovered)
	if err != nil {
		s.log.Error("orphan recovery failed", logx.String("auction", a.ID), logx.Err(err))
		return
	}
	if !ok {
		return
	}
	s.log.Warn("orphaned execution recovered", logx.String("auction", a.ID), logx.String("listing", a.ListingNumber))

	// Leave an attempt record only if the crashed executor didn't.
	if _, aerr := s.st.GetAttempt(ctx, a.ID); aerr == store.ErrNotFound {
		_ = s.st.SaveAttempt(ctx, auction.BidAttempt{
			AuctionID:    a.ID,
			AttemptTime:  s.clk.Now(),
			Result:       auction.AttemptFailed,
			ErrorMessage: detailOrphanRecovered,
		})
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeOrphanRecovered,
			Time: s.clk.Now(),
			Data: map[string]string{"auction_id": a.ID, "listing": a.ListingNumber},
		})
	}
}

func (s *Service) preflightRan(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.preflightDone[id]
	return ok
}

func (s *Service) markPreflight(id string) {
	s.mu.Lock()
	s.preflightDone[id] = struct{}{}
	s.mu.Unlock()
}

func (s *Service) isExecuting(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.executing[id]
	return ok
}
