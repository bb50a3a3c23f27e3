package worker

import (
	"context"

	"github.com/robfig/cron/v3"

	"snipebot/internal/auction"
	"snipebot/internal/ebay"
	"snipebot/internal/eventbus"
	"snipebot/internal/runtime/supervisor"
	logx "snipebot/pkg/logx"
)

// SetClient wires the eBay client used by the outcome sweep. Kept separate
// from New so tests can run the poll loop without a real client.
func (s *Service) SetClient(c ebay.Client) { s.client = c }

func (s *Service) startCron(sup *supervisor.Supervisor) {
	c := cron.New()

	if _, err := c.AddFunc(s.cfg.OutcomeSchedule, func() { s.ResolveOutcomes(context.Background()) }); err != nil {
		s.log.Error("bad outcome schedule", logx.String("spec", s.cfg.OutcomeSchedule), logx.Err(err))
	}
	if _, err := c.AddFunc(s.cfg.SweepSchedule, func() { s.SweepStalePrices(context.Background()) }); err != nil {
		s.log.Error("bad sweep schedule", logx.String("spec", s.cfg.SweepSchedule), logx.Err(err))
	}

	c.Start()
	sup.Go("sniper.cron", func(ctx context.Context) error {
		<-ctx.Done()
		<-c.Stop().Done()
		return ctx.Err()
	})
}

// ResolveOutcomes looks up the won/lost result for auctions whose bid
// succeeded but whose outcome is still pending. Best effort: an auction
// whose lookup fails stays pending and is retried next sweep.
func (s *Service) ResolveOutcomes(ctx context.Context) {
	if s.client == nil {
		return
	}
	pending, err := s.st.ListOutcomePending(ctx, s.clk.Now())
	if err != nil {
		s.log.Error("outcome sweep list failed", logx.Err(err))
		return
	}

	for _, a := range pending {
		res, ferr := s.client.FetchOutcome(ctx, a.ListingNumber)
		if ferr != nil {
			s.log.Debug("outcome lookup failed", logx.String("listing", a.ListingNumber), logx.Err(ferr))
			continue
		}
		outcome := auction.OutcomeLost
		if res.Won {
			outcome = auction.OutcomeWon
		}
		if serr := s.st.SetOutcome(ctx, a.ID, outcome, res.FinalPrice); serr != nil {
			s.log.Error("outcome save failed", logx.String("auction", a.ID), logx.Err(serr))
			continue
		}
		s.log.Info("auction outcome resolved",
			logx.String("auction", a.ID),
			logx.String("listing", a.ListingNumber),
			logx.String("outcome", string(outcome)),
			logx.String("final_price", res.FinalPrice.String()))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{
				Type: eventbus.TypeOutcomeResolved,
				Time: s.clk.Now(),
				Data: map[string]string{"auction_id": a.ID, "listing": a.ListingNumber, "outcome": string(outcome)},
			})
		}
	}
}

// SweepStalePrices refreshes listings whose cached price aged past the TTL
// so list views stay warm without a request in the hot path.
func (s *Service) SweepStalePrices(ctx context.Context) {
	stale, err := s.st.ListStalePrices(ctx, s.clk.Now().Add(-s.cfg.PriceTTL))
	if err != nil {
		s.log.Error("price sweep list failed", logx.Err(err))
		return
	}
	for _, a := range stale {
		if _, rerr := s.refr.Refresh(ctx, a); rerr != nil {
			s.log.Debug("background refresh failed", logx.String("listing", a.ListingNumber), logx.Err(rerr))
		}
	}
}
