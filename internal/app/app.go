// Package app wires configuration, storage, the marketplace client, the bid
// engine and the worker into one runnable daemon.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"snipebot/internal/api"
	"snipebot/internal/clock"
	"snipebot/internal/config"
	"snipebot/internal/ebay"
	"snipebot/internal/engine"
	"snipebot/internal/eventbus"
	"snipebot/internal/pricecache"
	"snipebot/internal/runtime/supervisor"
	"snipebot/internal/store"
	"snipebot/internal/worker"
	logx "snipebot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	st     store.Store
	bus    eventbus.Bus
	client *ebay.HTTPClient
	tokens *ebay.OAuthTokenProvider
	refr   *pricecache.Refresher
	eng    *engine.Engine
	work   *worker.Service
	api    *api.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	clk := clock.Real()
	bus := eventbus.New()

	st, err := openStore(cfg, logSvc.Logger().With(logx.String("comp", "store")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	tokens, client, err := buildClient(cfg, logSvc.Logger().With(logx.String("comp", "ebay")))
	if err != nil {
		_ = st.Close()
		_ = logSvc.Close()
		return nil, err
	}

	sniper := cfg.Sniper
	if sniper == nil {
		sniper = &config.SniperConfig{}
	}
	priceTTL, err := config.ParseDurationOrDefault("sniper.price_ttl", sniper.PriceTTL, pricecache.DefaultTTL)
	if err != nil {
		return nil, err
	}

	coal := pricecache.NewCoalescer(client)
	refr := pricecache.NewRefresher(st, coal, clk, bus,
		logSvc.Logger().With(logx.String("comp", "pricecache")), priceTTL)

	bidTimeout, err := config.ParseDurationOrDefault("sniper.bid_timeout", sniper.BidTimeout, engine.DefaultBidTimeout)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engine.Config{
		MaxAttempts: sniper.MaxAttempts,
		BidTimeout:  bidTimeout,
	}, st, client, tokens, clk, bus, logSvc.Logger().With(logx.String("comp", "engine")))

	workCfg, err := workerConfig(sniper, priceTTL)
	if err != nil {
		return nil, err
	}
	work := worker.New(workCfg, st, eng, refr, clk, bus,
		logSvc.Logger().With(logx.String("comp", "worker")))
	work.SetClient(client)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		st:      st,
		bus:     bus,
		client:  client,
		tokens:  tokens,
		refr:    refr,
		eng:     eng,
		work:    work,
	}

	if apiCfg := cfg.API; apiCfg != nil && apiCfg.Enabled {
		srvCfg, err := apiConfig(apiCfg)
		if err != nil {
			return nil, err
		}
		a.api = api.New(srvCfg, st, client, refr, clk, bus,
			logSvc.Logger().With(logx.String("comp", "api")))
	}

	return a, nil
}

func openStore(cfg *config.Config, log logx.Logger) (store.Store, error) {
	sc := store.Config{Driver: "sqlite", Path: "./snipebot.db"}
	if cfg.Storage != nil {
		if d := strings.TrimSpace(cfg.Storage.Driver); d != "" {
			sc.Driver = d
		}
		if p := strings.TrimSpace(cfg.Storage.Path); p != "" {
			sc.Path = p
		}
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		sc.BusyTimeout = busy
	}
	return store.Open(sc, log)
}

func buildClient(cfg *config.Config, log logx.Logger) (*ebay.OAuthTokenProvider, *ebay.HTTPClient, error) {
	var expiresAt time.Time
	if raw := strings.TrimSpace(cfg.Ebay.Token.ExpiresAt); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("ebay.token.expires_at: %w", err)
		}
		expiresAt = t
	}
	tokens := ebay.NewOAuthTokenProvider(ebay.TokenConfig{
		AccessToken:  cfg.Ebay.Token.AccessToken,
		ExpiresAt:    expiresAt,
		RefreshToken: cfg.Ebay.Token.RefreshToken,
		ClientID:     cfg.Ebay.Token.ClientID,
		ClientSecret: cfg.Ebay.Token.ClientSecret,
		TokenURL:     cfg.Ebay.Token.TokenURL,
	})

	timeout, err := config.ParseDurationField("ebay.timeout", cfg.Ebay.Timeout)
	if err != nil {
		return nil, nil, err
	}
	client := ebay.NewHTTPClient(ebay.Config{
		Env:        cfg.Ebay.Env,
		BaseURL:    cfg.Ebay.BaseURL,
		AppID:      cfg.Ebay.AppID,
		Timeout:    timeout,
		RatePerSec: cfg.Ebay.RatePerSec,
	}, tokens, log)
	return tokens, client, nil
}

func workerConfig(s *config.SniperConfig, priceTTL time.Duration) (worker.Config, error) {
	poll, err := config.ParseDurationField("sniper.poll_interval", s.PollInterval)
	if err != nil {
		return worker.Config{}, err
	}
	preflight, err := config.ParseDurationField("sniper.preflight_offset", s.PreflightOffset)
	if err != nil {
		return worker.Config{}, err
	}
	execute, err := config.ParseDurationField("sniper.execute_offset", s.ExecuteOffset)
	if err != nil {
		return worker.Config{}, err
	}
	return worker.Config{
		PollInterval:    poll,
		PreflightOffset: preflight,
		ExecuteOffset:   execute,
		OutcomeSchedule: s.OutcomeSchedule,
		SweepSchedule:   s.SweepSchedule,
		PriceTTL:        priceTTL,
	}, nil
}

func apiConfig(a *config.APIConfig) (api.Config, error) {
	read, err := config.ParseDurationField("api.read_timeout", a.ReadTimeout)
	if err != nil {
		return api.Config{}, err
	}
	write, err := config.ParseDurationField("api.write_timeout", a.WriteTimeout)
	if err != nil {
		return api.Config{}, err
	}
	idle, err := config.ParseDurationField("api.idle_timeout", a.IdleTimeout)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Addr:         a.Addr,
		Secret:       a.Secret,
		Password:     a.Password,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}

// Done is closed when the supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(config.Validate)
	a.sup.Go("config.watch", a.cfgm.Watch)

	// Hot reload fan-out. Only logging is applied live; timing and
	// credential changes take effect on restart.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return c.Err()
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
				})
				a.log.Info("config reloaded", logx.String("log_level", newCfg.Logging.Level))
			}
		}
	})

	a.startAudit()
	a.work.Start(a.sup)

	if a.api != nil {
		a.sup.Go("api.serve", func(c context.Context) error {
			errCh := make(chan error, 1)
			go func() { errCh <- a.api.Start() }()
			select {
			case <-c.Done():
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = a.api.Stop(shutCtx)
				return c.Err()
			case err := <-errCh:
				return err
			}
		})
	}

	a.log.Info("snipebot started", logx.String("config", a.cfgPath))
	return nil
}

// startAudit drains bus events into the persistent audit trail.
func (a *App) startAudit() {
	events, unsub := a.bus.Subscribe(64)
	a.sup.Go("audit.drain", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return c.Err()
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				entry := store.AuditEntry{At: ev.Time, Event: ev.Type}
				if data, ok := ev.Data.(map[string]string); ok {
					entry.AuctionID = data["auction_id"]
					entry.ListingNumber = data["listing"]
					entry.Detail = data["detail"]
				}
				if err := a.st.AppendAudit(c, entry); err != nil {
					a.log.Warn("audit write failed", logx.String("event", ev.Type), logx.Err(err))
				}
			}
		}
	})
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(ctx)
	}
	if a.st != nil {
		_ = a.st.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
