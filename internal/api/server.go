// Package api exposes the HTTP control surface: password auth, adding and
// cancelling snipes, and status/attempt inspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"snipebot/internal/clock"
	"snipebot/internal/ebay"
	"snipebot/internal/eventbus"
	"snipebot/internal/pricecache"
	"snipebot/internal/store"
	logx "snipebot/pkg/logx"
)

type Config struct {
	Addr     string
	Secret   string
	Password string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8088"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	return c
}

type Server struct {
	cfg    Config
	st     store.Store
	client ebay.Client
	refr   *pricecache.Refresher
	clk    clock.Clock
	bus    eventbus.Bus
	log    logx.Logger

	srv *http.Server
}

func New(cfg Config, st store.Store, client ebay.Client, refr *pricecache.Refresher, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Server{cfg: cfg.withDefaults(), st: st, client: client, refr: refr, clk: clk, bus: bus, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/auth", s.handleAuth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Route("/sniper", func(r chi.Router) {
			r.Post("/add", s.handleAdd)
			r.Post("/bulk", s.handleBulk)
			r.Get("/list", s.handleList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/status", s.handleStatus)
				r.Delete("/", s.handleRemove)
				r.Get("/logs", s.handleLogs)
			})
		})
	})
	return r
}

func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.log.Info("api listening", logx.String("addr", s.cfg.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
