package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Validate checks the whole document the way Watch's validator hook does,
// so a bad edit is rejected before it is published.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	durations := []struct{ path, raw string }{
		{"ebay.timeout", cfg.Ebay.Timeout},
		{"storage.busy_timeout", storageBusy(cfg)},
	}
	if s := cfg.Sniper; s != nil {
		durations = append(durations,
			struct{ path, raw string }{"sniper.poll_interval", s.PollInterval},
			struct{ path, raw string }{"sniper.preflight_offset", s.PreflightOffset},
			struct{ path, raw string }{"sniper.execute_offset", s.ExecuteOffset},
			struct{ path, raw string }{"sniper.bid_timeout", s.BidTimeout},
			struct{ path, raw string }{"sniper.price_ttl", s.PriceTTL},
		)
	}
	if a := cfg.API; a != nil {
		durations = append(durations,
			struct{ path, raw string }{"api.read_timeout", a.ReadTimeout},
			struct{ path, raw string }{"api.write_timeout", a.WriteTimeout},
			struct{ path, raw string }{"api.idle_timeout", a.IdleTimeout},
		)
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if cfg.Sniper != nil && cfg.Sniper.MaxAttempts < 0 {
		return fmt.Errorf("sniper.max_attempts: must be >= 0")
	}
	if a := cfg.API; a != nil && a.Enabled {
		if strings.TrimSpace(a.Secret) == "" {
			return fmt.Errorf("api.secret: required when api is enabled")
		}
		if strings.TrimSpace(a.Password) == "" {
			return fmt.Errorf("api.password: required when api is enabled")
		}
	}
	if exp := strings.TrimSpace(cfg.Ebay.Token.ExpiresAt); exp != "" {
		if _, err := time.Parse(time.RFC3339, exp); err != nil {
			return fmt.Errorf("ebay.token.expires_at: invalid RFC3339 time: %w", err)
		}
	}
	return nil
}

func storageBusy(cfg *Config) string {
	if cfg.Storage == nil {
		return ""
	}
	return cfg.Storage.BusyTimeout
}
