package config

type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Ebay    EbayConfig     `json:"ebay"`
	API     *APIConfig     `json:"api,omitempty"`

	// Sniper controls the scheduler loop and bid execution timing.
	// If omitted, every field falls back to its documented default.
	Sniper *SniperConfig `json:"sniper,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./snipebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// EbayConfig holds marketplace credentials and client tuning.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
type EbayConfig struct {
	Env     string `json:"env,omitempty"`      // "production" (default) or "sandbox"
	BaseURL string `json:"base_url,omitempty"` // override for testing
	AppID   string `json:"app_id"`

	// Timeout caps a single marketplace call. Default "500ms"; the bid
	// engine may shorten it further near an auction's close.
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`

	Token EbayTokenConfig `json:"token"`
}

type EbayTokenConfig struct {
	AccessToken  string `json:"access_token,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"` // RFC3339
	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	TokenURL     string `json:"token_url,omitempty"`
}

// APIConfig controls the HTTP control surface. Nil means disabled.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8088"

	// Secret signs access tokens. Password gates POST /auth.
	Secret   string `json:"secret,omitempty"`
	Password string `json:"password,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// SniperConfig tunes the scheduling loop.
//
// All durations are Go duration strings.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "500ms"
//   - preflight_offset: "60s"
//   - execute_offset: "3s"
//   - max_attempts: 4
//   - bid_timeout: "500ms"
//   - price_ttl: "60s"
//   - outcome_schedule: "@every 30s"
//   - sweep_schedule: "@every 1m"
type SniperConfig struct {
	PollInterval    string `json:"poll_interval,omitempty"`
	PreflightOffset string `json:"preflight_offset,omitempty"`
	ExecuteOffset   string `json:"execute_offset,omitempty"`
	MaxAttempts     int    `json:"max_attempts,omitempty"`
	BidTimeout      string `json:"bid_timeout,omitempty"`
	PriceTTL        string `json:"price_ttl,omitempty"`
	OutcomeSchedule string `json:"outcome_schedule,omitempty"`
	SweepSchedule   string `json:"sweep_schedule,omitempty"`
}
