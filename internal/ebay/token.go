package ebay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Tokens refresh early so a credential never expires mid-snipe.
const tokenRefreshMargin = 5 * time.Minute

// TokenConfig configures OAuth credentials.
//
// With only AccessToken set, the provider is static: it serves the token
// until expiry and fails with ErrAuthExpired afterwards. With RefreshToken
// and client credentials set, it refreshes against the OAuth endpoint.
type TokenConfig struct {
	AccessToken  string
	ExpiresAt    time.Time // zero means unknown/never
	RefreshToken string
	ClientID     string
	ClientSecret string
	TokenURL     string // defaults to the identity endpoint for the chosen env
}

// OAuthTokenProvider implements TokenProvider with proactive refresh.
type OAuthTokenProvider struct {
	cfg TokenConfig
	hc  *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewOAuthTokenProvider(cfg TokenConfig) *OAuthTokenProvider {
	return &OAuthTokenProvider{
		cfg:       cfg,
		hc:        &http.Client{Timeout: 10 * time.Second},
		token:     cfg.AccessToken,
		expiresAt: cfg.ExpiresAt,
	}
}

// EnsureValid returns a token expected to remain valid until beforeDeadline
// (plus a safety margin). A zero beforeDeadline only checks current validity.
func (p *OAuthTokenProvider) EnsureValid(ctx context.Context, beforeDeadline time.Time) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == "" {
		if p.cfg.RefreshToken == "" {
			return "", ErrAuthExpired
		}
		return p.refreshLocked(ctx)
	}

	if p.expiresAt.IsZero() {
		return p.token, nil
	}

	need := time.Now().Add(tokenRefreshMargin)
	if !beforeDeadline.IsZero() && beforeDeadline.After(need) {
		need = beforeDeadline.Add(tokenRefreshMargin)
	}
	if p.expiresAt.After(need) {
		return p.token, nil
	}

	if p.cfg.RefreshToken == "" {
		// Still usable right now, even if it won't outlive the deadline.
		if p.expiresAt.After(time.Now()) {
			return p.token, nil
		}
		return "", ErrAuthExpired
	}
	return p.refreshLocked(ctx)
}

// ForceRefresh discards the cached token and fetches a fresh one. Used by
// the bid engine after an auth rejection.
func (p *OAuthTokenProvider) ForceRefresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.RefreshToken == "" {
		return "", ErrAuthExpired
	}
	return p.refreshLocked(ctx)
}

func (p *OAuthTokenProvider) refreshLocked(ctx context.Context) (string, error) {
	endpoint := p.cfg.TokenURL
	if endpoint == "" {
		endpoint = "https://api.ebay.com/identity/v1/oauth2/token"
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", p.cfg.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(p.cfg.ClientID + ":" + p.cfg.ClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.hc.Do(req)
	if err != nil {
		return "", Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		return "", ErrAuthExpired
	}
	if resp.StatusCode != http.StatusOK {
		return "", Transient(fmt.Errorf("token endpoint status %d", resp.StatusCode))
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", ErrAuthExpired
	}

	p.token = body.AccessToken
	p.expiresAt = time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	return p.token, nil
}
