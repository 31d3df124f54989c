// Package creds loads long-lived credentials and exchanges them for access
// tokens. Missing or rejected credentials are fatal for the run; nothing
// here is retried.
package creds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"autopost/internal/config"
)

// ErrMissing reports absent credential material (configuration error).
var ErrMissing = errors.New("creds: no credential material configured")

// Source yields access tokens. Implements platform.TokenSource.
type Source interface {
	AccessToken(ctx context.Context) (string, error)
}

// FromConfig builds the credential source for one target block.
func FromConfig(cfg config.CredentialsConfig) (Source, error) {
	if cfg.OAuth != nil {
		o := cfg.OAuth
		return &refreshSource{
			tokenURL:     strings.TrimSpace(o.TokenURL),
			clientID:     strings.TrimSpace(o.ClientID),
			clientSecret: strings.TrimSpace(o.ClientSecret),
			refreshToken: strings.TrimSpace(o.RefreshToken),
			http:         &http.Client{Timeout: 30 * time.Second},
		}, nil
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" && cfg.TokenEnv != "" {
		token = strings.TrimSpace(os.Getenv(cfg.TokenEnv))
		if token == "" {
			return nil, fmt.Errorf("creds: env %s is empty: %w", cfg.TokenEnv, ErrMissing)
		}
	}
	if token == "" {
		return nil, ErrMissing
	}
	return Static(token), nil
}

// Static is a fixed long-lived token.
type Static string

func (s Static) AccessToken(ctx context.Context) (string, error) {
	_ = ctx
	if s == "" {
		return "", ErrMissing
	}
	return string(s), nil
}

const defaultGoogleTokenURL = "https://oauth2.googleapis.com/token"

// refreshSource exchanges a refresh token for a short-lived access token and
// caches it until shortly before expiry. One exchange per process run in the
// common case.
type refreshSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	refreshToken string
	http         *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func (r *refreshSource) AccessToken(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != "" && time.Now().Before(r.expires) {
		return r.token, nil
	}

	tokenURL := r.tokenURL
	if tokenURL == "" {
		tokenURL = defaultGoogleTokenURL
	}

	form := url.Values{
		"client_id":     {r.clientID},
		"client_secret": {r.clientSecret},
		"refresh_token": {r.refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("creds: token exchange: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("creds: token exchange: decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK || parsed.AccessToken == "" {
		if parsed.Error != "" {
			return "", fmt.Errorf("creds: token exchange rejected: %s", parsed.Error)
		}
		return "", fmt.Errorf("creds: token exchange: HTTP %d", resp.StatusCode)
	}

	r.token = parsed.AccessToken
	ttl := time.Duration(parsed.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	// Refresh a minute early so in-flight calls never race expiry.
	r.expires = time.Now().Add(ttl - time.Minute)
	return r.token, nil
}
