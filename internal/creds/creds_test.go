package creds

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"autopost/internal/config"
)

func TestFromConfigStatic(t *testing.T) {
	src, err := FromConfig(config.CredentialsConfig{Token: "abc"})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	tok, err := src.AccessToken(context.Background())
	if err != nil || tok != "abc" {
		t.Fatalf("token=%q err=%v", tok, err)
	}
}

func TestFromConfigEnv(t *testing.T) {
	t.Setenv("AUTOPOST_TEST_TOKEN", "from-env")
	src, err := FromConfig(config.CredentialsConfig{TokenEnv: "AUTOPOST_TEST_TOKEN"})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	tok, _ := src.AccessToken(context.Background())
	if tok != "from-env" {
		t.Fatalf("token=%q", tok)
	}

	t.Setenv("AUTOPOST_TEST_TOKEN", "")
	if _, err := FromConfig(config.CredentialsConfig{TokenEnv: "AUTOPOST_TEST_TOKEN"}); !errors.Is(err, ErrMissing) {
		t.Fatalf("empty env must be ErrMissing, got %v", err)
	}
}

func TestFromConfigMissing(t *testing.T) {
	if _, err := FromConfig(config.CredentialsConfig{}); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}

func TestRefreshExchangeAndCache(t *testing.T) {
	exchanges := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "ref" {
			t.Errorf("unexpected form: %v", r.Form)
		}
		io.WriteString(w, `{"access_token": "short-lived", "expires_in": 3600}`)
	}))
	defer srv.Close()

	src, err := FromConfig(config.CredentialsConfig{OAuth: &config.OAuthConfig{
		TokenURL:     srv.URL,
		ClientID:     "id",
		ClientSecret: "sec",
		RefreshToken: "ref",
	}})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}

	for i := 0; i < 3; i++ {
		tok, err := src.AccessToken(context.Background())
		if err != nil || tok != "short-lived" {
			t.Fatalf("call %d: token=%q err=%v", i, tok, err)
		}
	}
	if exchanges != 1 {
		t.Fatalf("token must be cached, exchanged %d times", exchanges)
	}
}

func TestRefreshRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": "invalid_grant"}`)
	}))
	defer srv.Close()

	src, _ := FromConfig(config.CredentialsConfig{OAuth: &config.OAuthConfig{
		TokenURL:     srv.URL,
		ClientID:     "id",
		ClientSecret: "sec",
		RefreshToken: "bad",
	}})
	if _, err := src.AccessToken(context.Background()); err == nil {
		t.Fatalf("rejected exchange must fail")
	}
}
