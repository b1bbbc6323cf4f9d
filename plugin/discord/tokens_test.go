package discord

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewTokenStore(dir, "super-secret")
	if err != nil {
		t.Fatalf("NewTokenStore failed: %v", err)
	}

	token := &oauth2.Token{
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).Round(time.Second),
	}
	if err := store.Save(token); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// The file on disk must not contain the token in the clear.
	raw, err := os.ReadFile(filepath.Join(dir, tokenFileName))
	if err != nil {
		t.Fatalf("failed to read token file: %v", err)
	}
	if strings.Contains(string(raw), "access-123") {
		t.Error("token file contains the access token in plaintext")
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.AccessToken != token.AccessToken || loaded.RefreshToken != token.RefreshToken {
		t.Errorf("loaded token differs: %+v", loaded)
	}
}

func TestTokenStoreMissingToken(t *testing.T) {
	store, err := NewTokenStore(t.TempDir(), "super-secret")
	if err != nil {
		t.Fatalf("NewTokenStore failed: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestTokenStoreWrongSecret(t *testing.T) {
	dir := t.TempDir()
	store, err := NewTokenStore(dir, "secret-one")
	if err != nil {
		t.Fatalf("NewTokenStore failed: %v", err)
	}
	if err := store.Save(&oauth2.Token{AccessToken: "access-123"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	other, err := NewTokenStore(dir, "secret-two")
	if err != nil {
		t.Fatalf("NewTokenStore failed: %v", err)
	}
	if _, err := other.Load(); !errors.Is(err, ErrInvalidTokenFile) {
		t.Fatalf("expected ErrInvalidTokenFile, got %v", err)
	}
}

func TestTokenStoreDelete(t *testing.T) {
	store, err := NewTokenStore(t.TempDir(), "super-secret")
	if err != nil {
		t.Fatalf("NewTokenStore failed: %v", err)
	}
	if err := store.Save(&oauth2.Token{AccessToken: "access-123"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken after delete, got %v", err)
	}
	// Deleting again is a no-op.
	if err := store.Delete(); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
}

func TestTokenRefreshesExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("unexpected grant_type: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "fresh-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	store, err := NewTokenStore(t.TempDir(), "super-secret")
	if err != nil {
		t.Fatalf("NewTokenStore failed: %v", err)
	}
	expired := &oauth2.Token{
		AccessToken:  "stale-access",
		RefreshToken: "refresh-456",
		Expiry:       time.Now().Add(-time.Hour),
	}
	if err := store.Save(expired); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	conf := OAuthConfig("client-id", "client-secret", "http://localhost/callback", nil)
	conf.Endpoint.TokenURL = srv.URL

	token, err := store.Token(context.Background(), conf)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token.AccessToken != "fresh-access" {
		t.Errorf("expected refreshed token, got %q", token.AccessToken)
	}

	// The refreshed token was persisted.
	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.AccessToken != "fresh-access" {
		t.Errorf("refreshed token was not persisted, got %q", reloaded.AccessToken)
	}
}
