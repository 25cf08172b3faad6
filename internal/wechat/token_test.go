package wechat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTokenManager(t *testing.T, handler http.HandlerFunc) *TokenManager {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewTokenManager("test-appid", "test-secret", server.URL, server.Client(), slog.Default())
}

func TestTokenLazyFetchAndCache(t *testing.T) {
	var fetches atomic.Int64
	m := newTokenManager(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("grant_type") != "client_credential" {
			t.Errorf("grant_type = %q", q.Get("grant_type"))
		}
		if q.Get("appid") != "test-appid" || q.Get("secret") != "test-secret" {
			t.Errorf("credentials = %q / %q", q.Get("appid"), q.Get("secret"))
		}
		fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":7200}`, fetches.Add(1))
	})

	token, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "token-1" {
		t.Errorf("token = %q", token)
	}

	// Second call within the ttl serves from cache.
	token, err = m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "token-1" {
		t.Errorf("cached token = %q", token)
	}
	if fetches.Load() != 1 {
		t.Errorf("fetches = %d, want 1", fetches.Load())
	}
}

func TestTokenExpiryRefetch(t *testing.T) {
	var fetches atomic.Int64
	m := newTokenManager(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":7200}`, fetches.Add(1))
	})

	current := time.Now()
	m.now = func() time.Time { return current }

	if _, err := m.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}

	current = current.Add(7201 * time.Second)
	token, err := m.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token != "token-2" {
		t.Errorf("token after expiry = %q", token)
	}
	if fetches.Load() != 2 {
		t.Errorf("fetches = %d, want 2", fetches.Load())
	}
}

func TestTokenForcedRefresh(t *testing.T) {
	var fetches atomic.Int64
	m := newTokenManager(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":7200}`, fetches.Add(1))
	})

	if _, err := m.Token(context.Background()); err != nil {
		t.Fatalf("Token: %v", err)
	}
	// Refresh replaces a still-valid token.
	token, err := m.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if token != "token-2" {
		t.Errorf("refreshed token = %q", token)
	}
}

func TestTokenFetchError(t *testing.T) {
	m := newTokenManager(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errcode":40013,"errmsg":"invalid appid"}`)
	})

	_, err := m.Token(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 40013 {
		t.Fatalf("err = %v, want *APIError with code 40013", err)
	}
}
