package wechat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// TokenManager owns the single cached access token of a Client. The token
// is fetched lazily on first use, replaced wholesale when it expires, and
// force-refreshed after the API rejects it. Refreshes are serialized so
// concurrent webhook requests do not hammer the token endpoint.
type TokenManager struct {
	appID    string
	secret   string
	tokenURL string
	http     *http.Client
	logger   *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	// now is replaceable in tests.
	now func() time.Time
}

func NewTokenManager(appID, secret, tokenURL string, client *http.Client, logger *slog.Logger) *TokenManager {
	return &TokenManager{
		appID:    appID,
		secret:   secret,
		tokenURL: tokenURL,
		http:     client,
		logger:   logger,
		now:      time.Now,
	}
}

// Token returns the cached access token, fetching a fresh one when none has
// been fetched yet or the cached one has expired.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" && m.now().Before(m.expiresAt) {
		return m.token, nil
	}
	return m.fetch(ctx)
}

// Refresh unconditionally fetches a new token. Used after an auth-rejection
// response: the server has already invalidated the cached token, so its
// local expiry cannot be trusted.
func (m *TokenManager) Refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetch(ctx)
}

// fetch performs the client-credentials exchange. Callers hold m.mu.
func (m *TokenManager) fetch(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("grant_type", "client_credential")
	params.Set("appid", m.appID)
	params.Set("secret", m.secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.tokenURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch access token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}

	result := gjson.ParseBytes(body)
	if code := result.Get("errcode").Int(); code != 0 {
		return "", &APIError{Code: code, Msg: result.Get("errmsg").String()}
	}
	token := result.Get("access_token").String()
	if token == "" {
		return "", fmt.Errorf("token response carries no access_token: %s", result.Raw)
	}

	ttl := time.Duration(result.Get("expires_in").Int()) * time.Second
	m.token = token
	m.expiresAt = m.now().Add(ttl)
	m.logger.Debug("fetched access token", "expires_in", ttl)
	return m.token, nil
}
