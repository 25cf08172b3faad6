// Package wechat implements the authenticated transport layer for the
// WeChat Official Account REST API: client-credentials token management,
// the logical endpoint registry, transparent retry-once on auth rejection,
// and the typed business error taxonomy.
package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lspvic/yawxt/internal/metrics"
)

// defaultEndpoints maps logical endpoint names to their upstream URLs. The
// mapping is configuration, not behavior: a Client copy may be overridden
// entry by entry (tests point selected names at a local server).
var defaultEndpoints = map[string]string{
	"token": "https://api.weixin.qq.com/cgi-bin/token",

	"user_list":      "https://api.weixin.qq.com/cgi-bin/user/get",
	"user_info":      "https://api.weixin.qq.com/cgi-bin/user/info",
	"msg_preview":    "https://api.weixin.qq.com/cgi-bin/message/mass/preview",
	"voice_download": "https://file.api.weixin.qq.com/cgi-bin/media/get",
	"semantic":       "https://api.weixin.qq.com/semantic/semproxy/search",

	"menu_create": "https://api.weixin.qq.com/cgi-bin/menu/create",
	"menu_get":    "https://api.weixin.qq.com/cgi-bin/menu/get",
	"menu_delete": "https://api.weixin.qq.com/cgi-bin/menu/delete",

	"web_token":         "https://api.weixin.qq.com/sns/oauth2/access_token",
	"web_user_info":     "https://api.weixin.qq.com/sns/userinfo",
	"web_refresh_token": "https://api.weixin.qq.com/sns/oauth2/refresh_token",

	"jsapi": "https://api.weixin.qq.com/cgi-bin/ticket/getticket",

	"template_message_send": "https://api.weixin.qq.com/cgi-bin/message/template/send",
	"add_template":          "https://api.weixin.qq.com/cgi-bin/template/api_add_template",
	"set_industry":          "https://api.weixin.qq.com/cgi-bin/template/api_set_industry",
	"get_industry":          "https://api.weixin.qq.com/cgi-bin/template/get_industry",
	"get_templates":         "https://api.weixin.qq.com/cgi-bin/template/get_all_private_template",
	"del_template":          "https://api.weixin.qq.com/cgi-bin/template/del_private_template",
}

// authInvalidCodes are the errcodes meaning the access token was rejected.
// A response carrying one of these triggers a forced token refresh and
// exactly one retry; a second occurrence falls through to normal error
// mapping.
var authInvalidCodes = map[int64]bool{
	40001: true,
	40014: true,
	41001: true,
	42001: true,
}

// Client issues calls against the Official Account API on behalf of one
// appid/secret pair. Two Clients share nothing; all mutable state (the
// cached token, the jsapi ticket, the call counters) is instance-scoped.
type Client struct {
	appID     string
	secret    string
	endpoints map[string]string
	http      *http.Client
	tokens    *TokenManager
	logger    *slog.Logger

	successCalls *metrics.CounterVec
	failureCalls *metrics.CounterVec

	jsTicket ticketCache
}

// ClientConfig configures a Client.
type ClientConfig struct {
	AppID  string
	Secret string
	// Endpoints overrides entries of the default registry by logical name.
	Endpoints map[string]string
	// HTTPClient defaults to a pooled client with a 30s timeout.
	HTTPClient *http.Client
	// Metrics receives the per-endpoint success/failure counters; defaults
	// to a collector private to this client.
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(30 * time.Second)
	}
	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NewCollector()
	}

	endpoints := make(map[string]string, len(defaultEndpoints))
	for name, u := range defaultEndpoints {
		endpoints[name] = u
	}
	for name, u := range cfg.Endpoints {
		endpoints[name] = u
	}

	return &Client{
		appID:     cfg.AppID,
		secret:    cfg.Secret,
		endpoints: endpoints,
		http:      httpClient,
		tokens:    NewTokenManager(cfg.AppID, cfg.Secret, endpoints["token"], httpClient, logger),
		logger:    logger,
		successCalls: collector.CounterVec("yawxt_api_calls_success_total",
			"Successful API calls by endpoint", "endpoint"),
		failureCalls: collector.CounterVec("yawxt_api_calls_failure_total",
			"Failed API calls by endpoint", "endpoint"),
	}
}

// AppID returns the account appid the client was constructed with.
func (c *Client) AppID() string { return c.appID }

// newHTTPClient returns a pooled HTTP client; outbound API calls reuse
// connections to the platform across webhook requests.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Call issues an authenticated request against a logical endpoint and
// returns the parsed JSON body. The current access token is attached as the
// access_token query parameter; body, when non-nil, is JSON-encoded. When
// the response carries an auth-invalid errcode the token is force-refreshed
// and the call retried exactly once; any remaining non-zero errcode maps to
// the typed error taxonomy.
func (c *Client) Call(ctx context.Context, endpoint, method string, params url.Values, body any) (gjson.Result, error) {
	endpointURL, ok := c.endpoints[endpoint]
	if !ok {
		return gjson.Result{}, fmt.Errorf("unknown endpoint %q", endpoint)
	}

	result, err := c.doAuthenticated(ctx, method, endpointURL, params, body)
	if err != nil {
		c.failureCalls.With(endpoint).Inc()
		return gjson.Result{}, err
	}

	if authInvalidCodes[result.Get("errcode").Int()] {
		c.logger.Debug("access token rejected, refreshing",
			"endpoint", endpoint, "errcode", result.Get("errcode").Int())
		if _, err := c.tokens.Refresh(ctx); err != nil {
			c.failureCalls.With(endpoint).Inc()
			return gjson.Result{}, fmt.Errorf("refresh after auth rejection: %w", err)
		}
		result, err = c.doAuthenticated(ctx, method, endpointURL, params, body)
		if err != nil {
			c.failureCalls.With(endpoint).Inc()
			return gjson.Result{}, err
		}
	}

	if code := result.Get("errcode").Int(); code != 0 {
		c.failureCalls.With(endpoint).Inc()
		return gjson.Result{}, c.mapError(endpoint, code, result)
	}

	c.successCalls.With(endpoint).Inc()
	return result, nil
}

// mapError resolves a non-zero errcode to its error class: a concrete class
// from the closed registry when one exists, the semantic error (carrying the
// original query) on the semantic endpoint, the generic APIError otherwise.
func (c *Client) mapError(endpoint string, code int64, result gjson.Result) error {
	msg := result.Get("errmsg").String()
	if build, ok := concreteErrors[code]; ok {
		return build(msg)
	}
	if endpoint == "semantic" {
		return &SemanticError{Code: code, Query: result.Get("query").String()}
	}
	return &APIError{Code: code, Msg: orDefault(msg, "no errmsg supplied")}
}

func (c *Client) doAuthenticated(ctx context.Context, method, endpointURL string, params url.Values, body any) (gjson.Result, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return gjson.Result{}, err
	}
	merged := url.Values{}
	for key, vals := range params {
		merged[key] = vals
	}
	merged.Set("access_token", token)
	return c.doJSON(ctx, method, endpointURL, merged, body)
}

// doJSON performs one HTTP round trip and parses the JSON body.
func (c *Client) doJSON(ctx context.Context, method, endpointURL string, params url.Values, body any) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		// WeChat rejects escaped non-ASCII in some payloads; encode without
		// HTML escaping.
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(body); err != nil {
			return gjson.Result{}, fmt.Errorf("encode request body: %w", err)
		}
		reader = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, endpointURL+"?"+params.Encode(), reader)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("request %s: %w", endpointURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("invalid json response from %s", endpointURL)
	}
	return gjson.ParseBytes(raw), nil
}
