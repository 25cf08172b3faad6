package wechat

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebAuth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/web_token", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("grant_type") != "authorization_code" || q.Get("code") != "auth-code" {
			t.Errorf("token exchange query = %v", q)
		}
		fmt.Fprint(w, `{"access_token":"web-tok","expires_in":7200,"refresh_token":"refresh-tok","openid":"openid123","scope":"snsapi_userinfo"}`)
	})
	mux.HandleFunc("/web_refresh", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("grant_type") != "refresh_token" || q.Get("refresh_token") != "refresh-tok" {
			t.Errorf("refresh query = %v", q)
		}
		fmt.Fprint(w, `{"access_token":"web-tok-2","expires_in":7200,"refresh_token":"refresh-tok-2","openid":"openid123"}`)
	})
	mux.HandleFunc("/web_user", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "web-tok" {
			t.Errorf("user info without web token: %v", r.URL.Query())
		}
		fmt.Fprint(w, `{"openid":"openid123","nickname":"alice","sex":1,"city":"Guangzhou"}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewClient(ClientConfig{
		AppID:  "test-appid",
		Secret: "test-secret",
		Endpoints: map[string]string{
			"web_token":         server.URL + "/web_token",
			"web_refresh_token": server.URL + "/web_refresh",
			"web_user_info":     server.URL + "/web_user",
		},
	})
	ctx := context.Background()

	token, err := client.WebAuth(ctx, "auth-code")
	if err != nil {
		t.Fatalf("WebAuth: %v", err)
	}
	if token.OpenID != "openid123" || token.AccessToken != "web-tok" || token.RefreshToken != "refresh-tok" {
		t.Errorf("WebAuth = %+v", token)
	}

	renewed, err := client.RefreshWebAuth(ctx, token.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshWebAuth: %v", err)
	}
	if renewed.AccessToken != "web-tok-2" {
		t.Errorf("RefreshWebAuth = %+v", renewed)
	}

	openid, user, err := client.WebUser(ctx, "auth-code")
	if err != nil {
		t.Fatalf("WebUser: %v", err)
	}
	if openid != "openid123" || user.Nickname != "alice" {
		t.Errorf("WebUser = %q, %+v", openid, user)
	}
}

func TestWebAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errcode":40029,"errmsg":"invalid code"}`)
	}))
	t.Cleanup(server.Close)

	client := NewClient(ClientConfig{
		AppID:     "test-appid",
		Secret:    "test-secret",
		Endpoints: map[string]string{"web_token": server.URL},
	})
	_, err := client.WebAuth(context.Background(), "bad-code")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 40029 {
		t.Fatalf("err = %v, want *APIError with code 40029", err)
	}
}

func TestSignJS(t *testing.T) {
	ticket := "sM4AOVdWfPE4DxkXGEs8VMCPGGVi4C3VM0P37wVUCFvkVAy_90u5h9nbSlYy3-Sl-HhTdfl2fzFy1AOcHKP7qg"
	nonce := "Wm3WZYTPz0wzccnW"
	pageURL := "http://mp.weixin.qq.com?params=value"
	var timestamp int64 = 1414587457

	cfg := signJS(ticket, pageURL, nonce, timestamp, false)

	payload := fmt.Sprintf(
		"debug=false&jsapi_ticket=%s&noncestr=%s&timestamp=%d&url=%s",
		ticket, nonce, timestamp, pageURL)
	sum := sha1.Sum([]byte(payload))
	if cfg["signature"] != hex.EncodeToString(sum[:]) {
		t.Errorf("signature = %q", cfg["signature"])
	}

	if _, leaked := cfg["jsapi_ticket"]; leaked {
		t.Error("jsapi_ticket leaked into the config")
	}
	if cfg["nonceStr"] != nonce || cfg["timestamp"] != "1414587457" || cfg["url"] != pageURL {
		t.Errorf("config = %v", cfg)
	}
	if cfg["debug"] != "false" {
		t.Errorf("debug = %q", cfg["debug"])
	}
}

func TestSignJSDeterministic(t *testing.T) {
	a := signJS("ticket", "https://example.com/page", "nonce", 1700000000, true)
	b := signJS("ticket", "https://example.com/page", "nonce", 1700000000, true)
	if a["signature"] != b["signature"] {
		t.Errorf("signature not deterministic: %q != %q", a["signature"], b["signature"])
	}
	c := signJS("ticket", "https://example.com/other", "nonce", 1700000000, true)
	if a["signature"] == c["signature"] {
		t.Error("signature does not depend on url")
	}
}

func TestRandomNonce(t *testing.T) {
	n := randomNonce(15)
	if len(n) != 15 {
		t.Errorf("len = %d", len(n))
	}
	if n == randomNonce(15) {
		t.Error("two nonces collided")
	}
}
