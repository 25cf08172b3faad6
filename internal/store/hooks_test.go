package store

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lspvic/yawxt/internal/message"
	"github.com/lspvic/yawxt/internal/wechat"
)

// fakePlatform serves the token endpoint and a user-info endpoint that
// counts profile fetches.
func fakePlatform(t *testing.T, userFetches *atomic.Int64) *wechat.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"tok","expires_in":7200}`)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		userFetches.Add(1)
		fmt.Fprintf(w, `{"subscribe":1,"openid":%q,"nickname":"alice","tagid_list":[1,2]}`,
			r.URL.Query().Get("openid"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return wechat.NewClient(wechat.ClientConfig{
		AppID:  "test-appid",
		Secret: "test-secret",
		Endpoints: map[string]string{
			"token":     server.URL + "/token",
			"user_info": server.URL + "/user",
		},
	})
}

func textXML(content string) []byte {
	return []byte(fmt.Sprintf(
		"<xml><ToUserName><![CDATA[gh_account]]></ToUserName>"+
			"<FromUserName><![CDATA[openid123]]></FromUserName>"+
			"<CreateTime>1348831860</CreateTime>"+
			"<MsgType><![CDATA[text]]></MsgType>"+
			"<Content><![CDATA[%s]]></Content><MsgId>101</MsgId></xml>", content))
}

func TestHooksPersistDispatch(t *testing.T) {
	s := newTestStore(t)
	var userFetches atomic.Int64
	client := fakePlatform(t, &userFetches)

	handlers := Hooks(HooksConfig{
		Base: message.Handlers{
			OnText: func(ctx *message.Context, text string) error {
				ctx.ReplyText("pong")
				return nil
			},
		},
		Store:       s,
		Client:      client,
		UserRefresh: time.Hour,
	})
	d := message.NewDispatcher(message.DispatcherConfig{Handlers: handlers})

	ctx, err := d.Dispatch(context.Background(), textXML("ping"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := ctx.Reply(); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	// Inbound message and reply both land in the history.
	var rows int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM wechat_message`).Scan(&rows); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if rows != 2 {
		t.Errorf("message rows = %d, want 2", rows)
	}

	user, _, err := s.GetUser(context.Background(), "openid123")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user == nil || user.Nickname != "alice" || user.TagIDList != "1,2" {
		t.Errorf("stored user = %+v", user)
	}

	// A second message within the refresh window serves the profile from
	// the store.
	ctx, err = d.Dispatch(context.Background(), textXML("ping again"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := ctx.Reply(); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got := userFetches.Load(); got != 1 {
		t.Errorf("user fetches = %d, want 1", got)
	}
}

func TestHooksPersistLocationEvent(t *testing.T) {
	s := newTestStore(t)

	handlers := Hooks(HooksConfig{Store: s})
	d := message.NewDispatcher(message.DispatcherConfig{Handlers: handlers})

	raw := []byte("<xml><ToUserName><![CDATA[gh_account]]></ToUserName>" +
		"<FromUserName><![CDATA[openid123]]></FromUserName>" +
		"<CreateTime>1351776360</CreateTime>" +
		"<MsgType><![CDATA[event]]></MsgType>" +
		"<Event><![CDATA[LOCATION]]></Event>" +
		"<Latitude>23.137466</Latitude><Longitude>113.352425</Longitude>" +
		"<Precision>119.385040</Precision></xml>")

	ctx, err := d.Dispatch(context.Background(), raw)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := ctx.Reply(); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	loc, err := s.LastLocation(context.Background(), "openid123")
	if err != nil {
		t.Fatalf("LastLocation: %v", err)
	}
	if loc == nil || loc.Latitude != 23.137466 || loc.CreateTime != 1351776360 {
		t.Errorf("LastLocation = %+v", loc)
	}
}
