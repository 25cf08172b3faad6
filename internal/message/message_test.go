package message

import (
	"errors"
	"strings"
	"testing"
)

const textMessageXML = `<xml><ToUserName><![CDATA[gh_account]]></ToUserName><FromUserName><![CDATA[openid123]]></FromUserName><CreateTime>1348831860</CreateTime><MsgType><![CDATA[text]]></MsgType><Content><![CDATA[this is a test]]></Content><MsgId>1234567890123456</MsgId></xml>`

const locationEventXML = `<xml><ToUserName><![CDATA[gh_account]]></ToUserName><FromUserName><![CDATA[openid123]]></FromUserName><CreateTime>1351776360</CreateTime><MsgType><![CDATA[event]]></MsgType><Event><![CDATA[LOCATION]]></Event><Latitude>23.137466</Latitude><Longitude>113.352425</Longitude><Precision>119.385040</Precision></xml>`

func TestDecodeTextMessage(t *testing.T) {
	msg, err := Decode([]byte(textMessageXML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.ToID != "gh_account" || msg.FromID != "openid123" {
		t.Errorf("addressing = %q -> %q", msg.FromID, msg.ToID)
	}
	if msg.MsgType != "text" || msg.IsEvent() {
		t.Errorf("MsgType = %q", msg.MsgType)
	}
	if msg.CreateTime != 1348831860 {
		t.Errorf("CreateTime = %d", msg.CreateTime)
	}
	if msg.MsgID != 1234567890123456 {
		t.Errorf("MsgID = %d", msg.MsgID)
	}
	if msg.Content != "<Content>this is a test</Content>" {
		t.Errorf("Content = %q", msg.Content)
	}
}

func TestDecodeLocationEvent(t *testing.T) {
	msg, err := Decode([]byte(locationEventXML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.MsgType != "event_LOCATION" {
		t.Errorf("MsgType = %q", msg.MsgType)
	}
	if !msg.IsEvent() {
		t.Error("IsEvent() = false for event message")
	}
	if msg.DispatchKey() != "LOCATION" {
		t.Errorf("DispatchKey() = %q", msg.DispatchKey())
	}
	if msg.MsgID != 0 {
		t.Errorf("MsgID = %d for event message", msg.MsgID)
	}
	for _, tag := range []string{"<Latitude>", "<Longitude>", "<Precision>"} {
		if !strings.Contains(msg.Content, tag) {
			t.Errorf("Content missing %s: %q", tag, msg.Content)
		}
	}
	if strings.Contains(msg.Content, "Event") {
		t.Errorf("envelope element leaked into Content: %q", msg.Content)
	}
}

func TestEncodeEventSplitsType(t *testing.T) {
	msg := &Message{
		ToID:       "openid123",
		FromID:     "gh_account",
		CreateTime: 1351776360,
		MsgType:    "event_CLICK",
		Content:    "<EventKey>menu_item_1</EventKey>",
	}
	raw := msg.Encode()
	if !strings.Contains(raw, "<MsgType><![CDATA[event]]></MsgType>") {
		t.Errorf("event type not split: %s", raw)
	}
	if !strings.Contains(raw, "<Event><![CDATA[CLICK]]></Event>") {
		t.Errorf("missing <Event> element: %s", raw)
	}
	if strings.Contains(raw, "<MsgId>") {
		t.Errorf("MsgId emitted for zero id: %s", raw)
	}
	if !strings.HasSuffix(raw, "</xml>") {
		t.Errorf("missing closing tag: %s", raw)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := &Message{
		ToID:       "openid123",
		FromID:     "gh_account",
		CreateTime: 1351776360,
		MsgType:    "event_SCAN",
		MsgID:      4242,
		Content:    "<EventKey>123456</EventKey>\n<Ticket>TICKET</Ticket>",
	}
	got, err := Decode([]byte(orig.Encode()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ToID != orig.ToID || got.FromID != orig.FromID {
		t.Errorf("addressing changed: %+v", got)
	}
	if got.MsgType != orig.MsgType || got.CreateTime != orig.CreateTime || got.MsgID != orig.MsgID {
		t.Errorf("envelope changed: %+v", got)
	}
	if got.Content != orig.Content {
		t.Errorf("Content = %q, want %q", got.Content, orig.Content)
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"truncated", "<xml><ToUserName>"},
		{"wrong root", "<foo><ToUserName>x</ToUserName></foo>"},
		{"missing from", "<xml><ToUserName>x</ToUserName><MsgType>text</MsgType><CreateTime>1</CreateTime></xml>"},
		{"missing type", "<xml><ToUserName>x</ToUserName><FromUserName>y</FromUserName><CreateTime>1</CreateTime></xml>"},
		{"missing create time", "<xml><ToUserName>x</ToUserName><FromUserName>y</FromUserName><MsgType>text</MsgType></xml>"},
		{"bad create time", "<xml><ToUserName>x</ToUserName><FromUserName>y</FromUserName><MsgType>text</MsgType><CreateTime>soon</CreateTime></xml>"},
		{"event without name", "<xml><ToUserName>x</ToUserName><FromUserName>y</FromUserName><MsgType>event</MsgType><CreateTime>1</CreateTime></xml>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode([]byte(tc.raw))
			if err == nil {
				t.Fatalf("Decode accepted %q: %+v", tc.raw, msg)
			}
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Errorf("error type = %T, want *DecodeError", err)
			}
		})
	}
}
