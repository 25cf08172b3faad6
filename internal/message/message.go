// Package message implements the WeChat Official Account inbound message
// protocol: webhook signature verification, the XML wire codec, dispatch of
// decoded messages to per-type handler hooks, and reply construction.
package message

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
)

// EventPrefix namespaces event notifications inside MsgType. An ordinary
// text message has MsgType "text"; a location report event has MsgType
// "event_LOCATION". The wire format carries the event name in a separate
// <Event> element; the prefix unifies both under one type tag.
const EventPrefix = "event_"

// Message is the transport envelope for both directions. For an inbound
// message FromID is the sender's openid and ToID the account id; a reply
// swaps them. Content holds the type-specific inner XML fragment with the
// envelope elements already stripped out, so it never contains ToUserName,
// FromUserName, MsgType, CreateTime, MsgId, or Event.
type Message struct {
	ToID       string
	FromID     string
	CreateTime int64
	MsgType    string
	MsgID      int64 // zero when absent; events carry no message id
	Content    string
}

// DecodeError reports inbound XML that cannot be turned into a Message:
// malformed markup or a missing mandatory envelope element. No partial
// Message accompanies it.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode message: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsEvent reports whether the message is an event notification.
func (m *Message) IsEvent() bool { return strings.HasPrefix(m.MsgType, EventPrefix) }

// DispatchKey returns the handler selection key: the event name for event
// notifications, the bare message type otherwise.
func (m *Message) DispatchKey() string { return strings.TrimPrefix(m.MsgType, EventPrefix) }

// NewMessage constructs an outbound Message stamped with the current time.
func NewMessage(toID, fromID, msgType, content string, msgID int64) *Message {
	return &Message{
		ToID:       toID,
		FromID:     fromID,
		CreateTime: time.Now().Unix(),
		MsgType:    msgType,
		MsgID:      msgID,
		Content:    content,
	}
}

// Decode parses a raw webhook request body into a Message. The envelope
// elements are removed from the parsed tree; whatever remains (Content,
// Latitude/Longitude/Precision, EventKey, MediaId, ...) is serialized back
// and kept opaquely in Content. A MsgType of "event" is rewritten to
// "event_<EVENT>" from the <Event> element.
func Decode(raw []byte) (*Message, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Reason: "malformed xml", Err: err}
	}
	root := doc.SelectElement("xml")
	if root == nil {
		return nil, &DecodeError{Reason: "missing <xml> root element"}
	}

	pop := func(tag string) *xmlquery.Node {
		n := root.SelectElement(tag)
		if n != nil {
			xmlquery.RemoveFromTree(n)
		}
		return n
	}

	var msg Message
	for _, field := range []struct {
		tag string
		dst *string
	}{
		{"ToUserName", &msg.ToID},
		{"FromUserName", &msg.FromID},
		{"MsgType", &msg.MsgType},
	} {
		n := pop(field.tag)
		if n == nil {
			return nil, &DecodeError{Reason: "missing <" + field.tag + ">"}
		}
		*field.dst = n.InnerText()
	}

	if msg.MsgType == "event" {
		ev := pop("Event")
		if ev == nil {
			return nil, &DecodeError{Reason: "missing <Event> on event message"}
		}
		msg.MsgType = EventPrefix + ev.InnerText()
	}

	ct := pop("CreateTime")
	if ct == nil {
		return nil, &DecodeError{Reason: "missing <CreateTime>"}
	}
	msg.CreateTime, err = strconv.ParseInt(strings.TrimSpace(ct.InnerText()), 10, 64)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid <CreateTime>", Err: err}
	}

	if n := pop("MsgId"); n != nil {
		msg.MsgID, err = strconv.ParseInt(strings.TrimSpace(n.InnerText()), 10, 64)
		if err != nil {
			return nil, &DecodeError{Reason: "invalid <MsgId>", Err: err}
		}
	}

	var sb strings.Builder
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		sb.WriteString(child.OutputXML(true))
	}
	msg.Content = strings.TrimSpace(sb.String())

	return &msg, nil
}

// Encode renders the message in WeChat's reply wire format: CDATA-wrapped
// envelope strings, bare integers for CreateTime and MsgId, and the Content
// fragment appended verbatim. An event_ MsgType splits back into
// <MsgType>event</MsgType> plus an <Event> element.
func (m *Message) Encode() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<xml>\n<ToUserName><![CDATA[%s]]></ToUserName>\n", m.ToID)
	fmt.Fprintf(&sb, "<FromUserName><![CDATA[%s]]></FromUserName>\n", m.FromID)
	fmt.Fprintf(&sb, "<CreateTime>%d</CreateTime>\n", m.CreateTime)

	if m.IsEvent() {
		fmt.Fprintf(&sb, "<MsgType><![CDATA[event]]></MsgType>\n")
		fmt.Fprintf(&sb, "<Event><![CDATA[%s]]></Event>\n", m.DispatchKey())
	} else {
		fmt.Fprintf(&sb, "<MsgType><![CDATA[%s]]></MsgType>\n", m.MsgType)
	}

	if m.MsgID != 0 {
		fmt.Fprintf(&sb, "<MsgId>%d</MsgId>\n", m.MsgID)
	}
	if m.Content != "" {
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("</xml>")
	return sb.String()
}

// Location is a user position report carried by an event_LOCATION message,
// stamped with the originating message's create time.
type Location struct {
	Latitude   float64
	Longitude  float64
	Precision  float64
	OpenID     string
	CreateTime int64
}

func (l Location) String() string {
	return fmt.Sprintf("location(%f,%f precision=%f openid=%s)", l.Latitude, l.Longitude, l.Precision, l.OpenID)
}
