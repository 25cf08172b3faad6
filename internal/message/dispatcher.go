package message

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
)

// qrScenePrefix precedes the integer scene id in the EventKey of a
// subscribe-via-QR event.
const qrScenePrefix = "qrscene_"

// Handlers is the capability set the dispatcher invokes by message type.
// Every field is optional; a nil hook falls back to the dispatcher's default
// behavior (a debug echo when the dispatcher runs with DebugEcho, otherwise
// nothing). Hooks receive the dispatch Context and may stage a reply on it;
// an error returned from a hook aborts the dispatch and propagates to the
// caller.
type Handlers struct {
	OnText       func(ctx *Context, text string) error
	OnImage      func(ctx *Context, mediaID, picURL string) error
	OnVoice      func(ctx *Context, mediaID, format, recognition string) error
	OnVideo      func(ctx *Context, mediaID, thumbMediaID string) error
	OnShortVideo func(ctx *Context, mediaID, thumbMediaID string) error
	OnLocation   func(ctx *Context, x, y, scale float64, label string) error
	OnLink       func(ctx *Context, url, title, description string) error

	EventSubscribe             func(ctx *Context) error
	EventSubscribeFromQR       func(ctx *Context, sceneID int64, ticket string) error
	EventUnsubscribe           func(ctx *Context) error
	EventLocation              func(ctx *Context, loc Location) error
	EventClick                 func(ctx *Context, key string) error
	EventView                  func(ctx *Context, url string) error
	EventScan                  func(ctx *Context, sceneID int64, ticket string) error
	EventTemplateSendJobFinish func(ctx *Context, status string) error

	// Before runs after decoding, before the type hook. Finish runs during
	// finalization, after the reply message (if any) has been built.
	Before func(ctx *Context) error
	Finish func(ctx *Context) error
}

// Dispatcher routes decoded messages to handler hooks and collects at most
// one reply per message.
type Dispatcher struct {
	handlers  Handlers
	debugEcho bool
	logger    *slog.Logger
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Handlers  Handlers
	DebugEcho bool // default hooks echo a debug acknowledgment to the user
	Logger    *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{handlers: cfg.Handlers, debugEcho: cfg.DebugEcho, logger: logger}
}

// Context is the per-message dispatch state handed to every hook. It exposes
// the decoded message and the reply builder; after finalization it also
// carries the built reply message.
type Context struct {
	// Msg is the decoded inbound message.
	Msg *Message
	// OpenID is the sender's openid (Msg.FromID).
	OpenID string
	// ReplyMessage is the outbound message built by Reply, nil when the
	// dispatch produced no reply. Populated before the Finish hook runs.
	ReplyMessage *Message

	ctx        context.Context
	dispatcher *Dispatcher
	body       *xmlquery.Node
	reply      replyBuilder
	consumed   bool
}

// Context returns the request context the dispatch was started with, for
// hooks that perform API calls or store writes.
func (c *Context) Context() context.Context { return c.ctx }

// ReplyText stages a text reply. Like all Reply* methods, a later call
// overwrites an earlier one.
func (c *Context) ReplyText(text string) { c.reply.text(text) }

// ReplyImage stages an image reply for an uploaded media id.
func (c *Context) ReplyImage(mediaID string) { c.reply.image(mediaID) }

// ReplyVoice stages a voice reply for an uploaded media id.
func (c *Context) ReplyVoice(mediaID string) { c.reply.voice(mediaID) }

// ReplyVideo stages a video reply; title and description may be empty.
func (c *Context) ReplyVideo(mediaID, title, description string) {
	c.reply.video(mediaID, title, description)
}

// ReplyMusic stages a music reply; only the thumb media id is mandatory.
func (c *Context) ReplyMusic(thumbMediaID, title, description, url, hqURL string) {
	c.reply.music(thumbMediaID, title, description, url, hqURL)
}

// ReplyNews stages a news reply, truncated to the platform limit of 8
// articles.
func (c *Context) ReplyNews(articles []Article) { c.reply.news(articles) }

// ReplyEmpty discards any staged reply.
func (c *Context) ReplyEmpty() { c.reply.empty() }

// replyDebug stages a debug text reply when the dispatcher runs with
// DebugEcho enabled.
func (c *Context) replyDebug(format string, args ...any) {
	if c.dispatcher.debugEcho {
		c.ReplyText(fmt.Sprintf("[DEBUG(%s)]: %s", c.OpenID, fmt.Sprintf(format, args...)))
	}
}

// Reply finalizes the dispatch and renders the HTTP response body: the
// encoded reply message, or the empty string when no reply is pending (a
// valid "no response" signal upstream). It runs the Finish hook and may be
// called only once per dispatch.
func (c *Context) Reply() (string, error) {
	if c.consumed {
		return "", ErrReplyConsumed
	}
	c.consumed = true

	var raw string
	if reply := c.reply.build(c.Msg); reply != nil {
		c.ReplyMessage = reply
		raw = reply.Encode()
		c.dispatcher.logger.Debug("sending reply", "openid", c.OpenID, "type", reply.MsgType)
	} else {
		c.dispatcher.logger.Debug("sending empty reply", "openid", c.OpenID)
	}

	if c.dispatcher.handlers.Finish != nil {
		if err := c.dispatcher.handlers.Finish(c); err != nil {
			return "", fmt.Errorf("finish hook: %w", err)
		}
	}
	return raw, nil
}

// find returns the inner text of a child element of the message body, or an
// error when the element is absent. Extraction errors indicate a message
// whose body does not match its declared type.
func (c *Context) find(tag string) (string, error) {
	n := c.body.SelectElement(tag)
	if n == nil {
		return "", &DecodeError{Reason: "missing <" + tag + "> in " + c.Msg.MsgType + " body"}
	}
	return n.InnerText(), nil
}

func (c *Context) findFloat(tag string) (float64, error) {
	s, err := c.find(tag)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, &DecodeError{Reason: "invalid <" + tag + ">", Err: err}
	}
	return f, nil
}

// Dispatch decodes raw inbound XML, runs the Before hook and the matching
// type hook, and returns the dispatch context. The caller finalizes with
// Context.Reply. A message type with no known extraction routine is logged
// and produces a context with no staged reply; it is not an error.
func (d *Dispatcher) Dispatch(reqCtx context.Context, raw []byte) (*Context, error) {
	msg, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	ctx := &Context{Msg: msg, OpenID: msg.FromID, ctx: reqCtx, dispatcher: d}
	d.logger.Debug("message received",
		"openid", ctx.OpenID, "type", msg.MsgType, "msg_id", msg.MsgID)

	// The content fragment is well-formed XML without a single root; wrap it
	// for field extraction.
	body, err := xmlquery.Parse(bytes.NewReader([]byte("<body>" + msg.Content + "</body>")))
	if err != nil {
		return nil, &DecodeError{Reason: "malformed message body", Err: err}
	}
	ctx.body = body.SelectElement("body")

	if d.handlers.Before != nil {
		if err := d.handlers.Before(ctx); err != nil {
			return nil, fmt.Errorf("before hook: %w", err)
		}
	}

	if err := d.route(ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}

func (d *Dispatcher) route(ctx *Context) error {
	switch key := ctx.Msg.DispatchKey(); key {
	case "text":
		return d.text(ctx)
	case "image":
		return d.image(ctx)
	case "voice":
		return d.voice(ctx)
	case "video":
		return d.video(ctx)
	case "shortvideo":
		return d.shortVideo(ctx)
	case "location":
		return d.location(ctx)
	case "link":
		return d.link(ctx)
	case "subscribe":
		return d.subscribe(ctx)
	case "unsubscribe":
		return d.unsubscribe(ctx)
	case "LOCATION":
		return d.locationEvent(ctx)
	case "CLICK":
		return d.click(ctx)
	case "VIEW":
		return d.view(ctx)
	case "SCAN":
		return d.scan(ctx)
	case "TEMPLATESENDJOBFINISH":
		return d.templateSendJobFinish(ctx)
	default:
		d.logger.Warn("unknown message type, no reply produced",
			"openid", ctx.OpenID, "type", ctx.Msg.MsgType)
		return nil
	}
}

func (d *Dispatcher) text(ctx *Context) error {
	text, err := ctx.find("Content")
	if err != nil {
		return err
	}
	if d.handlers.OnText != nil {
		return d.handlers.OnText(ctx, text)
	}
	if d.debugEcho {
		ctx.ReplyText(text)
	}
	return nil
}

func (d *Dispatcher) image(ctx *Context) error {
	picURL, err := ctx.find("PicUrl")
	if err != nil {
		return err
	}
	mediaID, err := ctx.find("MediaId")
	if err != nil {
		return err
	}
	if d.handlers.OnImage != nil {
		return d.handlers.OnImage(ctx, mediaID, picURL)
	}
	if d.debugEcho {
		ctx.ReplyImage(mediaID)
	}
	return nil
}

func (d *Dispatcher) voice(ctx *Context) error {
	mediaID, err := ctx.find("MediaId")
	if err != nil {
		return err
	}
	format, err := ctx.find("Format")
	if err != nil {
		return err
	}
	// Recognition is present only when speech-to-text is enabled for the
	// account.
	var recognition string
	if n := ctx.body.SelectElement("Recognition"); n != nil {
		recognition = n.InnerText()
	}
	if d.handlers.OnVoice != nil {
		return d.handlers.OnVoice(ctx, mediaID, format, recognition)
	}
	if d.debugEcho {
		ctx.ReplyVoice(mediaID)
	}
	return nil
}

func (d *Dispatcher) video(ctx *Context) error {
	mediaID, thumbID, err := d.videoFields(ctx)
	if err != nil {
		return err
	}
	if d.handlers.OnVideo != nil {
		return d.handlers.OnVideo(ctx, mediaID, thumbID)
	}
	if d.debugEcho {
		ctx.ReplyVideo(mediaID, "", "")
	}
	return nil
}

func (d *Dispatcher) shortVideo(ctx *Context) error {
	mediaID, thumbID, err := d.videoFields(ctx)
	if err != nil {
		return err
	}
	if d.handlers.OnShortVideo != nil {
		return d.handlers.OnShortVideo(ctx, mediaID, thumbID)
	}
	if d.debugEcho {
		ctx.ReplyVideo(mediaID, "", "")
	}
	return nil
}

func (d *Dispatcher) videoFields(ctx *Context) (mediaID, thumbID string, err error) {
	if mediaID, err = ctx.find("MediaId"); err != nil {
		return "", "", err
	}
	if thumbID, err = ctx.find("ThumbMediaId"); err != nil {
		return "", "", err
	}
	return mediaID, thumbID, nil
}

func (d *Dispatcher) location(ctx *Context) error {
	x, err := ctx.findFloat("Location_X")
	if err != nil {
		return err
	}
	y, err := ctx.findFloat("Location_Y")
	if err != nil {
		return err
	}
	scale, err := ctx.findFloat("Scale")
	if err != nil {
		return err
	}
	label, err := ctx.find("Label")
	if err != nil {
		return err
	}
	if d.handlers.OnLocation != nil {
		return d.handlers.OnLocation(ctx, x, y, scale, label)
	}
	ctx.replyDebug("you sent a location: %s(lat:%f, lon:%f, scale:%f)", label, x, y, scale)
	return nil
}

func (d *Dispatcher) link(ctx *Context) error {
	url, err := ctx.find("Url")
	if err != nil {
		return err
	}
	title, err := ctx.find("Title")
	if err != nil {
		return err
	}
	description, err := ctx.find("Description")
	if err != nil {
		return err
	}
	if d.handlers.OnLink != nil {
		return d.handlers.OnLink(ctx, url, title, description)
	}
	ctx.replyDebug("you sent an url: %s, %s", title, url)
	return nil
}

// subscribe splits on the EventKey: a subscribe triggered by scanning a
// scene QR code carries "qrscene_<id>" plus a ticket, a plain follow carries
// an empty EventKey.
func (d *Dispatcher) subscribe(ctx *Context) error {
	n := ctx.body.SelectElement("EventKey")
	if n != nil && strings.TrimSpace(n.InnerText()) != "" {
		key := strings.TrimSpace(n.InnerText())
		if !strings.HasPrefix(key, qrScenePrefix) {
			return &DecodeError{Reason: "subscribe EventKey without " + qrScenePrefix + " prefix"}
		}
		sceneID, err := strconv.ParseInt(key[len(qrScenePrefix):], 10, 64)
		if err != nil {
			return &DecodeError{Reason: "invalid scene id in subscribe EventKey", Err: err}
		}
		ticket, err := ctx.find("Ticket")
		if err != nil {
			return err
		}
		if d.handlers.EventSubscribeFromQR != nil {
			return d.handlers.EventSubscribeFromQR(ctx, sceneID, ticket)
		}
		ctx.replyDebug("subscribed via qrcode, scene: %d, ticket: %s", sceneID, ticket)
		return nil
	}
	if d.handlers.EventSubscribe != nil {
		return d.handlers.EventSubscribe(ctx)
	}
	ctx.ReplyText("欢迎您订阅我们的微信公众号")
	return nil
}

func (d *Dispatcher) unsubscribe(ctx *Context) error {
	if d.handlers.EventUnsubscribe != nil {
		return d.handlers.EventUnsubscribe(ctx)
	}
	return nil
}

func (d *Dispatcher) locationEvent(ctx *Context) error {
	lat, err := ctx.findFloat("Latitude")
	if err != nil {
		return err
	}
	lon, err := ctx.findFloat("Longitude")
	if err != nil {
		return err
	}
	precision, err := ctx.findFloat("Precision")
	if err != nil {
		return err
	}
	loc := Location{
		Latitude:   lat,
		Longitude:  lon,
		Precision:  precision,
		OpenID:     ctx.OpenID,
		CreateTime: ctx.Msg.CreateTime,
	}
	d.logger.Debug("location event", "openid", ctx.OpenID, "location", loc.String())
	if d.handlers.EventLocation != nil {
		return d.handlers.EventLocation(ctx, loc)
	}
	ctx.replyDebug("location reported: %s", loc.String())
	return nil
}

func (d *Dispatcher) click(ctx *Context) error {
	key, err := ctx.find("EventKey")
	if err != nil {
		return err
	}
	if d.handlers.EventClick != nil {
		return d.handlers.EventClick(ctx, key)
	}
	ctx.replyDebug("you clicked the menu %s", key)
	return nil
}

func (d *Dispatcher) view(ctx *Context) error {
	url, err := ctx.find("EventKey")
	if err != nil {
		return err
	}
	if d.handlers.EventView != nil {
		return d.handlers.EventView(ctx, url)
	}
	return nil
}

// scan is the already-subscribed counterpart of subscribe-from-QR: the
// EventKey is the bare integer scene id.
func (d *Dispatcher) scan(ctx *Context) error {
	key, err := ctx.find("EventKey")
	if err != nil {
		return err
	}
	sceneID, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
	if err != nil {
		return &DecodeError{Reason: "invalid scene id in scan EventKey", Err: err}
	}
	ticket, err := ctx.find("Ticket")
	if err != nil {
		return err
	}
	if d.handlers.EventScan != nil {
		return d.handlers.EventScan(ctx, sceneID, ticket)
	}
	ctx.replyDebug("you scanned the qrcode, scene: %d, ticket: %s", sceneID, ticket)
	return nil
}

func (d *Dispatcher) templateSendJobFinish(ctx *Context) error {
	status, err := ctx.find("Status")
	if err != nil {
		return err
	}
	if d.handlers.EventTemplateSendJobFinish != nil {
		return d.handlers.EventTemplateSendJobFinish(ctx, status)
	}
	d.logger.Debug("template send finished", "msg_id", ctx.Msg.MsgID, "status", status)
	return nil
}
