package message

import (
	"errors"
	"fmt"
	"strings"
)

// ErrReplyConsumed is returned when Reply is invoked a second time on the
// same dispatch. Finalizing twice is a usage bug in the caller, not a
// runtime condition.
var ErrReplyConsumed = errors.New("reply already consumed for this dispatch")

// maxNewsArticles is the platform limit on items in a news reply; longer
// lists are silently truncated.
const maxNewsArticles = 8

// Article is one entry of a news reply.
type Article struct {
	Title       string
	Description string
	PicURL      string
	URL         string
}

// replyBuilder accumulates at most one pending outgoing payload. Every
// Reply* call overwrites the previous one; last call wins.
type replyBuilder struct {
	msgType string
	body    string
}

func (b *replyBuilder) text(text string) {
	b.msgType = "text"
	b.body = fmt.Sprintf("<Content><![CDATA[%s]]></Content>", text)
}

func (b *replyBuilder) image(mediaID string) {
	b.msgType = "image"
	b.body = fmt.Sprintf("<Image><MediaId><![CDATA[%s]]></MediaId></Image>", mediaID)
}

func (b *replyBuilder) voice(mediaID string) {
	b.msgType = "voice"
	b.body = fmt.Sprintf("<Voice><MediaId><![CDATA[%s]]></MediaId></Voice>", mediaID)
}

func (b *replyBuilder) video(mediaID, title, description string) {
	b.msgType = "video"
	parts := []string{"<Video>", fmt.Sprintf("<MediaId><![CDATA[%s]]></MediaId>", mediaID)}
	if title != "" {
		parts = append(parts, fmt.Sprintf("<Title><![CDATA[%s]]></Title>", title))
	}
	if description != "" {
		parts = append(parts, fmt.Sprintf("<Description><![CDATA[%s]]></Description>", description))
	}
	parts = append(parts, "</Video>")
	b.body = strings.Join(parts, "\n")
}

func (b *replyBuilder) music(thumbMediaID, title, description, url, hqURL string) {
	b.msgType = "music"
	parts := []string{"<Music>"}
	if title != "" {
		parts = append(parts, fmt.Sprintf("<Title><![CDATA[%s]]></Title>", title))
	}
	if description != "" {
		parts = append(parts, fmt.Sprintf("<Description><![CDATA[%s]]></Description>", description))
	}
	if url != "" {
		parts = append(parts, fmt.Sprintf("<MusicUrl><![CDATA[%s]]></MusicUrl>", url))
	}
	if hqURL != "" {
		parts = append(parts, fmt.Sprintf("<HQMusicUrl><![CDATA[%s]]></HQMusicUrl>", hqURL))
	}
	parts = append(parts, fmt.Sprintf("<ThumbMediaId><![CDATA[%s]]></ThumbMediaId>", thumbMediaID))
	parts = append(parts, "</Music>")
	b.body = strings.Join(parts, "\n")
}

func (b *replyBuilder) news(articles []Article) {
	if len(articles) > maxNewsArticles {
		articles = articles[:maxNewsArticles]
	}
	var items strings.Builder
	for _, a := range articles {
		items.WriteString("<item>\n")
		fmt.Fprintf(&items, "<Title><![CDATA[%s]]></Title>\n", a.Title)
		fmt.Fprintf(&items, "<Description><![CDATA[%s]]></Description>\n", a.Description)
		fmt.Fprintf(&items, "<PicUrl><![CDATA[%s]]></PicUrl>\n", a.PicURL)
		fmt.Fprintf(&items, "<Url><![CDATA[%s]]></Url>\n", a.URL)
		items.WriteString("</item>")
	}
	b.msgType = "news"
	b.body = fmt.Sprintf("<ArticleCount>%d</ArticleCount><Articles>%s</Articles>",
		len(articles), items.String())
}

func (b *replyBuilder) empty() {
	b.msgType = ""
	b.body = ""
}

func (b *replyBuilder) pending() bool { return b.msgType != "" }

// build wraps the pending fragment into a Message addressed back to the
// sender of inbound, carrying the inbound message id. Nil when no reply is
// pending.
func (b *replyBuilder) build(inbound *Message) *Message {
	if !b.pending() {
		return nil
	}
	return NewMessage(inbound.FromID, inbound.ToID, b.msgType, b.body, inbound.MsgID)
}
