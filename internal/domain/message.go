package domain

import (
	"strings"
	"time"
)

// AttachmentKind is the platform's classification of an inbound attachment.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentVideo AttachmentKind = "video"
	AttachmentFile  AttachmentKind = "file"
)

type Attachment struct {
	Kind AttachmentKind `json:"kind"`
	URL  string         `json:"url"`
}

// InboundKind is the variant of an inbound message after classification.
type InboundKind int

const (
	InboundUnsupported InboundKind = iota
	InboundImage
	InboundText
)

func (k InboundKind) String() string {
	switch k {
	case InboundImage:
		return "image"
	case InboundText:
		return "text"
	default:
		return "unsupported"
	}
}

// InboundMessage is one message event delivered by an ingress channel.
type InboundMessage struct {
	EventID     string // correlation id assigned at ingress
	Channel     string
	SenderID    string
	MessageID   string // platform message id, used for redelivery detection
	Text        string
	Attachments []Attachment
	Timestamp   time.Time
}

// Kind classifies the message. An image in the first attachment slot wins over
// any text; whitespace-only text counts as no text.
func (m InboundMessage) Kind() InboundKind {
	if len(m.Attachments) > 0 && m.Attachments[0].Kind == AttachmentImage && m.Attachments[0].URL != "" {
		return InboundImage
	}
	if strings.TrimSpace(m.Text) != "" {
		return InboundText
	}
	return InboundUnsupported
}

// ImageURL returns the URL of the leading image attachment, or "".
func (m InboundMessage) ImageURL() string {
	if m.Kind() != InboundImage {
		return ""
	}
	return m.Attachments[0].URL
}

// ConversationKey identifies the sender across channels. Sessions and
// dispatch lanes are both keyed by it.
func (m InboundMessage) ConversationKey() string {
	return m.Channel + ":" + m.SenderID
}

// PayloadKind is the variant of an outbound payload.
type PayloadKind string

const (
	PayloadText  PayloadKind = "text"
	PayloadMedia PayloadKind = "media"
)

// MediaKind is the attachment type of a media payload.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
)

// OutboundPayload is a single message sent back to a sender.
type OutboundPayload struct {
	Kind     PayloadKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	Media    MediaKind   `json:"media,omitempty"`
	URL      string      `json:"url,omitempty"`
	Reusable bool        `json:"reusable,omitempty"`
}

func TextPayload(text string) OutboundPayload {
	return OutboundPayload{Kind: PayloadText, Text: text}
}

func MediaPayload(kind MediaKind, url string, reusable bool) OutboundPayload {
	return OutboundPayload{Kind: PayloadMedia, Media: kind, URL: url, Reusable: reusable}
}

// OutboundMessage addresses a payload to a recipient on a channel.
type OutboundMessage struct {
	EventID     string
	Channel     string
	RecipientID string
	Payload     OutboundPayload
}
