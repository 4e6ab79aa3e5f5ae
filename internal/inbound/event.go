package inbound

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the WhatsApp message type of an inbound message.
type Kind string

const (
	KindText        Kind = "text"
	KindButton      Kind = "button"
	KindInteractive Kind = "interactive"
	KindImage       Kind = "image"
	KindAudio       Kind = "audio"
	KindVideo       Kind = "video"
	KindDocument    Kind = "document"
	KindSticker     Kind = "sticker"
)

// IsMedia reports whether messages of this kind reference downloadable media.
func (k Kind) IsMedia() bool {
	switch k {
	case KindImage, KindAudio, KindVideo, KindDocument, KindSticker:
		return true
	}
	return false
}

// WebhookPayload represents the incoming JSON payload from WhatsApp
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []Contact    `json:"contacts,omitempty"`
	Messages []RawMessage `json:"messages,omitempty"`
	Statuses []struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		Timestamp   string `json:"timestamp"`
		RecipientID string `json:"recipient_id"`
	} `json:"statuses,omitempty"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// RawMessage is one message exactly as delivered. Only the block named by
// Type is expected to be set.
type RawMessage struct {
	From        string              `json:"from"`
	ID          string              `json:"id"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Text        *TextMessage        `json:"text,omitempty"`
	Button      *ButtonMessage      `json:"button,omitempty"`
	Interactive *InteractiveMessage `json:"interactive,omitempty"`
	Image       *MediaMessage       `json:"image,omitempty"`
	Video       *MediaMessage       `json:"video,omitempty"`
	Audio       *MediaMessage       `json:"audio,omitempty"`
	Document    *MediaMessage       `json:"document,omitempty"`
	Sticker     *MediaMessage       `json:"sticker,omitempty"`
}

type TextMessage struct {
	Body string `json:"body"`
}

// MediaMessage represents a media attachment in a WhatsApp message
type MediaMessage struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// ButtonMessage is a quick-reply button tap on a template message.
type ButtonMessage struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

// InteractiveMessage represents an interactive message response (buttons, lists)
type InteractiveMessage struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply,omitempty"`
	ListReply *struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
	} `json:"list_reply,omitempty"`
}

// Content is the kind-specific part of a message: TextContent,
// MediaContent or UnsupportedContent.
type Content interface {
	isContent()
}

// TextContent is a message that carries only text.
type TextContent struct {
	Body string
}

// MediaContent references media to be fetched from the provider.
type MediaContent struct {
	MediaID  string
	MimeType string
	Caption  string
	Filename string
}

// UnsupportedContent is any kind this service does not understand.
type UnsupportedContent struct {
	Type string
}

func (TextContent) isContent()        {}
func (MediaContent) isContent()       {}
func (UnsupportedContent) isContent() {}

// Message is a decoded inbound message.
type Message struct {
	ID          string
	From        string
	Timestamp   string
	Kind        Kind
	ContactName string
	Content     Content
}

var decoders = map[Kind]func(RawMessage) (Content, error){
	KindText: func(m RawMessage) (Content, error) {
		if m.Text == nil {
			return nil, errMissingBlock(m.Type)
		}
		return TextContent{Body: m.Text.Body}, nil
	},
	KindButton: func(m RawMessage) (Content, error) {
		if m.Button == nil {
			return nil, errMissingBlock(m.Type)
		}
		body := m.Button.Text
		if body == "" {
			body = m.Button.Payload
		}
		return TextContent{Body: body}, nil
	},
	KindInteractive: func(m RawMessage) (Content, error) {
		if m.Interactive == nil {
			return nil, errMissingBlock(m.Type)
		}
		switch {
		case m.Interactive.ButtonReply != nil:
			return TextContent{Body: m.Interactive.ButtonReply.Title}, nil
		case m.Interactive.ListReply != nil:
			return TextContent{Body: m.Interactive.ListReply.Title}, nil
		}
		return UnsupportedContent{Type: m.Type + "/" + m.Interactive.Type}, nil
	},
	KindImage:    mediaDecoder(func(m RawMessage) *MediaMessage { return m.Image }),
	KindAudio:    mediaDecoder(func(m RawMessage) *MediaMessage { return m.Audio }),
	KindVideo:    mediaDecoder(func(m RawMessage) *MediaMessage { return m.Video }),
	KindDocument: mediaDecoder(func(m RawMessage) *MediaMessage { return m.Document }),
	KindSticker:  mediaDecoder(func(m RawMessage) *MediaMessage { return m.Sticker }),
}

func mediaDecoder(block func(RawMessage) *MediaMessage) func(RawMessage) (Content, error) {
	return func(m RawMessage) (Content, error) {
		b := block(m)
		if b == nil || b.ID == "" {
			return nil, errMissingBlock(m.Type)
		}
		return MediaContent{MediaID: b.ID, MimeType: b.MimeType, Caption: b.Caption, Filename: b.Filename}, nil
	}
}

func errMissingBlock(kind string) error {
	return fmt.Errorf("inbound: %s message without %s block", kind, kind)
}

// Decode turns a raw message into a Message with typed content.
func Decode(raw RawMessage) (Message, error) {
	msg := Message{
		ID:        raw.ID,
		From:      raw.From,
		Timestamp: raw.Timestamp,
		Kind:      Kind(strings.ToLower(raw.Type)),
	}
	decode, ok := decoders[msg.Kind]
	if !ok {
		msg.Content = UnsupportedContent{Type: raw.Type}
		return msg, nil
	}
	content, err := decode(raw)
	if err != nil {
		return Message{}, err
	}
	msg.Content = content
	return msg, nil
}

// ParsePayload decodes a webhook body.
func ParsePayload(body []byte) (WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return WebhookPayload{}, fmt.Errorf("inbound: decode payload: %w", err)
	}
	return p, nil
}

// FirstMessage returns the first message carried by the payload, with the
// sender's profile name when the delivery includes it. ok is false for
// deliveries without messages, such as status receipts.
func (p WebhookPayload) FirstMessage() (raw RawMessage, contactName string, ok bool) {
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if len(change.Value.Messages) == 0 {
				continue
			}
			raw = change.Value.Messages[0]
			for _, c := range change.Value.Contacts {
				if c.WaID == raw.From || len(change.Value.Contacts) == 1 {
					contactName = c.Profile.Name
					break
				}
			}
			return raw, contactName, true
		}
	}
	return RawMessage{}, "", false
}
