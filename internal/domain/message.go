// Package domain holds the canonical chat types shared by the client,
// the normalizer and the presentation adapters.
package domain

import "time"

// Kind classifies who authored a message.
type Kind string

const (
	KindUser   Kind = "user"
	KindBot    Kind = "bot"
	KindSystem Kind = "system"
)

// DeliveryStatus tracks an outbound user message. Empty for inbound messages.
type DeliveryStatus string

const (
	StatusNone    DeliveryStatus = ""
	StatusSending DeliveryStatus = "sending"
	StatusSent    DeliveryStatus = "sent"
)

// Message is one entry of the conversation log.
type Message struct {
	ID          string         `json:"id"`
	Text        string         `json:"text"`
	Kind        Kind           `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	Status      DeliveryStatus `json:"status,omitempty"`
	RichContent *RichContent   `json:"richContent,omitempty"`
}

// Option is a selectable button: a quick reply or a card option. Label is
// what the user sees; Value, when set, is what goes over the wire.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
}

// Payload returns the value to transmit when the option is picked.
func (o Option) Payload() string {
	if o.Value != "" {
		return o.Value
	}
	return o.Label
}

// Card is one entry of a carousel.
type Card struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Image       string   `json:"image,omitempty"`
	Options     []Option `json:"options,omitempty"`
}

// Video is an embedded video.
type Video struct {
	URL       string `json:"url"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Image is an embedded image.
type Image struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// Attachment is a downloadable file.
type Attachment struct {
	URL       string `json:"url"`
	Name      string `json:"name,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// RichContent bundles the optional structured parts of a bot message.
// Every field is independently optional.
type RichContent struct {
	QuickReplies []Option     `json:"quickReplies,omitempty"`
	Cards        []Card       `json:"cards,omitempty"`
	Video        *Video       `json:"video,omitempty"`
	Image        *Image       `json:"image,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
}

// IsEmpty reports whether no sub-field is populated.
func (r *RichContent) IsEmpty() bool {
	return r == nil ||
		len(r.QuickReplies) == 0 && len(r.Cards) == 0 &&
			r.Video == nil && r.Image == nil && len(r.Attachments) == 0
}

// OrNil returns r, or nil when r carries nothing. Messages never hold an
// empty RichContent.
func (r *RichContent) OrNil() *RichContent {
	if r.IsEmpty() {
		return nil
	}
	return r
}

// Options returns every selectable option in display order: quick replies
// first, then card options.
func (r *RichContent) Options() []Option {
	if r == nil {
		return nil
	}
	out := append([]Option(nil), r.QuickReplies...)
	for _, c := range r.Cards {
		out = append(out, c.Options...)
	}
	return out
}

// Clone returns a deep copy of m so snapshots never alias the live log.
func (m Message) Clone() Message {
	if m.RichContent == nil {
		return m
	}
	rc := *m.RichContent
	rc.QuickReplies = append([]Option(nil), rc.QuickReplies...)
	rc.Attachments = append([]Attachment(nil), rc.Attachments...)
	if len(rc.Cards) > 0 {
		cards := make([]Card, len(rc.Cards))
		for i, c := range rc.Cards {
			c.Options = append([]Option(nil), c.Options...)
			cards[i] = c
		}
		rc.Cards = cards
	}
	if rc.Video != nil {
		v := *rc.Video
		rc.Video = &v
	}
	if rc.Image != nil {
		im := *rc.Image
		rc.Image = &im
	}
	m.RichContent = &rc
	return m
}
