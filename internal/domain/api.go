package domain

import "encoding/json"

// ContentKind is the discriminator of an APIContentItem.
type ContentKind int

const (
	ContentUnknown ContentKind = iota
	ContentText
	ContentCards
	ContentQuickReplies
	ContentVideo
	ContentImage
	ContentAttachment
)

// contentKinds maps every wire spelling to its kind; spellings not listed
// here decode to ContentUnknown and are ignored.
var contentKinds = map[string]ContentKind{
	"text":          ContentText,
	"carousel":      ContentCards,
	"cards":         ContentCards,
	"quick_replies": ContentQuickReplies,
	"quickReplies":  ContentQuickReplies,
	"video":         ContentVideo,
	"image":         ContentImage,
	"attachment":    ContentAttachment,
}

// APIContentItem is one typed element of a persisted message's content array.
// Data holds cards or quick replies depending on the type, so it stays raw
// until the kind is known.
type APIContentItem struct {
	Type         string          `json:"type"`
	Text         string          `json:"text,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	QuickReplies []Option        `json:"quickReplies,omitempty"`
	URL          string          `json:"url,omitempty"`
	Thumbnail    string          `json:"thumbnail,omitempty"`
	Alt          string          `json:"alt,omitempty"`
	Name         string          `json:"name,omitempty"`
	MimeType     string          `json:"mimeType,omitempty"`
	Size         int64           `json:"size,omitempty"`
}

// Kind classifies the item.
func (c APIContentItem) Kind() ContentKind {
	return contentKinds[c.Type]
}

// APIAttachment is the legacy top-level attachment shape.
type APIAttachment struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// APIMessage is a message record as returned by the history endpoint.
// Every field is optional.
type APIMessage struct {
	MongoID      string           `json:"_id,omitempty"`
	ID           string           `json:"id,omitempty"`
	Content      []APIContentItem `json:"content,omitempty"`
	Text         string           `json:"text,omitempty"`
	Sender       string           `json:"sender,omitempty"` // user | agent | bot | system | super_agent
	Role         string           `json:"role,omitempty"`   // user | assistant | system
	CreatedAt    string           `json:"createdAt,omitempty"`
	Timestamp    string           `json:"timestamp,omitempty"`
	QuickReplies []Option         `json:"quickReplies,omitempty"`
	Cards        []Card           `json:"cards,omitempty"`
	Attachments  []APIAttachment  `json:"attachments,omitempty"`
}

// UnmarshalJSON decodes field by field so one malformed field (a content
// array that is not an array, a card list of the wrong shape) leaves the
// rest of the record intact instead of failing the whole message.
func (m *APIMessage) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*m = APIMessage{}

	decodeString(fields["_id"], &m.MongoID)
	decodeString(fields["id"], &m.ID)
	decodeString(fields["text"], &m.Text)
	decodeString(fields["sender"], &m.Sender)
	decodeString(fields["role"], &m.Role)
	decodeString(fields["createdAt"], &m.CreatedAt)
	decodeString(fields["timestamp"], &m.Timestamp)
	_ = json.Unmarshal(orNull(fields["quickReplies"]), &m.QuickReplies)
	_ = json.Unmarshal(orNull(fields["cards"]), &m.Cards)
	_ = json.Unmarshal(orNull(fields["attachments"]), &m.Attachments)

	var items []json.RawMessage
	if err := json.Unmarshal(orNull(fields["content"]), &items); err == nil {
		for _, raw := range items {
			var item APIContentItem
			if err := json.Unmarshal(raw, &item); err != nil {
				continue
			}
			m.Content = append(m.Content, item)
		}
	}
	return nil
}

func decodeString(raw json.RawMessage, dst *string) {
	if len(raw) == 0 {
		return
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		*dst = s
	}
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
