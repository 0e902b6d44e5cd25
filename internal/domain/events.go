package domain

import "encoding/json"

// Outbound payload types, sent under the "client:event" event name.
const (
	OutUserMessage           = "user_message"
	OutConversationBootstrap = "conversation_bootstrap"
	OutConversationReconnect = "conversation_reconnect"
)

// Inbound discriminators.
const (
	AckConversationStarted = "conversation_started"
	AckMessageStored       = "message_stored"
	ReplyAgentJoined       = "agent_joined"
	ReplyAgentLeft         = "agent_left"
)

// UserMessage carries one user turn. ConversationID is null before the
// server has confirmed a conversation.
type UserMessage struct {
	Type           string  `json:"type"`
	Message        string  `json:"message"`
	ConversationID *string `json:"conversationId"`
}

// ConversationBootstrap asks the server for a new conversation. On restart
// it carries the previous conversation id for server-side linkage.
type ConversationBootstrap struct {
	Type           string  `json:"type"`
	ConversationID *string `json:"conversationId"`
}

// ConversationReconnect re-associates a fresh socket with an existing conversation.
type ConversationReconnect struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// Ack is the payload of a "server:ack" event.
type Ack struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
}

// BotReply is the payload of a "server:bot_reply" event: either an agent
// presence change or a content message.
type BotReply struct {
	Type         string   `json:"type,omitempty"`
	AgentName    string   `json:"agentName,omitempty"`
	Text         string   `json:"text,omitempty"`
	QuickReplies []Option `json:"quickReplies,omitempty"`
	Cards        []Card   `json:"cards,omitempty"`
	Video        *Video   `json:"video,omitempty"`
	Image        *Image   `json:"image,omitempty"`
}

// UnmarshalJSON treats a malformed optional field as absent rather than
// rejecting the whole reply.
func (r *BotReply) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = BotReply{}

	decodeString(fields["type"], &r.Type)
	decodeString(fields["agentName"], &r.AgentName)
	decodeString(fields["text"], &r.Text)
	if json.Unmarshal(orNull(fields["quickReplies"]), &r.QuickReplies) != nil {
		r.QuickReplies = nil
	}
	if json.Unmarshal(orNull(fields["cards"]), &r.Cards) != nil {
		r.Cards = nil
	}
	if json.Unmarshal(orNull(fields["video"]), &r.Video) != nil || r.Video != nil && r.Video.URL == "" {
		r.Video = nil
	}
	if json.Unmarshal(orNull(fields["image"]), &r.Image) != nil || r.Image != nil && r.Image.URL == "" {
		r.Image = nil
	}
	return nil
}

// RichContent extracts the reply's structured parts, nil when there are none.
func (r BotReply) RichContent() *RichContent {
	rc := &RichContent{
		QuickReplies: r.QuickReplies,
		Cards:        r.Cards,
		Video:        r.Video,
		Image:        r.Image,
	}
	return rc.OrNil()
}

// ServerError is the payload of a "server:error" event.
type ServerError struct {
	Message string `json:"message,omitempty"`
}

// StringPtr returns nil for "" so optional ids marshal as JSON null.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
