package domain

// AgentKind says who answers on the other side of the conversation.
type AgentKind string

const (
	AgentBot   AgentKind = "bot"
	AgentHuman AgentKind = "human"
)

// Identity is the durable pair of identifiers a widget instance carries.
// ConversationID is empty until the server confirms a conversation.
type Identity struct {
	AnonymousID    string `json:"anonymousId"`
	ConversationID string `json:"conversationId,omitempty"`
}
