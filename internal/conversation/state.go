package conversation

import "github.com/soyeahso/widgetchat/internal/domain"

// Phase is the client's position in the connection state machine.
// Bootstrapping, Reconnecting, Idle and Typing are sub-states of connected.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseBootstrapping
	PhaseReconnecting
	PhaseIdle
	PhaseTyping
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseBootstrapping:
		return "bootstrapping"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseIdle:
		return "idle"
	case PhaseTyping:
		return "typing"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable copy of the client state taken after one
// handled event. Messages never alias the live log.
type Snapshot struct {
	Seq            uint64
	Phase          Phase
	Connected      bool
	Typing         bool
	LoadingHistory bool
	HistoryFetched bool
	GaveUp         bool // transport exhausted its reconnection attempts
	ActiveAgent    domain.AgentKind
	AnonymousID    string
	ConversationID string
	Messages       []domain.Message
}

// LastBotMessage returns the most recent bot message, if any.
func (s Snapshot) LastBotMessage() (domain.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Kind == domain.KindBot {
			return s.Messages[i], true
		}
	}
	return domain.Message{}, false
}

// LastMessage returns the tail of the log, if any.
func (s Snapshot) LastMessage() (domain.Message, bool) {
	if len(s.Messages) == 0 {
		return domain.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
