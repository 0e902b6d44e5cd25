package transport

import "encoding/json"

// FrameTypeEvent is the only frame type the chat protocol uses.
const FrameTypeEvent = "event"

// Event names.
const (
	EventClient      = "client:event"
	EventServerAck   = "server:ack"
	EventServerReply = "server:bot_reply"
	EventServerError = "server:error"
)

// Frame is the envelope for every WebSocket message.
type Frame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent creates an event frame.
func NewEvent(event string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Type:    FrameTypeEvent,
		Event:   event,
		Payload: raw,
	}, nil
}
