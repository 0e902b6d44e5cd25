package conversation

import (
	"encoding/json"

	"github.com/soyeahso/widgetchat/internal/domain"
	"github.com/soyeahso/widgetchat/internal/hooks"
	"github.com/soyeahso/widgetchat/internal/transport"
)

// handle applies one transport signal. Runs under c.mu; reports whether the
// state changed.
func (c *Client) handle(sig transport.Signal) bool {
	switch sig.Kind {
	case transport.SignalConnect:
		return c.onConnect()
	case transport.SignalDisconnect:
		return c.onDisconnect(sig.Err)
	case transport.SignalGiveUp:
		c.connected = false
		c.awaiting = 0
		c.gaveUp = true
		c.log.Error().Err(sig.Err).Msg("connection attempts exhausted")
		return true
	case transport.SignalEvent:
		switch sig.Event {
		case transport.EventServerAck:
			return c.onAck(sig.Payload)
		case transport.EventServerReply:
			return c.onReply(sig.Payload)
		case transport.EventServerError:
			return c.onServerError(sig.Payload)
		}
		c.log.Debug().Str("event", sig.Event).Msg("ignoring unknown event")
	}
	return false
}

func (c *Client) onConnect() bool {
	reconnect := c.everConnected
	c.connected = true
	c.everConnected = true
	c.gaveUp = false
	c.metrics.SetConnected(true)

	var err error
	if c.conversationID == "" {
		c.awaiting = PhaseBootstrapping
		err = c.conn.Handshake(transport.EventClient, domain.ConversationBootstrap{
			Type:           domain.OutConversationBootstrap,
			ConversationID: domain.StringPtr(c.restartedFrom),
		})
	} else {
		c.awaiting = PhaseReconnecting
		err = c.conn.Handshake(transport.EventClient, domain.ConversationReconnect{
			Type:           domain.OutConversationReconnect,
			ConversationID: c.conversationID,
		})
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("session request not transmitted")
	}

	c.log.Info().
		Bool("reconnect", reconnect).
		Str("conversationId", c.conversationID).
		Msg("connected")
	c.fire(hooks.EventConnected, map[string]any{
		"reconnect":      reconnect,
		"conversationId": c.conversationID,
	})
	return true
}

func (c *Client) onDisconnect(cause error) bool {
	if !c.connected {
		return false
	}
	c.connected = false
	c.awaiting = 0
	c.metrics.SetConnected(false)
	c.log.Warn().Err(cause).Msg("disconnected")

	data := map[string]any{}
	if cause != nil {
		data["error"] = cause.Error()
	}
	c.fire(hooks.EventDisconnected, data)
	return true
}

func (c *Client) onAck(payload json.RawMessage) bool {
	var ack domain.Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed ack")
		return false
	}

	switch ack.Type {
	case domain.AckConversationStarted:
		if ack.ConversationID == "" {
			return false
		}
		c.conversationID = ack.ConversationID
		c.restartedFrom = ""
		c.identity.SetConversationID(ack.ConversationID)
		c.awaiting = 0
		c.log.Info().Str("conversationId", ack.ConversationID).Msg("conversation started")
		c.fire(hooks.EventConversationStarted, map[string]any{"conversationId": ack.ConversationID})
		return true

	case domain.AckMessageStored:
		if c.pending == nil || ack.MessageID == "" {
			return false
		}
		p := c.pending
		c.pending = nil

		i := c.indexOf(p.id)
		if i < 0 {
			c.log.Debug().Str("provisionalId", p.id).Msg("ack for a message no longer in the log")
			return false
		}
		c.messages[i].ID = ack.MessageID
		c.messages[i].Status = domain.StatusSent
		c.awaiting = 0
		c.metrics.AckLatency(c.now().Sub(p.sentAt))

		if c.agent != domain.AgentHuman && !p.replied {
			c.typing = true
		}
		return true
	}

	c.log.Debug().Str("type", ack.Type).Msg("ignoring unknown ack")
	return false
}

func (c *Client) onReply(payload json.RawMessage) bool {
	c.typing = false
	c.awaiting = 0
	if c.pending != nil {
		c.pending.replied = true
	}

	var reply domain.BotReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed reply")
		return true
	}

	switch reply.Type {
	case domain.ReplyAgentJoined:
		c.agent = domain.AgentHuman
		c.appendSystem(AgentJoinedText(reply.AgentName))
	case domain.ReplyAgentLeft:
		c.appendSystem(AgentLeftText(reply.AgentName))
		c.agent = domain.AgentBot
	default:
		msg := domain.Message{
			ID:          c.newID(),
			Text:        reply.Text,
			Kind:        domain.KindBot,
			Timestamp:   c.now(),
			RichContent: reply.RichContent(),
		}
		if c.replaceOnReply {
			c.messages = nil
			c.replaceOnReply = false
		}
		c.messages = append(c.messages, msg)
		c.metrics.MessageReceived(string(domain.KindBot))
		c.fire(hooks.EventMessageReceived, map[string]any{
			"id":             msg.ID,
			"text":           msg.Text,
			"kind":           string(msg.Kind),
			"conversationId": c.conversationID,
		})
	}
	return true
}

func (c *Client) onServerError(payload json.RawMessage) bool {
	var se domain.ServerError
	if err := json.Unmarshal(payload, &se); err != nil {
		c.log.Debug().Err(err).Msg("malformed error payload")
	}
	c.log.Warn().Str("message", se.Message).Msg("server reported an error")
	c.appendSystem(ErrorText(se.Message))
	c.metrics.ServerError()
	return true
}

func (c *Client) appendSystem(text string) {
	c.messages = append(c.messages, domain.Message{
		ID:        c.newID(),
		Text:      text,
		Kind:      domain.KindSystem,
		Timestamp: c.now(),
	})
	c.metrics.MessageReceived(string(domain.KindSystem))
}

// AgentJoinedText is the system line shown when a human agent takes over.
func AgentJoinedText(name string) string {
	return orDefault(name, "Agent") + " joined"
}

// AgentLeftText is the system line shown when a human agent leaves.
func AgentLeftText(name string) string {
	return orDefault(name, "Agent") + " left"
}

// ErrorText is the system line shown for a server-reported error.
func ErrorText(message string) string {
	return "Error: " + orDefault(message, "Unknown error")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
