// Package conversation implements the real-time conversation client: it owns
// the socket lifecycle, the message log and the derived flags, and publishes
// a Snapshot after every handled event.
package conversation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/widgetchat/internal/domain"
	"github.com/soyeahso/widgetchat/internal/history"
	"github.com/soyeahso/widgetchat/internal/hooks"
	"github.com/soyeahso/widgetchat/internal/logging"
	"github.com/soyeahso/widgetchat/internal/metrics"
	"github.com/soyeahso/widgetchat/internal/transport"
)

var (
	// ErrNoConnection is returned by operations that need a socket when the
	// client was built without one.
	ErrNoConnection = errors.New("conversation: no connection")
	ErrStopped      = errors.New("conversation: client stopped")
)

// Connection is the socket the client drives. *transport.Conn implements it.
// Handshake carries the session request on connect; Emit queues until it
// has succeeded; Send never queues.
type Connection interface {
	Start(ctx context.Context)
	Signals() <-chan transport.Signal
	Handshake(event string, payload any) error
	Emit(event string, payload any) error
	Send(event string, payload any) error
	Close() error
}

// HistoryLoader fetches a transcript. *history.Loader implements it.
type HistoryLoader interface {
	Load(ctx context.Context, conversationID string) ([]domain.Message, error)
	Cancel()
}

// IdentityStore persists the anonymous and conversation ids.
// *identity.Store implements it.
type IdentityStore interface {
	AnonymousID() string
	ConversationID() string
	SetConversationID(id string)
	ClearConversationID()
}

// Options carries the client's dependencies. Identity is required. A nil
// Conn leaves the client permanently disconnected; a nil History makes
// FetchHistory a no-op; a nil Log discards log output.
type Options struct {
	Identity IdentityStore
	Conn     Connection
	History  HistoryLoader
	Log      *logging.Logger
	Metrics  *metrics.Metrics
	Hooks    *hooks.Manager
	Now      func() time.Time
	NewID    func() string
}

type pendingSend struct {
	id      string
	sentAt  time.Time
	replied bool // a reply arrived before message_stored
}

// Client is the conversation state machine.
type Client struct {
	identity IdentityStore
	conn     Connection
	history  HistoryLoader
	log      *logging.Logger
	metrics  *metrics.Metrics
	hooks    *hooks.Manager
	now      func() time.Time
	newID    func() string

	mu             sync.Mutex
	phase          Phase
	awaiting       Phase // Bootstrapping or Reconnecting until the server answers
	started        bool
	stopped        bool
	connected      bool
	everConnected  bool
	gaveUp         bool
	typing         bool
	loading        bool
	fetched        bool
	replaceOnReply bool
	agent          domain.AgentKind
	anonymousID    string
	conversationID string
	restartedFrom  string // previous id carried by bootstraps until conversation_started
	messages       []domain.Message
	pending        *pendingSend
	historyGen     uint64
	seq            uint64

	subs    map[int]func(Snapshot)
	nextSub int

	// notifyMu serializes subscriber delivery in mutation order. It is
	// always acquired while mu is held, then mu is released.
	notifyMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a client and loads the identity. Nothing is dialed until Start.
func New(opts Options) *Client {
	if opts.Log == nil {
		opts.Log = logging.New(io.Discard, "silent")
	}
	c := &Client{
		identity: opts.Identity,
		conn:     opts.Conn,
		history:  opts.History,
		log:      opts.Log.Sub("conversation"),
		metrics:  opts.Metrics,
		hooks:    opts.Hooks,
		now:      opts.Now,
		newID:    opts.NewID,
		agent:    domain.AgentBot,
		subs:     make(map[int]func(Snapshot)),
		ctx:      context.Background(),
		done:     make(chan struct{}),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	c.anonymousID = c.identity.AnonymousID()
	c.conversationID = c.identity.ConversationID()
	return c
}

// Start opens the connection and begins handling its signals.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	if c.conn == nil {
		c.log.Error().Msg("no connection configured, staying disconnected")
		close(c.done)
		c.update(func() bool { return true })
		return
	}

	c.log.Info().
		Str("anonymousId", c.anonymousID).
		Str("conversationId", c.conversationID).
		Msg("starting conversation client")
	c.conn.Start(c.ctx)
	c.update(func() bool { return true })
	go c.loop()
}

// Stop aborts any history fetch, closes the connection and waits for the
// event loop to drain. Subscribers must not call Stop.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if c.history != nil {
		c.history.Cancel()
	}
	if c.conn != nil {
		c.conn.Close()
	}
	if !started {
		return
	}
	<-c.done

	c.update(func() bool {
		if !c.connected {
			return false
		}
		c.connected = false
		c.metrics.SetConnected(false)
		return true
	})
	c.log.Info().Msg("conversation client stopped")
}

// Subscribe registers fn for every future Snapshot and immediately delivers
// the current one. fn runs on the goroutine that caused the change and must
// not call back into the client.
func (c *Client) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	snap := c.snapshotLocked()
	c.notifyMu.Lock()
	c.mu.Unlock()

	fn(snap)
	c.notifyMu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Snapshot returns the current state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SendMessage appends displayText as a Sending user message and transmits
// payload, which defaults to displayText. Blank displayText is a no-op.
func (c *Client) SendMessage(displayText, payload string) error {
	if strings.TrimSpace(displayText) == "" {
		return nil
	}
	if c.conn == nil {
		return ErrNoConnection
	}
	if payload == "" {
		payload = displayText
	}

	var err error
	c.update(func() bool {
		if c.stopped {
			err = ErrStopped
			return false
		}

		// Only the newest send is tracked.
		if c.pending != nil {
			if i := c.indexOf(c.pending.id); i >= 0 && c.messages[i].Status == domain.StatusSending {
				c.messages[i].Status = domain.StatusSent
			}
		}

		now := c.now()
		id := c.newID()
		c.messages = append(c.messages, domain.Message{
			ID:        id,
			Text:      displayText,
			Kind:      domain.KindUser,
			Timestamp: now,
			Status:    domain.StatusSending,
		})
		c.pending = &pendingSend{id: id, sentAt: now}

		err = c.conn.Emit(transport.EventClient, domain.UserMessage{
			Type:           domain.OutUserMessage,
			Message:        payload,
			ConversationID: domain.StringPtr(c.conversationID),
		})
		if err != nil {
			c.log.Warn().Err(err).Msg("user message not transmitted")
		} else {
			c.metrics.MessageSent()
		}
		c.fire(hooks.EventMessageSending, map[string]any{
			"id":             id,
			"text":           displayText,
			"payload":        payload,
			"conversationId": c.conversationID,
		})
		return true
	})
	return err
}

// RestartConversation starts a new conversation lineage. The visible log is
// kept until the first reply of the new conversation replaces it.
func (c *Client) RestartConversation() error {
	if c.conn == nil {
		return ErrNoConnection
	}

	var err error
	c.update(func() bool {
		if c.stopped {
			err = ErrStopped
			return false
		}

		previous := c.conversationID
		if previous != "" {
			c.restartedFrom = previous
		}
		c.identity.ClearConversationID()
		c.conversationID = ""
		c.fetched = false
		c.historyGen++
		c.loading = false
		c.pending = nil
		c.typing = true
		c.awaiting = PhaseBootstrapping
		c.replaceOnReply = true

		// Offline, the bootstrap goes out as the handshake of the next connect.
		if c.connected {
			sendErr := c.conn.Send(transport.EventClient, domain.ConversationBootstrap{
				Type:           domain.OutConversationBootstrap,
				ConversationID: domain.StringPtr(c.restartedFrom),
			})
			switch {
			case errors.Is(sendErr, transport.ErrClosed):
				err = sendErr
			case sendErr != nil:
				c.log.Debug().Err(sendErr).Msg("bootstrap deferred to the next connect")
			}
		}
		c.log.Info().Str("previousConversationId", previous).Msg("conversation restarted")
		c.fire(hooks.EventConversationRestarted, map[string]any{"previousConversationId": previous})
		return true
	})

	if c.history != nil {
		c.history.Cancel()
	}
	return err
}

// FetchHistory replaces the log with the stored transcript of the current
// conversation. It is a no-op without a conversation id or once the current
// lineage has been fetched. A newer fetch or a restart silently discards
// this one's result.
func (c *Client) FetchHistory(ctx context.Context) error {
	if c.history == nil {
		return nil
	}

	var (
		gen    uint64
		convID string
		skip   bool
	)
	c.update(func() bool {
		if c.stopped || c.conversationID == "" || c.fetched {
			skip = true
			return false
		}
		c.historyGen++
		gen = c.historyGen
		convID = c.conversationID
		c.loading = true
		return true
	})
	if skip {
		return nil
	}

	msgs, loadErr := c.history.Load(ctx, convID)

	var err error
	c.update(func() bool {
		if gen != c.historyGen || errors.Is(loadErr, history.ErrSuperseded) {
			c.metrics.HistoryFetch(metrics.HistorySuperseded)
			return false
		}
		c.loading = false

		if loadErr != nil {
			if errors.Is(loadErr, context.Canceled) {
				c.log.Debug().Str("conversationId", convID).Msg("history fetch cancelled")
				return true
			}
			c.log.Warn().Err(loadErr).Str("conversationId", convID).Msg("history fetch failed")
			c.metrics.HistoryFetch(metrics.HistoryError)
			err = loadErr
			return true
		}

		c.messages = msgs
		c.fetched = true
		if c.pending != nil && c.indexOf(c.pending.id) < 0 {
			c.pending = nil
		}
		c.metrics.HistoryFetch(metrics.HistoryOK)
		c.log.Debug().Str("conversationId", convID).Int("messages", len(msgs)).Msg("history applied")
		return true
	})
	return err
}

func (c *Client) loop() {
	defer close(c.done)
	for sig := range c.conn.Signals() {
		c.update(func() bool { return c.handle(sig) })
	}
}

// update runs fn under the state lock and, if fn reports a change,
// publishes a new Snapshot to every subscriber.
func (c *Client) update(fn func() bool) {
	c.mu.Lock()
	if !fn() {
		c.mu.Unlock()
		return
	}
	c.phase = c.derivePhase()
	c.seq++
	snap := c.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, sub := range subs {
		sub(snap)
	}
}

func (c *Client) derivePhase() Phase {
	switch {
	case c.connected && c.typing:
		return PhaseTyping
	case c.connected && c.awaiting != 0:
		return c.awaiting
	case c.connected:
		return PhaseIdle
	case c.started && !c.stopped && !c.everConnected && !c.gaveUp && c.conn != nil:
		return PhaseConnecting
	default:
		return PhaseDisconnected
	}
}

func (c *Client) snapshotLocked() Snapshot {
	msgs := make([]domain.Message, len(c.messages))
	for i, m := range c.messages {
		msgs[i] = m.Clone()
	}
	return Snapshot{
		Seq:            c.seq,
		Phase:          c.phase,
		Connected:      c.connected,
		Typing:         c.typing,
		LoadingHistory: c.loading,
		HistoryFetched: c.fetched,
		GaveUp:         c.gaveUp,
		ActiveAgent:    c.agent,
		AnonymousID:    c.anonymousID,
		ConversationID: c.conversationID,
		Messages:       msgs,
	}
}

func (c *Client) indexOf(id string) int {
	for i := range c.messages {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Client) fire(event string, data map[string]any) {
	c.hooks.EmitAsync(c.ctx, event, data)
}
