package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/widgetchat/internal/domain"
	"github.com/soyeahso/widgetchat/internal/history"
	"github.com/soyeahso/widgetchat/internal/hooks"
	"github.com/soyeahso/widgetchat/internal/identity"
	"github.com/soyeahso/widgetchat/internal/logging"
	"github.com/soyeahso/widgetchat/internal/metrics"
	"github.com/soyeahso/widgetchat/internal/store"
	"github.com/soyeahso/widgetchat/internal/transport"
)

// --- fakes ---

type emitted struct {
	Event   string
	Payload map[string]any
}

type fakeConn struct {
	mu      sync.Mutex
	signals chan transport.Signal
	sent    []emitted
	started bool
	closed  bool
	offline bool // Send fails with ErrNotConnected
	emitErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{signals: make(chan transport.Signal, 16)}
}

func (f *fakeConn) Start(context.Context) {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
}

func (f *fakeConn) Signals() <-chan transport.Signal { return f.signals }

func (f *fakeConn) Handshake(event string, payload any) error { return f.record(event, payload) }

func (f *fakeConn) Emit(event string, payload any) error {
	if f.emitErr != nil {
		return f.emitErr
	}
	return f.record(event, payload)
}

func (f *fakeConn) Send(event string, payload any) error {
	f.mu.Lock()
	offline := f.offline
	f.mu.Unlock()
	if offline {
		return transport.ErrNotConnected
	}
	return f.record(event, payload)
}

func (f *fakeConn) record(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, emitted{Event: event, Payload: m})
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.signals)
	}
	return nil
}

func (f *fakeConn) emitted() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.sent...)
}

func (f *fakeConn) last(t *testing.T) emitted {
	t.Helper()
	all := f.emitted()
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

type loadResult struct {
	msgs []domain.Message
	err  error
}

// fakeLoader answers each Load only when the test releases it, and ignores
// cancellation so late results can be simulated.
type fakeLoader struct {
	mu        sync.Mutex
	calls     []string
	gates     []chan loadResult
	cancelled atomic.Int32
}

func (l *fakeLoader) Load(_ context.Context, id string) ([]domain.Message, error) {
	gate := make(chan loadResult, 1)
	l.mu.Lock()
	l.calls = append(l.calls, id)
	l.gates = append(l.gates, gate)
	l.mu.Unlock()
	r := <-gate
	return r.msgs, r.err
}

func (l *fakeLoader) Cancel() { l.cancelled.Add(1) }

func (l *fakeLoader) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func (l *fakeLoader) release(i int, r loadResult) {
	l.mu.Lock()
	gate := l.gates[i]
	l.mu.Unlock()
	gate <- r
}

type harness struct {
	c      *Client
	conn   *fakeConn
	loader *fakeLoader
	ids    *identity.Store
}

func newHarness(t *testing.T, storedConversation string) *harness {
	t.Helper()
	log := logging.New(nil, "silent")
	ids := identity.New(store.NewMemoryKV(), log)
	if storedConversation != "" {
		ids.SetConversationID(storedConversation)
	}

	var n atomic.Int64
	h := &harness{conn: newFakeConn(), loader: &fakeLoader{}, ids: ids}
	h.c = New(Options{
		Identity: ids,
		Conn:     h.conn,
		History:  h.loader,
		Log:      log,
		Now:      func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
		NewID:    func() string { return fmt.Sprintf("tmp-%d", n.Add(1)) },
	})
	return h
}

// deliver runs one signal through the handlers synchronously.
func (h *harness) deliver(sig transport.Signal) {
	h.c.update(func() bool { return h.c.handle(sig) })
}

func (h *harness) event(name, payload string) {
	h.deliver(transport.Signal{Kind: transport.SignalEvent, Event: name, Payload: json.RawMessage(payload)})
}

func (h *harness) connect()    { h.deliver(transport.Signal{Kind: transport.SignalConnect}) }
func (h *harness) disconnect() { h.deliver(transport.Signal{Kind: transport.SignalDisconnect}) }

func (h *harness) started(convID string) {
	h.event(transport.EventServerAck, `{"type":"conversation_started","conversationId":"`+convID+`"}`)
}

// --- session negotiation ---

func TestConnect_BootstrapsWithoutConversation(t *testing.T) {
	h := newHarness(t, "")
	h.connect()

	got := h.conn.last(t)
	assert.Equal(t, transport.EventClient, got.Event)
	assert.Equal(t, map[string]any{"type": "conversation_bootstrap", "conversationId": nil}, got.Payload)
	assert.Equal(t, PhaseBootstrapping, h.c.Snapshot().Phase)

	h.started("conv-1")
	snap := h.c.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Equal(t, "conv-1", snap.ConversationID)
	assert.Equal(t, "conv-1", h.ids.ConversationID())
}

func TestConnect_ReconnectsStoredConversation(t *testing.T) {
	h := newHarness(t, "conv-7")
	h.connect()

	assert.Equal(t, map[string]any{"type": "conversation_reconnect", "conversationId": "conv-7"}, h.conn.last(t).Payload)
	snap := h.c.Snapshot()
	assert.True(t, snap.Connected)
	assert.Equal(t, PhaseReconnecting, snap.Phase)
}

func TestDropThenReconnect_UsesCurrentConversation(t *testing.T) {
	h := newHarness(t, "")
	h.connect()
	h.started("conv-new")

	h.disconnect()
	snap := h.c.Snapshot()
	assert.False(t, snap.Connected)
	assert.Equal(t, PhaseDisconnected, snap.Phase)

	h.connect()
	assert.Equal(t, map[string]any{"type": "conversation_reconnect", "conversationId": "conv-new"}, h.conn.last(t).Payload)
	assert.Equal(t, PhaseReconnecting, h.c.Snapshot().Phase)
	assert.Len(t, h.conn.emitted(), 2)
}

func TestGiveUp(t *testing.T) {
	h := newHarness(t, "")
	h.connect()
	h.disconnect()
	h.deliver(transport.Signal{Kind: transport.SignalGiveUp, Err: fmt.Errorf("refused")})

	snap := h.c.Snapshot()
	assert.True(t, snap.GaveUp)
	assert.Equal(t, PhaseDisconnected, snap.Phase)
}

// --- sending ---

func TestSendMessage_BlankIsNoop(t *testing.T) {
	h := newHarness(t, "")
	before := h.c.Snapshot().Seq

	for _, text := range []string{"", "   ", "\n\t"} {
		require.NoError(t, h.c.SendMessage(text, "payload"))
	}
	assert.Empty(t, h.c.Snapshot().Messages)
	assert.Empty(t, h.conn.emitted())
	assert.Equal(t, before, h.c.Snapshot().Seq)
}

func TestSendMessage_AckRewritesProvisionalID(t *testing.T) {
	h := newHarness(t, "")
	h.connect()
	h.started("conv-1")

	require.NoError(t, h.c.SendMessage("hi", ""))
	snap := h.c.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, domain.StatusSending, snap.Messages[0].Status)
	assert.Equal(t, map[string]any{"type": "user_message", "message": "hi", "conversationId": "conv-1"}, h.conn.last(t).Payload)

	h.event(transport.EventServerAck, `{"type":"message_stored","messageId":"srv-1"}`)
	snap = h.c.Snapshot()
	require.Len(t, snap.Messages, 1)
	msg := snap.Messages[0]
	assert.Equal(t, "srv-1", msg.ID)
	assert.Equal(t, domain.KindUser, msg.Kind)
	assert.Equal(t, domain.StatusSent, msg.Status)
	assert.True(t, snap.Typing)
	assert.Equal(t, PhaseTyping, snap.Phase)
}

func TestSendMessage_PayloadDecoupledFromDisplay(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.c.SendMessage("Pro plan", "PLAN_PRO"))

	assert.Equal(t, "Pro plan", h.c.Snapshot().Messages[0].Text)
	got := h.conn.last(t).Payload
	assert.Equal(t, "PLAN_PRO", got["message"])
	assert.Nil(t, got["conversationId"])
}

func TestSendMessage_SupersedesPending(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.c.SendMessage("first", ""))
	require.NoError(t, h.c.SendMessage("second", ""))

	sending := 0
	for _, m := range h.c.Snapshot().Messages {
		if m.Status == domain.StatusSending {
			sending++
		}
	}
	assert.Equal(t, 1, sending)

	h.event(transport.EventServerAck, `{"type":"message_stored","messageId":"srv-2"}`)
	msgs := h.c.Snapshot().Messages
	assert.Equal(t, "tmp-1", msgs[0].ID)
	assert.Equal(t, "srv-2", msgs[1].ID)

	// No pending send left: a further ack changes nothing.
	seq := h.c.Snapshot().Seq
	h.event(transport.EventServerAck, `{"type":"message_stored","messageId":"srv-3"}`)
	assert.Equal(t, seq, h.c.Snapshot().Seq)
}

func TestAck_HumanAgentSuppressesTyping(t *testing.T) {
	h := newHarness(t, "")
	h.connect()
	h.event(transport.EventServerReply, `{"type":"agent_joined","agentName":"Dana"}`)

	require.NoError(t, h.c.SendMessage("hello", ""))
	h.event(transport.EventServerAck, `{"type":"message_stored","messageId":"srv-1"}`)
	assert.False(t, h.c.Snapshot().Typing)
}

func TestReplyBeforeStoredAck(t *testing.T) {
	h := newHarness(t, "")
	h.connect()
	h.started("c")
	require.NoError(t, h.c.SendMessage("hi", ""))

	h.event(transport.EventServerReply, `{"text":"hello there"}`)
	h.event(transport.EventServerAck, `{"type":"message_stored","messageId":"srv-1"}`)

	snap := h.c.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "srv-1", snap.Messages[0].ID)
	assert.Equal(t, domain.StatusSent, snap.Messages[0].Status)
	assert.Equal(t, "hello there", snap.Messages[1].Text)
	assert.False(t, snap.Typing)
	assert.Equal(t, PhaseIdle, snap.Phase)
}

func TestAck_Ignored(t *testing.T) {
	h := newHarness(t, "")
	h.connect()
	seq := h.c.Snapshot().Seq

	h.event(transport.EventServerAck, `{"type":"message_stored","messageId":"srv-1"}`)
	h.event(transport.EventServerAck, `{"type":"conversation_started"}`)
	h.event(transport.EventServerAck, `{"type":"something_else"}`)
	h.event(transport.EventServerAck, `[1,2,3]`)
	h.event("server:unknown", `{}`)

	assert.Equal(t, seq, h.c.Snapshot().Seq)
	assert.Equal(t, "", h.ids.ConversationID())
}

// --- replies and errors ---

func TestReply_RichContent(t *testing.T) {
	h := newHarness(t, "")
	h.event(transport.EventServerReply, `{"text":"Choose","quickReplies":[{"label":"Yes","value":"y"}],"video":{"url":"https://v"}}`)

	msg := h.c.Snapshot().Messages[0]
	assert.Equal(t, domain.KindBot, msg.Kind)
	require.NotNil(t, msg.RichContent)
	assert.Equal(t, []domain.Option{{Label: "Yes", Value: "y"}}, msg.RichContent.QuickReplies)
	assert.Equal(t, "https://v", msg.RichContent.Video.URL)
	assert.Nil(t, msg.RichContent.Image)
}

func TestReply_PlainTextHasNoRichContent(t *testing.T) {
	h := newHarness(t, "")
	h.event(transport.EventServerReply, `{"text":"just text"}`)
	assert.Nil(t, h.c.Snapshot().Messages[0].RichContent)
}

func TestReply_AgentJoinedAndLeft(t *testing.T) {
	h := newHarness(t, "")

	h.event(transport.EventServerReply, `{"type":"agent_joined","agentName":"Dana"}`)
	snap := h.c.Snapshot()
	assert.Equal(t, domain.AgentHuman, snap.ActiveAgent)
	assert.Equal(t, "Dana joined", snap.Messages[0].Text)
	assert.Equal(t, domain.KindSystem, snap.Messages[0].Kind)

	h.event(transport.EventServerReply, `{"type":"agent_left"}`)
	snap = h.c.Snapshot()
	assert.Equal(t, domain.AgentBot, snap.ActiveAgent)
	assert.Equal(t, "Agent left", snap.Messages[1].Text)
}

func TestServerError_AppendsSystemMessage(t *testing.T) {
	h := newHarness(t, "")
	h.connect()

	h.event(transport.EventServerError, `{"message":"rate limited"}`)
	h.event(transport.EventServerError, `{}`)
	h.event(transport.EventServerError, `"garbage"`)

	snap := h.c.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, "Error: rate limited", snap.Messages[0].Text)
	assert.Equal(t, "Error: Unknown error", snap.Messages[1].Text)
	assert.Equal(t, "Error: Unknown error", snap.Messages[2].Text)
	assert.True(t, snap.Connected)
}

func TestMalformedReply_ClearsTypingWithoutAppending(t *testing.T) {
	h := newHarness(t, "")
	h.connect()
	h.started("c")
	require.NoError(t, h.c.SendMessage("hi", ""))
	h.event(transport.EventServerAck, `{"type":"message_stored","messageId":"s"}`)
	require.True(t, h.c.Snapshot().Typing)

	assert.NotPanics(t, func() { h.event(transport.EventServerReply, `42`) })
	snap := h.c.Snapshot()
	assert.False(t, snap.Typing)
	assert.Len(t, snap.Messages, 1)
}

// --- restart ---

func TestRestart_ReplacesLogOnNextReply(t *testing.T) {
	h := newHarness(t, "conv-old")
	h.connect()
	h.event(transport.EventServerReply, `{"text":"old welcome"}`)
	require.NoError(t, h.c.SendMessage("old question", ""))

	require.NoError(t, h.c.RestartConversation())
	snap := h.c.Snapshot()
	assert.True(t, snap.Typing)
	assert.Equal(t, "", snap.ConversationID)
	assert.Equal(t, "", h.ids.ConversationID())
	assert.Len(t, snap.Messages, 2, "old log stays visible until the new reply")
	assert.Equal(t, map[string]any{"type": "conversation_bootstrap", "conversationId": "conv-old"}, h.conn.last(t).Payload)

	h.started("conv-new")
	h.event(transport.EventServerReply, `{"text":"new welcome"}`)
	snap = h.c.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "new welcome", snap.Messages[0].Text)
	assert.False(t, snap.Typing)
	assert.Equal(t, "conv-new", snap.ConversationID)

	// Only the first reply after a restart replaces.
	h.event(transport.EventServerReply, `{"text":"follow-up"}`)
	assert.Len(t, h.c.Snapshot().Messages, 2)
}

func TestRestart_ResetsLineageAndCancelsHistory(t *testing.T) {
	h := newHarness(t, "conv-1")

	done := make(chan error, 1)
	go func() { done <- h.c.FetchHistory(context.Background()) }()
	require.Eventually(t, func() bool { return h.loader.callCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, h.c.Snapshot().LoadingHistory)

	require.NoError(t, h.c.RestartConversation())
	assert.Equal(t, int32(1), h.loader.cancelled.Load())
	assert.False(t, h.c.Snapshot().LoadingHistory)

	// The in-flight result belongs to the old lineage and is discarded.
	h.loader.release(0, loadResult{msgs: []domain.Message{{ID: "old", Kind: domain.KindBot}}})
	require.NoError(t, <-done)
	snap := h.c.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.False(t, snap.HistoryFetched)

	// No conversation id now: fetching is a no-op.
	require.NoError(t, h.c.FetchHistory(context.Background()))
	assert.Equal(t, 1, h.loader.callCount())
}

func TestRestart_OfflineDefersBootstrapToConnect(t *testing.T) {
	h := newHarness(t, "conv-1")
	h.connect()
	h.disconnect()
	h.conn.offline = true

	require.NoError(t, h.c.SendMessage("hello offline", ""))
	require.NoError(t, h.c.RestartConversation())
	require.NoError(t, h.c.RestartConversation())

	sent := h.conn.emitted()
	require.Len(t, sent, 2)
	assert.Equal(t, "conversation_reconnect", sent[0].Payload["type"])
	assert.Equal(t, "user_message", sent[1].Payload["type"])

	h.conn.offline = false
	h.connect()
	sent = h.conn.emitted()
	require.Len(t, sent, 3, "exactly one bootstrap on connect")
	assert.Equal(t, map[string]any{"type": "conversation_bootstrap", "conversationId": "conv-1"}, sent[2].Payload)
	assert.Equal(t, PhaseBootstrapping, h.c.Snapshot().Phase)

	// Once the server confirms, later sessions no longer carry the old id.
	h.started("conv-2")
	h.disconnect()
	h.connect()
	assert.Equal(t, map[string]any{"type": "conversation_reconnect", "conversationId": "conv-2"}, h.conn.last(t).Payload)
}

func TestRestart_UnsentBootstrapRetriedOnConnect(t *testing.T) {
	h := newHarness(t, "conv-1")
	h.connect()

	// The socket dropped but the disconnect signal has not been handled yet.
	h.conn.offline = true
	require.NoError(t, h.c.RestartConversation())
	assert.Len(t, h.conn.emitted(), 1)

	h.disconnect()
	h.conn.offline = false
	h.connect()
	assert.Equal(t, map[string]any{"type": "conversation_bootstrap", "conversationId": "conv-1"}, h.conn.last(t).Payload)
}

// --- history ---

func TestFetchHistory_NoConversationIsNoop(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.c.FetchHistory(context.Background()))
	assert.Equal(t, 0, h.loader.callCount())
	assert.False(t, h.c.Snapshot().LoadingHistory)
}

// fetchAsync starts FetchHistory and waits until the loader has been called
// want times.
func (h *harness) fetchAsync(t *testing.T, want int) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.c.FetchHistory(context.Background()) }()
	require.Eventually(t, func() bool { return h.loader.callCount() == want }, time.Second, 5*time.Millisecond)
	return done
}

func TestFetchHistory_ReplacesLogOnce(t *testing.T) {
	h := newHarness(t, "conv-1")
	h.event(transport.EventServerReply, `{"text":"live message"}`)

	done := h.fetchAsync(t, 1)
	assert.True(t, h.c.Snapshot().LoadingHistory)
	h.loader.release(0, loadResult{msgs: []domain.Message{
		{ID: "h1", Text: "hi", Kind: domain.KindUser},
		{ID: "h2", Text: "hello", Kind: domain.KindBot},
	}})
	require.NoError(t, <-done)

	snap := h.c.Snapshot()
	assert.False(t, snap.LoadingHistory)
	assert.True(t, snap.HistoryFetched)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "h1", snap.Messages[0].ID)
	assert.Equal(t, "conv-1", h.loader.calls[0])

	// Same lineage: no second request.
	require.NoError(t, h.c.FetchHistory(context.Background()))
	assert.Equal(t, 1, h.loader.callCount())
}

func TestFetchHistory_FailureLeavesLogAndClearsLoading(t *testing.T) {
	h := newHarness(t, "conv-1")
	h.event(transport.EventServerReply, `{"text":"keep me"}`)

	done := h.fetchAsync(t, 1)
	h.loader.release(0, loadResult{err: &history.StatusError{StatusCode: 500}})
	err := <-done
	var se *history.StatusError
	require.ErrorAs(t, err, &se)

	snap := h.c.Snapshot()
	assert.False(t, snap.LoadingHistory)
	assert.False(t, snap.HistoryFetched)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "keep me", snap.Messages[0].Text)
}

func TestFetchHistory_CancelledIsSilent(t *testing.T) {
	h := newHarness(t, "conv-1")
	done := h.fetchAsync(t, 1)
	h.loader.release(0, loadResult{err: context.Canceled})
	require.NoError(t, <-done)
	assert.False(t, h.c.Snapshot().LoadingHistory)
}

func TestFetchHistory_NewerFetchWins(t *testing.T) {
	h := newHarness(t, "conv-1")

	first := h.fetchAsync(t, 1)
	second := h.fetchAsync(t, 2)

	h.loader.release(1, loadResult{msgs: []domain.Message{{ID: "fresh", Kind: domain.KindBot}}})
	require.NoError(t, <-second)

	// The superseded request resolves late with stale data.
	h.loader.release(0, loadResult{msgs: []domain.Message{{ID: "stale", Kind: domain.KindBot}}})
	require.NoError(t, <-first)

	snap := h.c.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "fresh", snap.Messages[0].ID)
	assert.False(t, snap.LoadingHistory)
	assert.True(t, snap.HistoryFetched)
}

func TestFetchHistory_SupersededErrorLeavesLoading(t *testing.T) {
	h := newHarness(t, "conv-1")

	first := h.fetchAsync(t, 1)
	second := h.fetchAsync(t, 2)

	h.loader.release(0, loadResult{err: history.ErrSuperseded})
	require.NoError(t, <-first)
	assert.True(t, h.c.Snapshot().LoadingHistory, "newer fetch still in flight")

	h.loader.release(1, loadResult{})
	require.NoError(t, <-second)
	assert.False(t, h.c.Snapshot().LoadingHistory)
}

func TestFetchHistory_DropsPendingNotInHistory(t *testing.T) {
	h := newHarness(t, "conv-1")
	require.NoError(t, h.c.SendMessage("unsaved", ""))

	done := h.fetchAsync(t, 1)
	h.loader.release(0, loadResult{msgs: []domain.Message{{ID: "h1", Kind: domain.KindUser}}})
	require.NoError(t, <-done)

	seq := h.c.Snapshot().Seq
	h.event(transport.EventServerAck, `{"type":"message_stored","messageId":"srv"}`)
	assert.Equal(t, seq, h.c.Snapshot().Seq)
}

// --- lifecycle ---

func TestStartStop_DrivesConnection(t *testing.T) {
	h := newHarness(t, "")

	var mu sync.Mutex
	var phases []Phase
	unsubscribe := h.c.Subscribe(func(s Snapshot) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	})
	defer unsubscribe()

	h.c.Start(context.Background())
	assert.True(t, h.conn.started)
	assert.Equal(t, PhaseConnecting, h.c.Snapshot().Phase)

	h.conn.signals <- transport.Signal{Kind: transport.SignalConnect}
	h.conn.signals <- transport.Signal{Kind: transport.SignalEvent, Event: transport.EventServerAck,
		Payload: json.RawMessage(`{"type":"conversation_started","conversationId":"c9"}`)}

	require.Eventually(t, func() bool { return h.c.Snapshot().ConversationID == "c9" }, time.Second, 5*time.Millisecond)

	h.c.Stop()
	h.c.Stop()
	assert.True(t, h.conn.closed)
	assert.Equal(t, int32(1), h.loader.cancelled.Load())
	assert.False(t, h.c.Snapshot().Connected)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Phase{PhaseDisconnected, PhaseConnecting, PhaseBootstrapping, PhaseIdle, PhaseDisconnected}, phases)
}

func TestNoConnection_StaysDisconnected(t *testing.T) {
	log := logging.New(nil, "silent")
	c := New(Options{Identity: identity.New(store.NewMemoryKV(), log), Log: log})

	c.Start(context.Background())
	snap := c.Snapshot()
	assert.Equal(t, PhaseDisconnected, snap.Phase)
	assert.False(t, snap.Connected)

	assert.ErrorIs(t, c.SendMessage("hi", ""), ErrNoConnection)
	assert.ErrorIs(t, c.RestartConversation(), ErrNoConnection)
	assert.NoError(t, c.FetchHistory(context.Background()))
	assert.Empty(t, c.Snapshot().Messages)
	c.Stop()
}

func TestSendAfterStop(t *testing.T) {
	h := newHarness(t, "")
	h.c.Start(context.Background())
	h.c.Stop()
	assert.ErrorIs(t, h.c.SendMessage("late", ""), ErrStopped)
}

func TestSnapshotsDoNotAliasLog(t *testing.T) {
	h := newHarness(t, "")
	h.event(transport.EventServerReply, `{"text":"orig","quickReplies":[{"label":"a"}]}`)

	snap := h.c.Snapshot()
	snap.Messages[0].Text = "mutated"
	snap.Messages[0].RichContent.QuickReplies[0].Label = "mutated"

	again := h.c.Snapshot()
	assert.Equal(t, "orig", again.Messages[0].Text)
	assert.Equal(t, "a", again.Messages[0].RichContent.QuickReplies[0].Label)
}

func TestHooksFire(t *testing.T) {
	log := logging.New(nil, "silent")
	mgr := hooks.NewManager(log)
	got := make(chan hooks.Payload, 4)
	mgr.On(hooks.EventConversationStarted, "test", func(_ context.Context, p hooks.Payload) error {
		got <- p
		return nil
	})

	conn := newFakeConn()
	c := New(Options{Identity: identity.New(store.NewMemoryKV(), log), Conn: conn, Log: log, Hooks: mgr})
	h := &harness{c: c, conn: conn}
	h.connect()
	h.started("conv-h")

	select {
	case p := <-got:
		assert.Equal(t, "conv-h", p.Data["conversationId"])
	case <-time.After(time.Second):
		t.Fatal("hook not fired")
	}
}

func TestSnapshotHelpers(t *testing.T) {
	s := Snapshot{Messages: []domain.Message{
		{ID: "1", Kind: domain.KindBot},
		{ID: "2", Kind: domain.KindUser},
	}}
	bot, ok := s.LastBotMessage()
	require.True(t, ok)
	assert.Equal(t, "1", bot.ID)
	last, ok := s.LastMessage()
	require.True(t, ok)
	assert.Equal(t, "2", last.ID)

	_, ok = Snapshot{}.LastBotMessage()
	assert.False(t, ok)
	assert.Equal(t, "typing", PhaseTyping.String())
}

func TestNew_NilLogDiscards(t *testing.T) {
	c := New(Options{Identity: identity.New(store.NewMemoryKV(), logging.New(nil, "silent")), Conn: newFakeConn()})
	assert.NotPanics(t, func() { c.update(func() bool { return c.handle(transport.Signal{Kind: transport.SignalConnect}) }) })
	assert.True(t, c.Snapshot().Connected)
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestSendMessage_CountsOnlyAcceptedFrames(t *testing.T) {
	m := metrics.New()
	conn := newFakeConn()
	log := logging.New(nil, "silent")
	c := New(Options{Identity: identity.New(store.NewMemoryKV(), log), Conn: conn, Log: log, Metrics: m})

	require.NoError(t, c.SendMessage("one", ""))
	conn.emitErr = transport.ErrBufferFull
	assert.ErrorIs(t, c.SendMessage("two", ""), transport.ErrBufferFull)

	assert.Equal(t, float64(1), counterValue(t, m, "widgetchat_messages_sent_total"))
	snap := c.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, domain.StatusSending, snap.Messages[1].Status)
}
