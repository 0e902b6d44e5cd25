// Package transport is the client side of the chat WebSocket: it dials,
// keeps the socket alive, reconnects under a bounded fixed-delay policy,
// and turns frames and connection changes into Signals.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/widgetchat/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second
)

var (
	ErrClosed       = errors.New("transport: connection closed")
	ErrBufferFull   = errors.New("transport: send buffer full")
	ErrNotConnected = errors.New("transport: no open session")
)

// SignalKind discriminates a Signal.
type SignalKind int

const (
	SignalConnect SignalKind = iota + 1
	SignalDisconnect
	SignalEvent
	// SignalGiveUp is sent once when the reconnection policy is exhausted.
	// No further signals follow.
	SignalGiveUp
)

func (k SignalKind) String() string {
	switch k {
	case SignalConnect:
		return "connect"
	case SignalDisconnect:
		return "disconnect"
	case SignalEvent:
		return "event"
	case SignalGiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// Signal is one item of the inbound stream.
type Signal struct {
	Kind    SignalKind
	Event   string          // SignalEvent only
	Payload json.RawMessage // SignalEvent only
	Err     error           // SignalDisconnect / SignalGiveUp
}

// Options configures a Conn.
type Options struct {
	URL               string     // ws(s):// or http(s):// base; "/ws" is appended
	Query             url.Values // handshake query parameters
	ReconnectAttempts int        // retries after a failed dial
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
	SendBuffer        int // frames queued while disconnected
	UserAgent         string
	Log               *logging.Logger
}

// Conn is a self-reconnecting WebSocket client connection.
type Conn struct {
	opts   Options
	target string
	dialer *websocket.Dialer
	log    *logging.Logger

	signals chan Signal

	mu      sync.Mutex
	ws      *websocket.Conn
	open    bool // Handshake succeeded on ws
	pending [][]byte
	closed  bool
	started bool
	cancel  context.CancelFunc

	writeMu sync.Mutex
	done    chan struct{}
}

// New validates opts and builds a Conn. Nothing is dialed until Start.
func New(opts Options) (*Conn, error) {
	target, err := DialURL(opts.URL, opts.Query)
	if err != nil {
		return nil, err
	}
	if opts.SendBuffer < 0 {
		opts.SendBuffer = 0
	}
	if opts.ReconnectAttempts < 0 {
		opts.ReconnectAttempts = 0
	}
	return &Conn{
		opts:    opts,
		target:  target,
		dialer:  &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: opts.DialTimeout},
		log:     opts.Log.Sub("transport"),
		signals: make(chan Signal, 16),
		done:    make(chan struct{}),
	}, nil
}

// DialURL builds the handshake URL from a base endpoint and query.
func DialURL(base string, query url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing socket url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported socket url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("socket url %q has no host", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// Signals returns the inbound stream. It is closed after Close or after
// SignalGiveUp.
func (c *Conn) Signals() <-chan Signal {
	return c.signals
}

// Start begins dialing in the background. Calling Start twice is a no-op.
func (c *Conn) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run(ctx)
}

// Connected reports whether a socket is currently open.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Emit sends an event frame once the session is open. Until Handshake
// succeeds on the current socket the frame is queued, and queued frames go
// out in order right after the handshake frame.
func (c *Conn) Emit(event string, payload any) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	ws := c.ws
	if ws == nil || !c.open {
		defer c.mu.Unlock()
		if len(c.pending) >= c.opts.SendBuffer {
			return ErrBufferFull
		}
		c.pending = append(c.pending, data)
		c.log.Debug().Str("event", event).Int("queued", len(c.pending)).Msg("queued until session opens")
		return nil
	}
	c.mu.Unlock()

	return c.write(ws, websocket.TextMessage, data)
}

// Send writes an event frame on an open session and never queues. It
// returns ErrNotConnected when there is no open session.
func (c *Conn) Send(event string, payload any) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	ws := c.ws
	if ws == nil || !c.open {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.mu.Unlock()

	return c.write(ws, websocket.TextMessage, data)
}

// Handshake writes the session frame as the first frame on the current
// socket, then flushes the queue and opens the session. It is meant to be
// called on SignalConnect. Frames that could not be flushed stay queued.
func (c *Conn) Handshake(event string, payload any) error {
	data, err := encode(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.ws == nil {
		return ErrNotConnected
	}
	if err := c.write(c.ws, websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing %s: %w", event, err)
	}

	for len(c.pending) > 0 {
		if err := c.write(c.ws, websocket.TextMessage, c.pending[0]); err != nil {
			c.log.Warn().Err(err).Int("queued", len(c.pending)).Msg("flushing send buffer failed")
			return err
		}
		c.pending = c.pending[1:]
	}
	c.pending = nil
	c.open = true
	return nil
}

func encode(event string, payload any) ([]byte, error) {
	frame, err := NewEvent(event, payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", event, err)
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return data, nil
}

// Close stops reconnecting, closes the socket and waits for the background
// loop to exit.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	if c.cancel != nil {
		c.cancel()
	}
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		ws.Close()
	}
	if started {
		<-c.done
	} else {
		close(c.signals)
	}
	return nil
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.signals)

	first := true
	for {
		if !first && !sleepCtx(ctx, c.opts.ReconnectDelay) {
			return
		}
		first = false

		ws, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("giving up reconnecting")
				c.emit(ctx, Signal{Kind: SignalGiveUp, Err: err})
			}
			return
		}

		if !c.attach(ws) {
			ws.Close()
			return
		}
		c.log.Info().Str("url", c.target).Msg("connected")
		c.emit(ctx, Signal{Kind: SignalConnect})

		err = c.serve(ctx, ws)
		c.detach()
		ws.Close()

		if ctx.Err() != nil {
			return
		}
		c.log.Warn().Err(err).Msg("connection lost")
		c.emit(ctx, Signal{Kind: SignalDisconnect, Err: err})
	}
}

// connect dials under the reconnection policy: one attempt plus
// ReconnectAttempts retries spaced ReconnectDelay apart.
func (c *Conn) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.UserAgent != "" {
		header.Set("User-Agent", c.opts.UserAgent)
	}

	attempt := 0
	dial := func() (*websocket.Conn, error) {
		attempt++
		dctx := ctx
		if c.opts.DialTimeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, c.opts.DialTimeout)
			defer cancel()
		}
		ws, resp, err := c.dialer.DialContext(dctx, c.target, header)
		if err != nil {
			if resp != nil {
				err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
			}
			return nil, err
		}
		return ws, nil
	}

	return backoff.Retry(ctx, dial,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.opts.ReconnectDelay)),
		backoff.WithMaxTries(uint(c.opts.ReconnectAttempts)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Debug().Err(err).Int("attempt", attempt).Dur("retryIn", next).Msg("dial failed")
		}),
	)
}

// attach publishes ws. The session stays closed until Handshake.
func (c *Conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.ws = ws
	c.open = false
	return true
}

func (c *Conn) detach() {
	c.mu.Lock()
	c.ws = nil
	c.open = false
	c.mu.Unlock()
}

func (c *Conn) write(ws *websocket.Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(messageType, data)
}

// serve pumps frames until the socket fails or ctx ends.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn) error {
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go c.keepalive(ws, stop)

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.log.Debug().Err(err).Msg("dropping undecodable frame")
			continue
		}
		if f.Type != FrameTypeEvent || f.Event == "" {
			c.log.Debug().Str("type", f.Type).Msg("dropping non-event frame")
			continue
		}
		if !c.emit(ctx, Signal{Kind: SignalEvent, Event: f.Event, Payload: f.Payload}) {
			return ctx.Err()
		}
	}
}

func (c *Conn) keepalive(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.write(ws, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) emit(ctx context.Context, s Signal) bool {
	select {
	case c.signals <- s:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
