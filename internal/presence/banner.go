package presence

import (
	"sync"
	"time"

	"github.com/soyeahso/widgetchat/internal/conversation"
)

// BannerDuration is how long the reconnect confirmation stays up.
const BannerDuration = 4 * time.Second

// AfterFunc schedules f after d and returns a function that cancels it.
// time.AfterFunc is the production implementation.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Banner shows a transient "connected" confirmation after a reconnect. The
// very first connect never shows it.
type Banner struct {
	after    AfterFunc
	onChange func(visible bool)

	mu            sync.Mutex
	connected     bool
	wasConnected  bool
	hadDisconnect bool
	visible       bool
	stop          func() bool
	gen           uint64
}

// BannerOption configures a Banner.
type BannerOption func(*Banner)

// WithAfterFunc replaces the timer source, for tests.
func WithAfterFunc(f AfterFunc) BannerOption {
	return func(b *Banner) { b.after = f }
}

// WithOnChange registers a callback for visibility changes. It runs
// without the banner lock held.
func WithOnChange(f func(visible bool)) BannerOption {
	return func(b *Banner) { b.onChange = f }
}

func NewBanner(opts ...BannerOption) *Banner {
	b := &Banner{after: realAfterFunc}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Observe feeds a new snapshot.
func (b *Banner) Observe(s conversation.Snapshot) {
	b.SetConnected(s.Connected)
}

// SetConnected reacts to connection changes; repeated values are ignored.
func (b *Banner) SetConnected(connected bool) {
	b.mu.Lock()
	if connected == b.connected {
		b.mu.Unlock()
		return
	}
	b.connected = connected
	before := b.visible

	if b.stop != nil {
		b.stop()
		b.stop = nil
	}
	b.gen++

	switch {
	case connected && !b.wasConnected && b.hadDisconnect:
		b.wasConnected = true
		b.visible = true
		gen := b.gen
		b.stop = b.after(BannerDuration, func() { b.expire(gen) })
	case connected && !b.wasConnected:
		b.wasConnected = true
	case !connected && b.wasConnected:
		b.hadDisconnect = true
		b.wasConnected = false
		b.visible = false
	}

	after := b.visible
	b.mu.Unlock()
	b.notify(before, after)
}

func (b *Banner) Visible() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visible
}

// Stop cancels a pending auto-hide.
func (b *Banner) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stop != nil {
		b.stop()
		b.stop = nil
	}
	b.gen++
}

func (b *Banner) expire(gen uint64) {
	b.mu.Lock()
	if gen != b.gen || !b.visible {
		b.mu.Unlock()
		return
	}
	b.visible = false
	b.stop = nil
	b.mu.Unlock()
	b.notify(true, false)
}

func (b *Banner) notify(before, after bool) {
	if before != after && b.onChange != nil {
		b.onChange(after)
	}
}
