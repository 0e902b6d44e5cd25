// Package presence derives auxiliary widget signals, the launcher tooltip
// and the reconnect banner, from conversation snapshots.
package presence

import (
	"sync"

	"github.com/soyeahso/widgetchat/internal/conversation"
	"github.com/soyeahso/widgetchat/internal/domain"
)

// TooltipMaxRunes bounds the tooltip text before truncation.
const TooltipMaxRunes = 200

// Tooltip tracks whether the launcher tooltip shows the last bot message.
type Tooltip struct {
	mu       sync.Mutex
	open     bool
	wasOpen  bool
	visible  bool
	lastSeen string
	lastBot  domain.Message
	hasBot   bool
}

// NewTooltip starts with the configured initial visibility (the widget
// config's showChatBubble) and the window closed.
func NewTooltip(initialVisible bool) *Tooltip {
	return &Tooltip{visible: initialVisible}
}

// Observe feeds a new snapshot. Returns the visibility afterwards.
func (t *Tooltip) Observe(s conversation.Snapshot) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastBot, t.hasBot = s.LastBotMessage()
	t.evaluate()
	return t.visible
}

// SetOpen records the chat window opening or closing.
func (t *Tooltip) SetOpen(open bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = open
	t.evaluate()
	return t.visible
}

// Dismiss hides the tooltip until the next trigger.
func (t *Tooltip) Dismiss() {
	t.mu.Lock()
	t.visible = false
	t.mu.Unlock()
}

func (t *Tooltip) Visible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.visible
}

// Text is the last bot message, truncated for display.
func (t *Tooltip) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasBot {
		return ""
	}
	return Truncate(t.lastBot.Text, TooltipMaxRunes)
}

func (t *Tooltip) evaluate() {
	justClosed := t.wasOpen && !t.open
	unseen := t.hasBot && t.lastBot.ID != t.lastSeen

	switch {
	case justClosed && t.hasBot:
		t.visible = true
		t.lastSeen = t.lastBot.ID
	case unseen && !t.open:
		t.visible = true
		t.lastSeen = t.lastBot.ID
	case t.open && t.hasBot:
		t.lastSeen = t.lastBot.ID
	}
	if t.open {
		t.visible = false
	}
	t.wasOpen = t.open
}

// Truncate cuts s to max runes and appends "..." when it was longer.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
