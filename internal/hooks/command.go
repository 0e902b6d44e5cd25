package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/widgetchat/internal/config"
)

const defaultCommandTimeout = 5 * time.Second

// CommandHandler runs entry.Command through sh -c with the payload as JSON
// on stdin. A zero timeout means five seconds.
func CommandHandler(entry config.HookEntry) Handler {
	timeout := time.Duration(entry.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return func(ctx context.Context, p Payload) error {
		input, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding hook payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", entry.Command)
		cmd.Stdin = bytes.NewReader(input)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		cmd.WaitDelay = time.Second

		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("hook %q: %w: %s", entry.Command, err, msg)
			}
			return fmt.Errorf("hook %q: %w", entry.Command, err)
		}
		return nil
	}
}

// RegisterConfig registers a CommandHandler for every configured entry.
// Returns the number of handlers registered.
func RegisterConfig(m *Manager, cfg config.HooksConfig) int {
	sets := []struct {
		event   string
		entries []config.HookEntry
	}{
		{EventMessageReceived, cfg.MessageReceived},
		{EventMessageSending, cfg.MessageSending},
		{EventConnected, cfg.Connected},
		{EventDisconnected, cfg.Disconnected},
		{EventConversationStarted, cfg.ConversationStarted},
		{EventConversationRestarted, cfg.ConversationRestarted},
	}

	n := 0
	for _, set := range sets {
		for i, entry := range set.entries {
			m.On(set.event, fmt.Sprintf("config:%s[%d]", set.event, i), CommandHandler(entry))
			n++
		}
	}
	return n
}
