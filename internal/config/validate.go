package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Server validation
	issues = append(issues, validateURL("server.socketUrl", cfg.Server.SocketURL, "ws", "wss", "http", "https")...)
	issues = append(issues, validateURL("server.apiUrl", cfg.Server.APIURL, "http", "https")...)

	// Transport validation
	if cfg.Transport.ReconnectAttempts < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "transport.reconnectAttempts",
			Message: fmt.Sprintf("must be >= 0, got %d", cfg.Transport.ReconnectAttempts),
		})
	}
	if cfg.Transport.ReconnectDelayMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "transport.reconnectDelayMs",
			Message: fmt.Sprintf("must be >= 0, got %d", cfg.Transport.ReconnectDelayMs),
		})
	}
	if cfg.Transport.DialTimeoutMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "transport.dialTimeoutMs",
			Message: fmt.Sprintf("must be >= 0, got %d", cfg.Transport.DialTimeoutMs),
		})
	}
	if cfg.Transport.SendBuffer < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "transport.sendBuffer",
			Message: fmt.Sprintf("must be >= 0, got %d", cfg.Transport.SendBuffer),
		})
	}

	// Storage validation
	validBackends := []string{"sqlite", "bolt", "memory"}
	if cfg.Storage.Backend != "" && !slices.Contains(validBackends, cfg.Storage.Backend) {
		issues = append(issues, ValidationIssue{
			Path:    "storage.backend",
			Message: fmt.Sprintf("must be one of %v, got %q", validBackends, cfg.Storage.Backend),
		})
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}
	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	// Hooks validation
	hookSets := map[string][]HookEntry{
		"hooks.messageReceived":       cfg.Hooks.MessageReceived,
		"hooks.messageSending":        cfg.Hooks.MessageSending,
		"hooks.connected":             cfg.Hooks.Connected,
		"hooks.disconnected":          cfg.Hooks.Disconnected,
		"hooks.conversationStarted":   cfg.Hooks.ConversationStarted,
		"hooks.conversationRestarted": cfg.Hooks.ConversationRestarted,
	}
	for path, entries := range hookSets {
		for i, h := range entries {
			if h.Command == "" {
				issues = append(issues, ValidationIssue{
					Path:    fmt.Sprintf("%s[%d].command", path, i),
					Message: "command is required",
				})
			}
			if h.Timeout < 0 {
				issues = append(issues, ValidationIssue{
					Path:    fmt.Sprintf("%s[%d].timeout", path, i),
					Message: fmt.Sprintf("must be >= 0, got %d", h.Timeout),
				})
			}
		}
	}
	slices.SortFunc(issues, func(a, b ValidationIssue) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})

	return issues
}

func validateURL(path, raw string, schemes ...string) []ValidationIssue {
	if raw == "" {
		return []ValidationIssue{{Path: path, Message: "is required"}}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return []ValidationIssue{{Path: path, Message: "invalid URL: " + err.Error()}}
	}
	if !slices.Contains(schemes, u.Scheme) {
		return []ValidationIssue{{Path: path, Message: fmt.Sprintf("scheme must be one of %v, got %q", schemes, u.Scheme)}}
	}
	if u.Host == "" {
		return []ValidationIssue{{Path: path, Message: "host is required"}}
	}
	return nil
}
