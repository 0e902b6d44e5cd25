package config

import "time"

// Config is the root configuration for the widgetchat client.
type Config struct {
	Server    ServerConfig    `yaml:"server,omitempty"`
	Transport TransportConfig `yaml:"transport,omitempty"`
	Storage   StorageConfig   `yaml:"storage,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Hooks     HooksConfig     `yaml:"hooks,omitempty"`
	Metrics   MetricsConfig   `yaml:"metrics,omitempty"`
}

// ServerConfig locates the chat backend.
type ServerConfig struct {
	SocketURL   string `yaml:"socketUrl,omitempty"`   // ws(s):// or http(s):// base of the realtime endpoint
	APIURL      string `yaml:"apiUrl,omitempty"`      // REST base for history and widget config
	WorkspaceID string `yaml:"workspaceId,omitempty"` // sent on the handshake and used for widget config
}

// TransportConfig controls the socket's own reconnection policy.
type TransportConfig struct {
	ReconnectAttempts int `yaml:"reconnectAttempts,omitempty"`
	ReconnectDelayMs  int `yaml:"reconnectDelayMs,omitempty"`
	DialTimeoutMs     int `yaml:"dialTimeoutMs,omitempty"`
	SendBuffer        int `yaml:"sendBuffer,omitempty"` // frames queued while disconnected
}

// ReconnectDelay returns ReconnectDelayMs as a duration.
func (t TransportConfig) ReconnectDelay() time.Duration {
	return time.Duration(t.ReconnectDelayMs) * time.Millisecond
}

// DialTimeout returns DialTimeoutMs as a duration.
func (t TransportConfig) DialTimeout() time.Duration {
	return time.Duration(t.DialTimeoutMs) * time.Millisecond
}

// StorageConfig selects where the anonymous and conversation ids persist.
type StorageConfig struct {
	Backend string `yaml:"backend,omitempty"` // "sqlite" | "bolt" | "memory"
	Path    string `yaml:"path,omitempty"`    // defaults to <base>/data/identity.{db,bolt}
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`        // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// HooksConfig maps client lifecycle events to shell commands.
type HooksConfig struct {
	MessageReceived       []HookEntry `yaml:"messageReceived,omitempty"`
	MessageSending        []HookEntry `yaml:"messageSending,omitempty"`
	Connected             []HookEntry `yaml:"connected,omitempty"`
	Disconnected          []HookEntry `yaml:"disconnected,omitempty"`
	ConversationStarted   []HookEntry `yaml:"conversationStarted,omitempty"`
	ConversationRestarted []HookEntry `yaml:"conversationRestarted,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // e.g. "127.0.0.1:9464"; empty disables
}
