package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			SocketURL: "http://localhost",
			APIURL:    "http://localhost",
		},
		Transport: TransportConfig{
			ReconnectAttempts: 5,
			ReconnectDelayMs:  1000,
			DialTimeoutMs:     10000,
			SendBuffer:        64,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
