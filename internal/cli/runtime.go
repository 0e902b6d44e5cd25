package cli

import (
	"fmt"
	"net/url"

	"github.com/soyeahso/widgetchat/internal/config"
	"github.com/soyeahso/widgetchat/internal/history"
	"github.com/soyeahso/widgetchat/internal/identity"
	"github.com/soyeahso/widgetchat/internal/logging"
	"github.com/soyeahso/widgetchat/internal/store"
	"github.com/soyeahso/widgetchat/internal/transport"
	"github.com/soyeahso/widgetchat/internal/version"
	"github.com/soyeahso/widgetchat/internal/widgetconfig"
)

// loadConfig reads and validates the config file. The root logger is rebuilt
// from the config unless --log-level was given.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}

	if logLevel == "" {
		log = logging.NewStyled(cfg.Logging.Level, cfg.Logging.ConsoleStyle)
	}

	issues := config.Validate(&cfg)
	if len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openIdentity opens the configured storage backend and wraps it in an
// identity store. The caller closes the store.
func openIdentity(cfg config.Config) (*identity.Store, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("creating data directories: %w", err)
	}
	path := paths.StoragePath(cfg.Storage)
	kv, err := store.OpenKV(cfg.Storage.Backend, path, log)
	if err != nil {
		return nil, fmt.Errorf("opening identity storage: %w", err)
	}
	log.Debug().Str("backend", cfg.Storage.Backend).Str("path", path).Msg("identity storage opened")
	return identity.New(kv, log), nil
}

// newConn builds the socket for the given anonymous id.
func newConn(cfg config.Config, anonymousID string) (*transport.Conn, error) {
	q := url.Values{}
	q.Set("clientType", "web")
	q.Set("workspaceId", cfg.Server.WorkspaceID)
	q.Set("anonymousId", anonymousID)

	return transport.New(transport.Options{
		URL:               cfg.Server.SocketURL,
		Query:             q,
		ReconnectAttempts: cfg.Transport.ReconnectAttempts,
		ReconnectDelay:    cfg.Transport.ReconnectDelay(),
		DialTimeout:       cfg.Transport.DialTimeout(),
		SendBuffer:        cfg.Transport.SendBuffer,
		UserAgent:         version.UserAgent(),
		Log:               log,
	})
}

func newHistoryLoader(cfg config.Config) *history.Loader {
	return history.New(cfg.Server.APIURL, log, history.WithUserAgent(version.UserAgent()))
}

func newWidgetConfigFetcher(cfg config.Config) *widgetconfig.Fetcher {
	return widgetconfig.New(cfg.Server.APIURL, nil, version.UserAgent(), log)
}
