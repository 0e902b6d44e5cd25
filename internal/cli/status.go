package cli

import (
	"fmt"
	"os"

	"github.com/soyeahso/widgetchat/internal/config"
	"github.com/soyeahso/widgetchat/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show widgetchat configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("widgetchat %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("Config:  not found (using defaults)")
				} else {
					fmt.Printf("Config:  error loading: %v\n", err)
				}
				return nil
			}

			workspace := cfg.Server.WorkspaceID
			if workspace == "" {
				workspace = "(not set)"
			}
			fmt.Printf("Socket:  %s\n", cfg.Server.SocketURL)
			fmt.Printf("API:     %s\n", cfg.Server.APIURL)
			fmt.Printf("Space:   %s\n", workspace)

			t := cfg.Transport
			fmt.Printf("Retry:   attempts=%d delay=%s dial=%s buffer=%d\n",
				t.ReconnectAttempts, t.ReconnectDelay(), t.DialTimeout(), t.SendBuffer)

			fmt.Printf("Storage: backend=%s path=%s\n", cfg.Storage.Backend, paths.StoragePath(cfg.Storage))

			h := cfg.Hooks
			n := len(h.MessageReceived) + len(h.MessageSending) + len(h.Connected) +
				len(h.Disconnected) + len(h.ConversationStarted) + len(h.ConversationRestarted)
			if n > 0 {
				fmt.Printf("Hooks:   %d command(s)\n", n)
			}
			if cfg.Metrics.Addr != "" {
				fmt.Printf("Metrics: %s\n", cfg.Metrics.Addr)
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}

	return cmd
}
