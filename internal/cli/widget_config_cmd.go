package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newWidgetConfigCmd() *cobra.Command {
	var workspaceID string

	cmd := &cobra.Command{
		Use:   "widget-config",
		Short: "Fetch the workspace widget configuration",
		Long:  "Fetch the workspace widget configuration and print it merged over the built-in defaults.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if workspaceID == "" {
				workspaceID = cfg.Server.WorkspaceID
			}

			res, err := newWidgetConfigFetcher(cfg).Fetch(cmd.Context(), workspaceID)
			if err != nil {
				log.Warn().Err(err).Msg("showing defaults")
			}

			data, err := json.MarshalIndent(res.Config, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace id (default: server.workspaceId)")
	return cmd
}
