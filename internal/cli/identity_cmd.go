package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Inspect or reset the stored anonymous identity",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the anonymous and conversation ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ids, err := openIdentity(cfg)
			if err != nil {
				return err
			}
			defer ids.Close()

			id := ids.Identity()
			conv := id.ConversationID
			if conv == "" {
				conv = "(none)"
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Anonymous:    %s\n", id.AnonymousID)
			fmt.Fprintf(out, "Conversation: %s\n", conv)
			fmt.Fprintf(out, "Storage:      %s %s\n", cfg.Storage.Backend, paths.StoragePath(cfg.Storage))
			if ids.Degraded() {
				fmt.Fprintln(out, "Warning:      storage unavailable, ids are not persisted")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget the anonymous and conversation ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ids, err := openIdentity(cfg)
			if err != nil {
				return err
			}
			defer ids.Close()

			ids.Reset()
			fmt.Fprintln(cmd.OutOrStdout(), "Identity reset.")
			return nil
		},
	})

	return cmd
}
