package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/widgetchat/internal/transcript"
)

func newHistoryCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the transcript of the stored conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if conversationID == "" {
				ids, err := openIdentity(cfg)
				if err != nil {
					return err
				}
				conversationID = ids.ConversationID()
				ids.Close()
			}
			if conversationID == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored conversation.")
				return nil
			}

			msgs, err := newHistoryLoader(cfg).Load(cmd.Context(), conversationID)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Conversation %s has no messages.\n", conversationID)
				return nil
			}
			return transcript.Render(cmd.OutOrStdout(), msgs, time.Now())
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id (default: the stored one)")
	return cmd
}
