package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/widgetchat/internal/hooks"
)

func newHooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hooks",
		Short: "Inspect and try out configured lifecycle hooks",
	}
	cmd.AddCommand(newHooksListCmd())
	cmd.AddCommand(newHooksFireCmd())
	return cmd
}

func configuredHooks() (*hooks.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	m := hooks.NewManager(log)
	hooks.RegisterConfig(m, cfg.Hooks)
	return m, nil
}

func newHooksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show how many commands each event runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := configuredHooks()
			if err != nil {
				return err
			}
			listHooks(cmd.OutOrStdout(), m)
			return nil
		},
	}
}

func listHooks(w io.Writer, m *hooks.Manager) {
	for _, event := range hooks.AllEvents {
		fmt.Fprintf(w, "%-24s %d\n", event, m.Count(event))
	}
}

func newHooksFireCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "fire <event> [key=value...]",
		Short:   "Run the hooks of one event synchronously",
		Example: "  widgetchat hooks fire message_received text=hello conversationId=c1",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := configuredHooks()
			if err != nil {
				return err
			}
			return fireHook(cmd, m, args[0], args[1:])
		},
	}
}

func fireHook(cmd *cobra.Command, m *hooks.Manager, event string, pairs []string) error {
	if !slices.Contains(hooks.AllEvents, event) {
		return fmt.Errorf("unknown event %q (one of %s)", event, strings.Join(hooks.AllEvents, ", "))
	}
	if !slices.Contains(m.Events(), event) {
		fmt.Fprintf(cmd.OutOrStdout(), "No hooks configured for %s.\n", event)
		return nil
	}

	data := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("expected key=value, got %q", kv)
		}
		data[k] = parseValue(v)
	}

	m.Emit(cmd.Context(), event, data)
	fmt.Fprintf(cmd.OutOrStdout(), "Ran %d hook(s) for %s.\n", m.Count(event), event)
	return nil
}
