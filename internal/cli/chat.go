package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/soyeahso/widgetchat/internal/conversation"
	"github.com/soyeahso/widgetchat/internal/domain"
	"github.com/soyeahso/widgetchat/internal/hooks"
	"github.com/soyeahso/widgetchat/internal/metrics"
	"github.com/soyeahso/widgetchat/internal/presence"
	"github.com/soyeahso/widgetchat/internal/transcript"
)

const chatHelp = `commands:
  /restart        start a new conversation
  /history        reload the transcript from the server
  /reply [n]      answer with a quick reply or card option
  /open, /close   toggle the chat window (opening reloads history)
  /quit           leave
`

func newChatCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ids, err := openIdentity(cfg)
			if err != nil {
				return err
			}
			defer ids.Close()

			m := metrics.New()
			if metricsAddr == "" {
				metricsAddr = cfg.Metrics.Addr
			}
			if metricsAddr != "" {
				go func() {
					if err := m.Serve(ctx, metricsAddr, log); err != nil {
						log.Error().Err(err).Msg("metrics server failed")
					}
				}()
			}

			hookMgr := hooks.NewManager(log)
			if n := hooks.RegisterConfig(hookMgr, cfg.Hooks); n > 0 {
				log.Info().Int("hooks", n).Msg("lifecycle hooks registered")
			}

			conn, err := newConn(cfg, ids.AnonymousID())
			if err != nil {
				return err
			}

			wc, err := newWidgetConfigFetcher(cfg).Fetch(ctx, cfg.Server.WorkspaceID)
			if err != nil {
				log.Warn().Err(err).Msg("using default widget config")
			}

			client := conversation.New(conversation.Options{
				Identity: ids,
				Conn:     conn,
				History:  newHistoryLoader(cfg),
				Log:      log,
				Metrics:  m,
				Hooks:    hookMgr,
			})

			out := cmd.OutOrStdout()
			s := newChatSession(out, client, presence.NewTooltip(wc.Config.ShowChatBubble))
			s.pick = pickOption

			banner := presence.NewBanner(presence.WithOnChange(s.onBanner))
			defer banner.Stop()

			unsubscribe := client.Subscribe(func(snap conversation.Snapshot) {
				banner.Observe(snap)
				s.onSnapshot(snap)
			})
			defer unsubscribe()

			fmt.Fprintf(out, "%s (type /help for commands)\n", wc.Config.BotName)
			client.Start(ctx)
			defer client.Stop()
			go s.loadHistory(ctx)

			in := cmd.InOrStdin()
			if f, ok := in.(*os.File); ok {
				go func() {
					<-ctx.Done()
					f.Close()
				}()
			}
			return s.run(ctx, in)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")
	return cmd
}

// chatClient is the part of *conversation.Client the session drives.
type chatClient interface {
	SendMessage(displayText, payload string) error
	RestartConversation() error
	FetchHistory(ctx context.Context) error
	Snapshot() conversation.Snapshot
}

// chatSession turns snapshots into terminal output and input lines into
// client operations.
type chatSession struct {
	mu       sync.Mutex
	out      io.Writer
	client   chatClient
	tooltip  *presence.Tooltip
	renderer *transcript.Renderer

	shown     []string
	connected bool
	phase     conversation.Phase
	typing    bool
	gaveUp    bool
	tipText   string

	pick func(opts []domain.Option) (domain.Option, error)
}

func newChatSession(out io.Writer, client chatClient, tooltip *presence.Tooltip) *chatSession {
	return &chatSession{
		out:      out,
		client:   client,
		tooltip:  tooltip,
		renderer: transcript.NewRenderer(out, nil),
		pick:     firstOption,
	}
}

// messageKey identifies a message across the provisional to server id swap.
func messageKey(m domain.Message) string {
	return string(m.Kind) + "\x00" + m.Timestamp.Format(time.RFC3339Nano) + "\x00" + m.Text
}

func (s *chatSession) onSnapshot(snap conversation.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Connected != s.connected {
		s.connected = snap.Connected
		if snap.Connected {
			s.printf("* connected\n")
		} else {
			s.printf("* disconnected\n")
		}
	}
	if snap.Phase != s.phase {
		s.phase = snap.Phase
		switch snap.Phase {
		case conversation.PhaseConnecting:
			s.printf("* connecting...\n")
		case conversation.PhaseReconnecting:
			s.printf("* resuming conversation %s\n", snap.ConversationID)
		case conversation.PhaseBootstrapping:
			s.printf("* starting a new conversation\n")
		}
	}
	if snap.GaveUp && !s.gaveUp {
		s.printf("* could not reach the server, giving up\n")
	}
	s.gaveUp = snap.GaveUp

	s.renderMessages(snap.Messages)

	if snap.Typing && !s.typing {
		s.printf("* typing...\n")
	}
	s.typing = snap.Typing

	if s.tooltip.Observe(snap) {
		s.showTooltip()
	}
}

func (s *chatSession) renderMessages(msgs []domain.Message) {
	n := 0
	for n < len(s.shown) && n < len(msgs) && s.shown[n] == messageKey(msgs[n]) {
		n++
	}
	if n < len(s.shown) {
		s.printf("* transcript reloaded\n")
		s.renderer.Reset()
		n = 0
		s.shown = s.shown[:0]
	}
	if err := s.renderer.Write(msgs[n:]); err != nil {
		return
	}
	for _, m := range msgs[n:] {
		s.shown = append(s.shown, messageKey(m))
	}
}

func (s *chatSession) showTooltip() {
	text := s.tooltip.Text()
	if text == "" || text == s.tipText {
		return
	}
	s.tipText = text
	s.printf("* [bubble] %s\n", text)
}

func (s *chatSession) onBanner(visible bool) {
	if !visible {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printf("* reconnected\n")
}

func (s *chatSession) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

// loadHistory fetches the stored transcript, if any. The client makes this a
// no-op once the current conversation has been fetched.
func (s *chatSession) loadHistory(ctx context.Context) {
	if err := s.client.FetchHistory(ctx); err != nil && ctx.Err() == nil {
		s.mu.Lock()
		s.printf("! loading history: %v\n", err)
		s.mu.Unlock()
	}
}

// run reads lines until EOF, /quit or ctx is done.
func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		quit, err := s.handleLine(ctx, sc.Text())
		if err != nil {
			s.mu.Lock()
			s.printf("! %v\n", err)
			s.mu.Unlock()
		}
		if quit {
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return sc.Err()
}

func (s *chatSession) handleLine(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, s.client.SendMessage(line, "")
	}

	name, arg, _ := strings.Cut(line, " ")
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		s.mu.Lock()
		s.printf("%s", chatHelp)
		s.mu.Unlock()
		return false, nil
	case "/restart":
		return false, s.client.RestartConversation()
	case "/history":
		return false, s.client.FetchHistory(ctx)
	case "/reply":
		return false, s.reply(strings.TrimSpace(arg))
	case "/open":
		s.tooltip.SetOpen(true)
		return false, s.client.FetchHistory(ctx)
	case "/close":
		s.mu.Lock()
		defer s.mu.Unlock()
		s.tipText = ""
		if s.tooltip.SetOpen(false) {
			s.showTooltip()
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
}

var errNoOptions = errors.New("the last bot message has no options")

func (s *chatSession) reply(arg string) error {
	last, ok := s.client.Snapshot().LastBotMessage()
	if !ok {
		return errNoOptions
	}
	opts := last.RichContent.Options()
	if len(opts) == 0 {
		return errNoOptions
	}

	var opt domain.Option
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(opts) {
			return fmt.Errorf("pick a number between 1 and %d", len(opts))
		}
		opt = opts[n-1]
	} else {
		var err error
		if opt, err = s.pick(opts); err != nil {
			return err
		}
	}
	return s.client.SendMessage(opt.Label, opt.Payload())
}

func firstOption(opts []domain.Option) (domain.Option, error) {
	return opts[0], nil
}

// pickOption shows an interactive selector over opts.
func pickOption(opts []domain.Option) (domain.Option, error) {
	choices := make([]huh.Option[int], len(opts))
	for i, o := range opts {
		choices[i] = huh.NewOption(o.Label, i)
	}
	var picked int
	err := huh.NewSelect[int]().
		Title("Reply with").
		Options(choices...).
		Value(&picked).
		Run()
	if err != nil {
		return domain.Option{}, err
	}
	return opts[picked], nil
}
