// Package widgetconfig retrieves the per-workspace widget configuration and
// merges it over the documented defaults.
package widgetconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/soyeahso/widgetchat/internal/logging"
)

// ErrNoWorkspace is returned without a request when the workspace id is empty.
var ErrNoWorkspace = errors.New("widgetconfig: no workspace id")

// Config is the flat widget configuration. Pointer fields are nullable.
type Config struct {
	PrimaryColor         string  `json:"primaryColor"`
	SecondaryColor       string  `json:"secondaryColor"`
	ShowHomeButton       bool    `json:"showHomeButton"`
	ShowOptionsMenu      bool    `json:"showOptionsMenu"`
	ShowBranding         bool    `json:"showBranding"`
	BotName              string  `json:"botName"`
	BotSubtitle          string  `json:"botSubtitle"`
	BotAvatar            string  `json:"botAvatar"`
	WidgetIcon           *string `json:"widgetIcon"`
	LauncherAnimation    string  `json:"launcherAnimation"`
	WidgetLauncherColor  string  `json:"widgetLauncherColor"`
	WidgetLauncherShape  string  `json:"widgetLauncherShape"`
	WidgetPosition       string  `json:"widgetPosition"`
	WidgetSize           string  `json:"widgetSize"`
	ShowChatBubble       bool    `json:"showChatBubble"`
	UserMessageColor     *string `json:"userMessageColor"`
	UserMessageTextColor *string `json:"userMessageTextColor"`
	FontSize             string  `json:"fontSize"`
}

// Defaults returns the configuration used for every field the server omits.
func Defaults() Config {
	return Config{
		PrimaryColor:        "#011940",
		SecondaryColor:      "#69a2ff",
		ShowHomeButton:      true,
		ShowOptionsMenu:     true,
		ShowBranding:        true,
		BotName:             "Draz Assistant",
		BotSubtitle:         "Ask me anything about Draz.chat",
		BotAvatar:           "https://animateicons.vercel.app/winter-logo.svg",
		LauncherAnimation:   "tada",
		WidgetLauncherColor: "#fff",
		WidgetLauncherShape: "square",
		WidgetPosition:      "right",
		WidgetSize:          "md",
		FontSize:            "md",
	}
}

// Result is the outcome of a fetch. Config is always usable: on failure it
// holds the defaults.
type Result struct {
	Config Config
	Loaded bool
	Failed bool
}

// Fetcher retrieves widget configurations.
type Fetcher struct {
	apiURL    string
	client    *http.Client
	userAgent string
	log       *logging.Logger
}

// New creates a Fetcher for the REST base apiURL. A nil client means
// http.DefaultClient.
func New(apiURL string, client *http.Client, userAgent string, log *logging.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		apiURL:    strings.TrimSuffix(apiURL, "/"),
		client:    client,
		userAgent: userAgent,
		log:       log.Sub("widgetconfig"),
	}
}

// Fetch retrieves the configuration of workspaceID merged over Defaults.
// Errors are returned alongside a usable defaults Result.
func (f *Fetcher) Fetch(ctx context.Context, workspaceID string) (Result, error) {
	failed := Result{Config: Defaults(), Loaded: true, Failed: true}

	if workspaceID == "" {
		f.log.Error().Msg("no workspace id available")
		return failed, ErrNoWorkspace
	}

	endpoint := f.apiURL + "/widget/config/" + url.PathEscape(workspaceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return failed, fmt.Errorf("building config request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			f.log.Error().Err(err).Msg("fetching widget config")
		}
		return failed, fmt.Errorf("fetching widget config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.log.Error().Int("status", resp.StatusCode).Msg("widget config request failed")
		return failed, fmt.Errorf("widget config: unexpected status %d", resp.StatusCode)
	}

	cfg := Defaults()
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		f.log.Error().Err(err).Msg("decoding widget config")
		return failed, fmt.Errorf("decoding widget config: %w", err)
	}
	return Result{Config: cfg, Loaded: true}, nil
}
