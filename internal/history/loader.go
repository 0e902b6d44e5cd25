// Package history fetches a persisted conversation transcript over HTTP.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/soyeahso/widgetchat/internal/domain"
	"github.com/soyeahso/widgetchat/internal/logging"
	"github.com/soyeahso/widgetchat/internal/normalize"
)

// ErrSuperseded is returned by a Load that was cancelled because a newer
// Load started.
var ErrSuperseded = errors.New("history: superseded by a newer request")

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("history: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("history: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Loader fetches transcripts. At most one request is in flight: starting a
// new Load cancels the previous one.
type Loader struct {
	apiURL    string
	client    *http.Client
	userAgent string
	log       *logging.Logger

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelCauseFunc
}

// Option configures a Loader.
type Option func(*Loader)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(l *Loader) { l.userAgent = ua }
}

// New creates a Loader for the REST base apiURL.
func New(apiURL string, log *logging.Logger, opts ...Option) *Loader {
	l := &Loader{
		apiURL: strings.TrimSuffix(apiURL, "/"),
		client: http.DefaultClient,
		log:    log.Sub("history"),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

type response struct {
	Messages []domain.APIMessage `json:"messages"`
}

// Load fetches and normalizes the transcript of conversationID.
func (l *Loader) Load(ctx context.Context, conversationID string) ([]domain.Message, error) {
	ctx, seq := l.begin(ctx)
	defer l.end(seq)

	endpoint := l.apiURL + "/chat/messages/" + url.PathEscape(conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building history request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}

	l.log.Debug().Str("conversationId", conversationID).Msg("fetching history")
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, l.cause(ctx, fmt.Errorf("fetching history: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, l.cause(ctx, fmt.Errorf("decoding history: %w", err))
	}
	if context.Cause(ctx) == ErrSuperseded {
		return nil, ErrSuperseded
	}
	return normalize.All(out.Messages), nil
}

// Cancel aborts the in-flight request, if any.
func (l *Loader) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel(context.Canceled)
		l.cancel = nil
	}
}

func (l *Loader) begin(parent context.Context) (context.Context, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel(ErrSuperseded)
	}
	l.seq++
	ctx, cancel := context.WithCancelCause(parent)
	l.cancel = cancel
	return ctx, l.seq
}

func (l *Loader) end(seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seq == seq && l.cancel != nil {
		l.cancel(nil)
		l.cancel = nil
	}
}

// cause maps a failure on a superseded request to ErrSuperseded.
func (l *Loader) cause(ctx context.Context, err error) error {
	if context.Cause(ctx) == ErrSuperseded {
		return ErrSuperseded
	}
	return err
}
