// Package transcript renders a conversation log as plain text for terminals.
package transcript

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/soyeahso/widgetchat/internal/domain"
)

const (
	tickSending = "✓"
	tickSent    = "✓✓"
)

// DayLabel names the calendar day of t relative to now.
func DayLabel(t, now time.Time) string {
	t = t.In(now.Location())
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	day := time.Date(y1, m1, d1, 0, 0, 0, 0, now.Location())
	today := time.Date(y2, m2, d2, 0, 0, 0, 0, now.Location())
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return t.Format("January 2, 2006")
	}
}

// Renderer writes messages to w, emitting a day separator whenever the
// calendar day changes. It remembers the last day across calls so it can be
// fed incrementally.
type Renderer struct {
	w       io.Writer
	now     func() time.Time
	lastDay string
}

// NewRenderer returns a Renderer. A nil now uses time.Now.
func NewRenderer(w io.Writer, now func() time.Time) *Renderer {
	if now == nil {
		now = time.Now
	}
	return &Renderer{w: w, now: now}
}

// Write renders msgs.
func (r *Renderer) Write(msgs []domain.Message) error {
	now := r.now()
	for _, m := range msgs {
		day := DayLabel(m.Timestamp, now)
		if day != r.lastDay {
			if _, err := fmt.Fprintf(r.w, "── %s ──\n", day); err != nil {
				return err
			}
			r.lastDay = day
		}
		if _, err := io.WriteString(r.w, Format(m, now.Location())); err != nil {
			return err
		}
	}
	return nil
}

// Reset forgets the last rendered day.
func (r *Renderer) Reset() { r.lastDay = "" }

// Render writes msgs to w in one pass.
func Render(w io.Writer, msgs []domain.Message, now time.Time) error {
	return NewRenderer(w, func() time.Time { return now }).Write(msgs)
}

// Format renders a single message, including its rich content, as one or
// more newline-terminated lines. Times are shown in loc.
func Format(m domain.Message, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", m.Timestamp.In(loc).Format("15:04"), author(m.Kind), m.Text)
	if m.Kind == domain.KindUser {
		switch m.Status {
		case domain.StatusSending:
			b.WriteString(" " + tickSending)
		case domain.StatusSent:
			b.WriteString(" " + tickSent)
		}
	}
	b.WriteByte('\n')
	writeRich(&b, m.RichContent)
	return b.String()
}

func author(k domain.Kind) string {
	switch k {
	case domain.KindUser:
		return "you"
	case domain.KindBot:
		return "bot"
	default:
		return "system"
	}
}

func writeRich(b *strings.Builder, rc *domain.RichContent) {
	if rc.IsEmpty() {
		return
	}
	for _, c := range rc.Cards {
		fmt.Fprintf(b, "    [card] %s", c.Title)
		if c.Description != "" {
			fmt.Fprintf(b, " - %s", c.Description)
		}
		b.WriteByte('\n')
		if len(c.Options) > 0 {
			fmt.Fprintf(b, "        %s\n", labels(c.Options))
		}
	}
	if rc.Video != nil {
		fmt.Fprintf(b, "    [video] %s\n", rc.Video.URL)
	}
	if rc.Image != nil {
		if rc.Image.Alt != "" {
			fmt.Fprintf(b, "    [image] %s (%s)\n", rc.Image.URL, rc.Image.Alt)
		} else {
			fmt.Fprintf(b, "    [image] %s\n", rc.Image.URL)
		}
	}
	for _, a := range rc.Attachments {
		name := a.Name
		if name == "" {
			name = a.URL
		}
		fmt.Fprintf(b, "    [file] %s", name)
		if a.SizeBytes > 0 {
			fmt.Fprintf(b, " (%s)", humanize.Bytes(uint64(a.SizeBytes)))
		}
		if name != a.URL {
			fmt.Fprintf(b, " %s", a.URL)
		}
		b.WriteByte('\n')
	}
	if len(rc.QuickReplies) > 0 {
		fmt.Fprintf(b, "    %s\n", labels(rc.QuickReplies))
	}
}

func labels(opts []domain.Option) string {
	parts := make([]string, len(opts))
	for i, o := range opts {
		parts[i] = "[" + o.Label + "]"
	}
	return strings.Join(parts, " ")
}

// Since describes how long ago t was, e.g. "3 minutes ago".
func Since(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}
