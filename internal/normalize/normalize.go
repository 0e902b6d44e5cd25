// Package normalize converts heterogeneous server message records into the
// canonical domain.Message.
package normalize

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/soyeahso/widgetchat/internal/domain"
)

// timeLayouts are tried in order when parsing createdAt / timestamp.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	time.DateTime,
}

// Normalize converts raw using the current time for any fallback.
func Normalize(raw domain.APIMessage) domain.Message {
	return NormalizeAt(raw, time.Now())
}

// NormalizeAt converts raw, using now for the fallback id and timestamp.
func NormalizeAt(raw domain.APIMessage, now time.Time) domain.Message {
	return domain.Message{
		ID:          resolveID(raw, now),
		Text:        raw.Text,
		Kind:        resolveKind(raw),
		Timestamp:   resolveTimestamp(raw, now),
		RichContent: resolveRichContent(raw),
	}
}

// All normalizes a list in order.
func All(raws []domain.APIMessage) []domain.Message {
	return AllAt(raws, time.Now())
}

// AllAt normalizes a list against one clock reading. Fallback ids carry the
// record index so they stay unique within the batch.
func AllAt(raws []domain.APIMessage, now time.Time) []domain.Message {
	out := make([]domain.Message, 0, len(raws))
	for i, r := range raws {
		m := NormalizeAt(r, now)
		if r.MongoID == "" && r.ID == "" {
			m.ID += "-" + strconv.Itoa(i)
		}
		out = append(out, m)
	}
	return out
}

func resolveID(raw domain.APIMessage, now time.Time) string {
	switch {
	case raw.MongoID != "":
		return raw.MongoID
	case raw.ID != "":
		return raw.ID
	default:
		return strconv.FormatInt(now.UnixMilli(), 10)
	}
}

func resolveKind(raw domain.APIMessage) domain.Kind {
	if raw.Sender == "user" || raw.Role == "user" {
		return domain.KindUser
	}
	switch {
	case raw.Sender == "agent", raw.Sender == "super_agent", raw.Sender == "bot", raw.Role == "assistant":
		return domain.KindBot
	}
	return domain.KindSystem
}

func resolveTimestamp(raw domain.APIMessage, now time.Time) time.Time {
	for _, s := range []string{raw.CreatedAt, raw.Timestamp} {
		if s == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	}
	return now
}

func resolveRichContent(raw domain.APIMessage) *domain.RichContent {
	rc := &domain.RichContent{}
	var haveCards, haveReplies bool

	for _, item := range raw.Content {
		switch item.Kind() {
		case domain.ContentCards:
			if haveCards {
				continue
			}
			var cards []domain.Card
			if json.Unmarshal(item.Data, &cards) == nil && cards != nil {
				rc.Cards, haveCards = cards, true
			}
		case domain.ContentQuickReplies:
			if haveReplies {
				continue
			}
			var replies []domain.Option
			if json.Unmarshal(item.Data, &replies) != nil || replies == nil {
				replies = item.QuickReplies
			}
			if replies != nil {
				rc.QuickReplies, haveReplies = replies, true
			}
		case domain.ContentVideo:
			if rc.Video == nil && item.URL != "" {
				rc.Video = &domain.Video{URL: item.URL, Thumbnail: item.Thumbnail}
			}
		case domain.ContentImage:
			if rc.Image == nil && item.URL != "" {
				rc.Image = &domain.Image{URL: item.URL, Alt: item.Alt}
			}
		case domain.ContentAttachment:
			if item.URL != "" {
				rc.Attachments = append(rc.Attachments, domain.Attachment{
					URL:       item.URL,
					Name:      item.Name,
					MimeType:  item.MimeType,
					SizeBytes: item.Size,
				})
			}
		}
	}

	// Legacy top-level fields fill whatever the content array left empty.
	if rc.Cards == nil && raw.Cards != nil {
		rc.Cards = raw.Cards
	}
	if rc.QuickReplies == nil && raw.QuickReplies != nil {
		rc.QuickReplies = raw.QuickReplies
	}
	if rc.Attachments == nil && raw.Attachments != nil {
		for _, a := range raw.Attachments {
			rc.Attachments = append(rc.Attachments, domain.Attachment{
				URL:       a.URL,
				Name:      a.Name,
				MimeType:  a.Type,
				SizeBytes: a.Size,
			})
		}
	}

	return rc.OrNil()
}
