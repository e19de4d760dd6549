// Package view derives display-only attributes from raw messages. Pure
// functions, no I/O: everything here is recomputed on read and never
// persisted as a source of truth.
package view

import (
	"time"

	"github.com/tbduarte/chatsync/internal/store"
)

// DisplayMessage is a message decorated for presentation.
type DisplayMessage struct {
	store.Message
	IsOwnMessage    bool
	FormattedTime   string
	ShowDateHeader  bool
	DateHeaderLabel string
}

// Decorate maps raw messages (ascending by created_at) to display messages.
// now fixes both the wall clock and the local time zone used for date
// grouping, which keeps the function deterministic: running it twice on the
// same input yields the same output, in the same order.
func Decorate(msgs []store.Message, currentUserID int64, now time.Time) []DisplayMessage {
	loc := now.Location()
	out := make([]DisplayMessage, 0, len(msgs))

	var prevDate time.Time
	for i, m := range msgs {
		local := time.UnixMilli(m.CreatedAt).In(loc)
		date := truncateToDate(local)

		dm := DisplayMessage{
			Message:       m,
			IsOwnMessage:  m.SenderID != nil && *m.SenderID == currentUserID,
			FormattedTime: local.Format("3:04 PM"),
		}
		if i == 0 || !date.Equal(prevDate) {
			dm.ShowDateHeader = true
			dm.DateHeaderLabel = dateLabel(date, truncateToDate(now))
		}
		prevDate = date
		out = append(out, dm)
	}
	return out
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dateLabel(date, today time.Time) string {
	switch {
	case date.Equal(today):
		return "Today"
	case date.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return date.Format("Jan 02, 2006")
	}
}
