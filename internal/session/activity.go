package session

import (
	"strings"
	"time"
	"unicode/utf8"
)

// ToolLabel is the operation name recorded for every query.
const ToolLabel = "grok_chat_completion"

// ActivityEntry records one completed query. Entries are never modified
// after they are appended.
type ActivityEntry struct {
	ID        string
	Timestamp time.Time
	Tool      string
	Preview   string
	Failed    bool
}

// activityLog keeps the most recent entries in insertion order.
type activityLog struct {
	entries []ActivityEntry
	limit   int
}

func newActivityLog(limit int) *activityLog {
	return &activityLog{
		entries: make([]ActivityEntry, 0, limit),
		limit:   limit,
	}
}

func (l *activityLog) add(e ActivityEntry) {
	if len(l.entries) == l.limit {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, e)
}

// recent returns a copy of the entries, oldest first.
func (l *activityLog) recent() []ActivityEntry {
	out := make([]ActivityEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Preview collapses whitespace in query and truncates it to at most maxLen
// runes, marking the cut with "...".
func Preview(query string, maxLen int) string {
	s := strings.Join(strings.Fields(query), " ")
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
