package dashboard

import (
	"encoding/json"
	"time"

	"github.com/samsaffron/grok-mind/internal/session"
)

const (
	EventSnapshot = "snapshot"
	EventError    = "error"
	EventQuery    = "query"
)

// maxTimeline is how many activity entries a snapshot carries on the wire.
const maxTimeline = 5

// WireEvent is the JSON envelope sent server->client.
type WireEvent struct {
	Type string `json:"type"`

	// snapshot
	Version  uint64         `json:"version,omitempty"`
	Stats    *session.Stats `json:"stats,omitempty"`
	Timeline []TimelineItem `json:"timeline,omitempty"`
	Output   string         `json:"output,omitempty"`

	// error, and snapshot returned for a failed query
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// snapshotWire is the shape of a snapshot on the wire. Every field is
// always present so viewers never see a partial payload.
type snapshotWire struct {
	Type     string         `json:"type"`
	Version  uint64         `json:"version"`
	Stats    session.Stats  `json:"stats"`
	Timeline []TimelineItem `json:"timeline"`
	Output   string         `json:"output"`
	Error    string         `json:"error,omitempty"`
}

// MarshalJSON writes snapshots with the complete field set and every
// other event with only the fields it uses.
func (e WireEvent) MarshalJSON() ([]byte, error) {
	if e.Type != EventSnapshot {
		type plain WireEvent
		return json.Marshal(plain(e))
	}
	out := snapshotWire{
		Type:     e.Type,
		Version:  e.Version,
		Timeline: e.Timeline,
		Output:   e.Output,
		Error:    e.Error,
	}
	if e.Stats != nil {
		out.Stats = *e.Stats
	}
	if out.Timeline == nil {
		out.Timeline = []TimelineItem{}
	}
	return json.Marshal(out)
}

// TimelineItem is one activity entry as rendered by viewers.
type TimelineItem struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Time      string    `json:"time"`
	Tool      string    `json:"tool"`
	Args      string    `json:"args"`
	Failed    bool      `json:"failed,omitempty"`
}

// ClientEvent is the JSON envelope sent client->server.
type ClientEvent struct {
	Type  string `json:"type"`
	Query string `json:"query,omitempty"`
}

// SnapshotEvent converts a session snapshot into its wire form, keeping
// the newest maxTimeline entries oldest first.
func SnapshotEvent(snap session.Snapshot) WireEvent {
	stats := snap.Stats
	entries := snap.Timeline
	if len(entries) > maxTimeline {
		entries = entries[len(entries)-maxTimeline:]
	}
	timeline := make([]TimelineItem, 0, len(entries))
	for _, e := range entries {
		timeline = append(timeline, TimelineItem{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Time:      e.Timestamp.Format("15:04:05"),
			Tool:      e.Tool,
			Args:      e.Preview,
			Failed:    e.Failed,
		})
	}
	return WireEvent{
		Type:     EventSnapshot,
		Version:  snap.Version,
		Stats:    &stats,
		Timeline: timeline,
		Output:   snap.Output,
	}
}

// ErrorEvent builds the message sent to a single connection whose query
// was rejected.
func ErrorEvent(msg string) WireEvent {
	return WireEvent{Type: EventError, Message: msg}
}

// ToSnapshot converts a snapshot event back into a session snapshot.
func (e WireEvent) ToSnapshot() session.Snapshot {
	snap := session.Snapshot{
		Version: e.Version,
		Output:  e.Output,
	}
	if e.Stats != nil {
		snap.Stats = *e.Stats
	}
	for _, item := range e.Timeline {
		snap.Timeline = append(snap.Timeline, session.ActivityEntry{
			ID:        item.ID,
			Timestamp: item.Timestamp,
			Tool:      item.Tool,
			Preview:   item.Args,
			Failed:    item.Failed,
		})
	}
	return snap
}
