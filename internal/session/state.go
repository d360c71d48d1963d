// Package session holds the in-memory usage statistics and recent activity
// shared by every viewer of a running process.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samsaffron/grok-mind/internal/llm"
)

const (
	DefaultActivityLimit = 5
	DefaultPreviewLength = 50
)

// Snapshot is an immutable point-in-time copy of the state.
type Snapshot struct {
	// Version increases by one with every mutation; viewers use it to drop
	// pushes that arrive out of order.
	Version  uint64
	Stats    Stats
	Timeline []ActivityEntry // oldest first
	Output   string
}

// State is the single authoritative copy of the session. All mutations
// capture their snapshot under the same lock so a snapshot never mixes
// halves of two updates.
type State struct {
	mu         sync.RWMutex
	version    uint64
	stats      Stats
	log        *activityLog
	output     string
	previewLen int
	now        func() time.Time
}

type Option func(*State)

// WithActivityLimit bounds the activity log to n entries.
func WithActivityLimit(n int) Option {
	return func(s *State) {
		if n > 0 {
			s.log = newActivityLog(n)
		}
	}
}

// WithPreviewLength bounds activity previews to n runes.
func WithPreviewLength(n int) Option {
	return func(s *State) {
		if n > 0 {
			s.previewLen = n
		}
	}
}

// WithClock overrides the wall clock used for activity timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		s.now = now
	}
}

// New creates a state with zeroed counters and an empty activity log.
func New(opts ...Option) *State {
	s := &State{
		log:        newActivityLog(DefaultActivityLimit),
		previewLen: DefaultPreviewLength,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// ApplyCompletion records a successful query: one activity entry, the
// reported usage merged over the current counters and one more tool
// invocation. It returns the resulting snapshot.
func (s *State) ApplyCompletion(query string, usage *llm.Usage, output string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.merge(usage)
	return s.recordLocked(query, output, false)
}

// ApplyFailure records a failed query. Token counters are left unchanged.
func (s *State) ApplyFailure(query string, output string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.recordLocked(query, output, true)
}

func (s *State) recordLocked(query, output string, failed bool) Snapshot {
	s.log.add(ActivityEntry{
		ID:        uuid.NewString(),
		Timestamp: s.now().Truncate(time.Second),
		Tool:      ToolLabel,
		Preview:   Preview(query, s.previewLen),
		Failed:    failed,
	})
	s.stats.ToolInvocations++
	s.output = output
	s.version++
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	return Snapshot{
		Version:  s.version,
		Stats:    s.stats,
		Timeline: s.log.recent(),
		Output:   s.output,
	}
}
