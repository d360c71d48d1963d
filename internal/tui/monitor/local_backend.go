package monitor

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/samsaffron/grok-mind/internal/broadcast"
	"github.com/samsaffron/grok-mind/internal/session"
)

// LocalBackend attaches to an in-process coordinator as a viewer.
// Implements Backend and broadcast.Viewer.
type LocalBackend struct {
	id    string
	coord *broadcast.Coordinator
	queue latestQueue

	mu     sync.Mutex
	closed bool
}

// NewLocalBackend attaches a new viewer to coord. The seed snapshot is
// available on Updates immediately.
func NewLocalBackend(coord *broadcast.Coordinator) *LocalBackend {
	b := &LocalBackend{
		id:    "tui-" + uuid.NewString(),
		coord: coord,
		queue: newLatestQueue(),
	}
	coord.Attach(b)
	return b
}

func (b *LocalBackend) ID() string {
	return b.id
}

// Push implements broadcast.Viewer.
func (b *LocalBackend) Push(snap session.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("viewer closed")
	}
	b.queue.put(Update{Snapshot: snap})
	return nil
}

func (b *LocalBackend) Updates() <-chan Update {
	return b.queue
}

func (b *LocalBackend) Synchronous() bool { return true }

// Submit runs the query synchronously. Upstream failures are already
// visible in the broadcast snapshot, so only rejections are returned.
func (b *LocalBackend) Submit(ctx context.Context, query string) error {
	_, err := b.coord.Submit(ctx, query)
	if broadcast.IsValidation(err) {
		return err
	}
	return nil
}

func (b *LocalBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.coord.Detach(b)
	return nil
}
