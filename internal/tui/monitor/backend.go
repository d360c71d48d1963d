package monitor

import (
	"context"

	"github.com/samsaffron/grok-mind/internal/session"
)

// Update is one message from a backend: a new snapshot, or an error that
// belongs to this viewer alone (a rejected query, a lost connection).
type Update struct {
	Snapshot session.Snapshot
	Err      error
}

// Backend abstracts the in-process coordinator vs a remote WebSocket feed.
//
// A synchronous backend's Submit returns once the query's outcome has been
// broadcast. Otherwise Submit only hands the query off and its outcome
// shows up later on Updates.
type Backend interface {
	Updates() <-chan Update
	Submit(ctx context.Context, query string) error
	Close() error
	Synchronous() bool
}

// latestQueue is a one-slot mailbox that keeps only the newest update so a
// slow renderer never blocks the producer.
type latestQueue chan Update

func newLatestQueue() latestQueue {
	return make(latestQueue, 1)
}

func (q latestQueue) put(u Update) {
	for {
		select {
		case q <- u:
			return
		default:
		}
		select {
		case old := <-q:
			// Keep an error that has not been seen yet over a snapshot.
			if old.Err != nil && u.Err == nil {
				u.Err = old.Err
			}
		default:
		}
	}
}
