package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/samsaffron/grok-mind/internal/serve/dashboard"
)

// seedTimeout bounds the wait for the first snapshot when ctx has no
// earlier deadline.
const seedTimeout = 10 * time.Second

// RemoteBackend connects to a running grok-mind server via WebSocket.
// Implements Backend.
type RemoteBackend struct {
	url   string
	conn  *websocket.Conn
	queue latestQueue

	sendCh    chan dashboard.ClientEvent
	done      chan struct{}
	closeOnce sync.Once
}

// NewRemoteBackend dials the server and waits for the seed snapshot.
func NewRemoteBackend(ctx context.Context, urlStr string) (*RemoteBackend, error) {
	wsURL, err := normalizeWSURL(urlStr)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", wsURL, err)
	}

	deadline := time.Now().Add(seedTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	var seed dashboard.WireEvent
	err = conn.ReadJSON(&seed)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if seed.Type != dashboard.EventSnapshot {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected event: %s", seed.Type)
	}

	backend := &RemoteBackend{
		url:    wsURL,
		conn:   conn,
		queue:  newLatestQueue(),
		sendCh: make(chan dashboard.ClientEvent, 32),
		done:   make(chan struct{}),
	}
	backend.queue.put(Update{Snapshot: seed.ToSnapshot()})

	go backend.writeLoop()
	go backend.readLoop()

	return backend, nil
}

// URL returns the WebSocket endpoint in use.
func (r *RemoteBackend) URL() string {
	return r.url
}

func (r *RemoteBackend) Updates() <-chan Update {
	return r.queue
}

func (r *RemoteBackend) Synchronous() bool { return false }

// Submit sends the query; its outcome arrives through Updates.
func (r *RemoteBackend) Submit(ctx context.Context, query string) error {
	select {
	case <-r.done:
		return errors.New("connection closed")
	default:
	}
	select {
	case r.sendCh <- dashboard.ClientEvent{Type: dashboard.EventQuery, Query: query}:
		return nil
	case <-r.done:
		return errors.New("connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RemoteBackend) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		_ = r.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = r.conn.Close()
	})
	return err
}

func (r *RemoteBackend) writeLoop() {
	for {
		select {
		case ev := <-r.sendCh:
			if err := r.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-r.done:
			return
		}
	}
}

func (r *RemoteBackend) readLoop() {
	defer close(r.queue)
	for {
		var ev dashboard.WireEvent
		if err := r.conn.ReadJSON(&ev); err != nil {
			select {
			case <-r.done:
			default:
				r.queue.put(Update{Err: fmt.Errorf("connection lost: %w", err)})
			}
			return
		}

		switch ev.Type {
		case dashboard.EventSnapshot:
			r.queue.put(Update{Snapshot: ev.ToSnapshot()})
		case dashboard.EventError:
			r.queue.put(Update{Err: errors.New(ev.Message)})
		}
	}
}

// normalizeWSURL accepts host:port, http(s):// or ws(s):// forms and points
// the result at the /ws endpoint.
func normalizeWSURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", errors.New("remote URL is required")
	}
	if !strings.HasPrefix(value, "ws://") && !strings.HasPrefix(value, "wss://") && !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		value = "ws://" + value
	}

	parsed, err := url.Parse(value)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}
	if !strings.HasSuffix(parsed.Path, "/ws") {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/ws"
	}
	return parsed.String(), nil
}
