package dashboard

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/samsaffron/grok-mind/internal/session"
)

const writeWait = 10 * time.Second

// wsViewer pushes snapshots over one WebSocket connection. gorilla/websocket
// allows a single concurrent writer, so every write takes mu.
type wsViewer struct {
	id   string
	conn *websocket.Conn

	mu          sync.Mutex
	lastVersion uint64
}

func newWSViewer(conn *websocket.Conn) *wsViewer {
	return &wsViewer{
		id:   uuid.NewString(),
		conn: conn,
	}
}

func (v *wsViewer) ID() string {
	return v.id
}

// Push sends snap unless a newer snapshot was already delivered.
func (v *wsViewer) Push(snap session.Snapshot) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if snap.Version < v.lastVersion {
		return nil
	}
	if err := v.writeLocked(SnapshotEvent(snap)); err != nil {
		return err
	}
	v.lastVersion = snap.Version
	return nil
}

func (v *wsViewer) sendError(msg string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.writeLocked(ErrorEvent(msg))
}

func (v *wsViewer) close(code int, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_ = v.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	_ = v.conn.Close()
}

func (v *wsViewer) writeLocked(e WireEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return v.conn.WriteMessage(websocket.TextMessage, payload)
}
