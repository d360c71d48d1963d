// Package dashboard serves the browser dashboard, its WebSocket feed and
// the JSON query API on top of a broadcast coordinator.
package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/samsaffron/grok-mind/internal/broadcast"
	"github.com/samsaffron/grok-mind/internal/metrics"
)

//go:embed assets/index.html
var assetsFS embed.FS

const (
	maxMessageSize = 64 * 1024
	maxBodySize    = 1 << 20
)

type Options struct {
	CORSOrigins []string
	Logger      zerolog.Logger
}

// Server exposes a coordinator over HTTP.
type Server struct {
	coord   *broadcast.Coordinator
	origins []string
	log     zerolog.Logger

	mu    sync.Mutex
	conns map[*wsViewer]struct{}
}

func NewServer(coord *broadcast.Coordinator, opts Options) *Server {
	return &Server{
		coord:   coord,
		origins: opts.CORSOrigins,
		log:     opts.Logger.With().Str("component", "dashboard").Logger(),
		conns:   make(map[*wsViewer]struct{}),
	}
}

// Handler returns the routes wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	sub, err := fs.Sub(assetsFS, "assets")
	if err != nil {
		panic(fmt.Sprintf("embed sub: %v", err))
	}

	mux := http.NewServeMux()
	mux.Handle("/", s.getOnly(http.FileServer(http.FS(sub))))
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/query", s.handleQuery)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.getOnly(metrics.Handler()))
	return corsMiddleware(s.origins)(mux)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts the
// server down and closes every WebSocket.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.closeConns()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) getOnly(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", http.MethodGet)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return originAllowed(s.origins, r.Header.Get("Origin")) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxMessageSize)

	v := newWSViewer(conn)
	s.track(v)
	s.log.Debug().Str("viewer", v.ID()).Str("remote", r.RemoteAddr).Msg("websocket connected")

	s.coord.Attach(v)
	defer func() {
		s.coord.Detach(v)
		s.untrack(v)
		_ = conn.Close()
		s.log.Debug().Str("viewer", v.ID()).Msg("websocket disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var ev ClientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			_ = v.sendError("invalid message: " + err.Error())
			continue
		}

		switch ev.Type {
		case EventQuery:
			go s.runQuery(v, ev.Query)
		default:
			_ = v.sendError(fmt.Sprintf("unknown message type %q", ev.Type))
		}
	}
}

// runQuery submits a query received over a WebSocket. Only validation
// errors are reported back to the sender; everything else reaches it
// through the broadcast.
func (s *Server) runQuery(v *wsViewer, query string) {
	_, err := s.coord.Submit(context.Background(), query)
	if broadcast.IsValidation(err) {
		_ = v.sendError(err.Error())
	}
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req queryRequest
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorEvent("invalid request body: "+err.Error()))
		return
	}

	// The query outlives a caller that disconnects; viewers still see it.
	res, err := s.coord.Submit(context.WithoutCancel(r.Context()), req.Query)
	switch {
	case broadcast.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, ErrorEvent(err.Error()))
	case err != nil:
		payload := SnapshotEvent(res.Snapshot)
		payload.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, payload)
	default:
		writeJSON(w, http.StatusOK, SnapshotEvent(res.Snapshot))
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotEvent(s.coord.Snapshot()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"viewers": s.coord.Viewers(),
		"client":  s.coord.ClientName(),
	})
}

func (s *Server) track(v *wsViewer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[v] = struct{}{}
}

func (s *Server) untrack(v *wsViewer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, v)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	conns := make([]*wsViewer, 0, len(s.conns))
	for v := range s.conns {
		conns = append(conns, v)
	}
	s.mu.Unlock()

	for _, v := range conns {
		v.close(websocket.CloseGoingAway, "server shutting down")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
