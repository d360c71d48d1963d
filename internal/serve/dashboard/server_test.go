package dashboard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/samsaffron/grok-mind/internal/broadcast"
	"github.com/samsaffron/grok-mind/internal/llm"
	"github.com/samsaffron/grok-mind/internal/session"
)

func newTestServer(t *testing.T, mock *llm.MockClient) (*httptest.Server, *broadcast.Coordinator) {
	t.Helper()
	coord := broadcast.New(session.New(), mock, broadcast.Config{
		Provider: "mock",
		Model:    "grok-2",
		Logger:   zerolog.Nop(),
	})
	srv := NewServer(coord, Options{CORSOrigins: []string{"*"}, Logger: zerolog.Nop()})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, coord
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) WireEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev WireEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var ev WireEvent
	err := conn.ReadJSON(&ev)
	var netErr interface{ Timeout() bool }
	if err == nil || !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected no message, got %+v (err=%v)", ev, err)
	}
}

func postQuery(t *testing.T, ts *httptest.Server, body string) (*http.Response, WireEvent) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/query", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/query: %v", err)
	}
	defer resp.Body.Close()
	var ev WireEvent
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, ev
}

func TestIndexServesDashboard(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient("mock"))

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("content type=%q, want text/html", resp.Header.Get("Content-Type"))
	}
	content := string(body)
	if !strings.HasPrefix(strings.ToLower(content), "<!doctype html>") || !strings.Contains(content, "/ws") {
		t.Fatal("index does not look like the dashboard document")
	}
	if strings.Contains(content, "innerHTML") {
		t.Fatal("dashboard must render server data as text")
	}
}

func TestDashboardResetsVersionsOnReconnect(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient("mock"))

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	content := string(body)

	start := strings.Index(content, "ws.onopen")
	if start < 0 {
		t.Fatal("dashboard has no onopen handler")
	}
	end := strings.Index(content[start:], "};")
	if end < 0 {
		t.Fatal("onopen handler is not terminated")
	}
	handler := content[start : start+end]
	for _, reset := range []string{"lastVersion = -1", "lastOutputVersion = -1"} {
		if !strings.Contains(handler, reset) {
			t.Fatalf("onopen handler %q does not contain %q", handler, reset)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient("mock"))

	tests := []struct {
		method string
		path   string
		allow  string
	}{
		{http.MethodGet, "/api/query", http.MethodPost},
		{http.MethodPost, "/api/snapshot", http.MethodGet},
		{http.MethodPost, "/healthz", http.MethodGet},
		{http.MethodPost, "/ws", http.MethodGet},
		{http.MethodDelete, "/", http.MethodGet},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req, _ := http.NewRequest(tc.method, ts.URL+tc.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusMethodNotAllowed {
				t.Fatalf("status=%d, want 405", resp.StatusCode)
			}
			if got := resp.Header.Get("Allow"); got != tc.allow {
				t.Fatalf("Allow=%q, want %q", got, tc.allow)
			}
		})
	}
}

func TestAPIQuerySuccess(t *testing.T) {
	mock := llm.NewMockClient("mock").AddTurn(llm.MockTurn{
		Content: "Hello back",
		Usage:   &llm.Usage{PromptTokens: llm.Tokens(120), CompletionTokens: llm.Tokens(45)},
	})
	ts, _ := newTestServer(t, mock)
	viewer := dial(t, ts)
	readEvent(t, viewer) // seed

	resp, ev := postQuery(t, ts, `{"query":"hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
	if ev.Type != EventSnapshot || ev.Stats == nil || ev.Stats.PromptTokens != 120 || ev.Stats.CompletionTokens != 45 || ev.Stats.ToolInvocations != 1 {
		t.Fatalf("response=%+v", ev)
	}
	if len(ev.Timeline) != 1 || ev.Timeline[0].Args != "hello" || ev.Timeline[0].Tool != session.ToolLabel {
		t.Fatalf("timeline=%+v", ev.Timeline)
	}
	if _, err := time.Parse("15:04:05", ev.Timeline[0].Time); err != nil {
		t.Fatalf("time=%q, want HH:MM:SS", ev.Timeline[0].Time)
	}
	if !strings.Contains(ev.Output, "Hello back") || !strings.Contains(ev.Output, "Model: grok-2") {
		t.Fatalf("output=%q", ev.Output)
	}

	pushed := readEvent(t, viewer)
	if pushed.Version != ev.Version || pushed.Output != ev.Output {
		t.Fatalf("viewer got %+v, want the query result", pushed)
	}
}

func TestAPIQueryUpstreamFailure(t *testing.T) {
	mock := llm.NewMockClient("mock").AddError(&llm.StatusError{Code: 500, Body: "timeout"})
	ts, _ := newTestServer(t, mock)
	viewer := dial(t, ts)
	readEvent(t, viewer)

	resp, ev := postQuery(t, ts, `{"query":"x"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status=%d, want 502", resp.StatusCode)
	}
	if ev.Error != "Status 500: timeout" {
		t.Fatalf("error=%q", ev.Error)
	}
	if ev.Stats == nil || ev.Stats.ToolInvocations != 1 || !ev.Timeline[0].Failed {
		t.Fatalf("response=%+v, want recorded failure", ev)
	}

	pushed := readEvent(t, viewer)
	if !strings.Contains(pushed.Output, "timeout") {
		t.Fatalf("broadcast output=%q, want timeout", pushed.Output)
	}
}

func TestAPIQueryValidation(t *testing.T) {
	mock := llm.NewMockClient("mock")
	ts, coord := newTestServer(t, mock)
	viewer := dial(t, ts)
	readEvent(t, viewer)

	for _, body := range []string{`{"query":"   "}`, `{}`, ``} {
		resp, ev := postQuery(t, ts, body)
		if resp.StatusCode != http.StatusBadRequest || ev.Type != EventError {
			t.Fatalf("body %q: status=%d event=%+v, want 400 error", body, resp.StatusCode, ev)
		}
	}

	resp, _ := postQuery(t, ts, `{"query":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status=%d, want 400", resp.StatusCode)
	}

	if mock.RequestCount() != 0 || coord.Snapshot().Version != 0 {
		t.Fatal("rejected queries reached the client or the state")
	}
	expectSilence(t, viewer)
}

func TestWebSocketQueryBroadcast(t *testing.T) {
	mock := llm.NewMockClient("mock").AddTurn(llm.MockTurn{Content: "pong", Model: "grok-2-1212"})
	ts, coord := newTestServer(t, mock)

	origin := dial(t, ts)
	other := dial(t, ts)
	for _, conn := range []*websocket.Conn{origin, other} {
		seed := readEvent(t, conn)
		if seed.Type != EventSnapshot || seed.Version != 0 || seed.Stats == nil {
			t.Fatalf("seed=%+v, want initial snapshot", seed)
		}
	}
	if coord.Viewers() != 2 {
		t.Fatalf("Viewers()=%d, want 2", coord.Viewers())
	}

	if err := origin.WriteJSON(ClientEvent{Type: EventQuery, Query: "ping"}); err != nil {
		t.Fatal(err)
	}

	for _, conn := range []*websocket.Conn{origin, other} {
		ev := readEvent(t, conn)
		if ev.Type != EventSnapshot || ev.Version != 1 {
			t.Fatalf("event=%+v, want snapshot version 1", ev)
		}
		if want := "Grok Response:\npong\n\nModel: grok-2-1212"; ev.Output != want {
			t.Fatalf("output=%q, want %q", ev.Output, want)
		}
	}
}

func TestWebSocketValidationErrorGoesToSenderOnly(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient("mock"))
	origin := dial(t, ts)
	other := dial(t, ts)
	readEvent(t, origin)
	readEvent(t, other)

	if err := origin.WriteJSON(ClientEvent{Type: EventQuery, Query: "  "}); err != nil {
		t.Fatal(err)
	}
	ev := readEvent(t, origin)
	if ev.Type != EventError || !strings.Contains(ev.Message, "empty") {
		t.Fatalf("event=%+v, want validation error", ev)
	}
	expectSilence(t, other)
}

func TestWebSocketRejectsUnknownMessages(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient("mock"))
	conn := dial(t, ts)
	readEvent(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if ev := readEvent(t, conn); ev.Type != EventError {
		t.Fatalf("event=%+v, want error for invalid JSON", ev)
	}

	if err := conn.WriteJSON(ClientEvent{Type: "reset"}); err != nil {
		t.Fatal(err)
	}
	if ev := readEvent(t, conn); ev.Type != EventError || !strings.Contains(ev.Message, "reset") {
		t.Fatalf("event=%+v, want unknown type error", ev)
	}
}

func TestWebSocketDisconnectDetaches(t *testing.T) {
	ts, coord := newTestServer(t, llm.NewMockClient("mock"))
	conn := dial(t, ts)
	readEvent(t, conn)

	_ = conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for coord.Viewers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Viewers()=%d after disconnect, want 0", coord.Viewers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSnapshotAndHealth(t *testing.T) {
	mock := llm.NewMockClient("mock").AddTextResponse("ok")
	ts, _ := newTestServer(t, mock)
	postQuery(t, ts, `{"query":"q"}`)

	resp, err := http.Get(ts.URL + "/api/snapshot")
	if err != nil {
		t.Fatal(err)
	}
	var snap WireEvent
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if snap.Version != 1 || snap.Stats.ToolInvocations != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if health["status"] != "ok" {
		t.Fatalf("health=%v", health)
	}
}

func TestCORS(t *testing.T) {
	coord := broadcast.New(session.New(), llm.NewMockClient("mock"), broadcast.Config{Logger: zerolog.Nop()})
	handler := NewServer(coord, Options{CORSOrigins: []string{"http://allowed.test"}, Logger: zerolog.Nop()}).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/query", nil)
	req.Header.Set("Origin", "http://allowed.test")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status=%d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://allowed.test" {
		t.Fatalf("Allow-Origin=%q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("Allow-Credentials=%q for listed origin, want true", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("Allow-Origin=%q for disallowed origin, want empty", got)
	}
}

func TestCORSWildcardOmitsCredentials(t *testing.T) {
	coord := broadcast.New(session.New(), llm.NewMockClient("mock"), broadcast.Config{Logger: zerolog.Nop()})
	handler := NewServer(coord, Options{CORSOrigins: []string{"*"}, Logger: zerolog.Nop()}).Handler()

	for _, method := range []string{http.MethodOptions, http.MethodGet} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/api/snapshot", nil)
			req.Header.Set("Origin", "http://anywhere.test")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Fatalf("Allow-Origin=%q, want *", got)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "" {
				t.Fatalf("Allow-Credentials=%q with wildcard origins, want empty", got)
			}
		})
	}
}

func TestSnapshotEventKeepsNewestFive(t *testing.T) {
	state := session.New(session.WithActivityLimit(10))
	for i := range 10 {
		state.ApplyCompletion(fmt.Sprintf("q%d", i), nil, "out")
	}

	ev := SnapshotEvent(state.Snapshot())
	if len(ev.Timeline) != 5 {
		t.Fatalf("timeline len=%d, want 5", len(ev.Timeline))
	}
	if ev.Timeline[0].Args != "q5" || ev.Timeline[4].Args != "q9" {
		t.Fatalf("timeline=%+v, want q5..q9 oldest first", ev.Timeline)
	}
}

func TestWebSocketSeedCarriesEveryField(t *testing.T) {
	ts, _ := newTestServer(t, llm.NewMockClient("mock"))
	conn := dial(t, ts)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read seed: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("decode seed %s: %v", raw, err)
	}
	for _, key := range []string{"type", "version", "stats", "timeline", "output"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("seed %s missing %q", raw, key)
		}
	}
	if got := string(fields["version"]); got != "0" {
		t.Fatalf("version=%s, want 0", got)
	}
	if got := string(fields["timeline"]); got != "[]" {
		t.Fatalf("timeline=%s, want []", got)
	}
	if got := string(fields["output"]); got != `""` {
		t.Fatalf("output=%s, want empty string", got)
	}
}

func TestErrorEventOmitsSnapshotFields(t *testing.T) {
	raw, err := json.Marshal(ErrorEvent("query must not be empty"))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(raw); got != `{"type":"error","message":"query must not be empty"}` {
		t.Fatalf("error event=%s", got)
	}
}

func TestWireRoundTripPreservesSnapshot(t *testing.T) {
	state := session.New()
	state.ApplyCompletion("hello", &llm.Usage{PromptTokens: llm.Tokens(3)}, "out")
	state.ApplyFailure("bad", "Error: x")
	snap := state.Snapshot()

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(SnapshotEvent(snap)); err != nil {
		t.Fatal(err)
	}
	var ev WireEvent
	if err := json.NewDecoder(&buf).Decode(&ev); err != nil {
		t.Fatal(err)
	}
	got := ev.ToSnapshot()
	if got.Version != snap.Version || got.Stats != snap.Stats || got.Output != snap.Output || len(got.Timeline) != 2 {
		t.Fatalf("round trip=%+v, want %+v", got, snap)
	}
	if got.Timeline[1].Preview != "bad" || !got.Timeline[1].Failed || !got.Timeline[0].Timestamp.Equal(snap.Timeline[0].Timestamp) {
		t.Fatalf("timeline=%+v", got.Timeline)
	}
}
