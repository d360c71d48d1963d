package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/samsaffron/grok-mind/internal/llm"
	"github.com/samsaffron/grok-mind/internal/session"
	"github.com/samsaffron/grok-mind/internal/usage"
)

type recordingViewer struct {
	id string

	mu     sync.Mutex
	pushes []session.Snapshot
	err    error
}

func newViewer(id string) *recordingViewer {
	return &recordingViewer{id: id}
}

func (v *recordingViewer) ID() string { return v.id }

func (v *recordingViewer) Push(snap session.Snapshot) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return v.err
	}
	v.pushes = append(v.pushes, snap)
	return nil
}

func (v *recordingViewer) fail(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
}

func (v *recordingViewer) received() []session.Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]session.Snapshot(nil), v.pushes...)
}

func (v *recordingViewer) last(t *testing.T) session.Snapshot {
	t.Helper()
	pushes := v.received()
	if len(pushes) == 0 {
		t.Fatalf("viewer %s received no pushes", v.id)
	}
	return pushes[len(pushes)-1]
}

func newCoordinator(client llm.Client) (*Coordinator, *session.State) {
	state := session.New()
	return New(state, client, Config{
		Provider: "mock",
		Model:    "grok-2",
		Logger:   zerolog.Nop(),
	}), state
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSubmitRejectsBlankQuery(t *testing.T) {
	for _, query := range []string{"", "   ", "\n\t"} {
		mock := llm.NewMockClient("mock")
		c, state := newCoordinator(mock)
		viewer := newViewer("v1")
		c.Attach(viewer)
		before := state.Snapshot()

		_, err := c.Submit(context.Background(), query)
		if !errors.Is(err, ErrValidation) || !IsValidation(err) {
			t.Fatalf("Submit(%q) error=%v, want ErrValidation", query, err)
		}
		if mock.RequestCount() != 0 {
			t.Fatalf("Submit(%q) contacted the client", query)
		}
		after := state.Snapshot()
		if after.Version != before.Version || after.Stats != before.Stats || len(after.Timeline) != len(before.Timeline) {
			t.Fatalf("Submit(%q) changed state: before=%+v after=%+v", query, before, after)
		}
		if got := len(viewer.received()); got != 1 {
			t.Fatalf("Submit(%q) viewer pushes=%d, want only the seed push", query, got)
		}
	}
}

func TestSubmitSuccessAppliesUsage(t *testing.T) {
	mock := llm.NewMockClient("mock").AddTurn(llm.MockTurn{
		Content: "Hi there",
		Model:   "grok-2-1212",
		Usage:   &llm.Usage{PromptTokens: llm.Tokens(120), CompletionTokens: llm.Tokens(45)},
	})
	c, state := newCoordinator(mock)
	viewer := newViewer("v1")
	c.Attach(viewer)
	before := state.Snapshot().Stats

	res, err := c.Submit(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	stats := res.Snapshot.Stats
	if stats.ToolInvocations != before.ToolInvocations+1 {
		t.Fatalf("toolInvocations=%d, want %d", stats.ToolInvocations, before.ToolInvocations+1)
	}
	if stats.PromptTokens != 120 || stats.CompletionTokens != 45 {
		t.Fatalf("stats=%+v, want prompt 120 completion 45", stats)
	}
	newest := res.Snapshot.Timeline[len(res.Snapshot.Timeline)-1]
	if newest.Preview != "hello" || newest.Failed {
		t.Fatalf("newest entry=%+v, want preview of hello", newest)
	}
	if want := "Grok Response:\nHi there\n\nModel: grok-2-1212"; res.Snapshot.Output != want {
		t.Fatalf("output=%q, want %q", res.Snapshot.Output, want)
	}
	if res.Completion == nil || res.Completion.Content != "Hi there" {
		t.Fatalf("completion=%+v", res.Completion)
	}
	if mock.Requests[0].Query != "hello" || mock.Requests[0].Model != "grok-2" {
		t.Fatalf("request=%+v, want hello with configured model", mock.Requests[0])
	}

	if got := viewer.last(t); got.Version != res.Snapshot.Version || got.Output != res.Snapshot.Output {
		t.Fatalf("viewer got %+v, want the result snapshot", got)
	}
}

func TestSubmitModelFallsBackToConfigured(t *testing.T) {
	mock := llm.NewMockClient("mock").AddTurn(llm.MockTurn{Content: "ok"})
	c, _ := newCoordinator(mock)
	res, err := c.Submit(context.Background(), "q")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if !strings.HasSuffix(res.Snapshot.Output, "Model: grok-2") {
		t.Fatalf("output=%q, want configured model", res.Snapshot.Output)
	}
}

func TestSubmitFailureIsRecordedAndBroadcast(t *testing.T) {
	mock := llm.NewMockClient("mock").
		AddTurn(llm.MockTurn{Content: "first", Usage: &llm.Usage{PromptTokens: llm.Tokens(7), CompletionTokens: llm.Tokens(3)}}).
		AddError(errors.New("timeout"))
	c, _ := newCoordinator(mock)

	if _, err := c.Submit(context.Background(), "warm up"); err != nil {
		t.Fatalf("first Submit() error: %v", err)
	}

	viewer := newViewer("v1")
	c.Attach(viewer)
	before := c.Snapshot().Stats

	res, err := c.Submit(context.Background(), "x")
	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("error=%v (%T), want *UpstreamError", err, err)
	}
	if upErr.Error() != "timeout" {
		t.Fatalf("upstream error=%q, want timeout", upErr.Error())
	}
	if res.Completion != nil {
		t.Fatalf("completion=%+v, want nil on failure", res.Completion)
	}

	stats := res.Snapshot.Stats
	if stats.ToolInvocations != before.ToolInvocations+1 {
		t.Fatalf("toolInvocations=%d, want %d", stats.ToolInvocations, before.ToolInvocations+1)
	}
	if stats.PromptTokens != before.PromptTokens || stats.CompletionTokens != before.CompletionTokens {
		t.Fatalf("token counts changed on failure: before=%+v after=%+v", before, stats)
	}

	got := viewer.last(t)
	if !strings.Contains(got.Output, "timeout") {
		t.Fatalf("broadcast output=%q, want it to contain timeout", got.Output)
	}
	if newest := got.Timeline[len(got.Timeline)-1]; !newest.Failed {
		t.Fatalf("newest entry=%+v, want failure marker", newest)
	}
}

func TestSubmitTimeout(t *testing.T) {
	mock := llm.NewMockClient("mock").AddTurn(llm.MockTurn{Content: "late", Delay: time.Minute})
	state := session.New()
	c := New(state, mock, Config{Model: "grok-2", Timeout: 20 * time.Millisecond, Logger: zerolog.Nop()})

	res, err := c.Submit(context.Background(), "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error=%v, want deadline exceeded", err)
	}
	if res.Snapshot.Stats.ToolInvocations != 1 || !strings.HasPrefix(res.Snapshot.Output, "Error: ") {
		t.Fatalf("snapshot=%+v, want recorded failure", res.Snapshot)
	}
}

func TestAttachSeedsExactlyOnePush(t *testing.T) {
	mock := llm.NewMockClient("mock").AddTextResponse("earlier")
	c, _ := newCoordinator(mock)
	if _, err := c.Submit(context.Background(), "earlier"); err != nil {
		t.Fatal(err)
	}

	viewer := newViewer("v1")
	c.Attach(viewer)

	pushes := viewer.received()
	if len(pushes) != 1 {
		t.Fatalf("pushes=%d, want exactly one seed push", len(pushes))
	}
	current := c.Snapshot()
	if pushes[0].Version != current.Version || pushes[0].Stats != current.Stats || len(pushes[0].Timeline) != 1 {
		t.Fatalf("seed=%+v, want current state %+v", pushes[0], current)
	}
	if c.Viewers() != 1 {
		t.Fatalf("Viewers()=%d, want 1", c.Viewers())
	}
}

func TestAttachDropsViewerWhenSeedFails(t *testing.T) {
	c, _ := newCoordinator(llm.NewMockClient("mock"))
	viewer := newViewer("v1")
	viewer.fail(errors.New("closed"))

	c.Attach(viewer)
	if c.Viewers() != 0 {
		t.Fatalf("Viewers()=%d, want failed viewer removed", c.Viewers())
	}
}

func TestBroadcastReachesEveryViewer(t *testing.T) {
	mock := llm.NewMockClient("mock").AddTextResponse("a")
	c, _ := newCoordinator(mock)
	viewers := []*recordingViewer{newViewer("a"), newViewer("b"), newViewer("c")}
	for _, v := range viewers {
		c.Attach(v)
	}

	res, err := c.Submit(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range viewers {
		pushes := v.received()
		if len(pushes) != 2 {
			t.Fatalf("viewer %s pushes=%d, want seed plus broadcast", v.id, len(pushes))
		}
		if pushes[1].Version != res.Snapshot.Version {
			t.Fatalf("viewer %s got version %d, want %d", v.id, pushes[1].Version, res.Snapshot.Version)
		}
	}
}

func TestFailedPushIsIsolated(t *testing.T) {
	mock := llm.NewMockClient("mock").AddTextResponse("one").AddTextResponse("two")
	c, _ := newCoordinator(mock)

	good1, bad, good2 := newViewer("good1"), newViewer("bad"), newViewer("good2")
	c.Attach(good1)
	c.Attach(bad)
	c.Attach(good2)
	bad.fail(errors.New("broken pipe"))

	if _, err := c.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("Submit() error=%v, delivery failures must not reach the caller", err)
	}
	if c.Viewers() != 2 {
		t.Fatalf("Viewers()=%d, want failed viewer removed", c.Viewers())
	}
	for _, v := range []*recordingViewer{good1, good2} {
		if got := len(v.received()); got != 2 {
			t.Fatalf("viewer %s pushes=%d, want 2", v.id, got)
		}
	}

	if _, err := c.Submit(context.Background(), "second"); err != nil {
		t.Fatal(err)
	}
	if got := len(bad.received()); got != 1 {
		t.Fatalf("removed viewer pushes=%d, want only the seed", got)
	}
}

func TestDetach(t *testing.T) {
	mock := llm.NewMockClient("mock").AddTextResponse("a")
	c, state := newCoordinator(mock)

	// Never attached: no-op.
	before := state.Snapshot()
	c.Detach(newViewer("ghost"))
	if c.Viewers() != 0 || state.Snapshot().Version != before.Version {
		t.Fatal("detaching an unknown viewer changed state")
	}

	v := newViewer("v1")
	c.Attach(v)
	c.Detach(v)
	c.Detach(v)
	if c.Viewers() != 0 {
		t.Fatalf("Viewers()=%d after detach", c.Viewers())
	}

	if _, err := c.Submit(context.Background(), "q"); err != nil {
		t.Fatal(err)
	}
	if got := len(v.received()); got != 1 {
		t.Fatalf("detached viewer pushes=%d, want only the seed", got)
	}
}

func TestDetachKeepsReattachedHandle(t *testing.T) {
	c, _ := newCoordinator(llm.NewMockClient("mock"))
	old := newViewer("same")
	replacement := newViewer("same")
	c.Attach(old)
	c.Attach(replacement)

	c.Detach(old)
	if c.Viewers() != 1 {
		t.Fatalf("Viewers()=%d, detaching a stale handle removed its replacement", c.Viewers())
	}
}

func TestConcurrentSubmitsApplyInSerialOrder(t *testing.T) {
	gate := make(chan struct{})
	usageA := &llm.Usage{PromptTokens: llm.Tokens(100), CompletionTokens: llm.Tokens(10), ReasoningTokens: llm.Tokens(1)}
	usageB := &llm.Usage{PromptTokens: llm.Tokens(200), CompletionTokens: llm.Tokens(20), ReasoningTokens: llm.Tokens(2)}
	mock := llm.NewMockClient("mock").
		AddTurn(llm.MockTurn{Content: "A", Usage: usageA, Wait: gate}).
		AddTurn(llm.MockTurn{Content: "B", Usage: usageB})
	c, _ := newCoordinator(mock)
	viewer := newViewer("v1")
	c.Attach(viewer)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := c.Submit(context.Background(), "first"); err != nil {
			t.Errorf("first Submit() error: %v", err)
		}
	}()
	waitFor(t, func() bool { return mock.RequestCount() == 1 })

	// The second query completes while the first is still in flight.
	if _, err := c.Submit(context.Background(), "second"); err != nil {
		t.Fatalf("second Submit() error: %v", err)
	}
	close(gate)
	wg.Wait()

	final := c.Snapshot()
	want := session.Stats{PromptTokens: 100, CompletionTokens: 10, ReasoningTokens: 1, ToolInvocations: 2}
	if final.Stats != want {
		t.Fatalf("final stats=%+v, want first query applied last %+v", final.Stats, want)
	}
	if got := final.Timeline[len(final.Timeline)-1].Preview; got != "first" {
		t.Fatalf("newest entry=%q, want first", got)
	}

	// Every pushed snapshot is self-consistent: the counters match the usage
	// of the query that produced the newest entry.
	for _, snap := range viewer.received() {
		if len(snap.Timeline) == 0 {
			continue
		}
		switch snap.Timeline[len(snap.Timeline)-1].Preview {
		case "first":
			if snap.Stats.PromptTokens != 100 || snap.Stats.CompletionTokens != 10 {
				t.Fatalf("push mixes updates: %+v", snap)
			}
		case "second":
			if snap.Stats.PromptTokens != 200 || snap.Stats.CompletionTokens != 20 {
				t.Fatalf("push mixes updates: %+v", snap)
			}
		}
	}
}

func TestManyConcurrentSubmits(t *testing.T) {
	mock := llm.NewMockClient("mock")
	const n = 50
	for i := 0; i < n; i++ {
		mock.AddTurn(llm.MockTurn{Content: "ok", Usage: &llm.Usage{PromptTokens: llm.Tokens(i), CompletionTokens: llm.Tokens(i)}})
	}
	c, _ := newCoordinator(mock)
	viewers := []*recordingViewer{newViewer("a"), newViewer("b")}
	for _, v := range viewers {
		c.Attach(v)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Submit(context.Background(), "q"); err != nil {
				t.Errorf("Submit() error: %v", err)
			}
		}()
	}
	wg.Wait()

	final := c.Snapshot()
	if final.Stats.ToolInvocations != n || final.Version != n {
		t.Fatalf("final=%+v, want %d invocations", final.Stats, n)
	}
	if final.Stats.PromptTokens != final.Stats.CompletionTokens {
		t.Fatalf("final stats mix two updates: %+v", final.Stats)
	}
	for _, v := range viewers {
		pushes := v.received()
		if len(pushes) != n+1 {
			t.Fatalf("viewer %s pushes=%d, want %d", v.id, len(pushes), n+1)
		}
		for _, snap := range pushes {
			if snap.Stats.PromptTokens != snap.Stats.CompletionTokens {
				t.Fatalf("viewer %s got inconsistent snapshot %+v", v.id, snap.Stats)
			}
		}
	}
}

func TestSubmitWritesLedger(t *testing.T) {
	dir := t.TempDir()
	mock := llm.NewMockClient("mock").
		AddTurn(llm.MockTurn{Content: "ok", Usage: &llm.Usage{PromptTokens: llm.Tokens(9), CachedTokens: llm.Tokens(2)}}).
		AddError(errors.New("Status 500: boom"))
	c := New(session.New(), mock, Config{
		Provider: "xai",
		Model:    "grok-2",
		Logger:   zerolog.Nop(),
		Ledger:   usage.NewLogger(dir),
	})

	if _, err := c.Submit(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Submit(context.Background(), "b"); err == nil {
		t.Fatal("expected upstream error")
	}

	result := usage.Load(dir, time.Time{})
	if len(result.Entries) != 2 {
		t.Fatalf("ledger entries=%d, want 2", len(result.Entries))
	}
	ok, failed := result.Entries[0], result.Entries[1]
	if ok.Provider != "xai" || ok.Model != "grok-2" || ok.PromptTokens != 9 || ok.CachedTokens != 2 || ok.Failed {
		t.Fatalf("success entry=%+v", ok)
	}
	if !failed.Failed || failed.Error != "Status 500: boom" {
		t.Fatalf("failure entry=%+v", failed)
	}
}
