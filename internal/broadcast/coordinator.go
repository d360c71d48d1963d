// Package broadcast drives queries through the completion client and fans
// the resulting session snapshot out to every attached viewer.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/samsaffron/grok-mind/internal/llm"
	"github.com/samsaffron/grok-mind/internal/metrics"
	"github.com/samsaffron/grok-mind/internal/session"
	"github.com/samsaffron/grok-mind/internal/usage"
)

// Viewer receives snapshot pushes. Push must not retain the snapshot's
// slices beyond the call unless it copies them.
type Viewer interface {
	ID() string
	Push(snap session.Snapshot) error
}

type Config struct {
	Provider string
	Model    string
	Timeout  time.Duration // zero disables the per-query timeout
	Logger   zerolog.Logger
	Ledger   *usage.Logger // nil disables the usage ledger
}

// Result is the outcome of one submitted query.
type Result struct {
	Snapshot   session.Snapshot
	Completion *llm.Completion // nil when the completion call failed
}

type Coordinator struct {
	state  *session.State
	client llm.Client
	cfg    Config
	log    zerolog.Logger

	mu      sync.Mutex
	viewers map[string]Viewer
}

func New(state *session.State, client llm.Client, cfg Config) *Coordinator {
	return &Coordinator{
		state:   state,
		client:  client,
		cfg:     cfg,
		log:     cfg.Logger.With().Str("component", "broadcast").Logger(),
		viewers: make(map[string]Viewer),
	}
}

// Snapshot returns the current session state.
func (c *Coordinator) Snapshot() session.Snapshot {
	return c.state.Snapshot()
}

// ClientName describes the completion client in use.
func (c *Coordinator) ClientName() string {
	return c.client.Name()
}

// Submit runs one query end to end. The resulting snapshot is pushed to
// every attached viewer before Submit returns, whether or not the
// completion call succeeded. A failed call is returned as *UpstreamError.
func (c *Coordinator) Submit(ctx context.Context, query string) (Result, error) {
	if strings.TrimSpace(query) == "" {
		metrics.QueriesTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		return Result{}, fmt.Errorf("%w: query must not be empty", ErrValidation)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := c.client.Complete(ctx, llm.Request{Query: query, Model: c.cfg.Model})
	elapsed := time.Since(start)
	metrics.UpstreamDuration.WithLabelValues(c.cfg.Provider).Observe(elapsed.Seconds())

	if err != nil {
		snap := c.state.ApplyFailure(query, FormatError(err))
		metrics.QueriesTotal.WithLabelValues(metrics.OutcomeUpstream).Inc()
		c.log.Warn().Err(err).Dur("elapsed", elapsed).Uint64("version", snap.Version).Msg("completion failed")
		c.record(usage.LogEntry{Model: c.cfg.Model, Failed: true, Error: err.Error()})

		c.broadcast(snap)
		return Result{Snapshot: snap}, &UpstreamError{Err: err}
	}

	completion.Model = chooseModel(completion.Model, c.cfg.Model)
	snap := c.state.ApplyCompletion(query, completion.Usage, FormatCompletion(completion))
	metrics.QueriesTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	c.log.Info().
		Str("model", completion.Model).
		Dur("elapsed", elapsed).
		Int("prompt_tokens", snap.Stats.PromptTokens).
		Int("completion_tokens", snap.Stats.CompletionTokens).
		Uint64("version", snap.Version).
		Msg("completion applied")
	c.record(ledgerEntry(completion))

	c.broadcast(snap)
	return Result{Snapshot: snap, Completion: completion}, nil
}

// Attach registers v and seeds it with the current snapshot. A viewer whose
// seed push fails is removed again.
func (c *Coordinator) Attach(v Viewer) {
	c.mu.Lock()
	c.viewers[v.ID()] = v
	c.updateGaugeLocked()
	c.mu.Unlock()

	c.log.Debug().Str("viewer", v.ID()).Msg("viewer attached")
	if err := c.push(v, c.state.Snapshot()); err != nil {
		c.remove([]Viewer{v})
	}
}

// Detach unregisters v. Detaching an unknown viewer is a no-op.
func (c *Coordinator) Detach(v Viewer) {
	c.remove([]Viewer{v})
}

// Viewers returns the number of attached viewers.
func (c *Coordinator) Viewers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.viewers)
}

// broadcast pushes snap to a copy of the current membership and drops every
// viewer whose push failed once all pushes were attempted.
func (c *Coordinator) broadcast(snap session.Snapshot) {
	c.mu.Lock()
	targets := make([]Viewer, 0, len(c.viewers))
	for _, v := range c.viewers {
		targets = append(targets, v)
	}
	c.mu.Unlock()

	var failed []Viewer
	for _, v := range targets {
		if err := c.push(v, snap); err != nil {
			failed = append(failed, v)
		}
	}
	if len(failed) > 0 {
		c.remove(failed)
	}
}

func (c *Coordinator) push(v Viewer, snap session.Snapshot) error {
	if err := v.Push(snap); err != nil {
		derr := &DeliveryError{ViewerID: v.ID(), Err: err}
		metrics.PushesTotal.WithLabelValues(metrics.PushFailed).Inc()
		c.log.Debug().Err(derr).Msg("dropping viewer")
		return derr
	}
	metrics.PushesTotal.WithLabelValues(metrics.PushDelivered).Inc()
	return nil
}

func (c *Coordinator) remove(viewers []Viewer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range viewers {
		// A viewer re-attached under the same id is a different handle.
		if cur, ok := c.viewers[v.ID()]; ok && cur == v {
			delete(c.viewers, v.ID())
			c.log.Debug().Str("viewer", v.ID()).Msg("viewer detached")
		}
	}
	c.updateGaugeLocked()
}

func (c *Coordinator) updateGaugeLocked() {
	metrics.ViewersAttached.Set(float64(len(c.viewers)))
}

func (c *Coordinator) record(entry usage.LogEntry) {
	if c.cfg.Ledger == nil {
		return
	}
	entry.Timestamp = time.Now()
	entry.Provider = c.cfg.Provider
	if err := c.cfg.Ledger.Log(entry); err != nil {
		c.log.Warn().Err(err).Msg("failed to write usage ledger")
	}
}

func ledgerEntry(comp *llm.Completion) usage.LogEntry {
	entry := usage.LogEntry{Model: comp.Model}
	if u := comp.Usage; u != nil {
		entry.PromptTokens = deref(u.PromptTokens)
		entry.CompletionTokens = deref(u.CompletionTokens)
		entry.ReasoningTokens = deref(u.ReasoningTokens)
		entry.CachedTokens = deref(u.CachedTokens)
	}
	return entry
}

func deref(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

func chooseModel(reported, configured string) string {
	if strings.TrimSpace(reported) != "" {
		return reported
	}
	return configured
}

// IsValidation reports whether err rejected a query before any work.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
