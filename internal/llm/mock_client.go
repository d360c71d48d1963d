package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockTurn represents a single scripted response from the mock client.
type MockTurn struct {
	Content string
	Model   string        // reported model; empty falls back to the requested one
	Usage   *Usage        // token usage to report
	Delay   time.Duration // optional delay before responding (for timeout tests)
	Error   error         // return this error instead of responding
	Wait    <-chan struct{}
}

// MockClient is a configurable client for testing.
// It returns scripted responses and records all requests for verification.
type MockClient struct {
	name      string
	turns     []MockTurn
	turnIndex int
	Requests  []Request // Recorded requests for verification
	mu        sync.Mutex
}

// NewMockClient creates a new mock client with the given name.
func NewMockClient(name string) *MockClient {
	return &MockClient{name: name}
}

func (m *MockClient) Name() string {
	return m.name
}

// AddTurn adds a response turn and returns the client for chaining.
func (m *MockClient) AddTurn(t MockTurn) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	return m
}

// AddTextResponse is a convenience method to add a simple text response.
func (m *MockClient) AddTextResponse(text string) *MockClient {
	return m.AddTurn(MockTurn{Content: text})
}

// AddError adds a turn that returns an error.
func (m *MockClient) AddError(err error) *MockClient {
	return m.AddTurn(MockTurn{Error: err})
}

// RequestCount returns how many completions were requested.
func (m *MockClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

func (m *MockClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)

	if m.turnIndex >= len(m.turns) {
		m.mu.Unlock()
		return nil, fmt.Errorf("mock client: no more turns configured (expected turn %d, have %d)", m.turnIndex, len(m.turns))
	}

	turn := m.turns[m.turnIndex]
	m.turnIndex++
	m.mu.Unlock()

	if turn.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(turn.Delay):
		}
	}
	if turn.Wait != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-turn.Wait:
		}
	}

	if turn.Error != nil {
		return nil, turn.Error
	}

	return &Completion{
		Content: turn.Content,
		Model:   chooseModel(turn.Model, req.Model),
		Usage:   turn.Usage,
	}, nil
}
