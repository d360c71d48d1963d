package llm

import (
	"context"
	"fmt"
)

// Client performs a single, non-streaming chat completion.
type Client interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Request is one user query sent to the completion endpoint.
type Request struct {
	Query string
	Model string // empty selects the client's default model
}

// Completion is a successful response.
type Completion struct {
	Content string
	Model   string
	Usage   *Usage // nil when the provider reported no usage at all
}

// Usage holds token counts reported by a provider. A nil field means the
// provider did not report that counter, which is different from zero.
type Usage struct {
	PromptTokens     *int `json:"promptTokens,omitempty"`
	CompletionTokens *int `json:"completionTokens,omitempty"`
	ReasoningTokens  *int `json:"reasoningTokens,omitempty"`
	CachedTokens     *int `json:"cachedTokens,omitempty"`
}

// Tokens returns a pointer to n for building Usage values.
func Tokens(n int) *int {
	return &n
}

// Empty reports whether no counter was reported.
func (u *Usage) Empty() bool {
	return u == nil || (u.PromptTokens == nil && u.CompletionTokens == nil && u.ReasoningTokens == nil && u.CachedTokens == nil)
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Status %d: %s", e.Code, e.Body)
}
