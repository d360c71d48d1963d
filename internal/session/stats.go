package session

import "github.com/samsaffron/grok-mind/internal/llm"

// Stats holds the cumulative usage counters shown to viewers.
// Token counters hold the most recent value reported by the provider;
// ToolInvocations counts every completed query, failed ones included.
type Stats struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	ReasoningTokens  int `json:"reasoningTokens"`
	CachedTokens     int `json:"cachedTokens"`
	ToolInvocations  int `json:"toolInvocations"`
}

// merge replaces each counter that u reports and leaves the rest alone.
func (s *Stats) merge(u *llm.Usage) {
	if u == nil {
		return
	}
	replace(&s.PromptTokens, u.PromptTokens)
	replace(&s.CompletionTokens, u.CompletionTokens)
	replace(&s.ReasoningTokens, u.ReasoningTokens)
	replace(&s.CachedTokens, u.CachedTokens)
}

func replace(dst *int, v *int) {
	if v == nil {
		return
	}
	*dst = max(*v, 0)
}
