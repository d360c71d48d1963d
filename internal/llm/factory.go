package llm

import (
	"context"
	"fmt"

	"github.com/samsaffron/grok-mind/internal/config"
)

// NewClient creates the completion client selected by cfg.Provider.
func NewClient(ctx context.Context, cfg *config.Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key not configured. Set %s or api_key in config", cfg.Provider, cfg.KeyEnv())
	}

	switch cfg.Provider {
	case config.ProviderXAI:
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, "xAI"), nil
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, "OpenAI"), nil
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
