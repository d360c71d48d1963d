package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, baseURL, model string) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (c *GeminiClient) Name() string {
	return fmt.Sprintf("Gemini (%s)", c.model)
}

func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	model := chooseModel(req.Model, c.model)
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(req.Query), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Code: apiErr.Code, Body: apiErr.Message}
		}
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("malformed response: no candidates")
	}

	completion := &Completion{
		Content: resp.Text(),
		Model:   chooseModel(resp.ModelVersion, model),
	}
	if meta := resp.UsageMetadata; meta != nil {
		completion.Usage = &Usage{
			PromptTokens:     Tokens(int(meta.PromptTokenCount)),
			CompletionTokens: Tokens(int(meta.CandidatesTokenCount)),
			ReasoningTokens:  Tokens(int(meta.ThoughtsTokenCount)),
			CachedTokens:     Tokens(int(meta.CachedContentTokenCount)),
		}
	}
	return completion, nil
}
