package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
// xAI's Grok API is one; the base URL selects which.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	displayName string
}

// NewOpenAIClient creates a client. An empty baseURL uses api.openai.com.
func NewOpenAIClient(apiKey, baseURL, model, displayName string, opts ...option.RequestOption) *OpenAIClient {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// One attempt per query; failures surface to the caller as-is.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	clientOpts = append(clientOpts, opts...)

	client := openai.NewClient(clientOpts...)
	return &OpenAIClient{
		client:      &client,
		model:       model,
		displayName: displayName,
	}
}

func (c *OpenAIClient) Name() string {
	return fmt.Sprintf("%s (%s)", c.displayName, c.model)
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	model := chooseModel(req.Model, c.model)
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Query),
		},
		Temperature: openai.Float(0),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Code: apiErr.StatusCode, Body: strings.TrimSpace(apiErr.RawJSON())}
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("malformed response: no choices")
	}

	return &Completion{
		Content: resp.Choices[0].Message.Content,
		Model:   chooseModel(resp.Model, model),
		Usage:   openAIUsage(resp),
	}, nil
}

func openAIUsage(resp *openai.ChatCompletion) *Usage {
	if !resp.JSON.Usage.Valid() {
		return nil
	}
	u := resp.Usage
	usage := &Usage{}
	if u.JSON.PromptTokens.Valid() {
		usage.PromptTokens = Tokens(int(u.PromptTokens))
	}
	if u.JSON.CompletionTokens.Valid() {
		usage.CompletionTokens = Tokens(int(u.CompletionTokens))
	}
	if u.CompletionTokensDetails.JSON.ReasoningTokens.Valid() {
		usage.ReasoningTokens = Tokens(int(u.CompletionTokensDetails.ReasoningTokens))
	}
	if u.PromptTokensDetails.JSON.CachedTokens.Valid() {
		usage.CachedTokens = Tokens(int(u.PromptTokensDetails.CachedTokens))
	}
	return usage
}
