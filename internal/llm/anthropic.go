package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 4096

type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

func NewAnthropicClient(apiKey, baseURL, model string, opts ...option.RequestOption) *AnthropicClient {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	clientOpts = append(clientOpts, opts...)

	client := anthropic.NewClient(clientOpts...)
	return &AnthropicClient{
		client: &client,
		model:  model,
	}
}

func (c *AnthropicClient) Name() string {
	return fmt.Sprintf("Anthropic (%s)", c.model)
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	model := chooseModel(req.Model, c.model)
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   anthropicMaxTokens,
		Temperature: anthropic.Float(0),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Query)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Code: apiErr.StatusCode, Body: strings.TrimSpace(apiErr.RawJSON())}
		}
		return nil, err
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	u := message.Usage
	return &Completion{
		Content: text.String(),
		Model:   chooseModel(string(message.Model), model),
		Usage: &Usage{
			PromptTokens:     Tokens(int(u.InputTokens)),
			CompletionTokens: Tokens(int(u.OutputTokens)),
			CachedTokens:     Tokens(int(u.CacheReadInputTokens)),
		},
	}, nil
}
