package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicClient struct {
	client    *anthropic.Client
	model     anthropic.Model
	modelName string
}

func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{
		client:    &client,
		model:     anthropic.Model(model),
		modelName: model,
	}
}

func (c *AnthropicClient) Extract(ctx context.Context, input PaperInput) (*Extraction, error) {
	content, err := c.complete(ctx, extractSystemPrompt, formatPaperPrompt(input))
	if err != nil {
		return nil, err
	}

	var parsed rawExtraction
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w, content: %s", err, content)
	}
	return parsed.toExtraction(c.modelName), nil
}

func (c *AnthropicClient) Review(ctx context.Context, input PaperInput) (*Review, error) {
	content, err := c.complete(ctx, reviewSystemPrompt, formatPaperPrompt(input))
	if err != nil {
		return nil, err
	}

	var parsed rawReview
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse review response: %w, content: %s", err, content)
	}
	return parsed.toReview(c.modelName), nil
}

func (c *AnthropicClient) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("no response from anthropic")
	}
	return cleanJSONResponse(resp.Content[0].Text), nil
}

func formatPaperPrompt(input PaperInput) string {
	return fmt.Sprintf("Title: %s\nAbstract: %s", input.Title, input.Abstract)
}
