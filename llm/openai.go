package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type OpenAIClient struct {
	client    *openai.Client
	model     openai.ChatModel
	modelName string
}

func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClient{
		client:    &client,
		model:     openai.ChatModel(model),
		modelName: model,
	}
}

func (c *OpenAIClient) Extract(ctx context.Context, input PaperInput) (*Extraction, error) {
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

func (c *OpenAIClient) Review(ctx context.Context, input PaperInput) (*Review, error) {
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

func (c *OpenAIClient) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}
	return cleanJSONResponse(resp.Choices[0].Message.Content), nil
}
