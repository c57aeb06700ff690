// Package llm wraps the text-generation providers behind a small interface.
// Responses are schema-validated on receipt: fields the model did not return
// stay empty, scores are clamped, URLs are filtered. Nothing gets invented.
package llm

import (
	"context"
	"fmt"
	"strings"

	"paper-pulse/config"
)

// PaperInput is the paper text handed to the model.
type PaperInput struct {
	Title    string
	Abstract string
}

// Extraction is the structured extract of a paper.
type Extraction struct {
	Method      string
	Tasks       []string
	Datasets    []string
	Benchmarks  []string
	ClaimedSOTA []string
	CodeURLs    []string

	ModelUsed     string
	PromptVersion string
}

// Review is a reviewer-style critique; scores are in 0..3.
type Review struct {
	Strengths  []string
	Weaknesses []string
	Risks      []string

	Novelty int
	Rigor   int
	Clarity int

	ModelUsed     string
	PromptVersion string
}

// Client is implemented by each provider backend.
type Client interface {
	Extract(ctx context.Context, input PaperInput) (*Extraction, error)
	Review(ctx context.Context, input PaperInput) (*Review, error)
}

// NewFromConfig picks the provider backend from the configuration.
func NewFromConfig(cfg *config.Config) (Client, error) {
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}

func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	// Some model responses include extra prose around JSON.
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}

// sanitizeList trims entries, drops empties and caps the list length.
func sanitizeList(in []string, maxItems int) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if maxItems > 0 && len(out) >= maxItems {
			break
		}
	}
	return out
}

// sanitizeURLs keeps only http(s) URLs.
func sanitizeURLs(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
			out = append(out, s)
		}
	}
	return out
}

// clampScore forces a reviewer score into the 0..3 contract.
func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 3 {
		return 3
	}
	return n
}

// rawExtraction and rawReview mirror the JSON contracts in prompts.go.
type rawExtraction struct {
	Method      string   `json:"method"`
	Tasks       []string `json:"tasks"`
	Datasets    []string `json:"datasets"`
	Benchmarks  []string `json:"benchmarks"`
	ClaimedSOTA []string `json:"claimed_sota"`
	CodeURLs    []string `json:"code_urls"`
}

type rawReview struct {
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
	Risks      []string `json:"risks"`
	Novelty    int      `json:"novelty"`
	Rigor      int      `json:"rigor"`
	Clarity    int      `json:"clarity"`
}

const maxListItems = 16

func (r rawExtraction) toExtraction(modelName string) *Extraction {
	return &Extraction{
		Method:        strings.TrimSpace(r.Method),
		Tasks:         sanitizeList(r.Tasks, maxListItems),
		Datasets:      sanitizeList(r.Datasets, maxListItems),
		Benchmarks:    sanitizeList(r.Benchmarks, maxListItems),
		ClaimedSOTA:   sanitizeList(r.ClaimedSOTA, maxListItems),
		CodeURLs:      sanitizeURLs(r.CodeURLs),
		ModelUsed:     modelName,
		PromptVersion: promptVersion,
	}
}

func (r rawReview) toReview(modelName string) *Review {
	return &Review{
		Strengths:     sanitizeList(r.Strengths, maxListItems),
		Weaknesses:    sanitizeList(r.Weaknesses, maxListItems),
		Risks:         sanitizeList(r.Risks, maxListItems),
		Novelty:       clampScore(r.Novelty),
		Rigor:         clampScore(r.Rigor),
		Clarity:       clampScore(r.Clarity),
		ModelUsed:     modelName,
		PromptVersion: promptVersion,
	}
}
