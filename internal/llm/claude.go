package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const jsonInstruction = "Respond with a single JSON value only. Do not wrap it in markdown."

// ClaudeClient implements Client for Anthropic Claude
type ClaudeClient struct {
	client anthropic.Client
	config *Config
}

// NewClaudeClient creates a new Claude client
func NewClaudeClient(config *Config, apiKey string) (*ClaudeClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	return &ClaudeClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		config: config,
	}, nil
}

// GenerateContent generates text content using the specified model tier
func (c *ClaudeClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return c.complete(ctx, prompt, "", tier)
}

// GenerateJSON generates JSON content using the specified model tier
func (c *ClaudeClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	text, err := c.complete(ctx, prompt, jsonInstruction, tier)
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

func (c *ClaudeClient) complete(ctx context.Context, prompt, system string, tier ModelTier) (string, error) {
	modelName := c.config.GetModel(tier)
	if modelName == "" {
		return "", fmt.Errorf("no model configured for tier %s", tier)
	}
	maxTokens := c.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if c.config.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(c.config.Temperature))
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", &APICallError{Provider: ProviderAnthropic, Model: modelName, Cause: err}
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("no text in Claude response")
	}
	return out.String(), nil
}

// GetModel returns the model name for a tier
func (c *ClaudeClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close is a no-op; the HTTP client needs no teardown.
func (c *ClaudeClient) Close() error {
	return nil
}
