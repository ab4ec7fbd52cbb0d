package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Client is an abstraction over LLM providers
type Client interface {
	// GenerateContent generates text content using the specified model tier
	GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GenerateJSON generates JSON content using the specified model tier
	GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GetModel returns the provider model name for a tier
	GetModel(tier ModelTier) string
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates the provider client for config, wrapped with usage metering and,
// when config.RatePerSecond is set, a shared rate limit.
func NewClient(ctx context.Context, config *Config, apiKey string, logger *zap.Logger) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var (
		base Client
		err  error
	)
	switch config.Provider {
	case ProviderAnthropic:
		base, err = NewClaudeClient(config, apiKey)
	default:
		base, err = NewGeminiClient(ctx, config, apiKey)
	}
	if err != nil {
		return nil, err
	}

	var client Client = NewMetered(base)
	if config.RatePerSecond > 0 {
		client = NewThrottled(client, config.RatePerSecond, logger)
	}
	return client, nil
}

// GeminiClient implements Client for Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: config,
	}, nil
}

// GenerateContent generates text content using the specified model tier
func (c *GeminiClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	model, err := c.model(tier)
	if err != nil {
		return "", err
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", &APICallError{Provider: ProviderGemini, Model: c.config.GetModel(tier), Cause: err}
	}
	return extractTextFromResponse(resp)
}

// GenerateJSON generates JSON content using the specified model tier
func (c *GeminiClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	model, err := c.model(tier)
	if err != nil {
		return "", err
	}
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", &APICallError{Provider: ProviderGemini, Model: c.config.GetModel(tier), Cause: err}
	}
	text, err := extractTextFromResponse(resp)
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

func (c *GeminiClient) model(tier ModelTier) (*genai.GenerativeModel, error) {
	name := c.config.GetModel(tier)
	if name == "" {
		return nil, fmt.Errorf("no model configured for tier %s", tier)
	}
	model := c.client.GenerativeModel(name)
	model.SetTemperature(c.config.Temperature)
	if c.config.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(c.config.MaxTokens))
	}
	return model, nil
}

// GetModel returns the model name for a tier
func (c *GeminiClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Genai exposes the underlying SDK client for embedding models.
func (c *GeminiClient) Genai() *genai.Client {
	return c.client
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

// APICallError represents a failed provider call
type APICallError struct {
	Provider Provider
	Model    string
	Cause    error
}

func (e *APICallError) Error() string {
	return fmt.Sprintf("%s call to %s failed: %v", e.Provider, e.Model, e.Cause)
}

func (e *APICallError) Unwrap() error {
	return e.Cause
}
