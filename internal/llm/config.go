// Package llm provides centralized LLM configuration and client abstractions.
// Stages depend on the Client interface; the provider is chosen at startup.
package llm

// ModelTier represents the complexity/capability level of a model
type ModelTier string

const (
	// TierLite is for simple tasks: classification, extraction, basic summarization
	TierLite ModelTier = "lite"
	// TierStandard is for moderate reasoning: parsing, structured output
	TierStandard ModelTier = "standard"
	// TierAdvanced is for generation and grounding checks
	TierAdvanced ModelTier = "advanced"
)

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
	// ProviderAnthropic is the Anthropic Claude provider
	ProviderAnthropic Provider = "anthropic"
)

// Config holds the model configuration for the application
type Config struct {
	Provider    Provider
	Models      map[ModelTier]string
	Temperature float32
	MaxTokens   int
	// RatePerSecond throttles calls across the process; 0 disables throttling.
	RatePerSecond float64
}

// DefaultConfig returns the default configuration (Gemini)
func DefaultConfig() *Config {
	return DefaultGeminiConfig()
}

// DefaultGeminiConfig returns the default Gemini configuration
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		Temperature: 0.1,
		MaxTokens:   8192,
	}
}

// DefaultAnthropicConfig returns the default Claude configuration
func DefaultAnthropicConfig() *Config {
	return &Config{
		Provider: ProviderAnthropic,
		Models: map[ModelTier]string{
			TierLite:     "claude-3-5-haiku-latest",
			TierStandard: "claude-sonnet-4-20250514",
			TierAdvanced: "claude-sonnet-4-20250514",
		},
		Temperature: 0.1,
		MaxTokens:   8192,
	}
}

// ConfigFor returns the default configuration for a provider name, falling back to Gemini.
func ConfigFor(provider string) *Config {
	if Provider(provider) == ProviderAnthropic {
		return DefaultAnthropicConfig()
	}
	return DefaultGeminiConfig()
}

// GetModel returns the model name for a given tier
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	// Fallback chain: try standard, then lite
	if model, ok := c.Models[TierStandard]; ok {
		return model
	}
	if model, ok := c.Models[TierLite]; ok {
		return model
	}
	return ""
}

// WithModel returns a new Config with a specific model for a tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	next := *c
	next.Models = make(map[ModelTier]string, len(c.Models)+1)
	for k, v := range c.Models {
		next.Models[k] = v
	}
	next.Models[tier] = model
	return &next
}
