// Package config loads service configuration from an optional file, IDENTITY_* environment
// variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. IDENTITY_DATABASE_URL.
const EnvPrefix = "IDENTITY"

// Config is the runtime configuration for the server and workers.
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`

	GeminiAPIKey    string  `mapstructure:"gemini_api_key"`
	AnthropicAPIKey string  `mapstructure:"anthropic_api_key"`
	LLMProvider     string  `mapstructure:"llm_provider" validate:"oneof=gemini anthropic"`
	LLMRatePerSec   float64 `mapstructure:"llm_rate_per_second" validate:"gte=0"`

	Port           int           `mapstructure:"port" validate:"min=1,max=65535"`
	Workers        int           `mapstructure:"workers" validate:"min=1,max=256"`
	QueueSize      int           `mapstructure:"queue_size" validate:"min=1"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	MaxJobDuration time.Duration `mapstructure:"max_job_duration" validate:"gte=1s"`
	SweepSchedule  string        `mapstructure:"sweep_schedule"`

	SimilarityThreshold float64 `mapstructure:"similarity_threshold" validate:"gt=0,lte=1"`
	MatchThreshold      float64 `mapstructure:"match_threshold" validate:"gt=0,lte=1"`
	EmbeddingModel      string  `mapstructure:"embedding_model"`
	EmbeddingCachePath  string  `mapstructure:"embedding_cache_path"`
	StorageRoot         string  `mapstructure:"storage_root"`

	UseBrowser bool `mapstructure:"use_browser"`
	LogJSON    bool `mapstructure:"log_json"`
	Debug      bool `mapstructure:"debug"`
}

// Defaults returns the configuration used when nothing overrides a key.
func Defaults() Config {
	return Config{
		LLMProvider:         "gemini",
		Port:                8080,
		Workers:             4,
		QueueSize:           16,
		PollInterval:        2 * time.Second,
		MaxJobDuration:      10 * time.Minute,
		SweepSchedule:       "@every 1m",
		SimilarityThreshold: 0.85,
		MatchThreshold:      0.75,
		EmbeddingModel:      "text-embedding-004",
		StorageRoot:         ".",
	}
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	d := Defaults()
	defaults := map[string]any{
		"database_url":         d.DatabaseURL,
		"gemini_api_key":       d.GeminiAPIKey,
		"anthropic_api_key":    d.AnthropicAPIKey,
		"llm_provider":         d.LLMProvider,
		"llm_rate_per_second":  d.LLMRatePerSec,
		"port":                 d.Port,
		"workers":              d.Workers,
		"queue_size":           d.QueueSize,
		"poll_interval":        d.PollInterval,
		"max_job_duration":     d.MaxJobDuration,
		"sweep_schedule":       d.SweepSchedule,
		"similarity_threshold": d.SimilarityThreshold,
		"match_threshold":      d.MatchThreshold,
		"embedding_model":      d.EmbeddingModel,
		"embedding_cache_path": d.EmbeddingCachePath,
		"storage_root":         d.StorageRoot,
		"use_browser":          d.UseBrowser,
		"log_json":             d.LogJSON,
		"debug":                d.Debug,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	// the unprefixed names used by the rest of the toolchain
	_ = v.BindEnv("database_url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("gemini_api_key", EnvPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("anthropic_api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

// BindFlags maps command-line flags onto config keys. Flag names use dashes.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("failed to bind flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Load reads path (if set) into v and returns the validated configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag())
			}
			return fmt.Errorf("config error: invalid %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

// APIKey returns the key for the configured LLM provider.
func (c *Config) APIKey() string {
	if c.LLMProvider == "anthropic" {
		return c.AnthropicAPIKey
	}
	return c.GeminiAPIKey
}

// RequireLLM reports a missing key for the configured provider. Embeddings always use
// Gemini, so its key is required regardless of provider.
func (c *Config) RequireLLM() error {
	if c.GeminiAPIKey == "" {
		return errors.New("config error: gemini_api_key is required (set GEMINI_API_KEY)")
	}
	if c.LLMProvider == "anthropic" && c.AnthropicAPIKey == "" {
		return errors.New("config error: anthropic_api_key is required when llm_provider=anthropic")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
