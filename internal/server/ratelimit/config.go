package ratelimit

import (
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	// IdleTTL is how long an unused client limiter is kept.
	IdleTTL         time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// DefaultConfig returns the limits used by the job API.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		DefaultLimit:    600,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		Whitelist:       make(map[string]bool),
		Blacklist:       make(map[string]bool),
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Tier 1: generation is the most expensive submission
		{Path: "/jobs/tailor", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},

		// Tier 2: ingestion submissions
		{Path: "/jobs/resume", Method: "POST", Limit: 60, Window: time.Hour, Burst: 10},
		{Path: "/jobs/", Method: "POST", Limit: 120, Window: time.Hour, Burst: 20},

		// Tier 3: reads and streams fall through to the default limit
		// Tier 4: health check (unlimited), handled by the matcher
	}
}
