package ratelimit

import (
	"strings"
)

// unlimited marks an endpoint that is never throttled.
var unlimited = EndpointConfig{}

// MatchEndpoint matches a request path and method to an endpoint configuration.
// Returns the matching EndpointConfig or nil if no match is found.
// Path matching supports prefix matching (e.g., "/jobs/" matches "/jobs/story").
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	if path == "/health" && method == "GET" {
		out := unlimited
		return &out
	}

	for i := range configs {
		config := &configs[i]
		if config.Path == path && config.Method == method {
			return config
		}
	}

	// longest prefix wins
	var best *EndpointConfig
	for i := range configs {
		config := &configs[i]
		if config.Method != method || !strings.HasSuffix(config.Path, "/") || !strings.HasPrefix(path, config.Path) {
			continue
		}
		if best == nil || len(config.Path) > len(best.Path) {
			best = config
		}
	}
	return best
}
