package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errors []string

	if c.Listen == "" {
		errors = append(errors, "listen address is required")
	}

	// Validate backend
	if !IsValidBackend(c.Backend) {
		errors = append(errors, fmt.Sprintf("invalid backend '%s', must be one of: %s",
			c.Backend, strings.Join(BackendValues(), ", ")))
	}

	// Validate chunk limit
	if c.MaxFramesPerChunk <= 0 {
		errors = append(errors, "max frames per chunk must be positive")
	}

	// API keys
	if c.GoogleAPIKey == "" {
		errors = append(errors, "google api key is required")
	}
	if c.MapboxAPIKey == "" {
		errors = append(errors, "mapbox api key is required")
	}

	if c.VideoDir == "" {
		errors = append(errors, "video dir is required")
	}
	if c.DatabasePath == "" {
		errors = append(errors, "database path is required")
	}

	// Backend specific settings
	switch c.Backend {
	case BackendLocal:
		if c.StreetwarpBin == "" {
			errors = append(errors, "streetwarp binary is required for the local backend")
		}
		if c.FFmpegBin == "" {
			errors = append(errors, "ffmpeg binary is required for the local backend")
		}
	case BackendLambda:
		if err := c.Lambda.Validate(); err != nil {
			errors = append(errors, fmt.Sprintf("lambda config: %v", err))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// Validate checks if lambda configuration is valid
func (lc *LambdaConfig) Validate() error {
	var errors []string

	if lc.Region == "" {
		errors = append(errors, "region is required")
	}

	if lc.FunctionName == "" {
		errors = append(errors, "function name is required")
	}

	if lc.CallbackEndpoint == "" {
		errors = append(errors, "callback endpoint is required")
	} else if !isValidCallback(lc.CallbackEndpoint) {
		errors = append(errors, "callback endpoint must be an absolute http(s) or ws(s) URL")
	}

	if lc.Timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}
	if lc.ConnectTimeout <= 0 {
		errors = append(errors, "connect timeout must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, ", "))
	}

	return nil
}

// isValidCallback checks if the callback endpoint is an absolute URL the
// function can connect back to
func isValidCallback(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		return true
	}
	return false
}
