package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadConfigFile loads configuration from a YAML file
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for config file in standard locations
// Returns empty string if not found (non-fatal)
func FindConfigFile() string {
	locations := []string{
		"./hyperlapse.yaml",
		"./hyperlapse.yml",
		filepath.Join(os.Getenv("HOME"), ".hyperlapse", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".hyperlapse", "config.yml"),
		"/etc/hyperlapse/config.yaml",
		"/etc/hyperlapse/config.yml",
	}

	for _, path := range locations {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WriteConfigFile saves the effective configuration as YAML so it can be
// passed back with -config. API keys are left out; they belong in the
// environment. Run-only flags are cleared.
func WriteConfigFile(cfg *Config, path string) error {
	out := cfg.Copy()
	out.GoogleAPIKey = ""
	out.MapboxAPIKey = ""
	out.DryRun = false

	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
