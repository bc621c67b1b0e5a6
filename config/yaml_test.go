package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigFile(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	yamlContent := `
listen: ":8080"
backend: "lambda"
max_frames_per_chunk: 300
video_dir: "/srv/video"
google_api_key: "google-key"
lambda:
  region: "us-east-1"
  function_name: "streetwarp-prod"
  timeout: "20m"
  connect_timeout: "30s"
public_url:
  from: "https://blob.example.com"
  to: "https://cdn.example.com"
verbose: true
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfigFile(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify loaded values
	if cfg.Listen != ":8080" {
		t.Errorf("Expected listen ':8080', got '%s'", cfg.Listen)
	}
	if cfg.Backend != BackendLambda {
		t.Errorf("Expected backend 'lambda', got '%s'", cfg.Backend)
	}
	if cfg.MaxFramesPerChunk != 300 {
		t.Errorf("Expected max frames per chunk 300, got %d", cfg.MaxFramesPerChunk)
	}
	if cfg.Lambda.FunctionName != "streetwarp-prod" {
		t.Errorf("Expected function 'streetwarp-prod', got '%s'", cfg.Lambda.FunctionName)
	}
	if cfg.Lambda.Timeout != 20*time.Minute {
		t.Errorf("Expected timeout 20m, got %s", cfg.Lambda.Timeout)
	}
	if cfg.Lambda.ConnectTimeout != 30*time.Second {
		t.Errorf("Expected connect timeout 30s, got %s", cfg.Lambda.ConnectTimeout)
	}
	if cfg.PublicURL.To != "https://cdn.example.com" {
		t.Errorf("Expected public url 'https://cdn.example.com', got '%s'", cfg.PublicURL.To)
	}
	if !cfg.Verbose {
		t.Error("Expected verbose to be true")
	}

	// Unset fields keep their defaults
	if cfg.FFmpegBin != "ffmpeg" {
		t.Errorf("Expected default ffmpeg bin, got '%s'", cfg.FFmpegBin)
	}
	if cfg.Lambda.ComputeRegion != "us-west-2" {
		t.Errorf("Expected default compute region, got '%s'", cfg.Lambda.ComputeRegion)
	}
}

func TestLoadConfigFile_NotFound(t *testing.T) {
	_, err := LoadConfigFile("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Expected error for nonexistent file, got nil")
	}
}

func TestLoadConfigFile_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("listen: [unclosed\n"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	if _, err := LoadConfigFile(configPath); err == nil {
		t.Error("Expected error for invalid YAML, got nil")
	}
}

func TestWriteConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := validConfig()
	cfg.MaxFramesPerChunk = 250
	cfg.Lambda.Timeout = 5 * time.Minute
	cfg.DryRun = true
	cfg.WriteConfig = configPath

	if err := WriteConfigFile(cfg, configPath); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	loaded, err := LoadConfigFile(configPath)
	if err != nil {
		t.Fatalf("Failed to load written config: %v", err)
	}

	if loaded.MaxFramesPerChunk != 250 {
		t.Errorf("Expected max frames per chunk 250, got %d", loaded.MaxFramesPerChunk)
	}
	if loaded.Lambda.Timeout != 5*time.Minute {
		t.Errorf("Expected timeout 5m, got %s", loaded.Lambda.Timeout)
	}
	if loaded.StreetwarpBin != cfg.StreetwarpBin {
		t.Errorf("Expected binary '%s', got '%s'", cfg.StreetwarpBin, loaded.StreetwarpBin)
	}

	// Secrets stay in the environment
	if loaded.GoogleAPIKey != "" || loaded.MapboxAPIKey != "" {
		t.Errorf("Expected API keys left out, got '%s' and '%s'", loaded.GoogleAPIKey, loaded.MapboxAPIKey)
	}
	if loaded.DryRun {
		t.Error("Expected dry run cleared in the written config")
	}

	// The caller's config is untouched
	if cfg.GoogleAPIKey == "" || !cfg.DryRun {
		t.Error("Expected the source config to be unchanged")
	}
}
