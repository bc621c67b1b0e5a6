package config

import (
	"os"
	"testing"
)

// setArgs replaces os.Args for the duration of the test
func setArgs(t *testing.T, args ...string) {
	t.Helper()
	saved := os.Args
	os.Args = append([]string{"hyperlapse"}, args...)
	t.Cleanup(func() { os.Args = saved })
}

func TestMergeFromFlags_NoFlags(t *testing.T) {
	setArgs(t)

	cfg := DefaultConfig()
	if err := cfg.MergeFromFlags(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Listen != ":4041" || cfg.MaxFramesPerChunk != 600 {
		t.Errorf("Expected defaults untouched, got listen=%s max=%d", cfg.Listen, cfg.MaxFramesPerChunk)
	}
}

func TestMergeFromFlags_AllFlags(t *testing.T) {
	setArgs(t,
		"-listen", ":9000",
		"-backend", "lambda",
		"-streetwarp-bin", "/bin/streetwarp",
		"-ffmpeg-bin", "/bin/ffmpeg",
		"-work-dir", "/tmp/work",
		"-max-frames-per-chunk", "120",
		"-video-dir", "/srv/video",
		"-database", "/srv/meta.db",
		"--optimizer",
		"--verbose",
		"--dry-run",
		"-write-config", "/tmp/effective.yaml",
	)

	cfg := DefaultConfig()
	if err := cfg.MergeFromFlags(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Listen != ":9000" {
		t.Errorf("Expected listen ':9000', got '%s'", cfg.Listen)
	}
	if cfg.Backend != BackendLambda {
		t.Errorf("Expected backend 'lambda', got '%s'", cfg.Backend)
	}
	if cfg.StreetwarpBin != "/bin/streetwarp" {
		t.Errorf("Expected binary '/bin/streetwarp', got '%s'", cfg.StreetwarpBin)
	}
	if cfg.FFmpegBin != "/bin/ffmpeg" {
		t.Errorf("Expected ffmpeg '/bin/ffmpeg', got '%s'", cfg.FFmpegBin)
	}
	if cfg.WorkDir != "/tmp/work" {
		t.Errorf("Expected work dir '/tmp/work', got '%s'", cfg.WorkDir)
	}
	if cfg.MaxFramesPerChunk != 120 {
		t.Errorf("Expected max frames per chunk 120, got %d", cfg.MaxFramesPerChunk)
	}
	if cfg.VideoDir != "/srv/video" {
		t.Errorf("Expected video dir '/srv/video', got '%s'", cfg.VideoDir)
	}
	if cfg.DatabasePath != "/srv/meta.db" {
		t.Errorf("Expected database '/srv/meta.db', got '%s'", cfg.DatabasePath)
	}
	if !cfg.UseOptimizer || !cfg.Verbose || !cfg.DryRun {
		t.Errorf("Expected optimizer, verbose and dry run set, got %v %v %v", cfg.UseOptimizer, cfg.Verbose, cfg.DryRun)
	}
	if cfg.WriteConfig != "/tmp/effective.yaml" {
		t.Errorf("Expected write config '/tmp/effective.yaml', got '%s'", cfg.WriteConfig)
	}
}

func TestMergeFromFlags_BackendShortcuts(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		start    string
		expected string
	}{
		{name: "lambda shortcut", args: []string{"--lambda"}, start: BackendLocal, expected: BackendLambda},
		{name: "local shortcut", args: []string{"--local"}, start: BackendLambda, expected: BackendLocal},
		{name: "shortcut beats -backend", args: []string{"--local", "-backend", "lambda"}, start: BackendLambda, expected: BackendLocal},
		{name: "no flag keeps value", args: nil, start: BackendLambda, expected: BackendLambda},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setArgs(t, tt.args...)

			cfg := DefaultConfig()
			cfg.Backend = tt.start
			if err := cfg.MergeFromFlags(); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if cfg.Backend != tt.expected {
				t.Errorf("Expected backend '%s', got '%s'", tt.expected, cfg.Backend)
			}
		})
	}
}

func TestMergeFromFlags_UnknownFlag(t *testing.T) {
	setArgs(t, "-frobnicate")

	cfg := DefaultConfig()
	if err := cfg.MergeFromFlags(); err == nil {
		t.Error("Expected error for unknown flag")
	}
}
