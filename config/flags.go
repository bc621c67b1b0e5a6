package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// MergeFromFlags parses command-line flags and overrides config values
func (c *Config) MergeFromFlags() error {
	// Define flags
	fs := flag.NewFlagSet("hyperlapse", flag.ContinueOnError)
	fs.Usage = printUsage

	// Config file override (handled by LoadConfig before this function is called)
	_ = fs.String("config", "", "Path to config file (default: search standard locations)")

	// Server settings
	listen := fs.String("listen", "", "HTTP listen address (default: from config)")
	backend := fs.String("backend", "", "Compute backend: local, lambda (default: from config)")

	// Backend shortcuts
	local := fs.Bool("local", false, "Use the local backend")
	lambda := fs.Bool("lambda", false, "Use the lambda backend")

	// Local backend settings
	streetwarpBin := fs.String("streetwarp-bin", "", "Compute backend binary (default: from config)")
	ffmpegBin := fs.String("ffmpeg-bin", "", "ffmpeg binary used to join chunks (default: from config)")
	optimizer := fs.Bool("optimizer", false, "Local binary supports the path optimizer")
	workDir := fs.String("work-dir", "", "Directory for per-job work dirs (default: OS temp dir)")

	// Job settings
	maxFrames := fs.Int("max-frames-per-chunk", -1, "Maximum frames rendered by one backend call (default: from config)")

	// Storage
	videoDir := fs.String("video-dir", "", "Directory for final videos (default: from config)")
	database := fs.String("database", "", "Metadata database path (default: from config)")

	// Behavioral flags
	verbose := fs.Bool("verbose", false, "Enable verbose logging")
	dryRun := fs.Bool("dry-run", false, "Show configuration without serving")
	writeConfig := fs.String("write-config", "", "With --dry-run, save the effective config to this path")

	// Parse flags
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	// Override with flag values (only if explicitly set)
	if *listen != "" {
		c.Listen = *listen
	}

	// Handle backend shortcuts
	if *local {
		c.Backend = BackendLocal
	} else if *lambda {
		c.Backend = BackendLambda
	} else if *backend != "" {
		c.Backend = *backend
	}

	if *streetwarpBin != "" {
		c.StreetwarpBin = *streetwarpBin
	}
	if *ffmpegBin != "" {
		c.FFmpegBin = *ffmpegBin
	}
	if *optimizer {
		c.UseOptimizer = true
	}
	if *workDir != "" {
		c.WorkDir = *workDir
	}

	// -1 means not set
	if *maxFrames >= 0 {
		c.MaxFramesPerChunk = *maxFrames
	}

	if *videoDir != "" {
		c.VideoDir = *videoDir
	}
	if *database != "" {
		c.DatabasePath = *database
	}

	if *verbose {
		c.Verbose = true
	}
	if *dryRun {
		c.DryRun = true
	}
	if *writeConfig != "" {
		c.WriteConfig = *writeConfig
	}

	return nil
}

// printUsage prints help text
func printUsage() {
	fmt.Fprintf(os.Stderr, `hyperlapse - Street view hyperlapse server

USAGE:
  hyperlapse [OPTIONS]

CONFIGURATION:
  -config string
        Path to config file (default: search ./hyperlapse.yaml, ~/.hyperlapse/config.yaml, /etc/hyperlapse/config.yaml)

SERVER:
  -listen string
        HTTP listen address (default: :4041)
  -backend string
        Compute backend: local, lambda (default: local)
  --local
        Use the local backend
  --lambda
        Use the lambda backend

LOCAL BACKEND:
  -streetwarp-bin string
        Compute backend binary (required for the local backend)
  -ffmpeg-bin string
        ffmpeg binary used to join chunk videos (default: ffmpeg)
  --optimizer
        The local binary was built with the path optimizer
  -work-dir string
        Directory for per-job work dirs (default: OS temp dir)

JOBS:
  -max-frames-per-chunk int
        Maximum frames rendered by one backend call (default: 600)

STORAGE:
  -video-dir string
        Directory for final videos (default: ./video)
  -database string
        Metadata database path (default: ./streetwarp.db)

BEHAVIORAL FLAGS:
  --verbose
        Enable verbose logging
  --dry-run
        Show effective configuration without serving
  -write-config string
        With --dry-run, save the effective configuration (API keys omitted) to this path

ENVIRONMENT:
  GOOGLE_API_KEY, MAPBOX_API_KEY             API keys (required)
  AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY,
  AWS_LAMBDA_REGION                          Select the lambda backend when all are set
  STREETWARP_BIN, FFMPEG_BIN, LISTEN_ADDR, VIDEO_DIR, DATABASE_PATH,
  MAX_FRAMES_PER_CHUNK, LAMBDA_FUNCTION, CALLBACK_ENDPOINT, COMPUTE_REGION
  A .env file in the working directory is loaded first.

EXAMPLES:
  # Local backend
  hyperlapse -streetwarp-bin ./streetwarp

  # Smaller chunks on the lambda backend
  hyperlapse --lambda -max-frames-per-chunk 300

  # Show effective configuration
  hyperlapse --dry-run

  # Save it for reuse with -config
  hyperlapse --lambda --dry-run -write-config ./hyperlapse.yaml

  Priority: CLI flags > Environment > Config file > Defaults

`)
}

// PrintConfig prints the effective configuration. API keys are masked.
func (c *Config) PrintConfig() {
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Println("                 Effective Configuration                  ")
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Printf("Listen:              %s\n", c.Listen)
	fmt.Printf("Backend:             %s\n", c.Backend)
	fmt.Printf("Max Frames/Chunk:    %d\n", c.MaxFramesPerChunk)
	fmt.Printf("Video Dir:           %s\n", c.VideoDir)
	fmt.Printf("Database:            %s\n", c.DatabasePath)
	fmt.Printf("Google API Key:      %s\n", mask(c.GoogleAPIKey))
	fmt.Printf("Mapbox API Key:      %s\n", mask(c.MapboxAPIKey))

	if c.Backend == BackendLocal {
		fmt.Println("\nLocal Backend:")
		fmt.Printf("  Binary:            %s\n", c.StreetwarpBin)
		fmt.Printf("  FFmpeg:            %s\n", c.FFmpegBin)
		fmt.Printf("  Optimizer:         %v\n", c.UseOptimizer)
		if c.WorkDir != "" {
			fmt.Printf("  Work Dir:          %s\n", c.WorkDir)
		}
	} else {
		fmt.Println("\nLambda Backend:")
		fmt.Printf("  Region:            %s\n", c.Lambda.Region)
		fmt.Printf("  Function:          %s\n", c.Lambda.FunctionName)
		fmt.Printf("  Callback:          %s\n", c.Lambda.CallbackEndpoint)
		fmt.Printf("  Compute Region:    %s\n", c.Lambda.ComputeRegion)
		fmt.Printf("  Timeout:           %s\n", c.Lambda.Timeout)
	}

	fmt.Println("\nBehavioral Flags:")
	fmt.Printf("  Verbose:           %v\n", c.Verbose)
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// mask hides all but the last 4 characters of a secret
func mask(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}
