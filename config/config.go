package config

import "time"

// Config holds all server configuration options
type Config struct {
	// Server settings
	Listen  string `yaml:"listen"`  // HTTP listen address
	Backend string `yaml:"backend"` // "local" or "lambda"

	// Local backend settings
	StreetwarpBin string `yaml:"streetwarp_bin"` // compute backend binary
	FFmpegBin     string `yaml:"ffmpeg_bin"`     // used to join chunk videos
	UseOptimizer  bool   `yaml:"use_optimizer"`  // binary was built with the path optimizer
	WorkDir       string `yaml:"work_dir"`       // empty = OS temp dir

	// Job settings
	MaxFramesPerChunk int `yaml:"max_frames_per_chunk"`

	// Storage
	VideoDir     string `yaml:"video_dir"`     // final videos from the local backend
	DatabasePath string `yaml:"database_path"` // sqlite metadata store

	// API keys
	GoogleAPIKey string `yaml:"google_api_key"`
	MapboxAPIKey string `yaml:"mapbox_api_key"`

	// Remote backend settings
	Lambda LambdaConfig `yaml:"lambda"`

	// Public URL rewrite for remote videos
	PublicURL PublicURLConfig `yaml:"public_url"`

	// Behavioral flags
	Verbose bool `yaml:"verbose"` // Development logging
	DryRun  bool `yaml:"dry_run"` // Show config without serving

	// WriteConfig is where a dry run saves the effective config, if set
	WriteConfig string `yaml:"-"`
}

// LambdaConfig holds remote backend settings
type LambdaConfig struct {
	Region           string        `yaml:"region"`            // region the function runs in
	FunctionName     string        `yaml:"function_name"`     // e.g., "streetwarp"
	CallbackEndpoint string        `yaml:"callback_endpoint"` // progress channel URL handed to the function
	ComputeRegion    string        `yaml:"compute_region"`    // upload region for intermediate chunks
	Timeout          time.Duration `yaml:"timeout"`           // whole invoke call, e.g., "15m"
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`   // e.g., "1m"
}

// PublicURLConfig rewrites the host of remote video URLs handed to clients
type PublicURLConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

const (
	BackendLocal  = "local"
	BackendLambda = "lambda"
)

// DefaultConfig returns configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listen:  ":4041",
		Backend: BackendLocal,

		StreetwarpBin: "",
		FFmpegBin:     "ffmpeg",
		UseOptimizer:  false,
		WorkDir:       "",

		MaxFramesPerChunk: 600,

		VideoDir:     "./video",
		DatabasePath: "./streetwarp.db",

		Lambda: LambdaConfig{
			Region:           "",
			FunctionName:     "streetwarp",
			CallbackEndpoint: "https://streetwarp.ml/progress-connection",
			ComputeRegion:    "us-west-2",
			Timeout:          15 * time.Minute,
			ConnectTimeout:   time.Minute,
		},

		PublicURL: PublicURLConfig{
			From: "https://streetwarpstorage.blob.core.windows.net",
			To:   "https://streetwarpvideo.azureedge.net",
		},

		Verbose: false,
		DryRun:  false,
	}
}

// Copy creates a deep copy of the config
func (c *Config) Copy() *Config {
	copy := *c
	copy.Lambda = c.Lambda
	copy.PublicURL = c.PublicURL
	return &copy
}

// BackendValues returns valid backend values
func BackendValues() []string {
	return []string{BackendLocal, BackendLambda}
}

// IsValidBackend checks if backend is valid
func IsValidBackend(backend string) bool {
	for _, valid := range BackendValues() {
		if backend == valid {
			return true
		}
	}
	return false
}
