package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables already set are kept. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// MergeFromEnv overrides config values with environment variables that are set.
//
// The lambda backend is selected when AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY
// and AWS_LAMBDA_REGION are all present.
func (c *Config) MergeFromEnv() {
	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	setString("LISTEN_ADDR", &c.Listen)
	setString("STREETWARP_BIN", &c.StreetwarpBin)
	setString("FFMPEG_BIN", &c.FFmpegBin)
	setString("VIDEO_DIR", &c.VideoDir)
	setString("DATABASE_PATH", &c.DatabasePath)
	setString("GOOGLE_API_KEY", &c.GoogleAPIKey)
	setString("MAPBOX_API_KEY", &c.MapboxAPIKey)
	setString("LAMBDA_FUNCTION", &c.Lambda.FunctionName)
	setString("CALLBACK_ENDPOINT", &c.Lambda.CallbackEndpoint)
	setString("COMPUTE_REGION", &c.Lambda.ComputeRegion)

	if v := os.Getenv("MAX_FRAMES_PER_CHUNK"); v != "" {
		// Unparsable values are left for Validate to report
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxFramesPerChunk = n
		} else {
			c.MaxFramesPerChunk = -1
		}
	}

	region := os.Getenv("AWS_LAMBDA_REGION")
	if region != "" {
		c.Lambda.Region = region
	}
	if os.Getenv("AWS_ACCESS_KEY_ID") != "" && os.Getenv("AWS_SECRET_ACCESS_KEY") != "" && region != "" {
		c.Backend = BackendLambda
	}
}
