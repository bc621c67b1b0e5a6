// Package concatenator joins rendered chunk videos into one file with
// ffmpeg's concat demuxer.
package concatenator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// DefaultFFmpegBin is used when no ffmpeg path is configured
const DefaultFFmpegBin = "ffmpeg"

// Concatenator handles merging rendered chunks into a final output file
type Concatenator struct {
	ffmpegBin string
	logger    *zap.Logger
}

// NewConcatenator creates a new concatenator
func NewConcatenator(logger *zap.Logger) *Concatenator {
	return &Concatenator{
		ffmpegBin: DefaultFFmpegBin,
		logger:    logger,
	}
}

// SetFFmpegBin sets the ffmpeg executable
func (c *Concatenator) SetFFmpegBin(bin string) *Concatenator {
	if bin != "" {
		c.ffmpegBin = bin
	}
	return c
}

// Concatenate merges chunkPaths, in the given order, into finalOutputPath.
// Every input must exist; a missing chunk fails the whole join.
func (c *Concatenator) Concatenate(ctx context.Context, chunkPaths []string, finalOutputPath string) error {
	if err := c.validateInputs(chunkPaths); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(finalOutputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Create concat file for ffmpeg
	concatFilePath, err := c.createConcatFile(chunkPaths, filepath.Dir(finalOutputPath))
	if err != nil {
		return fmt.Errorf("failed to create concat file: %w", err)
	}
	defer os.Remove(concatFilePath)

	c.logger.Info("concatenating chunks",
		zap.Int("chunks", len(chunkPaths)),
		zap.String("output", finalOutputPath))

	if err := c.runConcat(ctx, concatFilePath, finalOutputPath); err != nil {
		return fmt.Errorf("ffmpeg concat failed: %w", err)
	}

	return nil
}

// validateInputs checks that there is something to join and that every chunk exists
func (c *Concatenator) validateInputs(chunkPaths []string) error {
	if len(chunkPaths) == 0 {
		return fmt.Errorf("no chunks provided")
	}

	var missing []int
	for i, path := range chunkPaths {
		if strings.TrimSpace(path) == "" {
			missing = append(missing, i)
			continue
		}
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, i)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing chunks: %v", missing)
	}

	return nil
}

// createConcatFile creates a text file listing all chunk paths for ffmpeg concat demuxer
// Format: file '/path/to/chunk1.mp4'
//
//	file '/path/to/chunk2.mp4'
func (c *Concatenator) createConcatFile(chunkPaths []string, dir string) (string, error) {
	tmpFile, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer tmpFile.Close()

	for _, path := range chunkPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path for %s: %w", path, err)
		}

		// Escape single quotes in path (replace ' with '\''  for shell)
		escapedPath := strings.ReplaceAll(absPath, "'", "'\\''")

		line := fmt.Sprintf("file '%s'\n", escapedPath)
		if _, err := tmpFile.WriteString(line); err != nil {
			return "", fmt.Errorf("failed to write to concat file: %w", err)
		}
	}

	return tmpFile.Name(), nil
}

// buildArgs returns the ffmpeg arguments for a stream-copy concat
func (c *Concatenator) buildArgs(concatFilePath, outputPath string) []string {
	return []string{
		"-f", "concat",
		"-safe", "0",
		"-i", concatFilePath,
		"-c", "copy", // Copy without re-encoding
		"-y", // Overwrite output file
		outputPath,
	}
}

// runConcat executes ffmpeg concat operation
func (c *Concatenator) runConcat(ctx context.Context, concatFilePath, outputPath string) error {
	cmd := exec.CommandContext(ctx, c.ffmpegBin, c.buildArgs(concatFilePath, outputPath)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		c.logger.Error("ffmpeg concat failed", zap.String("stderr", stderr.String()), zap.Error(err))
		return fmt.Errorf("ffmpeg error: %w\nOutput: %s", err, stderr.String())
	}

	// Verify output file was created
	if _, err := os.Stat(outputPath); err != nil {
		return fmt.Errorf("output file not created: %w", err)
	}

	return nil
}
