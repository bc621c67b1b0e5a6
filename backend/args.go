package backend

import (
	"fmt"
	"strconv"
	"strings"

	"hyperlapse/models"
)

// ArgsBuilder assembles the compute backend's command line.
//
// The route input path is not part of the built arguments; the local backend
// prepends it and the remote backend receives the contents separately.
//
// Example:
//
//	args, err := backend.NewArgsBuilder(apiKey, 10).
//		SetBuild(models.ModeMed).
//		SetFrameRange(models.ChunkSpan{Offset: 503, Length: 502}).
//		BuildArgs()
type ArgsBuilder struct {
	apiKey       string
	frameDensity float64

	build bool
	mode  models.Mode

	span      *models.ChunkSpan
	optimize  bool
	extraArgs []string
}

// NewArgsBuilder creates a builder for a dry run with the given API key and
// frames-per-mile density
func NewArgsBuilder(apiKey string, frameDensity float64) *ArgsBuilder {
	return &ArgsBuilder{
		apiKey:       apiKey,
		frameDensity: frameDensity,
		extraArgs:    []string{},
	}
}

// SetBuild switches the builder to a full render at the given quality mode
func (b *ArgsBuilder) SetBuild(mode models.Mode) *ArgsBuilder {
	b.build = true
	b.mode = mode
	return b
}

// SetFrameRange limits the job to one chunk of the route
func (b *ArgsBuilder) SetFrameRange(span models.ChunkSpan) *ArgsBuilder {
	b.span = &span
	return b
}

// SetOptimize enables the backend's path optimizer
func (b *ArgsBuilder) SetOptimize(optimize bool) *ArgsBuilder {
	b.optimize = optimize
	return b
}

// AddExtraArgs appends raw arguments after the generated ones
func (b *ArgsBuilder) AddExtraArgs(args ...string) *ArgsBuilder {
	b.extraArgs = append(b.extraArgs, args...)
	return b
}

// BuildArgs validates the settings and returns the argument list
func (b *ArgsBuilder) BuildArgs() ([]string, error) {
	if strings.TrimSpace(b.apiKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if b.frameDensity <= 0 {
		return nil, fmt.Errorf("frame density must be positive, got %v", b.frameDensity)
	}

	args := []string{
		"--progress",
		"--api-key", b.apiKey,
	}
	if !b.build {
		args = append(args, "--dry-run")
	}
	args = append(args,
		"--frames-per-mile", strconv.FormatFloat(b.frameDensity, 'f', -1, 64),
		"--json",
	)

	if b.build {
		minterp, err := b.mode.Minterp()
		if err != nil {
			return nil, err
		}
		args = append(args, "--print-metadata", "--minterp", minterp)
	}

	if b.span != nil {
		if err := b.span.Validate(); err != nil {
			return nil, fmt.Errorf("invalid frame range: %w", err)
		}
		args = append(args,
			"--frame-offset", strconv.Itoa(b.span.Offset),
			"--frame-count", strconv.Itoa(b.span.Length),
		)
	}

	if b.optimize {
		args = append(args, "--optimize")
	}

	return append(args, b.extraArgs...), nil
}
