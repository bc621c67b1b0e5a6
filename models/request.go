package models

import (
	"fmt"
	"strings"
)

// Extension is the format of an uploaded route
type Extension string

const (
	ExtensionJSON Extension = "json"
	ExtensionGPX  Extension = "gpx"
)

// IsValid checks if the extension is one the backend accepts
func (e Extension) IsValid() bool {
	return e == ExtensionJSON || e == ExtensionGPX
}

// Mode trades render speed for frame interpolation quality
type Mode string

const (
	ModeFast Mode = "fast"
	ModeMed  Mode = "med"
	ModeSlow Mode = "slow"
)

// Minterp maps a mode to the backend's motion interpolation setting
func (m Mode) Minterp() (string, error) {
	switch m {
	case ModeFast:
		return "skip", nil
	case ModeMed:
		return "fast", nil
	case ModeSlow:
		return "good", nil
	default:
		return "", fmt.Errorf("invalid mode '%s', must be one of: fast, med, slow", m)
	}
}

// RouteInput is the raw route uploaded by a client.
type RouteInput struct {
	Contents  string    `json:"contents"`
	Extension Extension `json:"extension"`
}

// Validate checks the route has contents and a supported extension
func (in RouteInput) Validate() error {
	if strings.TrimSpace(in.Contents) == "" {
		return fmt.Errorf("route contents cannot be empty")
	}
	if !in.Extension.IsValid() {
		return fmt.Errorf("invalid extension '%s', must be one of: json, gpx", in.Extension)
	}
	return nil
}

// FetchMetadataRequest asks for the frame plan of a route without rendering.
type FetchMetadataRequest struct {
	Input        RouteInput `json:"input"`
	FrameDensity float64    `json:"frameDensity"`
}

// Validate checks if the request is well formed
func (r FetchMetadataRequest) Validate() error {
	if err := r.Input.Validate(); err != nil {
		return err
	}
	if r.FrameDensity <= 0 {
		return fmt.Errorf("frame density must be positive, got %v", r.FrameDensity)
	}
	return nil
}

// BuildRequest asks for a full hyperlapse render.
//
// APIKey is the caller's own Google API key; renders are billed to the user,
// while metadata lookups use the server's key. Region is the placement
// requested for the final video and may be empty.
type BuildRequest struct {
	APIKey       string     `json:"apiKey"`
	FrameDensity float64    `json:"frameDensity"`
	Input        RouteInput `json:"input"`
	Mode         Mode       `json:"mode"`
	Optimize     bool       `json:"optimize"`
	Region       string     `json:"region,omitempty"`
}

// Validate checks if the request is well formed
func (r BuildRequest) Validate() error {
	var errors []string

	if strings.TrimSpace(r.APIKey) == "" {
		errors = append(errors, "api key is required")
	}
	if r.FrameDensity <= 0 {
		errors = append(errors, fmt.Sprintf("frame density must be positive, got %v", r.FrameDensity))
	}
	if err := r.Input.Validate(); err != nil {
		errors = append(errors, err.Error())
	}
	if _, err := r.Mode.Minterp(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("invalid build request: %s", strings.Join(errors, ", "))
	}
	return nil
}

// MetadataRequest returns the dry run needed before planning a build
func (r BuildRequest) MetadataRequest() FetchMetadataRequest {
	return FetchMetadataRequest{Input: r.Input, FrameDensity: r.FrameDensity}
}
