package models

import (
	"fmt"
	"strings"
)

// ChunkResult is the outcome of one successful backend invocation.
//
// VideoLocation is a local path or a remote URL. It is empty only for
// metadata-only (dry run) calls, and for those Metadata must be set.
type ChunkResult struct {
	Metadata      *RouteMetadata `json:"metadata,omitempty"`
	VideoLocation string         `json:"videoLocation,omitempty"`
}

// HasVideo reports whether the result points at a rendered video.
func (r *ChunkResult) HasVideo() bool {
	return strings.TrimSpace(r.VideoLocation) != ""
}

// Validate checks that the result carries something usable.
//
// Returns an error if neither metadata nor a video location is present.
func (r *ChunkResult) Validate() error {
	if r.Metadata == nil && !r.HasVideo() {
		return fmt.Errorf("result has neither metadata nor a video location")
	}
	return nil
}
