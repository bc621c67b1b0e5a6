package models

import "fmt"

// ChunkSpan is a contiguous range of route frames processed by a single
// backend invocation.
type ChunkSpan struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// End returns the first frame after the span.
func (s ChunkSpan) End() int {
	return s.Offset + s.Length
}

// Validate checks if the ChunkSpan has valid data.
//
// Returns an error if:
//   - Offset is negative
//   - Length is zero or negative
func (s ChunkSpan) Validate() error {
	if s.Offset < 0 {
		return fmt.Errorf("offset must be non-negative, got %d", s.Offset)
	}
	if s.Length <= 0 {
		return fmt.Errorf("length must be greater than 0, got %d", s.Length)
	}
	return nil
}

// ChunkPlan is the ordered list of spans covering [0, TotalFrames).
//
// Plans are produced by the chunker package. Spans are stored in plan order,
// which is also the order results are merged in, regardless of which chunk
// finishes first.
type ChunkPlan struct {
	TotalFrames int         `json:"totalFrames"`
	Spans       []ChunkSpan `json:"spans"`
}

// Len returns the number of chunks in the plan.
func (p ChunkPlan) Len() int {
	return len(p.Spans)
}

// Indexed reports whether chunks of this plan carry a chunk index. Only split
// plans are indexed.
func (p ChunkPlan) Indexed() bool {
	return len(p.Spans) > 1
}

// KeyFor returns the job key for chunk i under the top-level key.
func (p ChunkPlan) KeyFor(key JobKey, i int) JobKey {
	if !p.Indexed() {
		return key.Base()
	}
	return key.WithIndex(i)
}
