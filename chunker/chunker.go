package chunker

import (
	"fmt"

	"hyperlapse/models"
)

const (
	// DefaultMaxFramesPerChunk is the default frame limit for one backend invocation
	DefaultMaxFramesPerChunk = 600

	// MaxFramesPerChunkLimit is the largest accepted frame limit
	MaxFramesPerChunkLimit = 100000
)

// PlanError reports a request that cannot be planned.
type PlanError struct {
	TotalFrames       int
	MaxFramesPerChunk int
	Reason            string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("cannot plan %d frames with limit %d: %s", e.TotalFrames, e.MaxFramesPerChunk, e.Reason)
}

// Chunker splits routes into bounded-size chunks for parallel rendering
type Chunker struct {
	maxFramesPerChunk int
}

// NewChunker creates a new Chunker with default settings
func NewChunker() *Chunker {
	return &Chunker{maxFramesPerChunk: DefaultMaxFramesPerChunk}
}

// SetMaxFramesPerChunk sets the frame limit for a single chunk
func (c *Chunker) SetMaxFramesPerChunk(limit int) *Chunker {
	c.maxFramesPerChunk = limit
	return c
}

// MaxFramesPerChunk returns the configured frame limit
func (c *Chunker) MaxFramesPerChunk() int {
	return c.maxFramesPerChunk
}

// CreatePlan plans totalFrames with the configured limit and validates the result
func (c *Chunker) CreatePlan(totalFrames int) (models.ChunkPlan, error) {
	if c.maxFramesPerChunk > MaxFramesPerChunkLimit {
		return models.ChunkPlan{}, &PlanError{
			TotalFrames:       totalFrames,
			MaxFramesPerChunk: c.maxFramesPerChunk,
			Reason:            fmt.Sprintf("limit cannot exceed %d", MaxFramesPerChunkLimit),
		}
	}

	plan, err := Plan(totalFrames, c.maxFramesPerChunk)
	if err != nil {
		return models.ChunkPlan{}, err
	}

	if err := ValidatePlan(plan); err != nil {
		return models.ChunkPlan{}, fmt.Errorf("invalid plan: %w", err)
	}
	return plan, nil
}

// Plan computes the chunk layout for a route of totalFrames frames.
//
// The number of chunks is ceil(totalFrames / maxFramesPerChunk). Frames are
// then spread evenly: the first totalFrames%chunkCount chunks get
// ceil(totalFrames / chunkCount) frames and the rest get one frame less. Chunk
// sizes never differ by more than one frame, so there is no small tail chunk.
//
// Example:
//
//	plan, _ := chunker.Plan(1005, 600)
//	// plan.Spans == [{0 503} {503 502}]
func Plan(totalFrames, maxFramesPerChunk int) (models.ChunkPlan, error) {
	if totalFrames <= 0 {
		return models.ChunkPlan{}, &PlanError{totalFrames, maxFramesPerChunk, "frame count must be positive"}
	}
	if maxFramesPerChunk <= 0 {
		return models.ChunkPlan{}, &PlanError{totalFrames, maxFramesPerChunk, "chunk limit must be positive"}
	}

	// Ceiling division
	workerCount := (totalFrames + maxFramesPerChunk - 1) / maxFramesPerChunk
	base := totalFrames / workerCount
	longer := totalFrames % workerCount

	spans := make([]models.ChunkSpan, 0, workerCount)
	offset := 0
	for i := 0; i < workerCount; i++ {
		length := base
		if i < longer {
			length++
		}
		spans = append(spans, models.ChunkSpan{Offset: offset, Length: length})
		offset += length
	}

	return models.ChunkPlan{TotalFrames: totalFrames, Spans: spans}, nil
}

// ValidatePlan validates a plan for completeness and correctness
func ValidatePlan(plan models.ChunkPlan) error {
	if len(plan.Spans) == 0 {
		return fmt.Errorf("plan is empty")
	}

	// Validate each span individually
	for i, span := range plan.Spans {
		if err := span.Validate(); err != nil {
			return fmt.Errorf("chunk %d is invalid: %w", i, err)
		}
	}

	if plan.Spans[0].Offset != 0 {
		return fmt.Errorf("plan starts at frame %d, expected 0", plan.Spans[0].Offset)
	}

	// Check for gaps and overlaps
	for i := 0; i < len(plan.Spans)-1; i++ {
		currentEnd := plan.Spans[i].End()
		nextStart := plan.Spans[i+1].Offset

		if currentEnd > nextStart {
			return fmt.Errorf("chunks %d and %d overlap: chunk %d ends at frame %d, chunk %d starts at frame %d",
				i, i+1, i, currentEnd, i+1, nextStart)
		}
		if currentEnd < nextStart {
			return fmt.Errorf("gap between chunks %d and %d: chunk %d ends at frame %d, chunk %d starts at frame %d",
				i, i+1, i, currentEnd, i+1, nextStart)
		}
	}

	last := plan.Spans[len(plan.Spans)-1]
	if last.End() != plan.TotalFrames {
		return fmt.Errorf("plan ends at frame %d, expected %d", last.End(), plan.TotalFrames)
	}

	// Near-equal sizes
	shortest, longest := plan.Spans[0].Length, plan.Spans[0].Length
	for _, span := range plan.Spans[1:] {
		shortest = min(shortest, span.Length)
		longest = max(longest, span.Length)
	}
	if longest-shortest > 1 {
		return fmt.Errorf("chunk sizes differ by %d frames, expected at most 1", longest-shortest)
	}

	return nil
}
