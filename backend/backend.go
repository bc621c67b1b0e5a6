// Package backend provides a uniform call contract over the compute backend,
// whether it runs as a local subprocess or as a remote function.
//
// Both strategies take a command-line style argument list plus the raw route
// contents and return a models.ChunkResult, or fail with an *InvocationError.
//
// Capability differences are explicit: only the local backend spawns
// processes that can be killed. A remote invocation, once sent, runs to
// completion or to the backend's own timeout. There is no cancel call.
package backend

import (
	"context"
	"fmt"
	"strings"

	"hyperlapse/models"
)

// Backend runs compute jobs and joins their video outputs.
type Backend interface {
	// Invoke runs one job to completion. Progress lines are delivered through
	// inv.OnProgress as they arrive.
	Invoke(ctx context.Context, inv Invocation) (*models.ChunkResult, error)

	// Join stitches ordered chunk videos into one final video.
	Join(ctx context.Context, req JoinRequest) (*models.ChunkResult, error)

	// Name identifies the backend in logs and metrics.
	Name() string

	// SupportsOptimizer reports whether the backend accepts path optimizer
	// arguments.
	SupportsOptimizer() bool
}

// Process is a running backend job that can be forcibly stopped.
type Process interface {
	Kill() error
}

// ProcessTracker takes ownership of processes spawned on behalf of a caller.
// The returned release func must be called once the process has exited.
type ProcessTracker interface {
	Acquire(p Process) (release func())
}

// Invocation describes a single backend job.
type Invocation struct {
	Key       models.JobKey
	Args      []string
	Contents  string
	Extension models.Extension

	// Build is true for render jobs, which produce a video. Dry runs only
	// produce metadata.
	Build        bool
	UseOptimizer bool
	UploadRegion string

	OnProgress models.ProgressSink
	Processes  ProcessTracker
}

// Validate checks the invocation can be dispatched
func (inv Invocation) Validate() error {
	if err := inv.Key.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(inv.Contents) == "" {
		return fmt.Errorf("route contents cannot be empty")
	}
	if !inv.Extension.IsValid() {
		return fmt.Errorf("invalid extension '%s'", inv.Extension)
	}
	return nil
}

// emit forwards ev to OnProgress when one is set
func (inv Invocation) emit(ev models.ProgressEvent) {
	if inv.OnProgress != nil {
		inv.OnProgress(ev)
	}
}

// JoinRequest asks the backend to concatenate chunk videos in order.
type JoinRequest struct {
	Key            models.JobKey
	VideoLocations []string
	UploadRegion   string

	OnProgress models.ProgressSink
	Processes  ProcessTracker
}

// Validate checks the join has something to join
func (req JoinRequest) Validate() error {
	if err := req.Key.Validate(); err != nil {
		return err
	}
	if len(req.VideoLocations) < 2 {
		return fmt.Errorf("join needs at least 2 videos, got %d", len(req.VideoLocations))
	}
	for i, loc := range req.VideoLocations {
		if strings.TrimSpace(loc) == "" {
			return fmt.Errorf("video location %d is empty", i)
		}
	}
	return nil
}

// InvocationError reports a failed backend call: a non-zero exit, an
// explicit error from the backend, a failed transport call, or a terminal
// response that is missing or cannot be parsed.
type InvocationError struct {
	Op       string // "invoke" or "join"
	Key      models.JobKey
	ExitCode int    // -1 when no process exit status applies
	Stderr   string // tail of captured stderr, local mode only
	Reason   string
	Err      error
}

func (e *InvocationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backend %s %s failed: %s", e.Op, e.Key, e.Reason)
	if e.ExitCode > 0 {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// maxStderrTail bounds the stderr kept on an InvocationError
const maxStderrTail = 4096

func stderrTail(s string) string {
	if len(s) <= maxStderrTail {
		return s
	}
	return s[len(s)-maxStderrTail:]
}
