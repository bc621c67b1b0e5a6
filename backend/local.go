package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"hyperlapse/concatenator"
	"hyperlapse/internal/fsutil"
	"hyperlapse/models"
)

const (
	// LocalOutputName is the file the backend renders into inside a work dir
	LocalOutputName = "streetwarp.mp4"

	// LocalJoinName is the joined video inside the top-level work dir
	LocalJoinName = "joined.mp4"
)

// LocalBackend runs the compute backend as a subprocess.
//
// Every invocation gets its own work dir named after the job key. Rendered
// videos stay in the work dir; the caller is responsible for moving the
// final one somewhere permanent.
type LocalBackend struct {
	bin       string
	workRoot  string
	optimizer bool

	concat *concatenator.Concatenator
	reader *StreamReader
	logger *zap.Logger
}

// NewLocalBackend creates a backend running bin, joining chunks with concat
func NewLocalBackend(bin string, concat *concatenator.Concatenator, logger *zap.Logger) *LocalBackend {
	return &LocalBackend{
		bin:    bin,
		concat: concat,
		reader: NewStreamReader(logger),
		logger: logger,
	}
}

// SetWorkRoot sets the directory work dirs are created in (default: OS temp dir)
func (b *LocalBackend) SetWorkRoot(root string) *LocalBackend {
	b.workRoot = root
	return b
}

// SetOptimizer declares whether the local binary was built with the path optimizer
func (b *LocalBackend) SetOptimizer(enabled bool) *LocalBackend {
	b.optimizer = enabled
	return b
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) SupportsOptimizer() bool { return b.optimizer }

// WorkDirName returns the work dir name for key
func WorkDirName(key models.JobKey) string {
	if !key.Split {
		return "streetwarp-" + key.ID
	}
	return fmt.Sprintf("streetwarp-%s-%d", key.ID, key.Index)
}

// Invoke writes the route to a fresh work dir and runs the backend on it.
func (b *LocalBackend) Invoke(ctx context.Context, inv Invocation) (*models.ChunkResult, error) {
	if err := inv.Validate(); err != nil {
		return nil, &InvocationError{Op: "invoke", Key: inv.Key, ExitCode: -1, Reason: "invalid invocation", Err: err}
	}

	dir, err := fsutil.PrepareWorkDir(b.workRoot, WorkDirName(inv.Key))
	if err != nil {
		return nil, &InvocationError{Op: "invoke", Key: inv.Key, ExitCode: -1, Reason: "work dir", Err: err}
	}

	inputPath := filepath.Join(dir, "track."+string(inv.Extension))
	if err := os.WriteFile(inputPath, []byte(inv.Contents), 0644); err != nil {
		return nil, &InvocationError{Op: "invoke", Key: inv.Key, ExitCode: -1, Reason: "write input", Err: err}
	}

	args := append([]string{inputPath}, inv.Args...)
	var outputPath string
	if inv.Build {
		outputPath = filepath.Join(dir, LocalOutputName)
		args = append(args, "--output-dir", dir, "--output", outputPath)
	}

	if inv.UploadRegion != "" {
		b.logger.Debug("local backend ignores upload region",
			zap.Stringer("key", inv.Key),
			zap.String("region", inv.UploadRegion))
	}

	terminal, err := b.run(ctx, inv, args)
	if err != nil {
		return nil, err
	}

	meta, err := b.decodeTerminal(inv.Key, terminal)
	if err != nil {
		return nil, err
	}

	if inv.Build {
		if _, err := os.Stat(outputPath); err != nil {
			return nil, &InvocationError{Op: "invoke", Key: inv.Key, ExitCode: -1, Reason: "backend produced no video", Err: err}
		}
	}

	return &models.ChunkResult{Metadata: meta, VideoLocation: outputPath}, nil
}

// Join concatenates local chunk videos into the top-level work dir.
func (b *LocalBackend) Join(ctx context.Context, req JoinRequest) (*models.ChunkResult, error) {
	if err := req.Validate(); err != nil {
		return nil, &InvocationError{Op: "join", Key: req.Key, ExitCode: -1, Reason: "invalid join", Err: err}
	}

	if req.OnProgress != nil {
		req.OnProgress(models.ProgressEvent{Type: models.ProgressStage, Stage: "Joining videos"})
	}

	out := filepath.Join(b.workDir(req.Key.Base()), LocalJoinName)
	if err := b.concat.Concatenate(ctx, req.VideoLocations, out); err != nil {
		return nil, &InvocationError{Op: "join", Key: req.Key, ExitCode: -1, Reason: "concat", Err: err}
	}

	return &models.ChunkResult{VideoLocation: out}, nil
}

func (b *LocalBackend) workDir(key models.JobKey) string {
	root := b.workRoot
	if root == "" {
		root = os.TempDir()
	}
	return filepath.Join(root, WorkDirName(key))
}

// run spawns the backend, streams its output and waits for it to exit.
func (b *LocalBackend) run(ctx context.Context, inv Invocation, args []string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, &InvocationError{Op: "invoke", Key: inv.Key, ExitCode: -1, Reason: "not started", Err: err}
	}

	b.logger.Info("starting backend",
		zap.Stringer("key", inv.Key),
		zap.String("bin", b.bin),
		zap.Strings("args", redactArgs(args)))

	// Cancellation is by Kill through the process tracker only
	cmd := exec.Command(b.bin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &InvocationError{Op: "invoke", Key: inv.Key, ExitCode: -1, Reason: "stdout pipe", Err: err}
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &InvocationError{Op: "invoke", Key: inv.Key, ExitCode: -1, Reason: "start", Err: err}
	}

	if inv.Processes != nil {
		release := inv.Processes.Acquire(&osProcess{p: cmd.Process})
		defer release()
	}

	streamed, readErr := b.reader.Read(stdout, inv.emit)
	if readErr != nil {
		// Nothing reads the pipe any more, so the backend would block on
		// its next write and Wait would never return
		if err := cmd.Process.Kill(); err != nil {
			b.logger.Debug("failed to kill backend", zap.Stringer("key", inv.Key), zap.Error(err))
		}
		_, _ = io.Copy(io.Discard, stdout)
		_ = cmd.Wait()

		b.logger.Error("backend output unreadable",
			zap.Stringer("key", inv.Key),
			zap.Error(readErr))
		return nil, &InvocationError{Op: "invoke", Key: inv.Key, ExitCode: -1, Stderr: stderrTail(stderr.String()), Reason: "read output", Err: readErr}
	}

	waitErr := cmd.Wait()

	if waitErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		b.logger.Error("backend failed",
			zap.Stringer("key", inv.Key),
			zap.Int("exit_code", exitCode),
			zap.String("stderr", stderrTail(stderr.String())))
		return nil, &InvocationError{
			Op:       "invoke",
			Key:      inv.Key,
			ExitCode: exitCode,
			Stderr:   stderrTail(stderr.String()),
			Reason:   "backend exited with an error",
			Err:      waitErr,
		}
	}
	if streamed.Terminal == nil {
		return nil, &InvocationError{Op: "invoke", Key: inv.Key, ExitCode: -1, Stderr: stderrTail(stderr.String()), Reason: "backend printed no result"}
	}

	b.logger.Info("backend finished",
		zap.Stringer("key", inv.Key),
		zap.Int("progress_lines", streamed.ProgressLines),
		zap.Int("skipped_lines", streamed.SkippedLines))

	return streamed.Terminal, nil
}

func (b *LocalBackend) decodeTerminal(key models.JobKey, raw json.RawMessage) (*models.RouteMetadata, error) {
	var wrapped remoteResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Error != nil {
		return nil, &InvocationError{Op: "invoke", Key: key, ExitCode: -1, Reason: "backend reported an error", Err: errors.New(*wrapped.Error)}
	}

	meta, err := decodeMetadata(raw)
	if err != nil {
		return nil, &InvocationError{Op: "invoke", Key: key, ExitCode: -1, Reason: "unparsable result", Err: err}
	}
	return meta, nil
}

// osProcess adapts a spawned process to Process. Kill sends SIGKILL.
type osProcess struct {
	p *os.Process
}

func (o *osProcess) Kill() error {
	return o.p.Kill()
}

// redactArgs hides the API key from logs
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--api-key" {
			out[i+1] = strings.Repeat("*", 8)
		}
	}
	return out
}
