package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"hyperlapse/backend"
	"hyperlapse/models"
	"hyperlapse/progress"
)

// fakeBackend simulates the compute backend. Chunk results carry one gps
// point per frame with Lat set to the frame number, so merged output shows
// which chunk each point came from.
type fakeBackend struct {
	mu sync.Mutex

	router    *progress.Router
	frames    int
	delays    map[int]time.Duration
	failIndex int
	joinErr   error
	optimizer bool

	// localDir makes the backend write video files there instead of
	// returning remote URLs
	localDir string

	invocations  []backend.Invocation
	joins        []backend.JoinRequest
	unregistered int
}

func newFakeBackend(router *progress.Router, frames int) *fakeBackend {
	return &fakeBackend{
		router:    router,
		frames:    frames,
		delays:    map[int]time.Duration{},
		failIndex: -1,
	}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) SupportsOptimizer() bool { return f.optimizer }

func (f *fakeBackend) Invoke(ctx context.Context, inv backend.Invocation) (*models.ChunkResult, error) {
	f.mu.Lock()
	f.invocations = append(f.invocations, inv)
	if !f.router.Registered(inv.Key) {
		f.unregistered++
	}
	f.mu.Unlock()

	if inv.OnProgress != nil {
		inv.OnProgress(models.ProgressEvent{Type: models.ProgressStage, Stage: "Rendering"})
	}

	if !inv.Build {
		return &models.ChunkResult{Metadata: &models.RouteMetadata{
			Frames:    f.frames,
			Distance:  1000,
			GPSPoints: points(0, f.frames),
		}}, nil
	}

	index := 0
	if inv.Key.Split {
		index = inv.Key.Index
	}
	time.Sleep(f.delays[index])

	if index == f.failIndex {
		return nil, &backend.InvocationError{Op: "invoke", Key: inv.Key, ExitCode: 1, Reason: "simulated failure"}
	}

	offset := argValue(inv.Args, "--frame-offset")
	count := argValue(inv.Args, "--frame-count")

	location, err := f.output(inv.Key.String())
	if err != nil {
		return nil, err
	}

	return &models.ChunkResult{
		Metadata: &models.RouteMetadata{
			Frames:       count,
			Distance:     float64(100 * (index + 1)),
			AverageError: float64(index),
			GPSPoints:    points(offset, count),
		},
		VideoLocation: location,
	}, nil
}

func (f *fakeBackend) Join(ctx context.Context, req backend.JoinRequest) (*models.ChunkResult, error) {
	f.mu.Lock()
	f.joins = append(f.joins, req)
	if !f.router.Registered(req.Key) {
		f.unregistered++
	}
	f.mu.Unlock()

	if req.OnProgress != nil {
		req.OnProgress(models.ProgressEvent{Type: models.ProgressStage, Stage: "Joining videos"})
	}
	if f.joinErr != nil {
		return nil, f.joinErr
	}

	location, err := f.output(req.Key.ID + "-joined")
	if err != nil {
		return nil, err
	}
	return &models.ChunkResult{VideoLocation: location}, nil
}

func (f *fakeBackend) output(name string) (string, error) {
	if f.localDir == "" {
		return "https://blob.example.com/" + name + ".mp4", nil
	}
	path := filepath.Join(f.localDir, name+".mp4")
	if err := os.WriteFile(path, []byte(name), 0644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeBackend) buildInvocations() []backend.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []backend.Invocation
	for _, inv := range f.invocations {
		if inv.Build {
			out = append(out, inv)
		}
	}
	return out
}

func points(offset, count int) []models.LatLng {
	out := make([]models.LatLng, count)
	for i := range out {
		out[i] = models.LatLng{Lat: float64(offset + i)}
	}
	return out
}

func argValue(args []string, flag string) int {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			n, _ := strconv.Atoi(args[i+1])
			return n
		}
	}
	return 0
}

// fakeOwner stands in for a client connection.
type fakeOwner struct {
	mu       sync.Mutex
	router   *progress.Router
	next     int
	events   []models.ProgressEvent
	acquired int
	released int
}

func (o *fakeOwner) NewJobKey() (models.JobKey, func()) {
	o.mu.Lock()
	o.next++
	key := models.JobKey{ID: fmt.Sprintf("job%05d", o.next)}
	o.mu.Unlock()

	return key, func() {
		o.mu.Lock()
		o.released++
		o.mu.Unlock()
		o.router.Purge(key.ID)
	}
}

func (o *fakeOwner) Acquire(p backend.Process) func() {
	o.mu.Lock()
	o.acquired++
	o.mu.Unlock()
	return func() {}
}

func (o *fakeOwner) Progress(ev models.ProgressEvent) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

func (o *fakeOwner) progress() []models.ProgressEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.ProgressEvent(nil), o.events...)
}

// fakeStore keeps metadata in memory
type fakeStore struct {
	mu   sync.Mutex
	data map[string]*models.RouteMetadata
}

var errNotFound = errors.New("not found")

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]*models.RouteMetadata{}}
}

func (s *fakeStore) SaveMetadata(ctx context.Context, key string, meta *models.RouteMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = meta
	return nil
}

func (s *fakeStore) GetMetadata(ctx context.Context, key string) (*models.RouteMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.data[key]
	if !ok {
		return nil, errNotFound
	}
	return meta, nil
}
