package orchestrator

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"hyperlapse/backend"
	"hyperlapse/chunker"
	"hyperlapse/metrics"
	"hyperlapse/models"
	"hyperlapse/progress"
)

func testBuildRequest() models.BuildRequest {
	return models.BuildRequest{
		APIKey:       "user-key",
		FrameDensity: 10,
		Input:        models.RouteInput{Contents: `[{"lat":1,"lng":2}]`, Extension: models.ExtensionJSON},
		Mode:         models.ModeMed,
		Region:       "eu-west-1",
	}
}

func newTestDispatcher(t *testing.T, frames int) (*Dispatcher, *fakeBackend, *progress.Router, *fakeOwner) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	m := metrics.NewUnregistered()
	router := progress.NewRouter(logger, m)
	fake := newFakeBackend(router, frames)
	return NewDispatcher(fake, router, logger, m), fake, router, &fakeOwner{router: router}
}

func mustPlan(t *testing.T, total, limit int) models.ChunkPlan {
	t.Helper()
	plan, err := chunker.Plan(total, limit)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	return plan
}

func TestDispatch_ResultsInPlanOrder(t *testing.T) {
	d, fake, router, owner := newTestDispatcher(t, 0)

	// Earlier chunks finish last
	fake.delays[0] = 60 * time.Millisecond
	fake.delays[1] = 30 * time.Millisecond

	plan := mustPlan(t, 9, 3)
	results, err := d.Dispatch(context.Background(), models.JobKey{ID: "abcd1234"}, plan, testBuildRequest(), owner)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		first := int(r.Metadata.GPSPoints[0].Lat)
		if first != plan.Spans[i].Offset {
			t.Errorf("Result %d: expected first frame %d, got %d", i, plan.Spans[i].Offset, first)
		}
	}

	if router.Len() != 0 {
		t.Errorf("Expected no registrations after dispatch, got %d", router.Len())
	}
	if fake.unregistered != 0 {
		t.Errorf("Expected every chunk key registered during its call, %d were not", fake.unregistered)
	}
}

func TestDispatch_ChunkArgs(t *testing.T) {
	d, fake, _, owner := newTestDispatcher(t, 0)

	plan := mustPlan(t, 1005, 600)
	if _, err := d.Dispatch(context.Background(), models.JobKey{ID: "abcd1234"}, plan, testBuildRequest(), owner); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	invs := fake.buildInvocations()
	if len(invs) != 2 {
		t.Fatalf("Expected 2 invocations, got %d", len(invs))
	}
	for _, inv := range invs {
		i := inv.Key.Index
		if !inv.Key.Split {
			t.Errorf("Expected split key, got %s", inv.Key)
		}
		if argValue(inv.Args, "--frame-offset") != plan.Spans[i].Offset {
			t.Errorf("Chunk %d: unexpected frame offset in %v", i, inv.Args)
		}
		if argValue(inv.Args, "--frame-count") != plan.Spans[i].Length {
			t.Errorf("Chunk %d: unexpected frame count in %v", i, inv.Args)
		}
		if !slices.Contains(inv.Args, "user-key") {
			t.Errorf("Chunk %d: expected the user's api key in args", i)
		}
		if inv.Processes == nil {
			t.Errorf("Chunk %d: expected a process tracker", i)
		}
	}
}

func TestDispatch_RegionPolicy(t *testing.T) {
	tests := []struct {
		name     string
		frames   int
		expected string
	}{
		{name: "split plan uses compute region", frames: 1005, expected: "us-east-2"},
		{name: "single chunk uses user region", frames: 400, expected: "eu-west-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, fake, _, owner := newTestDispatcher(t, 0)
			d.SetComputeRegion("us-east-2")

			plan := mustPlan(t, tt.frames, 600)
			if _, err := d.Dispatch(context.Background(), models.JobKey{ID: "abcd1234"}, plan, testBuildRequest(), owner); err != nil {
				t.Fatalf("Dispatch failed: %v", err)
			}

			for _, inv := range fake.buildInvocations() {
				if inv.UploadRegion != tt.expected {
					t.Errorf("Expected region %s, got %s", tt.expected, inv.UploadRegion)
				}
			}
		})
	}
}

func TestDispatch_SingleChunkHasNoIndex(t *testing.T) {
	d, fake, _, owner := newTestDispatcher(t, 0)

	plan := mustPlan(t, 400, 600)
	if _, err := d.Dispatch(context.Background(), models.JobKey{ID: "abcd1234"}, plan, testBuildRequest(), owner); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	invs := fake.buildInvocations()
	if len(invs) != 1 || invs[0].Key.Split {
		t.Fatalf("Expected one unsplit invocation, got %+v", invs)
	}
	for _, ev := range owner.progress() {
		if ev.Index != nil {
			t.Errorf("Expected no index on progress, got %d", *ev.Index)
		}
	}
}

func TestDispatch_ProgressTaggedWithChunk(t *testing.T) {
	d, _, _, owner := newTestDispatcher(t, 0)

	plan := mustPlan(t, 1005, 600)
	if _, err := d.Dispatch(context.Background(), models.JobKey{ID: "abcd1234"}, plan, testBuildRequest(), owner); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	seen := map[int]bool{}
	for _, ev := range owner.progress() {
		if ev.Index == nil {
			t.Fatalf("Expected every event to carry an index, got %+v", ev)
		}
		seen[*ev.Index] = true
	}
	if !seen[0] || !seen[1] {
		t.Errorf("Expected progress from both chunks, got %v", seen)
	}
}

func TestDispatch_FailureCleansUp(t *testing.T) {
	d, fake, router, owner := newTestDispatcher(t, 0)
	fake.failIndex = 1
	fake.delays[0] = 30 * time.Millisecond

	plan := mustPlan(t, 9, 3)
	results, err := d.Dispatch(context.Background(), models.JobKey{ID: "abcd1234"}, plan, testBuildRequest(), owner)
	if err == nil {
		t.Fatal("Expected dispatch to fail")
	}
	if results != nil {
		t.Errorf("Expected no partial results, got %d", len(results))
	}

	var chunkErr *ChunkError
	if !errors.As(err, &chunkErr) {
		t.Fatalf("Expected ChunkError, got %v", err)
	}
	if chunkErr.Index != 1 {
		t.Errorf("Expected failing chunk 1, got %d", chunkErr.Index)
	}
	var invErr *backend.InvocationError
	if !errors.As(err, &invErr) {
		t.Errorf("Expected InvocationError in chain, got %v", err)
	}

	// The other chunks still ran to completion
	if len(fake.buildInvocations()) != 3 {
		t.Errorf("Expected 3 invocations, got %d", len(fake.buildInvocations()))
	}
	if router.Len() != 0 {
		t.Errorf("Expected no registrations after failure, got %d", router.Len())
	}
}

func TestDispatch_DuplicateKeyFailsRequest(t *testing.T) {
	d, _, router, owner := newTestDispatcher(t, 0)
	key := models.JobKey{ID: "abcd1234"}

	// A stale registration for the unsplit key
	if err := router.Register(key, func(models.ProgressEvent) {}); err != nil {
		t.Fatal(err)
	}

	_, err := d.Dispatch(context.Background(), key, mustPlan(t, 10, 600), testBuildRequest(), owner)

	var misuse *progress.MisuseError
	if !errors.As(err, &misuse) {
		t.Errorf("Expected MisuseError, got %v", err)
	}
}

func TestDispatch_Optimizer(t *testing.T) {
	tests := []struct {
		name      string
		supported bool
		expected  bool
	}{
		{name: "supported", supported: true, expected: true},
		{name: "unsupported", supported: false, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, fake, _, owner := newTestDispatcher(t, 0)
			fake.optimizer = tt.supported

			req := testBuildRequest()
			req.Optimize = true
			if _, err := d.Dispatch(context.Background(), models.JobKey{ID: "abcd1234"}, mustPlan(t, 10, 600), req, owner); err != nil {
				t.Fatalf("Dispatch failed: %v", err)
			}

			inv := fake.buildInvocations()[0]
			if inv.UseOptimizer != tt.expected {
				t.Errorf("Expected UseOptimizer %v, got %v", tt.expected, inv.UseOptimizer)
			}
			if slices.Contains(inv.Args, "--optimize") != tt.expected {
				t.Errorf("Expected --optimize present=%v, got %v", tt.expected, inv.Args)
			}
		})
	}
}
