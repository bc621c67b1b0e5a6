// Package orchestrator runs hyperlapse requests: it fans chunk jobs out to a
// compute backend, gathers their results in plan order and joins the chunk
// videos into one.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hyperlapse/backend"
	"hyperlapse/metrics"
	"hyperlapse/models"
	"hyperlapse/progress"
)

// DefaultComputeRegion is where intermediate chunk videos are uploaded when
// a request is split. It sits next to the compute backend so the join does
// not pull chunks across regions.
const DefaultComputeRegion = "us-west-2"

// ChunkError identifies the chunk that failed a request
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Dispatcher runs every chunk of a plan concurrently.
type Dispatcher struct {
	backend       backend.Backend
	router        *progress.Router
	computeRegion string
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// NewDispatcher creates a dispatcher sending chunks to b
func NewDispatcher(b backend.Backend, router *progress.Router, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		backend:       b,
		router:        router,
		computeRegion: DefaultComputeRegion,
		logger:        logger,
		metrics:       m,
	}
}

// SetComputeRegion sets the upload region used for intermediate chunks
func (d *Dispatcher) SetComputeRegion(region string) *Dispatcher {
	d.computeRegion = region
	return d
}

// UploadRegion returns where chunk videos of plan are uploaded. Only a
// single-chunk plan uploads straight to the user's region, since its video is
// the final one.
func (d *Dispatcher) UploadRegion(plan models.ChunkPlan, userRegion string) string {
	if plan.Indexed() {
		return d.computeRegion
	}
	return userRegion
}

// Dispatch renders every chunk of plan and returns the results in plan
// order, whatever order the chunks finish in.
//
// Each chunk key is registered with the router for exactly the duration of
// its backend call. Every chunk runs to completion; the first failure is
// returned as a *ChunkError and no partial results are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, key models.JobKey, plan models.ChunkPlan, req models.BuildRequest, owner Owner) ([]models.ChunkResult, error) {
	if plan.Len() == 0 {
		return nil, fmt.Errorf("dispatch %s: empty plan", key)
	}

	d.metrics.ChunksPerJob.Observe(float64(plan.Len()))
	region := d.UploadRegion(plan, req.Region)

	d.logger.Info("dispatching chunks",
		zap.Stringer("key", key),
		zap.Int("chunks", plan.Len()),
		zap.Int("frames", plan.TotalFrames),
		zap.String("upload_region", region))

	results := make([]models.ChunkResult, plan.Len())

	var g errgroup.Group
	for i, span := range plan.Spans {
		i, span := i, span
		g.Go(func() error {
			chunkKey := plan.KeyFor(key, i)

			args, err := backend.NewArgsBuilder(req.APIKey, req.FrameDensity).
				SetBuild(req.Mode).
				SetFrameRange(span).
				SetOptimize(req.Optimize && d.backend.SupportsOptimizer()).
				BuildArgs()
			if err != nil {
				return &ChunkError{Index: i, Err: err}
			}

			result, err := d.invoke(ctx, owner, backend.Invocation{
				Key:          chunkKey,
				Args:         args,
				Contents:     req.Input.Contents,
				Extension:    req.Input.Extension,
				Build:        true,
				UseOptimizer: req.Optimize && d.backend.SupportsOptimizer(),
				UploadRegion: region,
				Processes:    owner,
			})
			if err != nil {
				return &ChunkError{Index: i, Err: err}
			}

			results[i] = *result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		d.logger.Error("dispatch failed", zap.Stringer("key", key), zap.Error(err))
		return nil, err
	}
	return results, nil
}

// invoke brackets one backend call with a router registration for its key.
// Local progress goes through the router as well, so nothing reaches the
// owner once the key is unregistered.
func (d *Dispatcher) invoke(ctx context.Context, owner Owner, inv backend.Invocation) (*models.ChunkResult, error) {
	return invokeRegistered(d.router, owner, inv.Key, func(sink models.ProgressSink) (*models.ChunkResult, error) {
		inv.OnProgress = sink

		start := time.Now()
		result, err := d.backend.Invoke(ctx, inv)
		d.metrics.ChunkDuration.WithLabelValues(d.backend.Name()).Observe(time.Since(start).Seconds())
		d.metrics.ChunksDispatched.WithLabelValues(d.backend.Name(), metrics.Outcome(err)).Inc()

		if err != nil {
			return nil, err
		}
		d.logger.Info("chunk finished",
			zap.Stringer("key", inv.Key),
			zap.Duration("elapsed", time.Since(start)))
		return result, nil
	})
}

// invokeRegistered registers key for the owner, runs call with a sink that
// routes through the router, and always unregisters key afterwards.
func invokeRegistered(router *progress.Router, owner Owner, key models.JobKey, call func(sink models.ProgressSink) (*models.ChunkResult, error)) (*models.ChunkResult, error) {
	if err := router.Register(key, owner.Progress); err != nil {
		return nil, err
	}
	defer router.Unregister(key)

	return call(func(ev models.ProgressEvent) {
		router.Route(key, ev)
	})
}
