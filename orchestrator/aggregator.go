package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"hyperlapse/backend"
	"hyperlapse/metrics"
	"hyperlapse/models"
	"hyperlapse/progress"
)

// Aggregate is the merged outcome of a dispatched plan.
type Aggregate struct {
	Metadata      *models.RouteMetadata
	VideoLocation string
	Joined        bool
}

// Aggregator merges chunk results and joins chunk videos.
type Aggregator struct {
	backend backend.Backend
	router  *progress.Router
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewAggregator creates an aggregator joining videos through b
func NewAggregator(b backend.Backend, router *progress.Router, logger *zap.Logger, m *metrics.Metrics) *Aggregator {
	return &Aggregator{
		backend: b,
		router:  router,
		logger:  logger,
		metrics: m,
	}
}

// MergeMetadata combines chunk metadata in plan order.
//
// The result starts as a copy of the first chunk's metadata, and the gps
// points of every later chunk are appended to it. Frames, Distance and
// AverageError are kept from the first chunk as they are.
func MergeMetadata(results []models.ChunkResult) (*models.RouteMetadata, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("no results to merge")
	}
	for i, r := range results {
		if r.Metadata == nil {
			return nil, fmt.Errorf("chunk %d has no metadata", i)
		}
	}

	merged := results[0].Metadata.Clone()
	for _, r := range results[1:] {
		merged.GPSPoints = append(merged.GPSPoints, r.Metadata.GPSPoints...)
	}
	return merged, nil
}

// Aggregate merges results and produces the final video location.
//
// A single result is returned as is. Several results are joined by the
// backend in plan order and uploaded to region. The bare key is registered
// with the router while the join runs, so join progress reaches the owner.
func (a *Aggregator) Aggregate(ctx context.Context, key models.JobKey, results []models.ChunkResult, region string, owner Owner) (*Aggregate, error) {
	merged, err := MergeMetadata(results)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", key, err)
	}
	if err := merged.Validate(); err != nil {
		a.logger.Warn("merged metadata is inconsistent",
			zap.Stringer("key", key),
			zap.Int("chunks", len(results)),
			zap.Error(err))
	}

	locations := make([]string, len(results))
	for i, r := range results {
		if !r.HasVideo() {
			chunkKey := key.Base()
			if len(results) > 1 {
				chunkKey = key.WithIndex(i)
			}
			return nil, &ChunkError{Index: i, Err: &backend.InvocationError{
				Op:       "invoke",
				Key:      chunkKey,
				ExitCode: -1,
				Reason:   "result has no video",
			}}
		}
		locations[i] = r.VideoLocation
	}

	if len(locations) == 1 {
		return &Aggregate{Metadata: merged, VideoLocation: locations[0]}, nil
	}

	base := key.Base()
	joined, err := invokeRegistered(a.router, owner, base, func(sink models.ProgressSink) (*models.ChunkResult, error) {
		return a.backend.Join(ctx, backend.JoinRequest{
			Key:            base,
			VideoLocations: locations,
			UploadRegion:   region,
			OnProgress:     sink,
			Processes:      owner,
		})
	})
	a.metrics.Joins.WithLabelValues(a.backend.Name(), metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", base, err)
	}

	a.logger.Info("joined chunk videos",
		zap.Stringer("key", base),
		zap.Int("chunks", len(locations)),
		zap.String("video", joined.VideoLocation))

	return &Aggregate{Metadata: merged, VideoLocation: joined.VideoLocation, Joined: true}, nil
}
