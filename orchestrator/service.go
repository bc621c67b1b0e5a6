package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"hyperlapse/backend"
	"hyperlapse/chunker"
	"hyperlapse/internal/fsutil"
	"hyperlapse/metrics"
	"hyperlapse/models"
	"hyperlapse/progress"
)

// Owner is the client connection a request runs for. It hands out job keys,
// takes ownership of spawned processes and receives progress.
type Owner interface {
	backend.ProcessTracker

	// NewJobKey returns a fresh top-level key owned by the connection. The
	// release func must be called when the request finishes.
	NewJobKey() (models.JobKey, func())

	// Progress delivers one event to the client
	Progress(ev models.ProgressEvent)
}

// MetadataStore persists the merged metadata of finished builds
type MetadataStore interface {
	SaveMetadata(ctx context.Context, key string, meta *models.RouteMetadata) error
	GetMetadata(ctx context.Context, key string) (*models.RouteMetadata, error)
}

// Options configures a Service
type Options struct {
	// GoogleAPIKey is the server's key, used for metadata lookups
	GoogleAPIKey string
	MapboxAPIKey string

	// VideoDir receives final videos rendered by the local backend
	VideoDir string

	MaxFramesPerChunk int
	ComputeRegion     string

	// PublicURLFrom is replaced by PublicURLTo in remote video URLs, so
	// clients fetch videos from the CDN instead of blob storage
	PublicURLFrom string
	PublicURLTo   string
}

// BuildResult is returned to the client once a hyperlapse is ready
type BuildResult struct {
	URL string `json:"url"`
}

// Service runs top-level hyperlapse requests.
type Service struct {
	backend    backend.Backend
	router     *progress.Router
	chunker    *chunker.Chunker
	dispatcher *Dispatcher
	aggregator *Aggregator
	store      MetadataStore
	opts       Options
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewService wires a service around b
func NewService(b backend.Backend, router *progress.Router, store MetadataStore, opts Options, logger *zap.Logger, m *metrics.Metrics) *Service {
	if opts.MaxFramesPerChunk == 0 {
		opts.MaxFramesPerChunk = chunker.DefaultMaxFramesPerChunk
	}
	if opts.ComputeRegion == "" {
		opts.ComputeRegion = DefaultComputeRegion
	}

	return &Service{
		backend:    b,
		router:     router,
		chunker:    chunker.NewChunker().SetMaxFramesPerChunk(opts.MaxFramesPerChunk),
		dispatcher: NewDispatcher(b, router, logger, m).SetComputeRegion(opts.ComputeRegion),
		aggregator: NewAggregator(b, router, logger, m),
		store:      store,
		opts:       opts,
		logger:     logger,
		metrics:    m,
	}
}

// FetchMetadata runs a dry run of the route and returns its frame plan.
func (s *Service) FetchMetadata(ctx context.Context, owner Owner, req models.FetchMetadataRequest) (*models.RouteMetadata, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key, release := owner.NewJobKey()
	defer release()
	s.metrics.ActiveJobs.Inc()
	defer s.metrics.ActiveJobs.Dec()

	s.logger.Info("fetching metadata",
		zap.Stringer("key", key),
		zap.Float64("frame_density", req.FrameDensity))

	return s.dryRun(ctx, owner, key, s.opts.GoogleAPIKey, req)
}

// BuildHyperlapse renders a full hyperlapse.
//
// The route is dry run first to learn its frame count, then split into
// chunks that render in parallel. Chunk videos are joined when there is more
// than one, and the merged metadata is saved under the request's key.
func (s *Service) BuildHyperlapse(ctx context.Context, owner Owner, req models.BuildRequest) (*BuildResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key, release := owner.NewJobKey()
	defer release()
	s.metrics.ActiveJobs.Inc()
	defer s.metrics.ActiveJobs.Dec()

	s.logger.Info("building hyperlapse",
		zap.Stringer("key", key),
		zap.String("mode", string(req.Mode)),
		zap.Bool("optimize", req.Optimize),
		zap.Float64("frame_density", req.FrameDensity))

	meta, err := s.dryRun(ctx, owner, key, req.APIKey, req.MetadataRequest())
	if err != nil {
		return nil, err
	}

	plan, err := s.chunker.CreatePlan(meta.Frames)
	if err != nil {
		return nil, err
	}

	results, err := s.dispatcher.Dispatch(ctx, key, plan, req, owner)
	if err != nil {
		return nil, err
	}

	agg, err := s.aggregator.Aggregate(ctx, key, results, req.Region, owner)
	if err != nil {
		return nil, err
	}

	videoURL, err := s.publish(key, agg.VideoLocation)
	if err != nil {
		return nil, err
	}

	if err := s.store.SaveMetadata(ctx, key.ID, agg.Metadata); err != nil {
		return nil, fmt.Errorf("failed to save metadata for %s: %w", key, err)
	}

	result := &BuildResult{URL: ResultURL(key, videoURL)}
	s.logger.Info("hyperlapse ready", zap.Stringer("key", key), zap.String("url", result.URL))
	return result, nil
}

// FetchExistingMetadata returns the metadata saved by an earlier build
func (s *Service) FetchExistingMetadata(ctx context.Context, key string) (*models.RouteMetadata, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("key cannot be empty")
	}
	return s.store.GetMetadata(ctx, key)
}

// MapboxKey returns the map tile key handed to clients
func (s *Service) MapboxKey() string {
	return s.opts.MapboxAPIKey
}

// ResultURL returns the client page showing the video at videoURL
func ResultURL(key models.JobKey, videoURL string) string {
	return "/result/" + key.ID + "/?src=" + url.QueryEscape(videoURL)
}

// dryRun runs a metadata-only invocation under key.
func (s *Service) dryRun(ctx context.Context, owner Owner, key models.JobKey, apiKey string, req models.FetchMetadataRequest) (*models.RouteMetadata, error) {
	args, err := backend.NewArgsBuilder(apiKey, req.FrameDensity).BuildArgs()
	if err != nil {
		return nil, err
	}

	result, err := invokeRegistered(s.router, owner, key, func(sink models.ProgressSink) (*models.ChunkResult, error) {
		return s.backend.Invoke(ctx, backend.Invocation{
			Key:        key,
			Args:       args,
			Contents:   req.Input.Contents,
			Extension:  req.Input.Extension,
			OnProgress: sink,
			Processes:  owner,
		})
	})
	if err != nil {
		return nil, err
	}
	if result.Metadata == nil {
		return nil, &backend.InvocationError{Op: "invoke", Key: key, ExitCode: -1, Reason: "dry run returned no metadata"}
	}
	return result.Metadata, nil
}

// publish makes the final video reachable by clients. Remote videos are
// already uploaded and only get their host rewritten. Local videos are moved
// into the video dir, which the server exposes under /video/.
func (s *Service) publish(key models.JobKey, location string) (string, error) {
	if u, err := url.Parse(location); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if s.opts.PublicURLFrom != "" {
			return strings.Replace(location, s.opts.PublicURLFrom, s.opts.PublicURLTo, 1), nil
		}
		return location, nil
	}

	name := key.ID + ".mp4"
	dst := filepath.Join(s.opts.VideoDir, name)
	if err := fsutil.MoveFile(location, dst); err != nil {
		return "", fmt.Errorf("failed to publish video for %s: %w", key, err)
	}
	return "/video/" + name, nil
}
