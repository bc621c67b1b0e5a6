package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"hyperlapse/backend"
	"hyperlapse/concatenator"
	"hyperlapse/config"
	"hyperlapse/metrics"
	"hyperlapse/orchestrator"
	"hyperlapse/progress"
	"hyperlapse/server"
	"hyperlapse/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Step 1: Load configuration (CLI flags > env > config file > defaults)
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Step 2: Handle dry-run mode
	if cfg.DryRun {
		fmt.Println("═══════════════════════════════════════════════════════════")
		fmt.Println("                      DRY RUN MODE")
		fmt.Println("═══════════════════════════════════════════════════════════")
		cfg.PrintConfig()
		if cfg.WriteConfig != "" {
			if err := config.WriteConfigFile(cfg, cfg.WriteConfig); err != nil {
				fmt.Fprintf(os.Stderr, "❌ %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("\n✓ Configuration written to %s\n", cfg.WriteConfig)
		}
		fmt.Println("\n✓ Configuration is valid. Not serving.")
		return
	}

	// Step 3: Set up logging
	logger, err := newLogger(cfg.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Step 4: Cancel on Ctrl+C or SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Step 5: Serve until interrupted
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// run wires every component and serves HTTP until ctx is cancelled
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	if err := os.MkdirAll(cfg.VideoDir, 0755); err != nil {
		return fmt.Errorf("failed to create video dir: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	b, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	router := progress.NewRouter(logger, m)
	service := orchestrator.NewService(b, router, st, orchestrator.Options{
		GoogleAPIKey:      cfg.GoogleAPIKey,
		MapboxAPIKey:      cfg.MapboxAPIKey,
		VideoDir:          cfg.VideoDir,
		MaxFramesPerChunk: cfg.MaxFramesPerChunk,
		ComputeRegion:     cfg.Lambda.ComputeRegion,
		PublicURLFrom:     cfg.PublicURL.From,
		PublicURLTo:       cfg.PublicURL.To,
	}, logger, m)

	srv := server.New(service, router, server.Options{VideoDir: cfg.VideoDir}, logger, m)
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving",
			zap.String("listen", cfg.Listen),
			zap.String("backend", b.Name()),
			zap.Int("max_frames_per_chunk", cfg.MaxFramesPerChunk))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = httpServer.Shutdown(shutdownCtx)
	closed := srv.CloseSockets()
	logger.Info("closed websockets", zap.Int("count", closed))
	return err
}

// newBackend selects the compute backend named by the config
func newBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.Backend, error) {
	switch cfg.Backend {
	case config.BackendLambda:
		client, err := backend.NewLambdaClient(ctx, backend.LambdaOptions{
			Region:         cfg.Lambda.Region,
			Timeout:        cfg.Lambda.Timeout,
			ConnectTimeout: cfg.Lambda.ConnectTimeout,
		})
		if err != nil {
			return nil, err
		}
		return backend.NewRemoteBackend(client, cfg.Lambda.FunctionName, cfg.Lambda.CallbackEndpoint, logger), nil

	case config.BackendLocal:
		concat := concatenator.NewConcatenator(logger).SetFFmpegBin(cfg.FFmpegBin)
		return backend.NewLocalBackend(cfg.StreetwarpBin, concat, logger).
			SetWorkRoot(cfg.WorkDir).
			SetOptimizer(cfg.UseOptimizer), nil

	default:
		return nil, fmt.Errorf("unknown backend '%s'", cfg.Backend)
	}
}
