// Package main is the entrypoint for the generation API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sam3dserve/internal/api"
	"sam3dserve/internal/api/handler"
	mw "sam3dserve/internal/api/middleware"
	"sam3dserve/internal/artifact"
	"sam3dserve/internal/cache"
	"sam3dserve/internal/config"
	"sam3dserve/internal/image"
	"sam3dserve/internal/inference"
	"sam3dserve/internal/queue"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"inference_provider", cfg.Inference.Provider,
		"max_queue_size", cfg.Queue.MaxQueueSize,
		"env", cfg.Server.Env,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Create artifact store and start the retention reaper
	store, err := artifact.New(cfg.Artifacts.Dir, cfg.Artifacts.Retention)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}
	store.StartReaper(cfg.Artifacts.ReapInterval)
	defer store.Stop()
	slog.Info("artifact store ready", "dir", cfg.Artifacts.Dir, "retention", cfg.Artifacts.Retention)

	// 3. Optional Redis cache (status mirror + rate limiting)
	var redisCache cache.Cache
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("create redis cache: %w", err)
		}
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		redisCache = rc
		slog.Info("redis connected")
	}

	// 4. Create inference provider
	provider, err := inference.NewProvider(cfg.Inference)
	if err != nil {
		return fmt.Errorf("create inference provider: %w", err)
	}
	if err := provider.Ready(ctx); err != nil {
		// Cold runtimes finish loading after we come up; requests fail
		// individually until then and /health reports the state.
		slog.Warn("inference backend not ready yet", "provider", provider.Name(), "error", err)
	}
	slog.Info("inference provider initialized", "provider", provider.Name())

	// 5. Create and start the job queue
	resolver := image.NewResolver(cfg.Image.FetchTimeout, cfg.Image.MaxBytes)
	q := queue.New(cfg.Queue, cfg.Inference.Timeout, provider, store, resolver, redisCache)
	q.Start()
	defer q.Stop()

	// 6. Build router with dependencies
	auth := mw.NewAuth(cfg.Auth.APIKeyHash)
	var rateLimit *mw.RateLimit
	if redisCache != nil {
		rateLimit = mw.NewRateLimit(redisCache, cfg.Redis.RateLimitPerMin)
	}

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:       handler.NewHealthHandler(q, provider, redisCache),
		GenerateHandler:     handler.NewGenerateHandler(q),
		GenerateSyncHandler: handler.NewGenerateSyncHandler(q, cfg.Queue.SyncWaitTimeout),
		JobStatusHandler:    handler.NewJobStatusHandler(q),
		JobDownloadHandler:  handler.NewJobDownloadHandler(q),
		JobCancelHandler:    handler.NewJobCancelHandler(q),
		QueueStatsHandler:   handler.NewQueueStatsHandler(q),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// The sync generate endpoint holds the connection for the whole
		// inference run.
		WriteTimeout: cfg.Queue.SyncWaitTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
