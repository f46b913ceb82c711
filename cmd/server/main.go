package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/filecoin-project/go-clock"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/koios/purpleqr/internal/cache"
	"github.com/koios/purpleqr/internal/config"
	"github.com/koios/purpleqr/internal/handlers"
	"github.com/koios/purpleqr/internal/metrics"
	"github.com/koios/purpleqr/internal/pipeline"
	"github.com/koios/purpleqr/internal/qr"
	"github.com/koios/purpleqr/internal/session"
)

// memoryCacheEntries bounds the export cache when Redis is not configured
const memoryCacheEntries = 512

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	defaultStyle, err := cfg.DefaultStyle()
	if err != nil {
		logger.Fatal("Invalid render defaults", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	clk := clock.New()

	// Start the render workers
	pool := qr.NewWorkerPool(cfg.Render.Workers, logger, cfg.Render.Timeout)
	pool.Start()

	exportCache := newExportCache(ctx, cfg, clk, logger)

	renderer := pipeline.NewFileRenderer(pool, exportCache, clk, logger, m)
	sessions := session.NewManager(session.Deps{
		Capability:   pool,
		Renderer:     renderer,
		Clock:        clk,
		Window:       cfg.Render.Debounce,
		Logger:       logger,
		Metrics:      m,
		DefaultStyle: defaultStyle,
		MaxLogoBytes: cfg.Render.MaxLogoBytes,
	}, cfg.Session.TTL, cfg.Session.MaxSessions)
	go sessions.Run(ctx)

	router := httprouter.New()
	handlers.NewAppHandler(sessions, renderer, cfg.Render.MaxLogoBytes, logger).RegisterRoutes(router)
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Start HTTP server
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	logger.Info("Server started",
		zap.Int("port", cfg.Server.Port),
		zap.Int("workers", cfg.Render.Workers),
		zap.Duration("debounce", cfg.Render.Debounce),
		zap.String("max_logo", humanize.IBytes(uint64(cfg.Render.MaxLogoBytes))))

	// Wait for interrupt signal or a fatal server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	// Give outstanding requests a deadline for completion
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err = httpServer.Shutdown(shutdownCtx)
	cancel()

	// Sessions first so no scheduler submits to a stopped pool
	sessions.Close()
	pool.Stop()
	err = multierr.Append(err, exportCache.Close())

	if err != nil {
		logger.Error("Shutdown finished with errors", zap.Error(err))
		return
	}
	logger.Info("Server shutdown complete")
}

// newExportCache connects to Redis when configured and falls back to memory
func newExportCache(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *zap.Logger) cache.Cache {
	if cfg.Redis.Addr == "" {
		logger.Info("Using in-memory export cache", zap.Duration("ttl", cfg.Redis.TTL))
		return cache.NewMemoryCache(cfg.Redis.TTL, memoryCacheEntries, clk)
	}

	logger.Info("Connecting to Redis export cache",
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.Int("redis_db", cfg.Redis.DB))

	rc, err := cache.Connect(ctx, &cfg.Redis, 30*time.Second, logger)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory export cache", zap.Error(err))
		return cache.NewMemoryCache(cfg.Redis.TTL, memoryCacheEntries, clk)
	}
	return rc
}
