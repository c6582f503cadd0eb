package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teeline/settlement/internal/app"
	"github.com/teeline/settlement/internal/auth"
	"github.com/teeline/settlement/internal/guard"
	"github.com/teeline/settlement/internal/infra"
	"github.com/teeline/settlement/internal/projection"
	"github.com/teeline/settlement/internal/provider"
	"github.com/teeline/settlement/internal/repository"
	"github.com/teeline/settlement/internal/repository/memory"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Storage
	var store repository.Store
	switch cfg.StoreDriver {
	case infra.StoreMemory:
		logger.Warn("using in-memory store; state is lost on restart")
		store = memory.NewStore()
	default:
		if cfg.RunMigrations {
			if err := infra.RunMigrations(cfg.DSN(), logger); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}
		pool, err := infra.NewPostgresPool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		logger.Info("connected to postgres")
		store = repository.NewPgStore(pool)
	}

	// Live score feed
	breaker := guard.NewCircuitBreaker(cfg.FeedBreakerThreshold, cfg.FeedBreakerCooldown, logger)
	feed := provider.NewLiveScoreClient(cfg.LiveScoreConfig(), breaker, logger)

	// Run history
	var runStore projection.Store = projection.NewInMemoryStore()
	if cfg.RedisEnabled {
		rdb, err := infra.NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		runStore = projection.NewRedisStore(rdb)
	}

	// Pipeline
	svcs, err := app.NewServices(store, feed, runStore, cfg.PipelineConfig(), logger)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer svcs.Orchestrator.Close()

	if cfg.PipelineAutoStart {
		if err := svcs.Orchestrator.Start(); err != nil {
			return fmt.Errorf("start pipeline: %w", err)
		}
	}

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.OperatorTokenExpiry())
	r := app.NewRouter(app.RouterDeps{
		Store:         store,
		Services:      svcs,
		JWTMgr:        jwtMgr,
		Logger:        logger,
		CORSOrigins:   cfg.CORSAllowedOrigins,
		TriggerLimit:  cfg.ManualTriggerLimit,
		TriggerWindow: cfg.ManualTriggerWindow,
	})

	// Start server. Manual pipeline runs can take minutes, so the write timeout
	// follows the run timeout.
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.PipelineRunTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("settlement api starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
