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

	"github.com/attaboy/adaptiveauth/internal/app"
	"github.com/attaboy/adaptiveauth/internal/auth"
	"github.com/attaboy/adaptiveauth/internal/infra"
	"github.com/attaboy/adaptiveauth/internal/metrics"
	"github.com/attaboy/adaptiveauth/internal/traces"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// Tracing
	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, cfg.ServiceName+"-api", logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// Connect to Postgres
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	if err := infra.RunMigrations(cfg.DSN(), cfg.MigrationsDir, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	go metrics.StartPoolStatsCollector(ctx, pool, 15*time.Second)

	// Risk engine
	risk, err := app.NewRiskStack(pool, cfg.Risk, logger)
	if err != nil {
		return fmt.Errorf("risk engine: %w", err)
	}
	defer func() {
		if err := risk.Registry.Close(); err != nil {
			logger.Warn("close risk registry", "error", err)
		}
	}()

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTUserExpiry, cfg.JWTAdminExpiry)

	r := app.NewRouter(app.RouterDeps{
		DB:          pool,
		JWTMgr:      jwtMgr,
		Risk:        risk,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Logger:      logger,
	})

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
