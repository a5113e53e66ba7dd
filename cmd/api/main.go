package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"questboard/internal/config"
	"questboard/internal/portal"
	"questboard/internal/store"
	"questboard/internal/workflow"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	logger := config.NewLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions, checks, closeStore, err := openSessions(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := portal.NewRegistry(portal.RegistryConfig{
		BaseURL:        cfg.APIBaseURL,
		BackendTimeout: cfg.BackendTimeout,
		SessionTTL:     cfg.SessionTTL,
		IdleTimeout:    cfg.SessionIdle,
		FindersFee:     workflow.DefaultFindersFee,
	}, sessions, logger)

	srv := portal.New(portal.ConfigFrom(cfg), reg, logger)
	for name, check := range checks {
		srv.AddHealthCheck(name, check)
	}
	go srv.Limiter().RunSweeper(ctx, time.Minute, 10*time.Minute)
	go reg.RunSweeper(ctx, 5*time.Minute)

	// Graceful shutdown
	httpSrv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     srv.Router(),
		ReadTimeout: 15 * time.Second,
		// The admin log feed is a long-lived websocket, so no write timeout.
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting portal", "port", cfg.HTTPPort, "backend", cfg.APIBaseURL, "backend_tier", cfg.APIBaseURLTier, "sessions", cfg.SessionBackend)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down portal")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", "err", err)
	}

	logger.Info("portal exited")
	return nil
}

// openSessions picks the session store named by SESSION_BACKEND and returns
// the health checks that come with it.
func openSessions(ctx context.Context, cfg config.App, logger *slog.Logger) (store.Sessions, map[string]portal.HealthCheck, func(), error) {
	checks := map[string]portal.HealthCheck{}
	switch cfg.SessionBackend {
	case "", "memory":
		return store.NewMemory(), checks, func() {}, nil

	case "redis":
		rdb := store.NewRedis(cfg.RedisAddr)
		if !rdb.Healthy(ctx) {
			logger.Warn("redis not reachable yet", "addr", cfg.RedisAddr)
		}
		checks["redis"] = rdb.Healthy
		return store.NewRedisSessions(rdb.Client), checks, func() { _ = rdb.Close() }, nil

	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		db, err := store.NewDB(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open session database: %w", err)
		}
		checks["db"] = func(ctx context.Context) bool { return db.Client.PingContext(ctx) == nil }
		return store.NewPostgresSessions(db.Client), checks, func() { _ = db.Close() }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown SESSION_BACKEND %q", cfg.SessionBackend)
}
