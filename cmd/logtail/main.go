package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"questboard/internal/adminqueue"
	"questboard/internal/backend"
	"questboard/internal/config"
	"questboard/internal/model"
)

// logtail signs in as an admin and follows the system log feed until
// interrupted.
func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stderr, cfg)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LogtailEmail == "" || cfg.LogtailPassword == "" {
		log.Fatalf("LOGTAIL_EMAIL and LOGTAIL_PASSWORD must be set")
	}

	client, err := backend.New(cfg.APIBaseURL,
		backend.WithTimeout(cfg.BackendTimeout),
		backend.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("backend client init failed: %v", err)
	}

	res, err := client.Login(ctx, cfg.LogtailEmail, cfg.LogtailPassword)
	if err != nil {
		log.Fatalf("login failed: %s", backend.Message(err))
	}
	if res.User.Role != model.RoleAdmin {
		log.Fatalf("%s is not an admin account", cfg.LogtailEmail)
	}
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), cfg.BackendTimeout)
		defer cancel()
		_ = client.Logout(logoutCtx)
	}()

	poller := adminqueue.NewLogPoller(client, cfg.AdminPollInterval, logger)
	logger.Info("following admin logs", "backend", cfg.APIBaseURL, "interval", poller.Interval())

	seen := map[int64]bool{}
	for batch := range poller.Run(ctx) {
		if batch.Err != nil {
			continue
		}
		// The feed returns newest first; print oldest first.
		for i := len(batch.Logs) - 1; i >= 0; i-- {
			entry := batch.Logs[i]
			if seen[entry.ID] {
				continue
			}
			seen[entry.ID] = true
			logger.Info(entry.Message, "id", entry.ID, "category", entry.Category, "level", entry.Level, "at", entry.CreatedAt)
		}
	}

	logger.Info("logtail stopped")
}
