// Command worker processes batches dispatched through the asynq queue.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/salesingest/internal/app"
	"github.com/JonMunkholm/salesingest/internal/config"
	"github.com/JonMunkholm/salesingest/internal/logging"
	"github.com/JonMunkholm/salesingest/internal/queue"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}
	if cfg.Queue.Backend != config.BackendAsynq {
		slog.Error("worker requires QUEUE_BACKEND=asynq", "backend", cfg.Queue.Backend)
		return 1
	}

	logCloser := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.FileMaxSizeMB,
		MaxBackups: cfg.Logging.FileMaxBackups,
		MaxAgeDays: cfg.Logging.FileMaxAgeDays,
	})
	defer logCloser.Close()

	slog.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise backends", "error", err)
		return 1
	}
	defer a.Close()

	locker := queue.NewRedisLocker(a.Redis, cfg.Queue.LockTTL)
	h := queue.NewHandler(a.Service.Advance, locker, cfg.Queue.LockTTL/3)
	srv, mux := queue.NewServer(a.RedisOpt(), queue.ServerOptions{
		Concurrency:     cfg.Pipeline.Workers,
		Queue:           cfg.Queue.Name,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, h)

	if err := srv.Start(mux); err != nil {
		slog.Error("failed to start worker", "error", err)
		return 1
	}
	slog.Info("worker started", "queue", cfg.Queue.Name, "concurrency", cfg.Pipeline.Workers)

	<-ctx.Done()
	slog.Info("shutting down...")
	srv.Shutdown()
	slog.Info("worker stopped")
	return 0
}
