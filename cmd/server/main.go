package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/salesingest/internal/app"
	"github.com/JonMunkholm/salesingest/internal/config"
	"github.com/JonMunkholm/salesingest/internal/core"
	"github.com/JonMunkholm/salesingest/internal/logging"
	"github.com/JonMunkholm/salesingest/internal/metrics"
	"github.com/JonMunkholm/salesingest/internal/queue"
	"github.com/JonMunkholm/salesingest/internal/web"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
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

	// Background jobs outlive the signal context until the server has drained.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	var (
		orch    *core.Orchestrator
		workers func() core.LimiterStatus
	)
	switch cfg.Queue.Backend {
	case config.BackendAsynq:
		d := queue.NewDispatcher(a.RedisOpt(), cfg.Queue.Name, cfg.Queue.MaxRetry)
		defer d.Close()
		a.Service.SetDispatcher(d)
		slog.Info("dispatching batches to asynq", "queue", cfg.Queue.Name)
	default:
		orch = core.NewOrchestrator(core.OrchestratorOptions{
			Workers:     cfg.Pipeline.Workers,
			QueueSize:   cfg.Pipeline.QueueSize,
			EnqueueWait: time.Second,
		})
		a.Service.SetDispatcher(orch)
		orch.Start(jobCtx, a.Service.Advance)
		workers = orch.Status
		metrics.RegisterWorkers(a.Registry, orch.Status)
	}

	if _, err := a.Service.Recover(ctx); err != nil {
		slog.Warn("recovery failed", "error", err)
	}
	sweeper, err := a.Service.StartSweeper(jobCtx, core.SweepConfig{
		Schedule:   cfg.Sweep.Schedule,
		StaleAfter: cfg.Sweep.StaleAfter,
	})
	if err != nil {
		slog.Error("failed to start sweeper", "error", err)
		return 1
	}

	server := web.NewServer(web.Options{
		Config:      cfg,
		Service:     a.Service,
		Blobs:       a.Blobs,
		Gatherer:    a.Registry,
		HTTPMetrics: metrics.NewHTTP(a.Registry),
		Workers:     workers,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.Server.Addr()) }()

	code := 0
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			code = 1
		}
	case <-ctx.Done():
		slog.Info("shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	<-sweeper.Stop().Done()
	if orch != nil {
		if st := orch.Status(); st.Active > 0 {
			slog.Info("waiting for batches to finish", "active", st.Active)
		}
		if err := orch.Shutdown(shutdownCtx); err != nil {
			slog.Warn("batches did not finish in time", "error", err)
		}
	}
	cancelJobs()
	slog.Info("server stopped")
	return code
}
