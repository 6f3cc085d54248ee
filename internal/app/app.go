// Package app wires the configured backends into a core.Service. It is
// shared by the API server and the queue worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/salesingest/internal/blob"
	"github.com/JonMunkholm/salesingest/internal/config"
	"github.com/JonMunkholm/salesingest/internal/core"
	_ "github.com/JonMunkholm/salesingest/internal/core/formats" // Register reseller formats
	"github.com/JonMunkholm/salesingest/internal/database"
	"github.com/JonMunkholm/salesingest/internal/memdb"
	"github.com/JonMunkholm/salesingest/internal/metrics"
	"github.com/JonMunkholm/salesingest/internal/notify"
)

// App holds the wired collaborators. Redis is nil unless a Redis backend is
// configured.
type App struct {
	Config   *config.Config
	Service  *core.Service
	Blobs    blob.Store
	Registry *prometheus.Registry
	Redis    redis.UniversalClient

	closers []func() error
}

// New opens every configured backend. On error, whatever was opened is closed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	slog.Info("formats registered", "count", core.FormatCount())
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	repo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	if a.Blobs, err = a.openBlobs(ctx); err != nil {
		return err
	}
	if cfg.Queue.Backend == config.BackendAsynq || cfg.Notify.Backend == config.BackendRedis {
		if err := a.openRedis(ctx); err != nil {
			return err
		}
	}

	conv := core.Converter{Canonical: cfg.Pipeline.CanonicalCurrency}
	for _, f := range core.Formats() {
		if !conv.Converts(f.Rules) {
			slog.Warn("format amounts cannot be converted to the canonical currency; its rows will fail validation",
				"format", f.Name,
				"source_currency", f.Rules.SourceCurrency,
				"factor_currency", f.Rules.FactorCurrency,
				"canonical_currency", conv.Canonical,
			)
		}
	}

	var notifier core.Notifier = notify.LogNotifier{}
	if cfg.Notify.Backend == config.BackendRedis {
		notifier = notify.Multi{notifier, notify.NewRedisNotifier(a.Redis, cfg.Notify.Channel)}
	}

	a.Service = core.NewService(core.Deps{
		Repo:     repo,
		Blobs:    a.Blobs,
		Notifier: notifier,
		Observer: metrics.NewPipeline(a.Registry),
	}, core.PipelineConfig{
		CanonicalCurrency: cfg.Pipeline.CanonicalCurrency,
		RowConcurrency:    cfg.Pipeline.RowConcurrency,
		MaxAttempts:       cfg.Pipeline.MaxAttempts,
		BaseBackoff:       cfg.Pipeline.BaseBackoff,
		MaxBackoff:        cfg.Pipeline.MaxBackoff,
		StepTimeout:       cfg.Pipeline.StepTimeout,
		MaxFileSize:       cfg.Pipeline.MaxFileSize,
	})
	return nil
}

func (a *App) openRepository(ctx context.Context) (core.Repository, error) {
	cfg := a.Config.Database
	if cfg.Backend == config.BackendMemory {
		slog.Warn("using in-memory repository; data is lost on restart")
		return memdb.New(), nil
	}

	pool, err := database.Open(ctx, database.Options{
		URL:             cfg.URL,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
		MaxConnIdleTime: cfg.MaxConnIdleTime,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	if cfg.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			return nil, err
		}
	}
	return database.New(pool), nil
}

func (a *App) openBlobs(ctx context.Context) (blob.Store, error) {
	cfg := a.Config.Storage
	if cfg.Backend != config.BackendGCS {
		slog.Info("using local file storage", "dir", cfg.Dir)
		return blob.NewLocalStore(cfg.Dir), nil
	}

	store, err := blob.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsJSON)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	slog.Info("using gcs storage", "bucket", cfg.GCSBucket)
	return store, nil
}

func (a *App) openRedis(ctx context.Context) error {
	q := a.Config.Queue
	client := redis.NewClient(&redis.Options{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	})
	a.closers = append(a.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s: %w", q.RedisAddr, err)
	}
	a.Redis = client
	slog.Info("connected to redis", "addr", q.RedisAddr)
	return nil
}

// RedisOpt returns the asynq connection settings.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	q := a.Config.Queue
	return asynq.RedisClientOpt{Addr: q.RedisAddr, Password: q.RedisPassword, DB: q.RedisDB}
}

// Close releases backends in reverse opening order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
