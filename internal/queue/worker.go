package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another worker holds the batch.
var ErrLocked = errors.New("batch locked by another worker")

// Lock is a held batch lock.
type Lock interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// Locker obtains per-batch locks.
type Locker interface {
	Obtain(ctx context.Context, key string) (Lock, error)
}

// RedisLocker obtains locks with redislock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: redislock.New(client), ttl: ttl}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string) (Lock, error) {
	lock, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return &redisLock{lock: lock, ttl: l.ttl}, nil
}

type redisLock struct {
	lock *redislock.Lock
	ttl  time.Duration
}

func (l *redisLock) Refresh(ctx context.Context) error {
	return l.lock.Refresh(ctx, l.ttl, nil)
}

func (l *redisLock) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// AdvanceFunc drives one batch; core.Service.Advance satisfies it.
type AdvanceFunc func(ctx context.Context, id uuid.UUID) error

// Handler processes batch tasks under a per-batch lock.
type Handler struct {
	advance       AdvanceFunc
	locker        Locker
	refreshPeriod time.Duration
}

// NewHandler builds a task handler; the lock is refreshed every refreshPeriod.
func NewHandler(advance AdvanceFunc, locker Locker, refreshPeriod time.Duration) *Handler {
	if refreshPeriod <= 0 {
		refreshPeriod = time.Minute
	}
	return &Handler{advance: advance, locker: locker, refreshPeriod: refreshPeriod}
}

func lockKey(id uuid.UUID) string { return "salesingest:lock:batch:" + id.String() }

// ProcessTask implements asynq.Handler. A locked batch is retried later by
// asynq; a malformed payload is never retried.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	id, err := BatchID(t)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	lock, err := h.locker.Obtain(ctx, lockKey(id))
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("release batch lock", "batch_id", id, "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.keepAlive(runCtx, cancel, lock, id)

	return h.advance(runCtx, id)
}

// keepAlive refreshes the lock until ctx ends. Losing the lock cancels the run.
func (h *Handler) keepAlive(ctx context.Context, cancel context.CancelFunc, lock Lock, id uuid.UUID) {
	ticker := time.NewTicker(h.refreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Refresh(ctx); err != nil {
				slog.Error("batch lock lost", "batch_id", id, "error", err)
				cancel()
				return
			}
		}
	}
}

// ServerOptions configure the worker server.
type ServerOptions struct {
	Concurrency     int
	Queue           string
	ShutdownTimeout time.Duration
}

// NewServer builds an asynq server with the batch handler mounted.
func NewServer(opt asynq.RedisClientOpt, opts ServerOptions, h *Handler) (*asynq.Server, *asynq.ServeMux) {
	if opts.Queue == "" {
		opts.Queue = DefaultQueue
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:     opts.Concurrency,
		Queues:          map[string]int{opts.Queue: 1},
		ShutdownTimeout: opts.ShutdownTimeout,
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return min(time.Duration(1<<min(n, 6))*time.Second, time.Minute)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, t *asynq.Task, err error) {
			if errors.Is(err, ErrLocked) {
				slog.Debug("batch busy, task retried", "type", t.Type())
				return
			}
			slog.Error("batch task failed", "type", t.Type(), "error", err)
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(TypeAdvanceBatch, h)
	return srv, mux
}
