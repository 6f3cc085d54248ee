package core

// sweeper.go runs maintenance jobs on a cron schedule.
//
// The stale sweep fails batches stuck in pending or staged longer than the
// configured threshold, so crashed workers never leave a batch in flight
// forever. Local work for swept batches is cancelled.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// SweepConfig configures the stale-batch sweeper.
type SweepConfig struct {
	Schedule   string        // cron spec, default every minute
	StaleAfter time.Duration // default 15m
}

// staleStates are the states a healthy batch passes through quickly.
var staleStates = []BatchState{StatePending, StateStaged}

// SweepStale fails batches idle in pending/staged since before now-staleAfter.
func (s *Service) SweepStale(ctx context.Context, staleAfter time.Duration) ([]uuid.UUID, error) {
	cutoff := time.Now().Add(-staleAfter)
	ids, err := s.repo.SweepStale(ctx, staleStates, cutoff, CauseTimeout)
	if err != nil {
		return nil, fmt.Errorf("sweep stale batches: %w", err)
	}

	for _, id := range ids {
		if s.dispatcher != nil {
			s.dispatcher.Cancel(id)
		}
		if b, err := s.repo.LoadBatch(ctx, id); err == nil {
			s.finished(ctx, b)
		}
	}
	return ids, nil
}

// StartSweeper schedules the stale sweep until ctx is cancelled.
func (s *Service) StartSweeper(ctx context.Context, cfg SweepConfig) (*cron.Cron, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.Schedule, func() {
		start := time.Now()
		ids, err := s.SweepStale(ctx, cfg.StaleAfter)
		if err != nil {
			slog.Error("stale sweep failed", "error", err)
			return
		}
		if len(ids) > 0 {
			slog.Warn("swept stale batches",
				"count", len(ids),
				"stale_after", cfg.StaleAfter,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sweeper %q: %w", cfg.Schedule, err)
	}

	c.Start()
	slog.Info("sweeper started", "schedule", cfg.Schedule, "stale_after", cfg.StaleAfter)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		slog.Info("sweeper stopped")
	}()
	return c, nil
}

// recoverableStates are picked up again after a restart.
var recoverableStates = []BatchState{StatePending, StateStaged, StateValidated, StateApproved}

// Recover re-dispatches batches left in flight by a previous process.
func (s *Service) Recover(ctx context.Context) (int, error) {
	batches, err := s.repo.ListBatchesInStates(ctx, recoverableStates)
	if err != nil {
		return 0, fmt.Errorf("list in-flight batches: %w", err)
	}
	for _, b := range batches {
		s.dispatch(ctx, b.ID)
	}
	if len(batches) > 0 {
		slog.Info("recovered in-flight batches", "count", len(batches))
	}
	return len(batches), nil
}
