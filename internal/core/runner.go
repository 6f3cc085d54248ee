package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// haltError stops a batch for good: it is failed with cause and never retried.
type haltError struct {
	cause string
}

func (e *haltError) Error() string { return e.cause }

func halt(cause string) error { return &haltError{cause: cause} }

// Advance drives a batch forward until it waits for review or is done.
// A batch that disappears (deleted) or changes state concurrently is not an error.
func (s *Service) Advance(ctx context.Context, id uuid.UUID) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b, err := s.repo.LoadBatch(ctx, id)
		if errors.Is(err, ErrBatchNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load batch: %w", err)
		}

		var step func(context.Context, Batch) (Batch, error)
		var name string
		switch b.State {
		case StatePending:
			name, step = "stage", s.stage
		case StateStaged:
			name, step = "validate", func(ctx context.Context, b Batch) (Batch, error) {
				return s.validateBatch(ctx, b, []BatchState{StateStaged})
			}
		case StateValidated:
			name, step = "gate", s.gate
		case StateApproved:
			name, step = "commit", s.commit
		default:
			return nil
		}

		if err := s.runStep(ctx, b, name, step); err != nil {
			return err
		}
	}
}

// runStep runs one step with retries on transient errors.
func (s *Service) runStep(ctx context.Context, b Batch, name string, step func(context.Context, Batch) (Batch, error)) error {
	log := slog.With("batch_id", b.ID, "tenant_id", b.TenantID, "state", b.State, "step", name)

	for attempt := 1; ; attempt++ {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
		_, err := step(stepCtx, b)
		cancel()
		s.observer.StageDuration(name, time.Since(start))

		var h *haltError
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrBatchNotFound), errors.Is(err, ErrStateConflict):
			// moved or removed by someone else; the caller reloads
			log.Debug("batch changed concurrently", "error", err)
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.As(err, &h):
			log.Warn("batch halted", "cause", h.cause)
			return s.fail(ctx, b, h.cause)
		case !IsTransient(err):
			log.Error("batch step failed", "error", err)
			return s.fail(ctx, b, err.Error())
		case attempt >= s.cfg.MaxAttempts:
			log.Error("batch retries exhausted", "attempts", attempt, "error", err)
			return s.fail(ctx, b, fmt.Sprintf("%s: %v", CauseRetryExhausted, err))
		}

		wait := s.backoff(attempt)
		log.Warn("transient failure, retrying", "attempt", attempt, "backoff", wait, "error", err)
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// backoff returns base * 2^(attempt-1), capped at MaxBackoff.
func (s *Service) backoff(attempt int) time.Duration {
	d := s.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	return min(d, s.cfg.MaxBackoff)
}

func (s *Service) fail(ctx context.Context, b Batch, cause string) error {
	updated, err := s.repo.TransitionBatch(ctx, b.ID, []BatchState{b.State}, StateFailed, BatchUpdate{Cause: &cause})
	if errors.Is(err, ErrBatchNotFound) || errors.Is(err, ErrStateConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark batch failed: %w", err)
	}
	s.finished(ctx, updated)
	return nil
}

// finished reports a batch that reached a terminal or waiting state.
func (s *Service) finished(ctx context.Context, b Batch) {
	slog.Info("batch finished",
		"batch_id", b.ID,
		"tenant_id", b.TenantID,
		"format", b.Format,
		"state", b.State,
		"rows_total", b.RowsTotal,
		"rows_committed", b.RowsCommitted,
		"rows_failed", b.RowsFailed,
		"cause", b.Cause,
	)
	if b.State.Terminal() {
		s.observer.BatchFinished(b.State)
	}

	e := Event{
		BatchID:    b.ID,
		TenantID:   b.TenantID,
		ResellerID: b.ResellerID,
		State:      b.State,
		Counts:     statusOf(b).Counts,
		Cause:      b.Cause,
		CauseKind:  CauseKind(b.State, b.Cause),
		At:         time.Now().UTC(),
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), e); err != nil {
		slog.Warn("notify batch", "batch_id", b.ID, "error", err)
	}
}

// stage reads the file, detects its format and persists its rows.
func (s *Service) stage(ctx context.Context, b Batch) (Batch, error) {
	rc, err := s.blobs.Open(ctx, b.FileHandle)
	if errors.Is(err, fs.ErrNotExist) {
		return b, halt(fmt.Sprintf("file %q not found", b.FileHandle))
	}
	if err != nil {
		return b, WithKind(KindInfrastructureFailure, fmt.Errorf("open blob: %w", err))
	}
	content, err := ReadContent(rc, s.cfg.MaxFileSize)
	rc.Close()
	if errors.Is(err, ErrFileTooLarge) {
		return b, halt(err.Error())
	}
	if err != nil {
		return b, WithKind(KindInfrastructureFailure, err)
	}

	wb, err := ParseWorkbook(content.Data, b.FileName)
	if err != nil {
		return b, halt(fmt.Sprintf("unreadable file: %v", err))
	}

	det := Detect(wb, b.FileName, b.ResellerID)
	if !det.Resolved() {
		return b, halt(CauseUnresolved)
	}

	records := Stage(b.ID, det, wb)
	if len(records) == 0 {
		return b, halt(CauseNoDataRows)
	}

	staged, err := s.repo.StageBatch(ctx, b.ID, det.Format, records)
	if err != nil {
		return b, err
	}
	slog.Info("batch staged",
		"batch_id", b.ID,
		"format", det.Format,
		"confidence", det.Confidence,
		"rows", len(records),
	)
	return staged, nil
}

// validateBatch validates and resolves every staged row concurrently and
// stores the outcomes, moving the batch from one of from to validated.
func (s *Service) validateBatch(ctx context.Context, b Batch, from []BatchState) (Batch, error) {
	f, ok := GetFormat(b.Format)
	if !ok {
		return b, halt(fmt.Sprintf("%v: %s", ErrUnknownFormat, b.Format))
	}

	records, err := s.repo.ListStagingRecords(ctx, b.ID)
	if err != nil {
		return b, err
	}

	validator := NewValidator(f, s.cfg.CanonicalCurrency)
	stores := NewStoreResolver(s.repo)
	products := NewProductMapper(s.repo)
	outcomes := make([]RowOutcome, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RowConcurrency)
	for i, rec := range records {
		g.Go(func() error {
			out, err := s.evaluate(gctx, b, f, rec, validator, stores, products)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return b, err
	}

	failed := 0
	for _, o := range outcomes {
		if o.State == RecordFailed {
			failed++
		}
	}
	s.observer.RowsProcessed("valid", len(outcomes)-failed)
	s.observer.RowsProcessed("failed", failed)

	return s.repo.SaveValidation(ctx, b.ID, from, outcomes)
}

// evaluate validates one row and, when it passes, resolves its store and product.
func (s *Service) evaluate(ctx context.Context, b Batch, f Format, rec StagingRecord, v *Validator, stores *StoreResolver, products *ProductMapper) (RowOutcome, error) {
	res := v.Validate(rec)
	out := RowOutcome{Ordinal: rec.Ordinal, Resolved: res.Fields, Errors: res.Errors}
	if !res.Valid() {
		out.State = RecordFailed
		return out, nil
	}

	pr, err := products.Resolve(ctx, b.TenantID, b.ResellerID, f.Rules.Product, res.Fields.ProductCode)
	if err != nil {
		return out, err
	}
	if pr.Problem != nil {
		out.Errors = append(out.Errors, *pr.Problem)
		out.State = RecordFailed
		return out, nil
	}
	out.Resolved.CanonicalProductID = pr.CanonicalID

	store, err := stores.Resolve(ctx, b.TenantID, b.ResellerID, res.Fields.StoreName, f.Rules.OnlineCodes)
	if KindOf(err) == KindInvalidFieldValue {
		out.Errors = append(out.Errors, RowError{Kind: KindInvalidFieldValue, Field: string(FieldStore), Message: err.Error()})
		out.State = RecordFailed
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.Resolved.StoreID = store.ID
	out.Resolved.Channel = store.Channel
	out.State = RecordValid
	return out, nil
}

// gate applies the approval gate to a validated batch.
func (s *Service) gate(ctx context.Context, b Batch) (Batch, error) {
	next, cause := GateState(b.RowsTotal, b.RowsFailed)
	upd := BatchUpdate{}
	if cause != "" {
		upd.Cause = &cause
	}

	gated, err := s.repo.TransitionBatch(ctx, b.ID, []BatchState{StateValidated}, next, upd)
	if err != nil {
		return b, err
	}
	if next != StateApproved {
		s.finished(ctx, gated)
	}
	return gated, nil
}

// commit moves the valid rows of an approved batch into the fact table.
func (s *Service) commit(ctx context.Context, b Batch) (Batch, error) {
	records, err := s.repo.ListStagingRecords(ctx, b.ID)
	if err != nil {
		return b, err
	}

	committed, res, err := s.repo.CommitBatch(ctx, b.ID, CommitRows(b, records))
	if err != nil {
		return b, err
	}

	s.observer.RowsProcessed("committed", res.Committed)
	if n := len(res.Rejected); n > 0 {
		s.observer.RowsProcessed("rejected", n)
	}
	s.finished(ctx, committed)
	return committed, nil
}
