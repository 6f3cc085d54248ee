package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/salesingest/internal/core"
)

var errorColumns = []string{"batch_id", "ordinal", "kind", "field", "value", "message", "suggestion"}

// copyErrors bulk-inserts validation errors.
func copyErrors(ctx context.Context, tx pgx.Tx, errs []core.ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"validation_errors"}, errorColumns,
		pgx.CopyFromSlice(len(errs), func(i int) ([]any, error) {
			e := errs[i]
			return []any{e.BatchID, e.Ordinal, string(e.Kind), e.Field, e.Value, e.Message, e.Suggestion}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy validation errors: %w", err)
	}
	return nil
}

// StageBatch copies the raw rows and moves the batch to staged in one
// transaction. Unreadable rows get their RowParseError right away.
func (db *DB) StageBatch(ctx context.Context, id uuid.UUID, format string, records []core.StagingRecord) (core.Batch, error) {
	var b core.Batch
	err := db.inTx(ctx, "stage batch", func(tx pgx.Tx) error {
		total := len(records)
		var err error
		b, err = transition(ctx, tx, id, []core.BatchState{core.StatePending}, core.StateStaged, core.BatchUpdate{
			Format:    &format,
			RowsTotal: &total,
		})
		if err != nil {
			return err
		}

		_, err = tx.CopyFrom(ctx, pgx.Identifier{"staging_records"},
			[]string{"batch_id", "ordinal", "sheet", "payload", "parse_error", "state"},
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				r := records[i]
				return []any{id, r.Ordinal, r.Sheet, r.Payload, r.ParseError, string(core.RecordPending)}, nil
			}))
		if err != nil {
			return fmt.Errorf("copy staging records: %w", err)
		}

		var seeded []core.ValidationError
		for _, r := range records {
			if r.ParseError != "" {
				seeded = append(seeded, core.ValidationError{
					BatchID:  id,
					Ordinal:  r.Ordinal,
					RowError: core.RowError{Kind: core.KindRowParseError, Message: r.ParseError},
				})
			}
		}
		return copyErrors(ctx, tx, seeded)
	})
	return b, err
}

func (db *DB) ListStagingRecords(ctx context.Context, id uuid.UUID) ([]core.StagingRecord, error) {
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM upload_batches WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, wrap("list staging records", err)
	}
	if !exists {
		return nil, core.ErrBatchNotFound
	}

	rows, err := db.pool.Query(ctx, `
		SELECT ordinal, sheet, payload, parse_error, resolved, state
		FROM staging_records WHERE batch_id = $1 ORDER BY ordinal`, id)
	if err != nil {
		return nil, wrap("list staging records", err)
	}
	defer rows.Close()

	var out []core.StagingRecord
	for rows.Next() {
		r := core.StagingRecord{BatchID: id}
		var state string
		if err := rows.Scan(&r.Ordinal, &r.Sheet, &r.Payload, &r.ParseError, &r.Resolved, &state); err != nil {
			return nil, wrap("scan staging record", err)
		}
		r.State = core.RecordState(state)
		out = append(out, r)
	}
	return out, wrap("list staging records", rows.Err())
}

// SaveValidation stores per-row outcomes and replaces the error report in
// one transaction, moving the batch from one of from to validated.
func (db *DB) SaveValidation(ctx context.Context, id uuid.UUID, from []core.BatchState, outcomes []core.RowOutcome) (core.Batch, error) {
	var b core.Batch
	err := db.inTx(ctx, "save validation", func(tx pgx.Tx) error {
		failed := 0
		for _, o := range outcomes {
			if o.State == core.RecordFailed {
				failed++
			}
		}
		var err error
		b, err = transition(ctx, tx, id, from, core.StateValidated, core.BatchUpdate{RowsFailed: &failed})
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, o := range outcomes {
			batch.Queue(`UPDATE staging_records SET resolved = $3, state = $4 WHERE batch_id = $1 AND ordinal = $2`,
				id, o.Ordinal, o.Resolved, string(o.State))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("update staging records: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM validation_errors WHERE batch_id = $1`, id); err != nil {
			return fmt.Errorf("clear validation errors: %w", err)
		}
		var errs []core.ValidationError
		for _, o := range outcomes {
			for _, re := range o.Errors {
				errs = append(errs, core.ValidationError{BatchID: id, Ordinal: o.Ordinal, RowError: re})
			}
		}
		return copyErrors(ctx, tx, errs)
	})
	return b, err
}

func (db *DB) ListValidationErrors(ctx context.Context, tenantID string, id uuid.UUID) ([]core.ValidationError, error) {
	if _, err := db.GetBatch(ctx, tenantID, id); err != nil {
		return nil, err
	}

	rows, err := db.pool.Query(ctx, `
		SELECT ordinal, kind, field, value, message, suggestion, created_at
		FROM validation_errors WHERE batch_id = $1 ORDER BY ordinal, id`, id)
	if err != nil {
		return nil, wrap("list validation errors", err)
	}
	defer rows.Close()

	var out []core.ValidationError
	for rows.Next() {
		e := core.ValidationError{BatchID: id}
		var kind string
		if err := rows.Scan(&e.Ordinal, &kind, &e.Field, &e.Value, &e.Message, &e.Suggestion, &e.CreatedAt); err != nil {
			return nil, wrap("scan validation error", err)
		}
		e.Kind = core.ErrorKind(kind)
		out = append(out, e)
	}
	return out, wrap("list validation errors", rows.Err())
}
