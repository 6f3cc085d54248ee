package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/salesingest/internal/core"
)

const batchColumns = `id, tenant_id, reseller_id, file_name, file_handle, format, content_hash,
	state, rows_total, rows_committed, rows_failed, cause, attempts, created_at, updated_at`

func scanBatch(row pgx.Row) (core.Batch, error) {
	var b core.Batch
	var state string
	err := row.Scan(&b.ID, &b.TenantID, &b.ResellerID, &b.FileName, &b.FileHandle, &b.Format, &b.ContentHash,
		&state, &b.RowsTotal, &b.RowsCommitted, &b.RowsFailed, &b.Cause, &b.Attempts, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Batch{}, core.ErrBatchNotFound
	}
	b.State = core.BatchState(state)
	return b, err
}

func (db *DB) CreateBatch(ctx context.Context, b core.Batch) (core.Batch, bool, error) {
	created, err := scanBatch(db.pool.QueryRow(ctx, `
		INSERT INTO upload_batches (id, tenant_id, reseller_id, file_name, file_handle, content_hash, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, content_hash) DO NOTHING
		RETURNING `+batchColumns,
		b.ID, b.TenantID, b.ResellerID, b.FileName, b.FileHandle, b.ContentHash, string(b.State)))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, core.ErrBatchNotFound) {
		return core.Batch{}, false, wrap("insert batch", err)
	}

	// conflict: the content was submitted before
	existing, err := scanBatch(db.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM upload_batches WHERE tenant_id = $1 AND content_hash = $2`,
		b.TenantID, b.ContentHash))
	if err != nil {
		return core.Batch{}, false, wrap("load duplicate batch", err)
	}
	return existing, false, nil
}

func (db *DB) GetBatch(ctx context.Context, tenantID string, id uuid.UUID) (core.Batch, error) {
	b, err := scanBatch(db.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM upload_batches WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	return b, wrap("get batch", err)
}

func (db *DB) LoadBatch(ctx context.Context, id uuid.UUID) (core.Batch, error) {
	b, err := scanBatch(db.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM upload_batches WHERE id = $1`, id))
	return b, wrap("load batch", err)
}

func (db *DB) ListBatchesInStates(ctx context.Context, states []core.BatchState) ([]core.Batch, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM upload_batches WHERE state = ANY($1) ORDER BY created_at`, stateArgs(states))
	if err != nil {
		return nil, wrap("list batches", err)
	}
	defer rows.Close()

	var out []core.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, wrap("scan batch", err)
		}
		out = append(out, b)
	}
	return out, wrap("list batches", rows.Err())
}

// transition is the compare-and-set every state change goes through.
func transition(ctx context.Context, q querier, id uuid.UUID, from []core.BatchState, to core.BatchState, upd core.BatchUpdate) (core.Batch, error) {
	allowed := make([]core.BatchState, 0, len(from))
	for _, f := range from {
		if core.CanTransition(f, to) {
			allowed = append(allowed, f)
		}
	}

	b, err := scanBatch(q.QueryRow(ctx, `
		UPDATE upload_batches SET
			state          = $3,
			format         = COALESCE($4, format),
			cause          = COALESCE($5, cause),
			rows_total     = COALESCE($6, rows_total),
			rows_committed = COALESCE($7, rows_committed),
			rows_failed    = COALESCE($8, rows_failed),
			attempts       = attempts + CASE WHEN $9 THEN 1 ELSE 0 END,
			updated_at     = now()
		WHERE id = $1 AND state = ANY($2)
		RETURNING `+batchColumns,
		id, stateArgs(allowed), string(to), upd.Format, upd.Cause,
		upd.RowsTotal, upd.RowsCommitted, upd.RowsFailed, upd.IncAttempts))
	if !errors.Is(err, core.ErrBatchNotFound) {
		return b, err
	}

	// nothing updated: tell a missing batch from one in another state
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM upload_batches WHERE id = $1)`, id).Scan(&exists); err != nil {
		return core.Batch{}, err
	}
	if exists {
		return core.Batch{}, fmt.Errorf("%w: batch %s to %s", core.ErrStateConflict, id, to)
	}
	return core.Batch{}, core.ErrBatchNotFound
}

func (db *DB) TransitionBatch(ctx context.Context, id uuid.UUID, from []core.BatchState, to core.BatchState, upd core.BatchUpdate) (core.Batch, error) {
	b, err := transition(ctx, db.pool, id, from, to, upd)
	return b, wrap("transition batch", err)
}

func (db *DB) ResetBatch(ctx context.Context, tenantID string, id uuid.UUID) (core.Batch, error) {
	var b core.Batch
	err := db.inTx(ctx, "reset batch", func(tx pgx.Tx) error {
		var owner string
		err := tx.QueryRow(ctx, `SELECT tenant_id FROM upload_batches WHERE id = $1 FOR UPDATE`, id).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && owner != tenantID) {
			return core.ErrBatchNotFound
		}
		if err != nil {
			return err
		}

		empty, zero := "", 0
		b, err = transition(ctx, tx, id, []core.BatchState{core.StateFailed}, core.StatePending, core.BatchUpdate{
			Format:        &empty,
			Cause:         &empty,
			RowsTotal:     &zero,
			RowsCommitted: &zero,
			RowsFailed:    &zero,
			IncAttempts:   true,
		})
		if err != nil {
			return err
		}
		return purge(ctx, tx, id)
	})
	return b, err
}

func purge(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM validation_errors WHERE batch_id = $1`, id); err != nil {
		return fmt.Errorf("delete errors: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM staging_records WHERE batch_id = $1`, id); err != nil {
		return fmt.Errorf("delete staging: %w", err)
	}
	return nil
}

// DeleteBatch removes the batch; staging rows and errors go with it by cascade.
func (db *DB) DeleteBatch(ctx context.Context, tenantID string, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM upload_batches WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return wrap("delete batch", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrBatchNotFound
	}
	return nil
}

func (db *DB) SweepStale(ctx context.Context, states []core.BatchState, before time.Time, cause string) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx, `
		UPDATE upload_batches SET state = $3, cause = $4, updated_at = now()
		WHERE state = ANY($1) AND updated_at < $2
		RETURNING id`,
		stateArgs(states), before, string(core.StateFailed), cause)
	if err != nil {
		return nil, wrap("sweep batches", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	return ids, wrap("sweep batches", err)
}
