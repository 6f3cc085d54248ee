package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/salesingest/internal/core"
)

// ContextCheckInterval is how many rows are written between context checks.
const ContextCheckInterval = 100

const upsertSale = `
	INSERT INTO sales_records (id, tenant_id, reseller_id, canonical_product_id, store_id,
		transaction_date, quantity, amount, source_currency, source_amount, batch_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (tenant_id, reseller_id, canonical_product_id, transaction_date, store_id, quantity)
	DO UPDATE SET
		amount          = EXCLUDED.amount,
		source_currency = EXCLUDED.source_currency,
		source_amount   = EXCLUDED.source_amount,
		batch_id        = EXCLUDED.batch_id,
		updated_at      = now()`

// CommitBatch upserts the fact rows of an approved batch in one transaction.
// Each row runs inside a savepoint: a data-level rejection rolls back only
// that row and is recorded on it, any other error aborts the transaction and
// leaves the batch approved.
func (db *DB) CommitBatch(ctx context.Context, id uuid.UUID, rows []core.CommitRow) (core.Batch, core.CommitResult, error) {
	var b core.Batch
	var res core.CommitResult

	err := db.inTx(ctx, "commit batch", func(tx pgx.Tx) error {
		var state string
		var failed int
		err := tx.QueryRow(ctx, `SELECT state, rows_failed FROM upload_batches WHERE id = $1 FOR UPDATE`, id).Scan(&state, &failed)
		if errors.Is(err, pgx.ErrNoRows) {
			return core.ErrBatchNotFound
		}
		if err != nil {
			return err
		}
		if core.BatchState(state) != core.StateApproved {
			return fmt.Errorf("%w: batch %s is %s", core.ErrStateConflict, id, state)
		}

		committed := make([]int, 0, len(rows))
		for i, row := range rows {
			if i%ContextCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("commit cancelled at row %d: %w", row.Ordinal, err)
				}
			}

			if msg := core.CheckCommittable(row.Record); msg != "" {
				res.Rejected = append(res.Rejected, core.RowRejection{Ordinal: row.Ordinal, Message: msg})
				continue
			}

			// isolate each upsert: PostgreSQL aborts the entire transaction on any error
			savepoint := fmt.Sprintf("sp_%d", i)
			if _, err := tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
				return fmt.Errorf("create savepoint at row %d: %w", row.Ordinal, err)
			}

			r := row.Record
			_, err := tx.Exec(ctx, upsertSale,
				uuid.New(), r.TenantID, r.ResellerID, r.CanonicalProductID, r.StoreID,
				r.TransactionDate, r.Quantity, r.Amount, r.SourceCurrency, r.SourceAmount, r.BatchID)
			if err != nil {
				if !core.IsRowRejection(err) {
					return fmt.Errorf("upsert sale at row %d: %w", row.Ordinal, err)
				}
				if _, rbErr := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
					return fmt.Errorf("rollback savepoint at row %d: %w", row.Ordinal, rbErr)
				}
				res.Rejected = append(res.Rejected, core.RowRejection{Ordinal: row.Ordinal, Message: err.Error()})
				continue
			}

			if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
				return fmt.Errorf("release savepoint at row %d: %w", row.Ordinal, err)
			}
			committed = append(committed, row.Ordinal)
			res.Committed++
		}

		if err := markRecords(ctx, tx, id, committed, core.RecordCommitted); err != nil {
			return err
		}
		rejected := make([]int, len(res.Rejected))
		errs := make([]core.ValidationError, len(res.Rejected))
		for i, rj := range res.Rejected {
			rejected[i] = rj.Ordinal
			errs[i] = core.ValidationError{BatchID: id, Ordinal: rj.Ordinal, RowError: core.RejectionError(rj)}
		}
		if err := markRecords(ctx, tx, id, rejected, core.RecordFailed); err != nil {
			return err
		}
		if err := copyErrors(ctx, tx, errs); err != nil {
			return err
		}

		nCommitted, nFailed := core.FinalizeCounts(core.Batch{RowsFailed: failed}, res)
		b, err = transition(ctx, tx, id, []core.BatchState{core.StateApproved}, core.CommitState(len(res.Rejected)), core.BatchUpdate{
			RowsCommitted: &nCommitted,
			RowsFailed:    &nFailed,
		})
		return err
	})
	if err != nil {
		return core.Batch{}, core.CommitResult{}, err
	}
	return b, res, nil
}

func markRecords(ctx context.Context, tx pgx.Tx, id uuid.UUID, ordinals []int, state core.RecordState) error {
	if len(ordinals) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `UPDATE staging_records SET state = $3 WHERE batch_id = $1 AND ordinal = ANY($2)`,
		id, ordinals, string(state))
	if err != nil {
		return fmt.Errorf("mark staging records %s: %w", state, err)
	}
	return nil
}
