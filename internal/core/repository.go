package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BatchUpdate carries optional column changes applied with a transition.
type BatchUpdate struct {
	Format        *string
	Cause         *string
	RowsTotal     *int
	RowsCommitted *int
	RowsFailed    *int
	IncAttempts   bool
}

// RowOutcome is the validation and resolution result of one staging record.
type RowOutcome struct {
	Ordinal  int
	Resolved ResolvedFields
	State    RecordState // valid or failed
	Errors   []RowError
}

// CommitRow is one valid row ready for the fact table.
type CommitRow struct {
	Ordinal int
	Record  SalesRecord
}

// RowRejection is a row refused by storage during commit.
type RowRejection struct {
	Ordinal int
	Message string
}

// CommitResult summarizes a commit transaction.
type CommitResult struct {
	Committed int
	Rejected  []RowRejection
}

// Repository is the persistence contract of the pipeline. Every batch state
// change is a compare-and-set on the current state: when the batch is not in
// one of the from states, ErrStateConflict is returned. Missing batches and
// batches of another tenant return ErrBatchNotFound.
type Repository interface {
	StoreUpserter
	MappingStore

	// CreateBatch inserts b, or returns the existing batch of the same
	// (tenant, content hash) with created == false.
	CreateBatch(ctx context.Context, b Batch) (Batch, bool, error)
	GetBatch(ctx context.Context, tenantID string, id uuid.UUID) (Batch, error)
	// LoadBatch reads a batch without tenant scoping, for workers.
	LoadBatch(ctx context.Context, id uuid.UUID) (Batch, error)
	ListBatchesInStates(ctx context.Context, states []BatchState) ([]Batch, error)
	TransitionBatch(ctx context.Context, id uuid.UUID, from []BatchState, to BatchState, upd BatchUpdate) (Batch, error)
	// ResetBatch moves a failed batch back to pending and purges its staging
	// records and errors.
	ResetBatch(ctx context.Context, tenantID string, id uuid.UUID) (Batch, error)
	// DeleteBatch removes a batch with its staging records and errors.
	// Final sales records are not touched.
	DeleteBatch(ctx context.Context, tenantID string, id uuid.UUID) error
	// SweepStale fails batches in states last updated before the cutoff.
	SweepStale(ctx context.Context, states []BatchState, before time.Time, cause string) ([]uuid.UUID, error)

	// StageBatch stores records and moves the batch pending -> staged with
	// its format and row total, atomically.
	StageBatch(ctx context.Context, id uuid.UUID, format string, records []StagingRecord) (Batch, error)
	ListStagingRecords(ctx context.Context, id uuid.UUID) ([]StagingRecord, error)
	// SaveValidation replaces row outcomes and errors and moves the batch to
	// validated with its failed row count, atomically.
	SaveValidation(ctx context.Context, id uuid.UUID, from []BatchState, outcomes []RowOutcome) (Batch, error)
	ListValidationErrors(ctx context.Context, tenantID string, id uuid.UUID) ([]ValidationError, error)

	UpsertProductMapping(ctx context.Context, pm ProductMapping) (ProductMapping, error)

	// CommitBatch upserts rows on the natural key in one transaction while
	// holding the batch, which must be approved. Rows refused by storage are
	// recorded as errors; the batch ends committed or partial_success.
	CommitBatch(ctx context.Context, id uuid.UUID, rows []CommitRow) (Batch, CommitResult, error)

	Ping(ctx context.Context) error
}

// RejectionError returns the persisted error of a row refused at commit.
func RejectionError(r RowRejection) RowError {
	return RowError{
		Kind:    KindInvalidFieldValue,
		Message: rejectedAtCommitText + ": " + r.Message,
	}
}
