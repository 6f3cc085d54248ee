// Package memdb is an in-memory core.Repository.
//
// It keeps the atomicity of the Postgres repository by doing every operation
// under one mutex, so it serves tests and DATABASE_BACKEND=memory runs.
// Failure injection hooks let tests exercise retries and commit rejections.
package memdb

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/salesingest/internal/core"
)

// Operations that accept injected failures.
const (
	OpStage    = "stage"
	OpValidate = "save_validation"
	OpCommit   = "commit"
	OpStore    = "upsert_store"
)

// DB is an in-memory repository. The zero value is not usable; call New.
type DB struct {
	mu sync.Mutex

	batches  map[uuid.UUID]core.Batch
	byHash   map[string]uuid.UUID
	records  map[uuid.UUID][]core.StagingRecord
	errs     map[uuid.UUID][]core.ValidationError
	stores   map[string]core.Store
	mappings map[string]core.ProductMapping
	sales    map[core.NaturalKey]core.SalesRecord

	failures map[string][]error
	reject   map[int]string
	upserts  int

	now func() time.Time
}

var _ core.Repository = (*DB)(nil)

// New returns an empty repository.
func New() *DB {
	return &DB{
		batches:  make(map[uuid.UUID]core.Batch),
		byHash:   make(map[string]uuid.UUID),
		records:  make(map[uuid.UUID][]core.StagingRecord),
		errs:     make(map[uuid.UUID][]core.ValidationError),
		stores:   make(map[string]core.Store),
		mappings: make(map[string]core.ProductMapping),
		sales:    make(map[core.NaturalKey]core.SalesRecord),
		failures: make(map[string][]error),
		reject:   make(map[int]string),
		now:      time.Now,
	}
}

// FailNext makes the next n calls of op return err.
func (db *DB) FailNext(op string, n int, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := 0; i < n; i++ {
		db.failures[op] = append(db.failures[op], err)
	}
}

// RejectAtCommit makes commit refuse the rows with the given ordinals,
// as a constraint violation would.
func (db *DB) RejectAtCommit(ordinals map[int]string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for k, v := range ordinals {
		db.reject[k] = v
	}
}

// SetClock replaces the time source.
func (db *DB) SetClock(now func() time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.now = now
}

// Touch sets the last update time of a batch.
func (db *DB) Touch(id uuid.UUID, at time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if b, ok := db.batches[id]; ok {
		b.UpdatedAt = at
		db.batches[id] = b
	}
}

func (db *DB) injected(op string) error {
	q := db.failures[op]
	if len(q) == 0 {
		return nil
	}
	db.failures[op] = q[1:]
	return q[0]
}

func hashKey(tenantID, hash string) string {
	return tenantID + "\x00" + hash
}

func scopedKey(tenantID, resellerID, name string) string {
	return tenantID + "\x00" + resellerID + "\x00" + name
}

func (db *DB) CreateBatch(_ context.Context, b core.Batch) (core.Batch, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if id, ok := db.byHash[hashKey(b.TenantID, b.ContentHash)]; ok {
		return db.batches[id], false, nil
	}

	now := db.now()
	b.CreatedAt, b.UpdatedAt = now, now
	b.Attempts = 1
	db.batches[b.ID] = b
	db.byHash[hashKey(b.TenantID, b.ContentHash)] = b.ID
	return b, true, nil
}

func (db *DB) GetBatch(_ context.Context, tenantID string, id uuid.UUID) (core.Batch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	b, ok := db.batches[id]
	if !ok || b.TenantID != tenantID {
		return core.Batch{}, core.ErrBatchNotFound
	}
	return b, nil
}

func (db *DB) LoadBatch(_ context.Context, id uuid.UUID) (core.Batch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	b, ok := db.batches[id]
	if !ok {
		return core.Batch{}, core.ErrBatchNotFound
	}
	return b, nil
}

func (db *DB) ListBatchesInStates(_ context.Context, states []core.BatchState) ([]core.Batch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []core.Batch
	for _, b := range db.batches {
		if slices.Contains(states, b.State) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// transition applies a compare-and-set; callers hold the lock.
func (db *DB) transition(id uuid.UUID, from []core.BatchState, to core.BatchState, upd core.BatchUpdate) (core.Batch, error) {
	b, ok := db.batches[id]
	if !ok {
		return core.Batch{}, core.ErrBatchNotFound
	}
	if !slices.Contains(from, b.State) || !core.CanTransition(b.State, to) {
		return core.Batch{}, core.ErrStateConflict
	}

	b.State = to
	if upd.Format != nil {
		b.Format = *upd.Format
	}
	if upd.Cause != nil {
		b.Cause = *upd.Cause
	}
	if upd.RowsTotal != nil {
		b.RowsTotal = *upd.RowsTotal
	}
	if upd.RowsCommitted != nil {
		b.RowsCommitted = *upd.RowsCommitted
	}
	if upd.RowsFailed != nil {
		b.RowsFailed = *upd.RowsFailed
	}
	if upd.IncAttempts {
		b.Attempts++
	}
	b.UpdatedAt = db.now()
	db.batches[id] = b
	return b, nil
}

func (db *DB) TransitionBatch(_ context.Context, id uuid.UUID, from []core.BatchState, to core.BatchState, upd core.BatchUpdate) (core.Batch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.transition(id, from, to, upd)
}

func (db *DB) ResetBatch(_ context.Context, tenantID string, id uuid.UUID) (core.Batch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	b, ok := db.batches[id]
	if !ok || b.TenantID != tenantID {
		return core.Batch{}, core.ErrBatchNotFound
	}

	empty, zero := "", 0
	b, err := db.transition(id, []core.BatchState{core.StateFailed}, core.StatePending, core.BatchUpdate{
		Format:        &empty,
		Cause:         &empty,
		RowsTotal:     &zero,
		RowsCommitted: &zero,
		RowsFailed:    &zero,
		IncAttempts:   true,
	})
	if err != nil {
		return core.Batch{}, err
	}
	delete(db.records, id)
	delete(db.errs, id)
	return b, nil
}

func (db *DB) DeleteBatch(_ context.Context, tenantID string, id uuid.UUID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	b, ok := db.batches[id]
	if !ok || b.TenantID != tenantID {
		return core.ErrBatchNotFound
	}
	delete(db.batches, id)
	delete(db.byHash, hashKey(b.TenantID, b.ContentHash))
	delete(db.records, id)
	delete(db.errs, id)
	return nil
}

func (db *DB) SweepStale(_ context.Context, states []core.BatchState, before time.Time, cause string) ([]uuid.UUID, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var ids []uuid.UUID
	for id, b := range db.batches {
		if !slices.Contains(states, b.State) || !b.UpdatedAt.Before(before) {
			continue
		}
		if _, err := db.transition(id, []core.BatchState{b.State}, core.StateFailed, core.BatchUpdate{Cause: &cause}); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (db *DB) StageBatch(_ context.Context, id uuid.UUID, format string, records []core.StagingRecord) (core.Batch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.injected(OpStage); err != nil {
		return core.Batch{}, err
	}

	total := len(records)
	b, err := db.transition(id, []core.BatchState{core.StatePending}, core.StateStaged, core.BatchUpdate{
		Format:    &format,
		RowsTotal: &total,
	})
	if err != nil {
		return core.Batch{}, err
	}

	stored := make([]core.StagingRecord, len(records))
	copy(stored, records)
	db.records[id] = stored

	var seeded []core.ValidationError
	for _, r := range records {
		if r.ParseError != "" {
			seeded = append(seeded, core.ValidationError{
				BatchID:   id,
				Ordinal:   r.Ordinal,
				RowError:  core.RowError{Kind: core.KindRowParseError, Message: r.ParseError},
				CreatedAt: db.now(),
			})
		}
	}
	db.errs[id] = seeded
	return b, nil
}

func (db *DB) ListStagingRecords(_ context.Context, id uuid.UUID) ([]core.StagingRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.batches[id]; !ok {
		return nil, core.ErrBatchNotFound
	}
	out := make([]core.StagingRecord, len(db.records[id]))
	copy(out, db.records[id])
	return out, nil
}

func (db *DB) SaveValidation(_ context.Context, id uuid.UUID, from []core.BatchState, outcomes []core.RowOutcome) (core.Batch, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.injected(OpValidate); err != nil {
		return core.Batch{}, err
	}

	failed := 0
	for _, o := range outcomes {
		if o.State == core.RecordFailed {
			failed++
		}
	}
	b, err := db.transition(id, from, core.StateValidated, core.BatchUpdate{RowsFailed: &failed})
	if err != nil {
		return core.Batch{}, err
	}

	byOrdinal := make(map[int]core.RowOutcome, len(outcomes))
	for _, o := range outcomes {
		byOrdinal[o.Ordinal] = o
	}
	recs := db.records[id]
	for i := range recs {
		if o, ok := byOrdinal[recs[i].Ordinal]; ok {
			recs[i].Resolved = o.Resolved
			recs[i].State = o.State
		}
	}

	var errs []core.ValidationError
	for _, o := range outcomes {
		for _, re := range o.Errors {
			errs = append(errs, core.ValidationError{BatchID: id, Ordinal: o.Ordinal, RowError: re, CreatedAt: db.now()})
		}
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Ordinal < errs[j].Ordinal })
	db.errs[id] = errs
	return b, nil
}

func (db *DB) ListValidationErrors(_ context.Context, tenantID string, id uuid.UUID) ([]core.ValidationError, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	b, ok := db.batches[id]
	if !ok || b.TenantID != tenantID {
		return nil, core.ErrBatchNotFound
	}
	out := make([]core.ValidationError, len(db.errs[id]))
	copy(out, db.errs[id])
	return out, nil
}

func (db *DB) UpsertStore(_ context.Context, s core.Store) (core.Store, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.injected(OpStore); err != nil {
		return core.Store{}, err
	}
	db.upserts++

	key := scopedKey(s.TenantID, s.ResellerID, s.NormalizedName)
	if existing, ok := db.stores[key]; ok {
		return existing, nil
	}
	s.ID = uuid.New()
	s.CreatedAt = db.now()
	db.stores[key] = s
	return s, nil
}

func (db *DB) GetProductMapping(_ context.Context, tenantID, resellerID, sourceCode string) (core.ProductMapping, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	pm, ok := db.mappings[scopedKey(tenantID, resellerID, sourceCode)]
	if !ok {
		return core.ProductMapping{}, core.ErrMappingNotFound
	}
	return pm, nil
}

func (db *DB) ListProductMappings(_ context.Context, tenantID, resellerID string) ([]core.ProductMapping, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []core.ProductMapping
	for _, pm := range db.mappings {
		if pm.TenantID == tenantID && pm.ResellerID == resellerID {
			out = append(out, pm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceCode < out[j].SourceCode })
	return out, nil
}

func (db *DB) UpsertProductMapping(_ context.Context, pm core.ProductMapping) (core.ProductMapping, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := scopedKey(pm.TenantID, pm.ResellerID, pm.SourceCode)
	if existing, ok := db.mappings[key]; ok {
		existing.CanonicalID = pm.CanonicalID
		db.mappings[key] = existing
		return existing, nil
	}
	pm.ID = uuid.New()
	pm.CreatedAt = db.now()
	db.mappings[key] = pm
	return pm, nil
}

func (db *DB) CommitBatch(_ context.Context, id uuid.UUID, rows []core.CommitRow) (core.Batch, core.CommitResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	b, ok := db.batches[id]
	if !ok {
		return core.Batch{}, core.CommitResult{}, core.ErrBatchNotFound
	}
	if b.State != core.StateApproved {
		return core.Batch{}, core.CommitResult{}, core.ErrStateConflict
	}
	if err := db.injected(OpCommit); err != nil {
		// the transaction rolls back: nothing written, batch stays approved
		return core.Batch{}, core.CommitResult{}, err
	}

	var res core.CommitResult
	written := make(map[core.NaturalKey]core.SalesRecord)
	committed := make(map[int]bool)
	for _, row := range rows {
		msg, rejected := db.reject[row.Ordinal]
		if !rejected {
			msg = core.CheckCommittable(row.Record)
			rejected = msg != ""
		}
		if rejected {
			res.Rejected = append(res.Rejected, core.RowRejection{Ordinal: row.Ordinal, Message: msg})
			continue
		}

		rec := row.Record
		key := rec.Key()
		if existing, ok := written[key]; ok {
			rec.ID = existing.ID
		} else if existing, ok := db.sales[key]; ok {
			rec.ID = existing.ID
		} else {
			rec.ID = uuid.New()
		}
		rec.UpdatedAt = db.now()
		written[key] = rec
		committed[row.Ordinal] = true
		res.Committed++
	}

	for k, v := range written {
		db.sales[k] = v
	}
	recs := db.records[id]
	for i := range recs {
		if committed[recs[i].Ordinal] {
			recs[i].State = core.RecordCommitted
		}
	}
	for _, rj := range res.Rejected {
		for i := range recs {
			if recs[i].Ordinal == rj.Ordinal {
				recs[i].State = core.RecordFailed
			}
		}
		db.errs[id] = append(db.errs[id], core.ValidationError{
			BatchID:   id,
			Ordinal:   rj.Ordinal,
			RowError:  core.RejectionError(rj),
			CreatedAt: db.now(),
		})
	}

	nCommitted, nFailed := core.FinalizeCounts(b, res)
	b, _ = db.transition(id, []core.BatchState{core.StateApproved}, core.CommitState(len(res.Rejected)), core.BatchUpdate{
		RowsCommitted: &nCommitted,
		RowsFailed:    &nFailed,
	})
	return b, res, nil
}

func (db *DB) Ping(context.Context) error { return nil }

// Sales returns the fact table, ordered by date then product.
func (db *DB) Sales() []core.SalesRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]core.SalesRecord, 0, len(db.sales))
	for _, s := range db.sales {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.Before(out[j].TransactionDate)
		}
		return out[i].CanonicalProductID < out[j].CanonicalProductID
	})
	return out
}

// Stores returns all stores.
func (db *DB) Stores() []core.Store {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]core.Store, 0, len(db.stores))
	for _, s := range db.stores {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedName < out[j].NormalizedName })
	return out
}

// StoreUpserts returns how many times UpsertStore reached storage.
func (db *DB) StoreUpserts() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.upserts
}

// BatchCount returns the number of batches.
func (db *DB) BatchCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.batches)
}

// StagingCount returns the number of staging records of a batch.
func (db *DB) StagingCount(id uuid.UUID) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.records[id])
}
