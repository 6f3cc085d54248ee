package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/salesingest/internal/core"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		same      bool
	}{
		{name: "nil", err: nil},
		{name: "not found passes through", err: core.ErrBatchNotFound, same: true},
		{name: "conflict passes through", err: core.ErrStateConflict, same: true},
		{name: "connection lost", err: &pgconn.PgError{Code: "08006"}, transient: true},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, transient: true},
		{name: "check violation", err: &pgconn.PgError{Code: "23514"}},
		{name: "deadline", err: context.DeadlineExceeded, transient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrap("op", tt.err)
			if tt.err == nil {
				if got != nil {
					t.Fatalf("wrap(nil) = %v", got)
				}
				return
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("wrap lost the cause: %v", got)
			}
			if tt.same && got != tt.err {
				t.Errorf("wrap(%v) = %v, want unchanged", tt.err, got)
			}
			if core.IsTransient(got) != tt.transient {
				t.Errorf("IsTransient = %v, want %v", core.IsTransient(got), tt.transient)
			}
		})
	}
}

func TestStateArgs(t *testing.T) {
	got := stateArgs([]core.BatchState{core.StatePending, core.StateStaged})
	if len(got) != 2 || got[0] != "pending" || got[1] != "staged" {
		t.Errorf("stateArgs = %v", got)
	}
}

// testDB connects to DATABASE_TEST_URL; the test is skipped without it.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("DATABASE_TEST_URL")
	if url == "" {
		t.Skip("DATABASE_TEST_URL not set")
	}
	ctx := context.Background()
	pool, err := Open(ctx, Options{URL: url, MaxConns: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return New(pool)
}

func TestRepository_BatchLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	tenant := "test-" + uuid.NewString()

	b, created, err := db.CreateBatch(ctx, core.Batch{
		ID: uuid.New(), TenantID: tenant, ResellerID: "bolt", FileName: "f.csv",
		FileHandle: "h", ContentHash: "hash", State: core.StatePending,
	})
	if err != nil || !created {
		t.Fatalf("CreateBatch = %v, %v", created, err)
	}
	dup, created, err := db.CreateBatch(ctx, core.Batch{
		ID: uuid.New(), TenantID: tenant, ResellerID: "bolt", FileName: "g.csv",
		FileHandle: "h2", ContentHash: "hash", State: core.StatePending,
	})
	if err != nil || created || dup.ID != b.ID {
		t.Fatalf("duplicate CreateBatch = %s, %v, %v", dup.ID, created, err)
	}

	records := []core.StagingRecord{
		{Ordinal: 1, Payload: map[string]string{"EAN": "4006381333931"}},
		{Ordinal: 2, Payload: map[string]string{}, ParseError: "bare quote"},
	}
	staged, err := db.StageBatch(ctx, b.ID, "bolt_weekly", records)
	if err != nil {
		t.Fatalf("StageBatch: %v", err)
	}
	if staged.State != core.StateStaged || staged.RowsTotal != 2 {
		t.Errorf("staged = %+v", staged)
	}
	if _, err := db.StageBatch(ctx, b.ID, "bolt_weekly", records); !errors.Is(err, core.ErrStateConflict) {
		t.Errorf("restage = %v, want ErrStateConflict", err)
	}

	store, err := db.UpsertStore(ctx, core.Store{TenantID: tenant, ResellerID: "bolt", Name: "Mitte", NormalizedName: "mitte", Channel: core.ChannelPhysical})
	if err != nil {
		t.Fatal(err)
	}
	again, err := db.UpsertStore(ctx, core.Store{TenantID: tenant, ResellerID: "bolt", Name: "MITTE", NormalizedName: "mitte", Channel: core.ChannelPhysical})
	if err != nil || again.ID != store.ID {
		t.Errorf("second upsert = %s, %v, want %s", again.ID, err, store.ID)
	}

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	resolved := core.ResolvedFields{CanonicalProductID: "04006381333931", StoreID: store.ID, TransactionDate: day, Quantity: 2, Amount: decimal.RequireFromString("9.5")}
	validated, err := db.SaveValidation(ctx, b.ID, []core.BatchState{core.StateStaged}, []core.RowOutcome{
		{Ordinal: 1, Resolved: resolved, State: core.RecordValid},
		{Ordinal: 2, State: core.RecordFailed, Errors: []core.RowError{{Kind: core.KindRowParseError, Message: "bare quote"}}},
	})
	if err != nil || validated.RowsFailed != 1 {
		t.Fatalf("SaveValidation = %+v, %v", validated, err)
	}

	if _, err := db.TransitionBatch(ctx, b.ID, []core.BatchState{core.StateValidated}, core.StateApproved, core.BatchUpdate{}); err != nil {
		t.Fatal(err)
	}
	recs, err := db.ListStagingRecords(ctx, b.ID)
	if err != nil || len(recs) != 2 || recs[0].Resolved.StoreID != store.ID {
		t.Fatalf("ListStagingRecords = %+v, %v", recs, err)
	}

	committed, res, err := db.CommitBatch(ctx, b.ID, core.CommitRows(validated, recs))
	if err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}
	if committed.State != core.StateCommitted || res.Committed != 1 || committed.RowsFailed != 1 {
		t.Errorf("committed = %+v, res = %+v", committed, res)
	}

	errs, err := db.ListValidationErrors(ctx, tenant, b.ID)
	if err != nil || len(errs) != 1 || errs[0].Kind != core.KindRowParseError {
		t.Errorf("errors = %+v, %v", errs, err)
	}

	if err := db.DeleteBatch(ctx, "other", b.ID); !errors.Is(err, core.ErrBatchNotFound) {
		t.Errorf("delete other tenant = %v", err)
	}
	if err := db.DeleteBatch(ctx, tenant, b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetBatch(ctx, tenant, b.ID); !errors.Is(err, core.ErrBatchNotFound) {
		t.Errorf("get after delete = %v", err)
	}
}

func TestRepository_ProductMappings(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	tenant := "test-" + uuid.NewString()

	if _, err := db.GetProductMapping(ctx, tenant, "fjord", "ART-1"); !errors.Is(err, core.ErrMappingNotFound) {
		t.Errorf("missing mapping = %v", err)
	}
	first, err := db.UpsertProductMapping(ctx, core.ProductMapping{TenantID: tenant, ResellerID: "fjord", SourceCode: "ART-1", CanonicalID: "A"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := db.UpsertProductMapping(ctx, core.ProductMapping{TenantID: tenant, ResellerID: "fjord", SourceCode: "ART-1", CanonicalID: "B"})
	if err != nil || second.ID != first.ID || second.CanonicalID != "B" {
		t.Errorf("update mapping = %+v, %v", second, err)
	}
	list, err := db.ListProductMappings(ctx, tenant, "fjord")
	if err != nil || len(list) != 1 {
		t.Errorf("list = %+v, %v", list, err)
	}
}
