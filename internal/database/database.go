// Package database is the Postgres implementation of core.Repository.
//
// Batch transitions are single compare-and-set UPDATE statements. Staging
// rows are written with COPY, reference data with ON CONFLICT upserts, and
// commit runs in one transaction holding the batch row lock, with a savepoint
// per fact row so a rejected row does not abort the rest.
package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/salesingest/internal/core"
)

//go:embed schema.sql
var schema string

// Options configure the connection pool.
type Options struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DB implements core.Repository on a pgx pool.
type DB struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ core.Repository = (*DB)(nil)

// Open connects, verifies the connection and returns the pool.
func Open(ctx context.Context, opts Options) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(opts.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// New wraps a pool.
func New(pool *pgxpool.Pool) *DB {
	return &DB{pool: pool, now: time.Now}
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return wrap("ping", db.pool.Ping(ctx))
}

// wrap annotates err with op and marks connection-level failures as
// infrastructure errors so the pipeline retries them.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrBatchNotFound) || errors.Is(err, core.ErrStateConflict) || errors.Is(err, core.ErrMappingNotFound) {
		return err
	}
	err = fmt.Errorf("%s: %w", op, err)
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || core.IsTransient(err) {
		return core.WithKind(core.KindInfrastructureFailure, err)
	}
	return err
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// inTx runs fn in a transaction, committing when it returns nil.
func (db *DB) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return wrap(op+": begin", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	if err := fn(tx); err != nil {
		return wrap(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrap(op+": commit", err)
	}
	return nil
}

func stateArgs(states []core.BatchState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
