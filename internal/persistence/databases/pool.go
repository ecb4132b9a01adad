// Package databases owns the single process-wide Postgres connection pool
// used by every DB-facing package. The pool is opened lazily by the facade
// on first call and released on Close — see the teacher's persistence/databases
// package for the same lazy-handle shape, generalized here to also register
// the pgvector codec and apply pool-sizing/statement-timeout configuration.
package databases

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Options configures pool construction beyond the bare DSN.
type Options struct {
	MaxConns         int32
	StatementTimeout time.Duration
}

// OpenPool creates a Postgres connection pool with the vector extension's
// type registered on every new connection.
func OpenPool(ctx context.Context, dsn string, opts Options) (*pgxpool.Pool, error) {
	return newPgPool(ctx, dsn, opts)
}

func newPgPool(ctx context.Context, dsn string, opts Options) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvector.RegisterTypes(ctx, conn)
	}
	if opts.StatementTimeout > 0 {
		timeoutMs := opts.StatementTimeout.Milliseconds()
		stmt := cfg.ConnConfig.RuntimeParams
		if stmt == nil {
			stmt = map[string]string{}
			cfg.ConnConfig.RuntimeParams = stmt
		}
		stmt["statement_timeout"] = fmt.Sprintf("%d", timeoutMs)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
