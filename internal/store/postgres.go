package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
)

const postgresColumns = `SELECT column_name FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`

func init() {
	Register("postgres", openPostgres)
}

// pgTarget uses a native pgx pool rather than database/sql.
type pgTarget struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (Target, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &pgTarget{pool: pool}, nil
}

func (t *pgTarget) Driver() string { return "postgres" }

func (t *pgTarget) Savepoints() core.SavepointDialect { return core.StandardSavepoints }

func (t *pgTarget) Ping(ctx context.Context) error { return t.pool.Ping(ctx) }

func (t *pgTarget) Close() error {
	t.pool.Close()
	return nil
}

func (t *pgTarget) UserColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := t.pool.Query(ctx, postgresColumns, table)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (t *pgTarget) Begin(ctx context.Context) (core.Session, error) {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgSession{tx: tx}, nil
}

type pgSession struct {
	tx pgx.Tx
}

func (s *pgSession) ExecSQL(ctx context.Context, stmt string) (int64, error) {
	tag, err := s.tx.Exec(ctx, stmt)
	if err != nil {
		return 0, describePgError(err)
	}
	return tag.RowsAffected(), nil
}

func (s *pgSession) Commit(ctx context.Context) error {
	return s.tx.Commit(ctx)
}

func (s *pgSession) Rollback(ctx context.Context) error {
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// describePgError appends the server's detail line, which names the
// offending key or value.
func describePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%w: %s", err, pgErr.Detail)
	}
	return err
}
