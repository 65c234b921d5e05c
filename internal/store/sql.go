package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
)

// sqlTarget serves every driver reached through database/sql.
type sqlTarget struct {
	db     *sql.DB
	driver string

	// columnsQuery takes the table name as its only argument and returns
	// one column name per row in ordinal order.
	columnsQuery string
	savepoints   core.SavepointDialect

	// prepare runs on the session connection before the transaction opens.
	prepare func(ctx context.Context, conn *sql.Conn) error
}

func newSQLTarget(db *sql.DB, driver, columnsQuery string, sp core.SavepointDialect) *sqlTarget {
	return &sqlTarget{db: db, driver: driver, columnsQuery: columnsQuery, savepoints: sp}
}

// configurePool applies the pool settings shared by all database/sql drivers.
func configurePool(db *sql.DB, cfg config.DatabaseConfig) {
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
}

// pingOrClose pings db and closes it on failure.
func pingOrClose(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (t *sqlTarget) Driver() string { return t.driver }

func (t *sqlTarget) Savepoints() core.SavepointDialect { return t.savepoints }

func (t *sqlTarget) Ping(ctx context.Context) error { return t.db.PingContext(ctx) }

func (t *sqlTarget) Close() error { return t.db.Close() }

func (t *sqlTarget) UserColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, t.columnsQuery, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// Begin pins one connection and opens the outer transaction on it.
//
// The transaction is started on a context without cancellation:
// database/sql rolls a transaction back as soon as its context is done,
// which would discard the save-point before the loader can roll back to it.
func (t *sqlTarget) Begin(ctx context.Context) (core.Session, error) {
	conn, err := t.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if t.prepare != nil {
		if err := t.prepare(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("prepare session: %w", err)
		}
	}

	tx, err := conn.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &sqlSession{conn: conn, tx: tx}, nil
}

type sqlSession struct {
	conn *sql.Conn
	tx   *sql.Tx
}

func (s *sqlSession) ExecSQL(ctx context.Context, stmt string) (int64, error) {
	res, err := s.tx.ExecContext(ctx, stmt)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers do not report counts for save-point statements.
		return 0, nil
	}
	return n, nil
}

func (s *sqlSession) Commit(context.Context) error {
	defer s.conn.Close()
	return s.tx.Commit()
}

func (s *sqlSession) Rollback(context.Context) error {
	defer s.conn.Close()
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
