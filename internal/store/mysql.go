package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
)

const mysqlColumns = `SELECT COLUMN_NAME FROM information_schema.COLUMNS
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
ORDER BY ORDINAL_POSITION`

// Generated statements quote identifiers with double quotes.
const mysqlANSIQuotes = `SET SESSION sql_mode = CONCAT(@@SESSION.sql_mode, ',ANSI_QUOTES')`

func init() {
	Register("mysql", openMySQL)
}

// openMySQL accepts a go-sql-driver DSN (user:pass@tcp(host:3306)/db) or the
// same behind a mysql:// prefix.
func openMySQL(ctx context.Context, cfg config.DatabaseConfig) (Target, error) {
	mc, err := mysql.ParseDSN(strings.TrimPrefix(cfg.URL, "mysql://"))
	if err != nil {
		return nil, err
	}

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	configurePool(db, cfg)
	if err := pingOrClose(ctx, db); err != nil {
		return nil, err
	}

	t := newSQLTarget(db, "mysql", mysqlColumns, core.StandardSavepoints)
	t.prepare = func(ctx context.Context, conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, mysqlANSIQuotes)
		return err
	}
	return t, nil
}
