package store

import (
	"context"
	"database/sql"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
)

const sqlServerColumns = `SELECT name FROM sys.columns
WHERE object_id = OBJECT_ID(@p1) AND is_computed = 0
ORDER BY column_id`

func init() {
	Register("sqlserver", openSQLServer)
}

// openSQLServer accepts sqlserver:// URLs and ADO-style connection strings.
func openSQLServer(ctx context.Context, cfg config.DatabaseConfig) (Target, error) {
	// Validate early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.URL); err != nil {
		return nil, err
	}
	connector, err := mssql.NewConnector(cfg.URL)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	configurePool(db, cfg)
	if err := pingOrClose(ctx, db); err != nil {
		return nil, err
	}
	return newSQLTarget(db, "sqlserver", sqlServerColumns, core.SQLServerSavepoints), nil
}
