package store

import (
	"context"
	"database/sql"

	_ "github.com/tursodatabase/libsql-client-go/libsql"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
)

func init() {
	Register("libsql", openLibSQL)
}

// openLibSQL connects to a libSQL server or Turso database
// (libsql://, https:// or ws:// URLs with an optional authToken parameter).
func openLibSQL(ctx context.Context, cfg config.DatabaseConfig) (Target, error) {
	db, err := sql.Open("libsql", cfg.URL)
	if err != nil {
		return nil, err
	}
	configurePool(db, cfg)
	if err := pingOrClose(ctx, db); err != nil {
		return nil, err
	}
	return newSQLTarget(db, "libsql", sqliteColumns, core.StandardSavepoints), nil
}
