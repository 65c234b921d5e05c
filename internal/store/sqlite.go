package store

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/core"
)

// sqliteColumns lists visible columns; generated and hidden columns are
// excluded by table_info.
const sqliteColumns = `SELECT name FROM pragma_table_info(?) ORDER BY cid`

// sqlitePragmas are applied to every pooled connection unless the URL sets
// its own.
var sqlitePragmas = []string{"foreign_keys(1)", "busy_timeout(5000)"}

func init() {
	Register("sqlite", openSQLite)
}

func openSQLite(ctx context.Context, cfg config.DatabaseConfig) (Target, error) {
	db, err := sql.Open("sqlite", sqliteDSN(cfg.URL))
	if err != nil {
		return nil, err
	}
	configurePool(db, cfg)
	if err := pingOrClose(ctx, db); err != nil {
		return nil, err
	}
	return newSQLTarget(db, "sqlite", sqliteColumns, core.StandardSavepoints), nil
}

// sqliteDSN accepts a plain path, a file: URI or a sqlite:// URL.
func sqliteDSN(url string) string {
	dsn := strings.TrimPrefix(url, "sqlite://")
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(dsn)
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}
