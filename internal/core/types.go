package core

import (
	"context"
	"time"
)

// Header holds the source column names in file order.
type Header []string

// Value is one tokenized field. Null marks an explicit NULL produced by the
// NULL keyword transform; Text is empty in that case.
type Value struct {
	Text string `json:"text"`
	Null bool   `json:"null,omitempty"`
}

// Row is one accepted data row. Its length always equals the header length.
type Row []Value

// Strings returns the row text with explicit NULLs rendered as "NULL".
func (r Row) Strings() []string {
	out := make([]string, len(r))
	for i, v := range r {
		if v.Null {
			out[i] = "NULL"
			continue
		}
		out[i] = v.Text
	}
	return out
}

// Statement is one generated INSERT and the 0-based accepted row it came from.
type Statement struct {
	Row int    `json:"row"`
	SQL string `json:"sql"`
}

// Plan is the ordered list of statements for one import.
type Plan struct {
	Table      string      `json:"table"`
	Statements []Statement `json:"statements"`
}

// Len returns the number of statements.
func (p Plan) Len() int { return len(p.Statements) }

// Executor runs a single SQL statement and returns the rows affected.
type Executor interface {
	ExecSQL(ctx context.Context, stmt string) (int64, error)
}

// Session is an Executor bound to one connection and one outer transaction.
// The loader's save-point lives inside that transaction.
type Session interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Target is a database the engine can import into.
type Target interface {
	// UserColumns returns the user-visible columns of table in ordinal order.
	UserColumns(ctx context.Context, table string) ([]string, error)

	// Begin opens a session with an outer transaction.
	Begin(ctx context.Context) (Session, error)

	// Savepoints returns the save-point syntax of the database.
	Savepoints() SavepointDialect
}

// LoaderState is the state of a Loader.
type LoaderState string

const (
	StateIdle            LoaderState = "idle"
	StateSavepointOpened LoaderState = "savepoint_opened"
	StateExecuting       LoaderState = "executing"
	StateCommitted       LoaderState = "committed"
	StateRolledBack      LoaderState = "rolled_back"
)

// Outcome is the result of executing a plan.
type Outcome struct {
	State        LoaderState
	Savepoint    string
	Statements   int // statements executed successfully
	RowsAffected int64
	Err          error // cause of a rollback; nil when committed
}

// Committed reports whether every statement was applied.
func (o Outcome) Committed() bool { return o.State == StateCommitted }

// FailedPercent is the Percent of a progress event reporting a rollback.
const FailedPercent = -1

// Progress is a progress event from the loader.
type Progress struct {
	ImportID  string      `json:"importId,omitempty"`
	Table     string      `json:"table"`
	State     LoaderState `json:"state"`
	Statement int         `json:"statement"`
	Total     int         `json:"total"`
	Percent   int         `json:"percent"`
	Done      bool        `json:"done"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
}

// Source is a fully tokenized file.
type Source struct {
	Path      string
	Dialect   Dialect
	Header    Header
	Rows      []Row
	Discarded int
}

// Preview is the first rows of a file with the default mapping against a table.
type Preview struct {
	Path          string     `json:"path"`
	Table         string     `json:"table"`
	Header        Header     `json:"header"`
	Rows          [][]string `json:"rows"`
	TargetColumns []string   `json:"targetColumns"`
	Mapping       Mapping    `json:"mapping"`
	Warnings      []string   `json:"warnings,omitempty"`
}

// Request describes one import.
type Request struct {
	Path    string
	Table   string
	Dialect Dialect

	// Mapping overrides the default mapping when non-nil. Its length must
	// equal the source column count.
	Mapping Mapping

	// NoWait makes StartImport fail with ErrTooManyImports at once instead
	// of waiting for a free slot.
	NoWait bool
}

// Result is the final record of an import.
type Result struct {
	ImportID   string        `json:"importId"`
	Table      string        `json:"table"`
	Path       string        `json:"path"`
	State      LoaderState   `json:"state"`
	Savepoint  string        `json:"savepoint,omitempty"`
	Rows       int           `json:"rows"`
	Discarded  int           `json:"discarded"`
	Statements int           `json:"statements"`
	Executed   int           `json:"executed"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	ErrorCode  string        `json:"errorCode,omitempty"`
}

// Succeeded reports whether the import committed.
func (r *Result) Succeeded() bool { return r != nil && r.State == StateCommitted }
