package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCancelled is recorded on an outcome when the import context was
	// cancelled between statements. It triggers the same rollback as a failure.
	ErrCancelled = errors.New("import cancelled")

	// ErrLoaderBusy is returned when Execute is called on a loader that is not idle.
	ErrLoaderBusy = errors.New("loader is already executing an import")

	// ErrImportNotFound is returned for unknown or expired import IDs.
	ErrImportNotFound = errors.New("import not found")

	// ErrFileTooLarge is wrapped in a FileAccessError when the source exceeds
	// the configured size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// FileAccessError reports a missing, unreadable or oversized source file.
type FileAccessError struct {
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("file access %s: %v", e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error { return e.Err }

// DecodeError reports bytes that are not valid in the dialect's encoding.
type DecodeError struct {
	Encoding Encoding
	Offset   int64
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s near byte %d: %v", e.Encoding, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FormatError reports an empty file or an unusable header line.
type FormatError struct {
	Line   int
	Reason string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid csv at line %d: %s", e.Line, e.Reason)
	}
	return "invalid csv: " + e.Reason
}

// SchemaMismatchError describes a disagreement between the source columns and
// the target table. Count mismatches are informational (the mapping is padded
// or truncated); duplicate targets make a mapping unusable.
type SchemaMismatchError struct {
	Table      string
	Source     int
	Target     int
	Duplicates []string
}

func (e *SchemaMismatchError) Error() string {
	if len(e.Duplicates) > 0 {
		return fmt.Sprintf("schema mismatch on %q: duplicate target columns %s",
			e.Table, strings.Join(e.Duplicates, ", "))
	}
	return fmt.Sprintf("schema mismatch on %q: %d source columns, %d target columns",
		e.Table, e.Source, e.Target)
}

// Fatal reports whether the mismatch prevents building a plan.
func (e *SchemaMismatchError) Fatal() bool { return len(e.Duplicates) > 0 }

// EmptyImportError is returned when a plan holds no statements.
type EmptyImportError struct {
	Table     string
	Rows      int
	Discarded int
}

func (e *EmptyImportError) Error() string {
	return fmt.Sprintf("empty import into %q: no statements generated (%d rows, %d discarded)",
		e.Table, e.Rows, e.Discarded)
}

// ExecutionError wraps a failed statement. Statement is 1-based; 0 means the
// save-point bookkeeping itself failed.
type ExecutionError struct {
	Statement int
	SQL       string
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Statement == 0 {
		return fmt.Sprintf("execute %q: %v", e.SQL, e.Err)
	}
	return fmt.Sprintf("execute statement %d: %v", e.Statement, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// RollbackError means the rollback to the import save-point failed. The
// target database is in an unknown state.
type RollbackError struct {
	Savepoint string
	Cause     error
	Err       error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback to save-point %s failed: %v (after: %v)", e.Savepoint, e.Err, e.Cause)
}

func (e *RollbackError) Unwrap() []error { return []error{e.Err, e.Cause} }

// IsFatal reports whether err leaves the target in an unknown state.
func IsFatal(err error) bool {
	var rb *RollbackError
	return errors.As(err, &rb)
}
