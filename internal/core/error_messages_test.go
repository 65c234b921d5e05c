package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "missing file",
			err:         &FileAccessError{Path: "x.csv", Err: os.ErrNotExist},
			wantCode:    "FILE001",
			wantMessage: "CSV file could not be read",
		},
		{
			name:        "file too large wins over file access",
			err:         &FileAccessError{Path: "x.csv", Err: fmt.Errorf("%w: 9 bytes", ErrFileTooLarge)},
			wantCode:    "FILE002",
			wantMessage: "CSV file exceeds the maximum size",
		},
		{
			name:        "format error",
			err:         &FormatError{Reason: "file is empty"},
			wantCode:    "CSV001",
			wantMessage: "File is not a valid CSV",
		},
		{
			name:        "decode error",
			err:         &DecodeError{Encoding: EncodingUTF16, Offset: 4, Err: errors.New("bad")},
			wantCode:    "CSV002",
			wantMessage: "File contains invalid characters for the selected encoding",
		},
		{
			name:        "duplicate mapping",
			err:         &SchemaMismatchError{Duplicates: []string{"a"}},
			wantCode:    "MAP001",
			wantMessage: "Two source columns are mapped to the same table column",
		},
		{
			name:        "count mismatch",
			err:         &SchemaMismatchError{Source: 2, Target: 3},
			wantCode:    "MAP002",
			wantMessage: "Column mapping does not match the source columns",
		},
		{
			name:        "empty import",
			err:         &EmptyImportError{Table: "t"},
			wantCode:    "IMP001",
			wantMessage: "Nothing to import",
		},
		{
			name:        "cancelled",
			err:         fmt.Errorf("%w: %w", ErrCancelled, context.Canceled),
			wantCode:    "IMP002",
			wantMessage: "Import was cancelled and rolled back",
		},
		{
			name:        "table busy",
			err:         ErrTableBusy,
			wantCode:    "IMP003",
			wantMessage: "Another import is running for this table",
		},
		{
			name:        "too many imports",
			err:         ErrTooManyImports,
			wantCode:    "IMP004",
			wantMessage: "System is busy processing other imports",
		},
		{
			name:        "rollback failure is reported before its cause",
			err:         &RollbackError{Savepoint: "csvimport_1", Cause: &ExecutionError{Statement: 1, Err: errors.New("duplicate key")}, Err: errors.New("conn closed")},
			wantCode:    "IMP006",
			wantMessage: "Rollback failed, database state is unknown",
		},
		{
			name:        "duplicate key from driver",
			err:         &ExecutionError{Statement: 3, Err: errors.New("ERROR: duplicate key value violates unique constraint \"t_pkey\"")},
			wantCode:    "DB001",
			wantMessage: "A row with this key already exists",
		},
		{
			name:        "sqlite unique constraint",
			err:         &ExecutionError{Statement: 1, Err: errors.New("constraint failed: UNIQUE constraint failed: t.id (2067)")},
			wantCode:    "DB001",
			wantMessage: "A row with this key already exists",
		},
		{
			name:        "not null constraint",
			err:         &ExecutionError{Statement: 1, Err: errors.New("NOT NULL constraint failed: t.name")},
			wantCode:    "DB002",
			wantMessage: "A required column received no value",
		},
		{
			name:        "foreign key",
			err:         errors.New("violates foreign key constraint"),
			wantCode:    "DB003",
			wantMessage: "Referenced record does not exist",
		},
		{
			name:        "unknown table",
			err:         errors.New("no such table: orders"),
			wantCode:    "DB004",
			wantMessage: "Target table does not exist",
		},
		{
			name:        "connection refused",
			err:         errors.New("dial tcp: connection refused"),
			wantCode:    "DB005",
			wantMessage: "Unable to connect to database",
		},
		{
			name:        "deadline during a statement",
			err:         &ExecutionError{Statement: 2, Err: context.DeadlineExceeded},
			wantCode:    "DB006",
			wantMessage: "Import timed out and was rolled back",
		},
		{
			name:        "unmatched statement failure",
			err:         &ExecutionError{Statement: 2, Err: errors.New("value too long")},
			wantCode:    "DB008",
			wantMessage: "A row could not be inserted, nothing was imported",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("DUPLICATE KEY value violates"),
			wantCode:    "DB001",
			wantMessage: "A row with this key already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := errors.New("duplicate key value violates")
	result := FormatUserError(err)

	expected := "A row with this key already exists (Code: DB001). Remove duplicate rows or clear the table first"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "known error is user facing",
			err:  errors.New("duplicate key"),
			want: true,
		},
		{
			name: "typed error is user facing",
			err:  &EmptyImportError{},
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := &ExecutionError{Statement: 1, Err: errors.New("UNIQUE constraint failed")}
		userErr := NewUserError(techErr)

		if userErr.Error() != "A row with this key already exists" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if userErr.Code != "DB001" {
			t.Errorf("Code = %q", userErr.Code)
		}

		var execErr *ExecutionError
		if !errors.As(userErr, &execErr) {
			t.Error("Unwrap() should return original error")
		}
	})
}

func TestErrorTypes(t *testing.T) {
	t.Run("format error mentions invalid csv", func(t *testing.T) {
		err := &FormatError{Line: 3, Reason: "header line has no column names"}
		if got := err.Error(); got != "invalid csv at line 3: header line has no column names" {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("file access unwraps", func(t *testing.T) {
		err := &FileAccessError{Path: "x", Err: os.ErrNotExist}
		if !errors.Is(err, os.ErrNotExist) {
			t.Error("FileAccessError does not unwrap")
		}
	})

	t.Run("only rollback errors are fatal", func(t *testing.T) {
		if IsFatal(&ExecutionError{Err: errors.New("x")}) {
			t.Error("ExecutionError reported fatal")
		}
		wrapped := fmt.Errorf("import: %w", &RollbackError{Err: errors.New("x"), Cause: ErrCancelled})
		if !IsFatal(wrapped) {
			t.Error("wrapped RollbackError not fatal")
		}
		if !errors.Is(wrapped, ErrCancelled) {
			t.Error("RollbackError does not expose its cause")
		}
	})
}
