// Package core provides the CSV import engine.
//
// # Error Codes Reference
//
// Errors returned by the engine are mapped to user-facing messages with a
// code that operators can quote when reporting problems. Typed errors are
// matched first (errors.As), then the technical text is matched against
// known database patterns.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File not accessible: the CSV file is missing or unreadable
//	FILE002 - File too large: the CSV file exceeds the configured size limit
//
// # CSV Errors (CSV001-CSV099)
//
//	CSV001 - Invalid CSV: empty file or unusable header line
//	CSV002 - Encoding error: bytes are not valid in the selected encoding
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Duplicate target: two source columns map to the same table column
//	MAP002 - Column count mismatch: mapping does not match the source columns
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Nothing to import: no statements were generated
//	IMP002 - Import cancelled: the import was cancelled and rolled back
//	IMP003 - Import busy: another import is running against the same table
//	IMP004 - System busy: too many imports are running
//	IMP005 - Import not found: unknown or expired import ID
//	IMP006 - Rollback failed: the database state is unknown (fatal)
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key
//	DB002 - Constraint violation (NOT NULL, CHECK)
//	DB003 - Foreign key violation
//	DB004 - Unknown table or column
//	DB005 - Connection problem
//	DB006 - Timeout
//	DB007 - Database locked or deadlocked
//	DB008 - Statement failed (no specific pattern matched)
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: check application logs for the technical error
package core

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns is matched case-insensitively against execution error text.
// The first match wins, so specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{"duplicate key", UserMessage{"A row with this key already exists", "Remove duplicate rows or clear the table first", "DB001"}},
	{"unique constraint", UserMessage{"A row with this key already exists", "Remove duplicate rows or clear the table first", "DB001"}},
	{"foreign key", UserMessage{"Referenced record does not exist", "Import the parent table first", "DB003"}},
	{"not null constraint", UserMessage{"A required column received no value", "Map a source column to every required column", "DB002"}},
	{"violates not-null", UserMessage{"A required column received no value", "Map a source column to every required column", "DB002"}},
	{"check constraint", UserMessage{"A value was rejected by a table constraint", "Review the values in the failing row", "DB002"}},
	{"no such table", UserMessage{"Target table does not exist", "Verify the table name", "DB004"}},
	{"does not exist", UserMessage{"Target table or column does not exist", "Verify the table and column mapping", "DB004"}},
	{"no column named", UserMessage{"Mapped column does not exist in the table", "Review the column mapping", "DB004"}},
	{"unknown column", UserMessage{"Mapped column does not exist in the table", "Review the column mapping", "DB004"}},
	{"invalid column name", UserMessage{"Mapped column does not exist in the table", "Review the column mapping", "DB004"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB005"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB006"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},
	{"database is locked", UserMessage{"Database is locked by another connection", "Please try again", "DB007"}},
}

var (
	msgFileAccess   = UserMessage{"CSV file could not be read", "Check that the file exists and is readable", "FILE001"}
	msgFileTooLarge = UserMessage{"CSV file exceeds the maximum size", "Split the file into smaller chunks", "FILE002"}
	msgFormat       = UserMessage{"File is not a valid CSV", "Check the separator, line terminator and header settings", "CSV001"}
	msgDecode       = UserMessage{"File contains invalid characters for the selected encoding", "Choose the correct encoding (UTF-8 or UTF-16)", "CSV002"}
	msgDuplicate    = UserMessage{"Two source columns are mapped to the same table column", "Clear or rename one of the duplicate mappings", "MAP001"}
	msgMappingCount = UserMessage{"Column mapping does not match the source columns", "Reload the preview and map the columns again", "MAP002"}
	msgEmpty        = UserMessage{"Nothing to import", "Check that rows match the header and at least one column is mapped", "IMP001"}
	msgCancelled    = UserMessage{"Import was cancelled and rolled back", "Start a new import when ready", "IMP002"}
	msgTableBusy    = UserMessage{"Another import is running for this table", "Wait for it to finish and try again", "IMP003"}
	msgTooMany      = UserMessage{"System is busy processing other imports", "Please wait a moment and try again", "IMP004"}
	msgNotFound     = UserMessage{"Import session not found", "The import may have expired. Start a new import", "IMP005"}
	msgRollback     = UserMessage{"Rollback failed, database state is unknown", "Inspect the target table before retrying", "IMP006"}
	msgStatement    = UserMessage{"A row could not be inserted, nothing was imported", "Review the failing row and try again", "DB008"}
	msgDeadline     = UserMessage{"Import timed out and was rolled back", "Try a smaller file or try again later", "DB006"}
	defaultMessage  = UserMessage{"An unexpected error occurred", "Please try again or contact support", "ERR000"}
)

// MapError converts a technical error to a user-friendly message.
// It returns the zero UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		rbErr     *RollbackError
		fileErr   *FileAccessError
		decErr    *DecodeError
		fmtErr    *FormatError
		schemaErr *SchemaMismatchError
		emptyErr  *EmptyImportError
		execErr   *ExecutionError
	)

	switch {
	case errors.As(err, &rbErr):
		return msgRollback
	case errors.Is(err, ErrFileTooLarge):
		return msgFileTooLarge
	case errors.As(err, &fileErr):
		return msgFileAccess
	case errors.As(err, &decErr):
		return msgDecode
	case errors.As(err, &fmtErr):
		return msgFormat
	case errors.As(err, &schemaErr):
		if schemaErr.Fatal() {
			return msgDuplicate
		}
		return msgMappingCount
	case errors.As(err, &emptyErr):
		return msgEmpty
	case errors.Is(err, ErrCancelled):
		return msgCancelled
	case errors.Is(err, ErrTableBusy):
		return msgTableBusy
	case errors.Is(err, ErrTooManyImports):
		return msgTooMany
	case errors.Is(err, ErrImportNotFound):
		return msgNotFound
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	if errors.As(err, &execErr) {
		if strings.Contains(errStr, "deadline exceeded") {
			return msgDeadline
		}
		return msgStatement
	}
	return defaultMessage
}

// FormatUserError creates a display string: "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message. Error
// returns the message; Unwrap returns the technical error.
type UserError struct {
	UserMessage
	Err error
}

// NewUserError wraps err with its mapped message. It returns nil for nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{UserMessage: MapError(err), Err: err}
}

func (e *UserError) Error() string { return e.Message }

func (e *UserError) Unwrap() error { return e.Err }
