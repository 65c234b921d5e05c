// Package core provides the business logic for CSV import operations.
//
// This package is the heart of the importer, containing all domain logic
// independent of any UI or transport layer. It can be used by web handlers,
// CLI tools, or tests without modification. Databases are reached only
// through the [Target] and [Session] interfaces; drivers live in the store
// package.
//
// # Architecture
//
// An import flows through four stages:
//
//   - Decoding: [NewDecoder] turns raw UTF-8 or UTF-16 bytes into UTF-8 text
//     and rejects malformed input with a [DecodeError].
//   - Tokenizing: [Reader] splits text into rows according to a [Dialect]
//     (separator, line terminator, enclosure, escape, NULL keyword, header).
//   - Planning: [Reconcile] maps source columns onto the table by position
//     and [BuildPlan] renders one INSERT per row.
//   - Loading: [Loader] runs the plan inside a uniquely named save-point and
//     rolls back to it on the first failure.
//
// # Dialects
//
// A [Dialect] is immutable once built:
//
//	d, err := core.NewDialect(core.DialectOptions{
//	    Separator:      "TAB",
//	    LineTerminator: "CRLF",
//	    Enclosure:      `"`,
//	    NullKeyword:    "YES",
//	    Encoding:       "UTF-16",
//	})
//
// Named dialects can also come from an HCL profiles file, see
// [DialectFromProfile].
//
// # Atomicity
//
// [Service.Execute] opens an outer transaction on the target and hands it to
// a Loader. Either every statement of a plan is applied or none is. If the
// rollback itself fails the loader returns a [RollbackError] and [IsFatal]
// reports true: the target is then in an unknown state.
//
// # Async Imports
//
// [Service.StartImport] runs an import in the background and returns its ID:
//
//  1. The [ImportLimiter] reserves a slot and the target table
//  2. The file is decoded, tokenized and planned
//  3. The plan is executed; progress is broadcast via [Service.SubscribeProgress]
//  4. The final [Result] is available from [Service.ImportResult]
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - FILE001-FILE002: File errors (missing, too large)
//   - CSV001-CSV002: Format and encoding errors
//   - MAP001-MAP002: Column mapping errors
//   - IMP001-IMP006: Import errors (empty, cancelled, busy, rollback)
//   - DB001-DB008: Database errors (duplicates, constraints, connections)
//
// # Thread Safety
//
// [Service] is safe for concurrent use. A [Loader] runs one plan at a time;
// a [Reader] must not be shared between goroutines.
package core
