package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/logging"
)

// ContextCheckInterval is how often (in rows) file loading checks for
// cancellation.
var ContextCheckInterval = 100

// Service provides the import operations used by the web and CLI frontends.
type Service struct {
	target  Target
	cfg     *config.Config
	ids     IDGenerator
	limiter *ImportLimiter

	mu      sync.RWMutex
	imports map[string]*activeImport
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithIDGenerator sets the generator used for save-point names. Import IDs
// are always UUIDs.
func WithIDGenerator(ids IDGenerator) ServiceOption {
	return func(s *Service) { s.ids = ids }
}

// NewService creates a new Service instance.
func NewService(target Target, cfg *config.Config, opts ...ServiceOption) (*Service, error) {
	if target == nil {
		return nil, errors.New("nil import target")
	}
	if cfg == nil {
		return nil, errors.New("nil config")
	}

	s := &Service{
		target:  target,
		cfg:     cfg,
		ids:     UUIDGenerator{},
		limiter: NewImportLimiter(cfg.Import.MaxConcurrent, cfg.Import.MaxWaitTime),
		imports: make(map[string]*activeImport),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config { return s.cfg }

// ImportTimeout returns the configured maximum duration of one import.
func (s *Service) ImportTimeout() time.Duration {
	if s.cfg.Import.Timeout <= 0 {
		return 10 * time.Minute
	}
	return s.cfg.Import.Timeout
}

// DialectFromProfile builds a dialect from a profile. Empty profile fields
// take the dialect defaults.
func DialectFromProfile(p config.Profile) (Dialect, error) {
	opts := DefaultDialectOptions()
	if p.Separator != "" {
		opts.Separator = p.Separator
	}
	if p.LineTerminator != "" {
		opts.LineTerminator = p.LineTerminator
	}
	if p.Enclosure != "" {
		opts.Enclosure = p.Enclosure
	}
	if p.Escape != "" {
		opts.Escape = p.Escape
	}
	if p.NullKeyword != "" {
		opts.NullKeyword = p.NullKeyword
	}
	if p.Encoding != "" {
		opts.Encoding = p.Encoding
	}
	if p.HeaderOnTop != nil {
		opts.HeaderOnTop = p.HeaderOnTop
	}

	d, err := NewDialect(opts)
	if err != nil {
		return Dialect{}, fmt.Errorf("profile %q: %w", p.Name, err)
	}
	return d, nil
}

// DefaultDialect returns the dialect configured through CSV_* variables.
func (s *Service) DefaultDialect() (Dialect, error) {
	return DialectFromProfile(s.cfg.Import.DefaultProfile())
}

// TableColumns returns the user columns of table in ordinal order.
func (s *Service) TableColumns(ctx context.Context, table string) ([]string, error) {
	cols, err := s.target.UserColumns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %q: %w", table, err)
	}
	return cols, nil
}

// openSource checks path, then opens it. The caller must close the file.
func (s *Service) openSource(path string) (*os.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &FileAccessError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &FileAccessError{Path: path, Err: errors.New("is a directory")}
	}
	if limit := s.cfg.Import.MaxFileSize; limit > 0 && info.Size() > limit {
		return nil, &FileAccessError{
			Path: path,
			Err:  fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, info.Size(), limit),
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &FileAccessError{Path: path, Err: err}
	}
	return f, nil
}

// newFileReader opens path and wraps it in a decoder and tokenizer.
func (s *Service) newFileReader(path string, d Dialect) (*os.File, *Reader, error) {
	if !d.Valid() {
		return nil, nil, errors.New("dialect not initialized")
	}
	f, err := s.openSource(path)
	if err != nil {
		return nil, nil, err
	}
	src := &sourceReader{r: f, path: path}
	return f, NewReader(NewDecoder(src, d.Encoding()), d), nil
}

// sourceReader reports read failures on an opened file as *FileAccessError.
type sourceReader struct {
	r    io.Reader
	path string
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		err = &FileAccessError{Path: s.path, Err: err}
	}
	return n, err
}

// LoadHeader reads only the header of path. With header-on-top NO the
// synthesized Column1..ColumnN names are returned.
func (s *Service) LoadHeader(ctx context.Context, path string, d Dialect) (Header, error) {
	f, r, err := s.newFileReader(path, d)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, _, err := r.ReadHeader()
	if err != nil {
		return nil, err
	}
	logging.FromContext(ctx).Debug("header loaded", "path", path, "columns", len(header))
	return header, nil
}

// LoadPreview reads the header and the first PreviewRows rows of path and
// reconciles the header against table.
func (s *Service) LoadPreview(ctx context.Context, path string, d Dialect, table string) (*Preview, error) {
	target, err := s.TableColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	f, r, err := s.newFileReader(path, d)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, first, err := r.ReadHeader()
	if err != nil {
		return nil, err
	}

	limit := s.cfg.Import.PreviewRows
	rows := make([][]string, 0, limit)
	if first != nil && limit > 0 {
		rows = append(rows, first.Strings())
	}
	for len(rows) < limit {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row.Strings())
	}

	rec := Reconcile(header, target)
	preview := &Preview{
		Path:          path,
		Table:         table,
		Header:        header,
		Rows:          rows,
		TargetColumns: target,
		Mapping:       rec.Mapping,
	}
	if rec.Mismatch != nil {
		rec.Mismatch.Table = table
		preview.Warnings = append(preview.Warnings, rec.Mismatch.Error())
	}
	if n := r.Discarded(); n > 0 {
		preview.Warnings = append(preview.Warnings,
			fmt.Sprintf("%d row(s) skipped: field count does not match the header", n))
	}
	return preview, nil
}

// LoadSource reads the whole file into memory.
func (s *Service) LoadSource(ctx context.Context, path string, d Dialect) (*Source, error) {
	f, r, err := s.newFileReader(path, d)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, first, err := r.ReadHeader()
	if err != nil {
		return nil, err
	}

	src := &Source{Path: path, Dialect: d, Header: header}
	if first != nil {
		src.Rows = append(src.Rows, first)
	}
	for {
		if len(src.Rows)%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
			}
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		src.Rows = append(src.Rows, row)
	}
	src.Discarded = r.Discarded()

	logging.FromContext(ctx).Debug("source loaded",
		"path", path,
		"rows", len(src.Rows),
		"discarded", src.Discarded,
		"lines", r.Line(),
	)
	return src, nil
}

// Execute applies plan to the target inside an outer transaction.
//
// The loader's save-point lives in that transaction. A committed outcome
// commits it; a rolled-back outcome rolls it back. Like Loader.Execute, a
// statement failure is reported on the Outcome, not as an error.
func (s *Service) Execute(ctx context.Context, plan Plan, progress chan<- Progress) (Outcome, error) {
	if plan.Len() == 0 {
		return Outcome{State: StateIdle}, &EmptyImportError{Table: plan.Table}
	}

	session, err := s.target.Begin(ctx)
	if err != nil {
		return Outcome{State: StateIdle}, fmt.Errorf("begin import session: %w", err)
	}

	loader := NewLoader(session, s.ids, s.target.Savepoints())
	out, err := loader.Execute(ctx, plan, progress)

	// Finish the outer transaction even if ctx was cancelled.
	finishCtx := context.WithoutCancel(ctx)
	if err != nil || !out.Committed() {
		if rbErr := session.Rollback(finishCtx); rbErr != nil {
			logging.FromContext(ctx).Warn("close import session", "error", rbErr)
		}
		return out, err
	}

	if err := session.Commit(finishCtx); err != nil {
		out.State = StateRolledBack
		out.Err = &ExecutionError{SQL: "COMMIT", Err: err}
		return out, nil
	}
	return out, nil
}

// Import loads req.Path, builds a plan and executes it. It returns the
// import result and, if the import did not commit, the cause.
func (s *Service) Import(ctx context.Context, req Request, progress chan<- Progress) (*Result, error) {
	start := time.Now()
	result := &Result{ImportID: logging.ImportID(ctx), Table: req.Table, Path: req.Path, State: StateIdle}

	fail := func(err error) (*Result, error) {
		result.Duration = time.Since(start)
		result.Error = err.Error()
		result.ErrorCode = MapError(err).Code
		return result, err
	}

	src, err := s.LoadSource(ctx, req.Path, req.Dialect)
	if err != nil {
		return fail(err)
	}
	result.Rows = len(src.Rows)
	result.Discarded = src.Discarded

	mapping := req.Mapping
	if mapping == nil {
		target, err := s.TableColumns(ctx, req.Table)
		if err != nil {
			return fail(err)
		}
		rec := Reconcile(src.Header, target)
		if rec.Mismatch != nil {
			logging.FromContext(ctx).Info("column count mismatch, mapping padded",
				"table", req.Table, "source", rec.Mismatch.Source, "target", rec.Mismatch.Target)
		}
		mapping = rec.Mapping
	} else if len(mapping) != len(src.Header) {
		return fail(&SchemaMismatchError{Table: req.Table, Source: len(src.Header), Target: len(mapping)})
	}

	plan, err := BuildPlan(req.Table, mapping, src.Rows)
	if err != nil {
		return fail(err)
	}
	result.Statements = plan.Len()
	if plan.Len() == 0 {
		return fail(&EmptyImportError{Table: req.Table, Rows: len(src.Rows), Discarded: src.Discarded})
	}

	out, err := s.Execute(ctx, plan, progress)
	result.State = out.State
	result.Savepoint = out.Savepoint
	result.Executed = out.Statements
	if err != nil {
		return fail(err)
	}
	if out.Err != nil {
		return fail(out.Err)
	}

	result.Duration = time.Since(start)
	return result, nil
}
