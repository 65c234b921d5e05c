package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/csvimport/internal/logging"
)

// listenerBuffer is the channel capacity handed to each subscriber.
const listenerBuffer = 16

type activeImport struct {
	ID        string
	Table     string
	Path      string
	StartedAt time.Time
	Cancel    context.CancelFunc
	Done      chan struct{}

	mu        sync.Mutex
	progress  Progress
	result    *Result
	listeners []chan Progress
	closed    bool
}

// notify records p and fans it out. Slow listeners miss intermediate
// updates; a final update replaces the oldest buffered one instead.
func (a *activeImport) notify(p Progress) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.progress = p
	for _, ch := range a.listeners {
		select {
		case ch <- p:
		default:
			if !p.Done {
				continue
			}
			select {
			case <-ch:
			default:
			}
			ch <- p
		}
	}
}

// finish stores the result and closes all listener channels.
func (a *activeImport) finish(r *Result) {
	a.mu.Lock()
	a.result = r
	for _, ch := range a.listeners {
		close(ch)
	}
	a.listeners = nil
	a.closed = true
	a.mu.Unlock()

	close(a.Done)
}

func (a *activeImport) snapshot() Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.progress
}

// StartImport begins an asynchronous import and returns its ID immediately.
// Use SubscribeProgress to follow it and ImportResult to collect the result.
//
// Returns ErrTableBusy if req.Table is already being imported and
// ErrTooManyImports if no slot becomes free within the wait time, or at once
// when req.NoWait is set.
func (s *Service) StartImport(ctx context.Context, req Request) (string, error) {
	acquire := func() error { return s.limiter.Acquire(ctx, req.Table) }
	if req.NoWait {
		acquire = func() error { return s.limiter.TryAcquire(req.Table) }
	}
	if err := acquire(); err != nil {
		return "", err
	}

	// The caller may reuse its slice once we return.
	req.Mapping = req.Mapping.Clone()

	importID := uuid.NewString()

	// Keep request values (request ID) but not its cancellation.
	importCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.ImportTimeout())
	importCtx = logging.WithImportID(importCtx, importID)

	imp := &activeImport{
		ID:        importID,
		Table:     req.Table,
		Path:      req.Path,
		StartedAt: time.Now(),
		Cancel:    cancel,
		Done:      make(chan struct{}),
		progress: Progress{
			ImportID: importID,
			Table:    req.Table,
			State:    StateIdle,
		},
	}

	s.mu.Lock()
	s.imports[importID] = imp
	s.mu.Unlock()

	logging.FromContext(importCtx).Info("import started", "table", req.Table, "path", req.Path)

	// Process in background with panic recovery to ensure limiter release
	go func() {
		defer s.limiter.Release(req.Table)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in import",
					"import_id", importID,
					"table", req.Table,
					"panic", r,
				)
				msg := fmt.Sprintf("internal error: %v", r)
				imp.notify(Progress{ImportID: importID, Table: req.Table, State: StateIdle, Percent: FailedPercent, Done: true, Error: msg})
				imp.finish(&Result{ImportID: importID, Table: req.Table, Path: req.Path, State: StateIdle, Error: msg, ErrorCode: defaultMessage.Code})
				s.cleanup(importID)
			}
		}()
		s.processImport(importCtx, imp, req)
	}()

	return importID, nil
}

// processImport runs one import, relaying loader progress to subscribers.
func (s *Service) processImport(ctx context.Context, imp *activeImport, req Request) {
	progress := make(chan Progress)
	relayDone := make(chan struct{})
	var final bool

	go func() {
		defer close(relayDone)
		for p := range progress {
			final = final || p.Done
			imp.notify(p)
		}
	}()

	result, err := func() (*Result, error) {
		// Stop the relay even when Import panics.
		defer func() {
			close(progress)
			<-relayDone
		}()
		return s.Import(ctx, req, progress)
	}()

	result.ImportID = imp.ID
	logger := logging.FromContext(ctx)
	if err != nil {
		logger.Error("import failed", "table", req.Table, "state", result.State, "code", result.ErrorCode, "error", err)
	} else {
		logger.Info("import completed", "table", req.Table, "statements", result.Executed, "duration_ms", result.Duration.Milliseconds())
	}

	// Failures before the loader ran produce no loader event.
	if !final {
		p := Progress{ImportID: imp.ID, Table: req.Table, State: result.State, Done: true, Success: err == nil}
		if err != nil {
			p.Percent = FailedPercent
			p.Error = err.Error()
		} else {
			p.Percent = percentComplete
		}
		imp.notify(p)
	}

	imp.finish(result)
	s.cleanup(imp.ID)
}

// cleanup removes the import from tracking after the retention delay.
func (s *Service) cleanup(importID string) {
	time.AfterFunc(s.cfg.Import.ResultRetention, func() {
		s.mu.Lock()
		delete(s.imports, importID)
		s.mu.Unlock()
	})
}

func (s *Service) lookup(importID string) (*activeImport, error) {
	s.mu.RLock()
	imp, ok := s.imports[importID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}
	return imp, nil
}

// SubscribeProgress returns a channel that receives progress updates.
// The current progress is sent first. The channel is closed when the
// import completes; subscribing to a finished import yields its final
// progress and a closed channel.
func (s *Service) SubscribeProgress(importID string) (<-chan Progress, error) {
	imp, err := s.lookup(importID)
	if err != nil {
		return nil, err
	}

	ch := make(chan Progress, listenerBuffer)

	imp.mu.Lock()
	ch <- imp.progress
	if imp.closed {
		close(ch)
	} else {
		imp.listeners = append(imp.listeners, ch)
	}
	imp.mu.Unlock()

	return ch, nil
}

// Unsubscribe detaches a channel returned by SubscribeProgress. It is safe
// to call after the import finished.
func (s *Service) Unsubscribe(importID string, ch <-chan Progress) {
	imp, err := s.lookup(importID)
	if err != nil {
		return
	}

	imp.mu.Lock()
	defer imp.mu.Unlock()
	for i, l := range imp.listeners {
		if l == ch {
			imp.listeners = append(imp.listeners[:i], imp.listeners[i+1:]...)
			close(l)
			return
		}
	}
}

// CancelImport cancels a running import. The loader stops before the next
// statement and rolls back to its save-point.
func (s *Service) CancelImport(importID string) error {
	imp, err := s.lookup(importID)
	if err != nil {
		return err
	}

	imp.Cancel()
	return nil
}

// ImportResult returns the result of an import, waiting for it to finish.
func (s *Service) ImportResult(ctx context.Context, importID string) (*Result, error) {
	imp, err := s.lookup(importID)
	if err != nil {
		return nil, err
	}

	select {
	case <-imp.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	imp.mu.Lock()
	defer imp.mu.Unlock()
	return imp.result, nil
}

// ImportProgress returns the current progress without blocking.
func (s *Service) ImportProgress(importID string) (Progress, error) {
	imp, err := s.lookup(importID)
	if err != nil {
		return Progress{}, err
	}
	return imp.snapshot(), nil
}

// ActiveImports returns the progress of every tracked import, finished ones
// included until they expire.
func (s *Service) ActiveImports() []Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Progress, 0, len(s.imports))
	for _, imp := range s.imports {
		out = append(out, imp.snapshot())
	}
	return out
}

// LimiterStatus returns the import limiter state for monitoring.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until every running import has finished or ctx is
// done. Used for graceful shutdown.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
