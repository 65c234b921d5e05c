package core

// limiter.go implements concurrency control for imports.
//
// The limiter uses a semaphore to restrict parallel imports to a configurable
// maximum. When all slots are occupied, new requests wait up to maxWait
// before failing with ErrTooManyImports. Two imports into the same table
// never run together: the second fails at once with ErrTableBusy, because
// their save-points would interleave on the target.
//
// The limiter also supports graceful shutdown via WaitForDrain, which blocks
// until all active imports complete.

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrTooManyImports is returned when all import slots are occupied and
	// the wait timeout expires. Clients should retry after a short delay.
	ErrTooManyImports = errors.New("too many concurrent imports, please try again later")

	// ErrTableBusy is returned when another import into the same table is
	// already running.
	ErrTableBusy = errors.New("an import into this table is already running")
)

// DefaultMaxConcurrentImports is the default limit for parallel imports.
const DefaultMaxConcurrentImports = 4

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// ImportLimiter controls concurrent import processing.
type ImportLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
	tables map[string]struct{}
}

// NewImportLimiter creates a limiter that allows at most maxConcurrent
// simultaneous imports. Requests that cannot acquire a slot within maxWait
// receive ErrTooManyImports.
func NewImportLimiter(maxConcurrent int, maxWait time.Duration) *ImportLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &ImportLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
		tables:    make(map[string]struct{}),
	}
}

// Acquire reserves table and an import slot. The caller MUST call
// Release(table) when the import completes (use defer).
func (l *ImportLimiter) Acquire(ctx context.Context, table string) error {
	if err := l.claimTable(table); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		l.releaseTable(table)
		// Check if original context was cancelled vs timeout
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyImports
	}
}

// TryAcquire reserves table and a slot without blocking.
func (l *ImportLimiter) TryAcquire(table string) error {
	if err := l.claimTable(table); err != nil {
		return err
	}
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	default:
		l.releaseTable(table)
		return ErrTooManyImports
	}
}

// Release frees the slot and table reserved by a successful Acquire or
// TryAcquire.
func (l *ImportLimiter) Release(table string) {
	l.mu.Lock()
	l.active--
	delete(l.tables, table)
	l.mu.Unlock()

	<-l.semaphore
}

func (l *ImportLimiter) claimTable(table string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.tables[table]; busy {
		return ErrTableBusy
	}
	l.tables[table] = struct{}{}
	return nil
}

func (l *ImportLimiter) releaseTable(table string) {
	l.mu.Lock()
	delete(l.tables, table)
	l.mu.Unlock()
}

// ActiveCount returns the number of currently running imports.
func (l *ImportLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the maximum allowed concurrent imports.
func (l *ImportLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of available slots.
func (l *ImportLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until all active imports complete or ctx is cancelled.
func (l *ImportLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// LimiterStatus is a snapshot of the limiter's current state.
type LimiterStatus struct {
	Active        int      `json:"active"`
	Available     int      `json:"available"`
	MaxConcurrent int      `json:"max_concurrent"`
	Tables        []string `json:"tables,omitempty"`
}

// Status returns the current limiter state for monitoring.
func (l *ImportLimiter) Status() LimiterStatus {
	l.mu.RLock()
	active := l.active
	tables := make([]string, 0, len(l.tables))
	for t := range l.tables {
		tables = append(tables, t)
	}
	l.mu.RUnlock()
	sort.Strings(tables)

	return LimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
		Tables:        tables,
	}
}
