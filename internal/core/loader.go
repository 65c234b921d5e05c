package core

// loader.go applies a Plan atomically inside a uniquely named save-point.
//
// State machine:
//
//	Idle -> SavepointOpened -> Executing -> Committed  -> Idle
//	                                     \-> RolledBack -> Idle
//
// Statement failures and cancellation are not returned as errors: they roll
// back to the save-point and are recorded on the Outcome. Only a failed
// rollback is returned, because the target is then in an unknown state.
//
// Cancellation is checked between statements only. Statements run on a
// context without cancellation: drivers such as pgx and go-sql-driver/mysql
// close the connection when a context ends mid-query, which would take the
// save-point down with it.

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/JonMunkholm/csvimport/internal/logging"
)

// SavepointDialect renders save-point statements for one database family.
type SavepointDialect interface {
	Open(name string) string
	// Release returns "" when the database has no release statement.
	Release(name string) string
	RollbackTo(name string) string
}

type standardSavepoints struct{}

func (standardSavepoints) Open(name string) string       { return "SAVEPOINT " + name }
func (standardSavepoints) Release(name string) string    { return "RELEASE SAVEPOINT " + name }
func (standardSavepoints) RollbackTo(name string) string { return "ROLLBACK TO SAVEPOINT " + name }

type sqlServerSavepoints struct{}

func (sqlServerSavepoints) Open(name string) string       { return "SAVE TRANSACTION " + name }
func (sqlServerSavepoints) Release(string) string         { return "" }
func (sqlServerSavepoints) RollbackTo(name string) string { return "ROLLBACK TRANSACTION " + name }

var (
	// StandardSavepoints is the SQL standard syntax used by SQLite, PostgreSQL
	// and MySQL.
	StandardSavepoints SavepointDialect = standardSavepoints{}

	// SQLServerSavepoints uses SAVE TRANSACTION. SQL Server has no release.
	SQLServerSavepoints SavepointDialect = sqlServerSavepoints{}
)

// Progress percentages reported by the loader.
const (
	percentSavepointOpen = 5
	percentStatements    = 95
	percentComplete      = 100
)

// statementPercent returns the percent reported after statement i of n.
func statementPercent(i, n int) int {
	return percentSavepointOpen + int(math.Round(float64(i)*percentStatements/float64(n)))
}

// Loader executes plans against one Executor. A Loader runs one plan at a
// time; Execute on a busy loader returns ErrLoaderBusy.
type Loader struct {
	exec Executor
	ids  IDGenerator
	sp   SavepointDialect

	mu    sync.Mutex
	state LoaderState
}

// NewLoader creates a loader. A nil ids uses UUIDGenerator and a nil sp uses
// StandardSavepoints.
func NewLoader(exec Executor, ids IDGenerator, sp SavepointDialect) *Loader {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if sp == nil {
		sp = StandardSavepoints
	}
	return &Loader{exec: exec, ids: ids, sp: sp, state: StateIdle}
}

// State returns the current loader state.
func (l *Loader) State() LoaderState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loader) setState(s LoaderState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Execute runs every statement of plan in order inside a fresh save-point.
//
// Progress events are sent on progress when it is non-nil. Sends block, so
// the receiver must drain the channel. A cancelled ctx drops intermediate
// events but the final event is always delivered. Execute never closes
// progress.
//
// On success the save-point is released and the outcome is Committed. On a
// statement error or cancellation the save-point is rolled back and the
// outcome is RolledBack with Err set; the returned error is nil. A failed
// rollback returns a *RollbackError.
func (l *Loader) Execute(ctx context.Context, plan Plan, progress chan<- Progress) (Outcome, error) {
	if len(plan.Statements) == 0 {
		return Outcome{State: StateIdle}, &EmptyImportError{Table: plan.Table}
	}

	l.mu.Lock()
	if l.state != StateIdle {
		l.mu.Unlock()
		return Outcome{}, ErrLoaderBusy
	}
	l.state = StateSavepointOpened
	l.mu.Unlock()
	defer l.setState(StateIdle)

	name := SavepointName(l.ids.NewID())
	execCtx := context.WithoutCancel(ctx)
	logger := logging.WithFields(ctx, "table", plan.Table, "savepoint", name)
	total := len(plan.Statements)
	out := Outcome{Savepoint: name}

	report := func(p Progress) {
		if progress == nil {
			return
		}
		p.ImportID = logging.ImportID(ctx)
		p.Table = plan.Table
		p.Total = total
		if p.Done {
			progress <- p
			return
		}
		select {
		case progress <- p:
		case <-ctx.Done():
		}
	}

	openSQL := l.sp.Open(name)
	if _, err := l.exec.ExecSQL(execCtx, openSQL); err != nil {
		logger.Error("open save-point failed", "error", err)
		out.State = StateRolledBack
		out.Err = &ExecutionError{SQL: openSQL, Err: err}
		report(Progress{State: StateRolledBack, Percent: FailedPercent, Done: true, Error: out.Err.Error()})
		return out, nil
	}
	logger.Debug("save-point opened", "statements", total)
	report(Progress{State: StateSavepointOpened, Percent: percentSavepointOpen})

	l.setState(StateExecuting)
	for i, stmt := range plan.Statements {
		if err := ctx.Err(); err != nil {
			return l.rollback(ctx, logger, out, ErrCancelled, report)
		}

		n, err := l.exec.ExecSQL(execCtx, stmt.SQL)
		if err != nil {
			return l.rollback(ctx, logger, out, &ExecutionError{Statement: i + 1, SQL: stmt.SQL, Err: err}, report)
		}
		out.Statements++
		out.RowsAffected += n

		report(Progress{State: StateExecuting, Statement: i + 1, Percent: statementPercent(i+1, total)})
	}

	if err := ctx.Err(); err != nil {
		return l.rollback(ctx, logger, out, ErrCancelled, report)
	}

	if releaseSQL := l.sp.Release(name); releaseSQL != "" {
		if _, err := l.exec.ExecSQL(execCtx, releaseSQL); err != nil {
			return l.rollback(ctx, logger, out, &ExecutionError{SQL: releaseSQL, Err: err}, report)
		}
	}

	l.setState(StateCommitted)
	out.State = StateCommitted
	logger.Info("import committed", "statements", out.Statements, "rows_affected", out.RowsAffected)
	report(Progress{State: StateCommitted, Statement: total, Percent: percentComplete, Done: true, Success: true})
	return out, nil
}

// rollback undoes everything since the save-point. It runs on a context that
// ignores cancellation so a cancelled import still rolls back.
func (l *Loader) rollback(ctx context.Context, logger *slog.Logger, out Outcome, cause error, report func(Progress)) (Outcome, error) {
	rbSQL := l.sp.RollbackTo(out.Savepoint)
	if _, err := l.exec.ExecSQL(context.WithoutCancel(ctx), rbSQL); err != nil {
		logger.Error("rollback to save-point failed", "error", err, "cause", cause)
		rbErr := &RollbackError{Savepoint: out.Savepoint, Cause: cause, Err: err}
		out.State = StateRolledBack
		out.Err = rbErr
		report(Progress{State: StateRolledBack, Statement: out.Statements, Percent: FailedPercent, Done: true, Error: rbErr.Error()})
		return out, rbErr
	}

	l.setState(StateRolledBack)
	out.State = StateRolledBack
	out.Err = cause
	logger.Info("import rolled back", "executed", out.Statements, "cause", cause)
	report(Progress{State: StateRolledBack, Statement: out.Statements, Percent: FailedPercent, Done: true, Error: cause.Error()})
	return out, nil
}
