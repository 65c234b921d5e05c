package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var errStatement = errors.New("constraint violated")

// fakeSession records every statement it is asked to run.
type fakeSession struct {
	mu         sync.Mutex
	log        []string
	fail       func(stmt string) error
	before     func(stmt string)
	committed  bool
	rolledBack bool
	commitErr  error
}

func (s *fakeSession) ExecSQL(_ context.Context, stmt string) (int64, error) {
	if s.before != nil {
		s.before(stmt)
	}

	s.mu.Lock()
	s.log = append(s.log, stmt)
	s.mu.Unlock()

	if s.fail != nil {
		if err := s.fail(stmt); err != nil {
			return 0, err
		}
	}
	return 1, nil
}

func (s *fakeSession) Commit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = true
	return nil
}

func (s *fakeSession) Rollback(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolledBack = true
	return nil
}

func (s *fakeSession) statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.log))
	copy(out, s.log)
	return out
}

// fakeTarget serves fixed column lists and hands out one shared session.
type fakeTarget struct {
	columns  map[string][]string
	session  *fakeSession
	sp       SavepointDialect
	beginErr error
}

func newFakeTarget(columns map[string][]string) *fakeTarget {
	return &fakeTarget{columns: columns, session: &fakeSession{}}
}

func (t *fakeTarget) UserColumns(_ context.Context, table string) ([]string, error) {
	cols, ok := t.columns[table]
	if !ok {
		return nil, fmt.Errorf("no such table: %s", table)
	}
	return cols, nil
}

func (t *fakeTarget) Begin(context.Context) (Session, error) {
	if t.beginErr != nil {
		return nil, t.beginErr
	}
	return t.session, nil
}

func (t *fakeTarget) Savepoints() SavepointDialect {
	if t.sp == nil {
		return StandardSavepoints
	}
	return t.sp
}

// failNth fails the nth statement that is not save-point bookkeeping.
func failNth(n int) func(string) error {
	var seen int
	return func(stmt string) error {
		if strings.HasPrefix(stmt, "INSERT") {
			seen++
			if seen == n {
				return errStatement
			}
		}
		return nil
	}
}

func testPlan(table string, n int) Plan {
	plan := Plan{Table: table}
	for i := 0; i < n; i++ {
		plan.Statements = append(plan.Statements, Statement{
			Row: i,
			SQL: fmt.Sprintf(`INSERT INTO %s ("id") VALUES ('%d');`, QuoteIdent(table), i+1),
		})
	}
	return plan
}

func drain(ch chan Progress) []Progress {
	var out []Progress
	for {
		select {
		case p := <-ch:
			out = append(out, p)
		default:
			return out
		}
	}
}
