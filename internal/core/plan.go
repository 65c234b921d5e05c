package core

import (
	"fmt"
	"strings"
)

// QuoteIdent quotes a table or column name, doubling embedded double quotes.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral renders v as a SQL value: bare NULL for an explicit NULL,
// otherwise a single-quoted string with embedded quotes doubled.
func QuoteLiteral(v Value) string {
	if v.Null {
		return "NULL"
	}
	return "'" + strings.ReplaceAll(v.Text, "'", "''") + "'"
}

// BuildStatement renders one INSERT for row. Skipped columns are omitted.
// It returns false when every column is skipped or the lengths disagree.
func BuildStatement(table string, mapping Mapping, row Row) (string, bool) {
	if len(mapping) != len(row) || mapping.Active() == 0 {
		return "", false
	}

	var cols, vals strings.Builder
	first := true
	for i, name := range mapping {
		if name == "" {
			continue
		}
		if !first {
			cols.WriteByte(',')
			vals.WriteByte(',')
		}
		first = false
		cols.WriteString(QuoteIdent(name))
		vals.WriteString(QuoteLiteral(row[i]))
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);", QuoteIdent(table), cols.String(), vals.String()), true
}

// BuildPlan renders one statement per row in source order. It is pure: the
// same inputs always give the same plan.
func BuildPlan(table string, mapping Mapping, rows []Row) (Plan, error) {
	if err := mapping.Validate(); err != nil {
		if sm, ok := err.(*SchemaMismatchError); ok {
			sm.Table = table
		}
		return Plan{}, err
	}

	plan := Plan{Table: table, Statements: make([]Statement, 0, len(rows))}
	for i, row := range rows {
		if len(row) != len(mapping) {
			return Plan{}, &SchemaMismatchError{Table: table, Source: len(row), Target: len(mapping)}
		}
		sql, ok := BuildStatement(table, mapping, row)
		if !ok {
			continue
		}
		plan.Statements = append(plan.Statements, Statement{Row: i, SQL: sql})
	}
	return plan, nil
}
