package core

import (
	"fmt"
	"sort"
)

// Mapping assigns a target column to each source column by position.
// An empty entry skips that source column.
type Mapping []string

// Set maps source column i to the target column name.
func (m Mapping) Set(i int, name string) error {
	if i < 0 || i >= len(m) {
		return fmt.Errorf("mapping index %d out of range [0,%d)", i, len(m))
	}
	m[i] = name
	return nil
}

// Clear marks source column i as skipped.
func (m Mapping) Clear(i int) error {
	return m.Set(i, "")
}

// Active returns the number of mapped (non-skipped) columns.
func (m Mapping) Active() int {
	n := 0
	for _, name := range m {
		if name != "" {
			n++
		}
	}
	return n
}

// Clone returns a copy of m that can be edited independently.
func (m Mapping) Clone() Mapping {
	if m == nil {
		return nil
	}
	out := make(Mapping, len(m))
	copy(out, m)
	return out
}

// Validate rejects a mapping that sends two source columns to the same
// target column.
func (m Mapping) Validate() error {
	seen := make(map[string]int, len(m))
	for _, name := range m {
		if name != "" {
			seen[name]++
		}
	}

	var dups []string
	for name, n := range seen {
		if n > 1 {
			dups = append(dups, name)
		}
	}
	if len(dups) == 0 {
		return nil
	}
	sort.Strings(dups)
	return &SchemaMismatchError{Source: len(m), Target: m.Active(), Duplicates: dups}
}

// Reconciliation is the default mapping of a header onto a table.
type Reconciliation struct {
	Mapping Mapping

	// Mismatch is set when the column counts differ. It is informational:
	// Mapping is already padded or truncated to the source width.
	Mismatch *SchemaMismatchError
}

// Reconcile maps source columns to target columns by position. Extra source
// columns are skipped; extra target columns are left unmapped.
func Reconcile(header Header, target []string) Reconciliation {
	m := make(Mapping, len(header))
	copy(m, target)

	rec := Reconciliation{Mapping: m}
	if len(header) != len(target) {
		rec.Mismatch = &SchemaMismatchError{Source: len(header), Target: len(target)}
	}
	return rec
}
