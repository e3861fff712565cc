package engine

import (
	"fmt"
	"strings"

	"github.com/tuannm99/minirel/internal/index"
)

// SeqScan returns every live row of the table across all data pages in
// page order.
func (e *Engine) SeqScan(table string) ([][]string, error) {
	if _, err := e.schema(table); err != nil {
		return nil, err
	}

	var out [][]string
	maxID := e.storage.MaxPageID(table)
	for id := uint64(1); id <= maxID; id++ {
		vals, err := e.storage.PageRows(table, id)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

// Filter retains the scanned rows satisfying the supplied predicate.
func (e *Engine) Filter(table string, predicate func([]string) bool) ([][]string, error) {
	rows, err := e.SeqScan(table)
	if err != nil {
		return nil, err
	}
	out := make([][]string, 0, len(rows))
	for _, vals := range rows {
		if predicate(vals) {
			out = append(out, vals)
		}
	}
	return out, nil
}

// Condition is a pushed-down filter term: row[Column] Op Value. Comparison
// is numeric when both sides parse as a real number, else lexicographic.
type Condition struct {
	Column int
	Op     string
	Value  string
}

// FilterConditions scans the table and keeps the rows satisfying every
// condition (AND semantics). An out-of-range column index rejects the row.
func (e *Engine) FilterConditions(table string, conditions []Condition) ([][]string, error) {
	rows, err := e.SeqScan(table)
	if err != nil {
		return nil, err
	}
	if len(conditions) == 0 {
		return rows, nil
	}

	out := make([][]string, 0, len(rows))
	for _, vals := range rows {
		keep := true
		for _, c := range conditions {
			if c.Column < 0 || c.Column >= len(vals) {
				keep = false
				break
			}
			if !evalCondition(vals[c.Column], c.Op, c.Value) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, vals)
		}
	}
	return out, nil
}

// Project reorders rows onto the requested columns.
func (e *Engine) Project(table string, rows [][]string, columns []string) ([][]string, error) {
	if _, err := e.schema(table); err != nil {
		return nil, err
	}

	indices := make([]int, len(columns))
	for i, name := range columns {
		idx, ok := e.catalog.ColumnIndex(table, name)
		if !ok {
			return nil, fmt.Errorf("%w: column %q", ErrNotFound, name)
		}
		indices[i] = idx
	}

	out := make([][]string, 0, len(rows))
	for _, vals := range rows {
		projected := make([]string, 0, len(indices))
		for _, idx := range indices {
			if idx < len(vals) {
				projected = append(projected, vals[idx])
			} else {
				projected = append(projected, "")
			}
		}
		out = append(out, projected)
	}
	return out, nil
}

// IndexScan is the primary-index point lookup.
func (e *Engine) IndexScan(table, pk string) ([]string, error) {
	if _, err := e.schema(table); err != nil {
		return nil, err
	}
	vals, ok := e.primary.Get(table, pk)
	if !ok {
		return nil, fmt.Errorf("%w: pk %q in table %q", ErrNotFound, pk, table)
	}
	return vals, nil
}

// IndexRangeScan returns the rows whose primary keys fall in the closed
// interval [minPk, maxPk] in ascending key order.
func (e *Engine) IndexRangeScan(table, minPk, maxPk string) ([][]string, error) {
	if _, err := e.schema(table); err != nil {
		return nil, err
	}
	return e.primary.Range(table, minPk, maxPk), nil
}

// EnableCompositeIndex builds a composite index over the given column
// positions, back-filled from the primary index and persisted.
func (e *Engine) EnableCompositeIndex(table string, indices []int) error {
	schema, err := e.schema(table)
	if err != nil {
		return err
	}
	if len(indices) == 0 {
		return fmt.Errorf("%w: composite index needs at least one column", ErrInvalidArgument)
	}
	for _, i := range indices {
		if i < 0 || i >= schema.ColumnCount() {
			return fmt.Errorf("%w: column index %d out of range", ErrInvalidArgument, i)
		}
	}
	return e.composite.Enable(table, indices, e.primary)
}

// DropCompositeIndex removes the table's composite index and its files.
func (e *Engine) DropCompositeIndex(table string) error {
	if !e.composite.Drop(table) {
		return fmt.Errorf("%w: composite index on %q", ErrNotFound, table)
	}
	return nil
}

// DescribeCompositeIndex returns the participating column positions.
func (e *Engine) DescribeCompositeIndex(table string) ([]int, error) {
	indices, ok := e.composite.Describe(table)
	if !ok {
		return nil, fmt.Errorf("%w: composite index on %q", ErrNotFound, table)
	}
	return indices, nil
}

// CompositeIndexGet is the exact composite-key lookup. Keys join the
// participating values with index.KeySeparator.
func (e *Engine) CompositeIndexGet(table, key string) ([]string, error) {
	if !e.composite.Enabled(table) {
		return nil, fmt.Errorf("%w: composite index on %q", ErrNotFound, table)
	}
	vals, ok := e.composite.Get(table, key)
	if !ok {
		return nil, fmt.Errorf("%w: composite key in table %q", ErrNotFound, table)
	}
	return vals, nil
}

// CompositeIndexRangeScan returns the rows whose composite keys fall in
// [minKey, maxKey] in ascending key order.
func (e *Engine) CompositeIndexRangeScan(table, minKey, maxKey string) ([][]string, error) {
	if !e.composite.Enabled(table) {
		return nil, fmt.Errorf("%w: composite index on %q", ErrNotFound, table)
	}
	return e.composite.Range(table, minKey, maxKey), nil
}

// CompositeKey joins participant values the way the composite index does.
func CompositeKey(values ...string) string {
	return strings.Join(values, index.KeySeparator)
}
