package engine

import (
	"fmt"
	"sort"
)

func (e *Engine) joinColumnIndices(left, right, leftCol, rightCol string) (int, int, error) {
	lidx, ok := e.catalog.ColumnIndex(left, leftCol)
	if !ok {
		return 0, 0, fmt.Errorf("%w: column %q in table %q", ErrNotFound, leftCol, left)
	}
	ridx, ok := e.catalog.ColumnIndex(right, rightCol)
	if !ok {
		return 0, 0, fmt.Errorf("%w: column %q in table %q", ErrNotFound, rightCol, right)
	}
	return lidx, ridx, nil
}

// InnerJoin is a hash join: the right side is scanned into a key multimap,
// then each left row emits (left fields ++ right fields) for every match.
// Output order is left scan order, then per-key right scan order.
func (e *Engine) InnerJoin(left, right, leftCol, rightCol string) ([][]string, error) {
	if _, err := e.schema(left); err != nil {
		return nil, err
	}
	if _, err := e.schema(right); err != nil {
		return nil, err
	}
	lidx, ridx, err := e.joinColumnIndices(left, right, leftCol, rightCol)
	if err != nil {
		return nil, err
	}

	rightRows, err := e.SeqScan(right)
	if err != nil {
		return nil, err
	}
	build := make(map[string][][]string)
	for _, vals := range rightRows {
		if ridx < len(vals) {
			build[vals[ridx]] = append(build[vals[ridx]], vals)
		}
	}

	leftRows, err := e.SeqScan(left)
	if err != nil {
		return nil, err
	}
	var out [][]string
	for _, lvals := range leftRows {
		if lidx >= len(lvals) {
			continue
		}
		for _, rvals := range build[lvals[lidx]] {
			joined := make([]string, 0, len(lvals)+len(rvals))
			joined = append(joined, lvals...)
			joined = append(joined, rvals...)
			out = append(out, joined)
		}
	}
	return out, nil
}

// MergeJoin sorts both sides by the join key (numeric when both values
// parse as numbers, else lexicographic) and walks them in tandem, emitting
// the full cross product of equal-key runs.
func (e *Engine) MergeJoin(left, right, leftCol, rightCol string) ([][]string, error) {
	if _, err := e.schema(left); err != nil {
		return nil, err
	}
	if _, err := e.schema(right); err != nil {
		return nil, err
	}
	lidx, ridx, err := e.joinColumnIndices(left, right, leftCol, rightCol)
	if err != nil {
		return nil, err
	}

	lrows, err := e.SeqScan(left)
	if err != nil {
		return nil, err
	}
	rrows, err := e.SeqScan(right)
	if err != nil {
		return nil, err
	}

	keyOf := func(vals []string, idx int) string {
		if idx < len(vals) {
			return vals[idx]
		}
		return ""
	}
	sort.SliceStable(lrows, func(i, j int) bool {
		return compareValues(keyOf(lrows[i], lidx), keyOf(lrows[j], lidx)) < 0
	})
	sort.SliceStable(rrows, func(i, j int) bool {
		return compareValues(keyOf(rrows[i], ridx), keyOf(rrows[j], ridx)) < 0
	})

	var out [][]string
	i, j := 0, 0
	for i < len(lrows) && j < len(rrows) {
		lk := keyOf(lrows[i], lidx)
		rk := keyOf(rrows[j], ridx)
		switch cmp := compareValues(lk, rk); {
		case cmp < 0:
			i++
		case cmp > 0:
			j++
		default:
			i2 := i
			for i2 < len(lrows) && compareValues(keyOf(lrows[i2], lidx), lk) == 0 {
				i2++
			}
			j2 := j
			for j2 < len(rrows) && compareValues(keyOf(rrows[j2], ridx), rk) == 0 {
				j2++
			}
			for a := i; a < i2; a++ {
				for b := j; b < j2; b++ {
					joined := make([]string, 0, len(lrows[a])+len(rrows[b]))
					joined = append(joined, lrows[a]...)
					joined = append(joined, rrows[b]...)
					out = append(out, joined)
				}
			}
			i, j = i2, j2
		}
	}
	return out, nil
}
