package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// OrderClause is one sort key: column name plus direction.
type OrderClause struct {
	Column    string
	Ascending bool
}

// OrderBy returns the table's rows under a stable multi-key sort.
// Comparison per key is numeric when both values parse as numbers, else
// lexicographic. Unknown columns are ignored.
func (e *Engine) OrderBy(table string, clauses []OrderClause) ([][]string, error) {
	rows, err := e.SeqScan(table)
	if err != nil {
		return nil, err
	}

	type key struct {
		idx       int
		ascending bool
	}
	var keys []key
	for _, c := range clauses {
		if idx, ok := e.catalog.ColumnIndex(table, c.Column); ok {
			keys = append(keys, key{idx: idx, ascending: c.Ascending})
		}
	}
	if len(keys) == 0 {
		return rows, nil
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		for _, k := range keys {
			if k.idx >= len(a) || k.idx >= len(b) {
				continue
			}
			cmp := compareValues(a[k.idx], b[k.idx])
			if cmp == 0 {
				continue
			}
			if k.ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
	return rows, nil
}

// AggSpec requests one aggregate: Fn over Column, Fn in
// COUNT/SUM/AVG/MAX/MIN.
type AggSpec struct {
	Column string
	Fn     string
}

// GroupResult is one bucket: its group-key tuple plus the aggregate
// mapping keyed "FN(column)".
type GroupResult struct {
	Keys       []string
	Aggregates map[string]float64
}

// GroupBy buckets rows by the tuple of group-column values and computes the
// requested aggregates per bucket. COUNT returns the bucket size; the
// numeric aggregates parse each value and silently skip the ones that do
// not parse. Buckets are returned in ascending key order.
func (e *Engine) GroupBy(table string, groupColumns []string, aggs []AggSpec) ([]GroupResult, error) {
	rows, err := e.SeqScan(table)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var groupIdx []int
	for _, name := range groupColumns {
		if idx, ok := e.catalog.ColumnIndex(table, name); ok {
			groupIdx = append(groupIdx, idx)
		}
	}

	type aggTarget struct {
		idx  int
		fn   string
		name string
	}
	var targets []aggTarget
	for _, a := range aggs {
		if idx, ok := e.catalog.ColumnIndex(table, a.Column); ok {
			targets = append(targets, aggTarget{
				idx:  idx,
				fn:   a.Fn,
				name: fmt.Sprintf("%s(%s)", a.Fn, a.Column),
			})
		}
	}

	buckets := make(map[string][][]string)
	for _, vals := range rows {
		parts := make([]string, len(groupIdx))
		for i, gi := range groupIdx {
			if gi < len(vals) {
				parts[i] = vals[gi]
			}
		}
		key := strings.Join(parts, "|")
		buckets[key] = append(buckets[key], vals)
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]GroupResult, 0, len(keys))
	for _, key := range keys {
		bucket := buckets[key]
		res := GroupResult{
			Keys:       strings.Split(key, "|"),
			Aggregates: make(map[string]float64),
		}

		for _, t := range targets {
			if t.fn == "COUNT" {
				res.Aggregates[t.name] = float64(len(bucket))
				continue
			}

			var nums []float64
			for _, vals := range bucket {
				if t.idx >= len(vals) {
					continue
				}
				if f, err := strconv.ParseFloat(vals[t.idx], 64); err == nil {
					nums = append(nums, f)
				}
			}
			if len(nums) == 0 {
				continue
			}

			switch t.fn {
			case "SUM":
				sum := 0.0
				for _, f := range nums {
					sum += f
				}
				res.Aggregates[t.name] = sum
			case "AVG":
				sum := 0.0
				for _, f := range nums {
					sum += f
				}
				res.Aggregates[t.name] = sum / float64(len(nums))
			case "MAX":
				max := nums[0]
				for _, f := range nums[1:] {
					if f > max {
						max = f
					}
				}
				res.Aggregates[t.name] = max
			case "MIN":
				min := nums[0]
				for _, f := range nums[1:] {
					if f < min {
						min = f
					}
				}
				res.Aggregates[t.name] = min
			}
		}
		out = append(out, res)
	}
	return out, nil
}
