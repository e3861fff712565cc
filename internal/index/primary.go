package index

import (
	"github.com/google/btree"

	"github.com/tuannm99/minirel/internal/catalog"
)

const btreeDegree = 32

type entry struct {
	key    string
	values []string
}

func lessEntry(a, b entry) bool { return a.key < b.key }

type primaryIndex struct {
	enabled bool
	pkIndex int
	tree    *btree.BTreeG[entry]
}

// Primary holds the in-memory primary-key index of every table: an ordered
// map from primary-key text to the latest row inserted with that key.
// Persistence is implicit via the data page files; on startup the engine
// rebuilds each index by scanning pages.
type Primary struct {
	tables map[string]*primaryIndex
}

func NewPrimary() *Primary {
	return &Primary{tables: make(map[string]*primaryIndex)}
}

// Init enables the table's index iff the schema has a primary-key column;
// the first such column becomes the key. Any prior state is discarded.
func (p *Primary) Init(schema catalog.TableSchema) {
	idx := &primaryIndex{tree: btree.NewG(btreeDegree, lessEntry)}
	if pk, ok := schema.PrimaryKeyIndex(); ok {
		idx.enabled = true
		idx.pkIndex = pk
	}
	p.tables[schema.Name] = idx
}

func (p *Primary) Drop(table string) {
	delete(p.tables, table)
}

// Enabled reports whether the table has an active index and at which
// column position its key lives.
func (p *Primary) Enabled(table string) (int, bool) {
	idx, ok := p.tables[table]
	if !ok || !idx.enabled {
		return 0, false
	}
	return idx.pkIndex, true
}

// Insert upserts the row under its primary-key value, last writer wins.
// Rows shorter than the key position are ignored.
func (p *Primary) Insert(table string, values []string) (string, bool) {
	idx, ok := p.tables[table]
	if !ok || !idx.enabled || idx.pkIndex >= len(values) {
		return "", false
	}
	key := values[idx.pkIndex]
	idx.tree.ReplaceOrInsert(entry{key: key, values: values})
	return key, true
}

// Delete removes the entry stored under key.
func (p *Primary) Delete(table, key string) bool {
	idx, ok := p.tables[table]
	if !ok || !idx.enabled {
		return false
	}
	_, found := idx.tree.Delete(entry{key: key})
	return found
}

// Get is the exact-match point lookup.
func (p *Primary) Get(table, key string) ([]string, bool) {
	idx, ok := p.tables[table]
	if !ok || !idx.enabled {
		return nil, false
	}
	e, found := idx.tree.Get(entry{key: key})
	if !found {
		return nil, false
	}
	return e.values, true
}

// Range returns the rows whose keys fall in the closed interval [min, max]
// in ascending key order.
func (p *Primary) Range(table, min, max string) [][]string {
	idx, ok := p.tables[table]
	if !ok || !idx.enabled {
		return nil
	}
	var out [][]string
	idx.tree.AscendGreaterOrEqual(entry{key: min}, func(e entry) bool {
		if e.key > max {
			return false
		}
		out = append(out, e.values)
		return true
	})
	return out
}

// Size returns the number of live entries.
func (p *Primary) Size(table string) int {
	idx, ok := p.tables[table]
	if !ok || !idx.enabled {
		return 0
	}
	return idx.tree.Len()
}

// Walk visits every entry in ascending key order until fn returns false.
func (p *Primary) Walk(table string, fn func(key string, values []string) bool) {
	idx, ok := p.tables[table]
	if !ok || !idx.enabled {
		return
	}
	idx.tree.Ascend(func(e entry) bool {
		return fn(e.key, e.values)
	})
}
