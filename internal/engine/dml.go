package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tuannm99/minirel/internal/index"
	"github.com/tuannm99/minirel/internal/storage"
)

// rowFits reports whether a serialized row can ever fit a page.
func rowFits(r storage.Row) bool {
	return storage.LenSize+len(storage.EncodeRow(r)) <= storage.PageSize
}

// indexInsert maintains the primary and composite indexes after a row
// landed on a page. Composite WAL IO failures are logged and swallowed so
// the engine stays usable.
func (e *Engine) indexInsert(table string, values []string) {
	if _, ok := e.primary.Insert(table, values); !ok {
		return
	}
	if err := e.composite.Upsert(table, values); err != nil {
		e.log.Warn("composite index upsert failed",
			zap.String("table", table), zap.Error(err))
	}
}

// indexDelete purges the index entries referencing a tombstoned row.
func (e *Engine) indexDelete(table string, values []string) {
	if pkIdx, ok := e.primary.Enabled(table); ok && pkIdx < len(values) {
		e.primary.Delete(table, values[pkIdx])
	}
	if err := e.composite.Delete(table, values); err != nil {
		e.log.Warn("composite index delete failed",
			zap.String("table", table), zap.Error(err))
	}
}

// Insert writes one row. Pages are tried in descending id order; the first
// page that admits the row is persisted and the indexes are updated. When
// no existing page has room a fresh page is allocated. ErrPageFull is only
// returned when the row itself exceeds a page.
func (e *Engine) Insert(table string, values []string) error {
	schema, err := e.schema(table)
	if err != nil {
		return err
	}
	if len(values) != schema.ColumnCount() {
		return fmt.Errorf("%w: expected %d values, got %d",
			ErrInvalidArgument, schema.ColumnCount(), len(values))
	}

	row := storage.NewRow(values)
	if !rowFits(row) {
		return storage.ErrPageFull
	}

	for id := e.storage.MaxPageID(table); id >= 1; id-- {
		p, ok := e.storage.GetPage(table, id)
		if !ok {
			continue
		}
		err := p.InsertRow(row)
		if errors.Is(err, storage.ErrPageFull) {
			continue
		}
		if err != nil {
			return err
		}
		if err := e.storage.WritePage(table, p); err != nil {
			return err
		}
		e.indexInsert(table, values)
		e.met.RowsInserted.Inc()
		return nil
	}

	p := e.storage.CreatePage(table)
	if err := p.InsertRow(row); err != nil {
		return err
	}
	if err := e.storage.WritePage(table, p); err != nil {
		return err
	}
	e.indexInsert(table, values)
	e.met.RowsInserted.Inc()
	return nil
}

// InsertMany inserts rows in input order and returns the number of
// successes; individual failures do not abort the batch.
func (e *Engine) InsertMany(table string, rows [][]string) (int, error) {
	if _, err := e.schema(table); err != nil {
		return 0, err
	}
	n := 0
	for _, values := range rows {
		if err := e.Insert(table, values); err == nil {
			n++
		}
	}
	return n, nil
}

// DeleteRows tombstones every live row matching the predicate, purges its
// index entries and flushes the touched pages. Returns the delete count.
func (e *Engine) DeleteRows(table string, predicate func([]string) bool) (int, error) {
	if _, err := e.schema(table); err != nil {
		return 0, err
	}

	count := 0
	maxID := e.storage.MaxPageID(table)
	for id := uint64(1); id <= maxID; id++ {
		p, ok := e.storage.GetPage(table, id)
		if !ok {
			continue
		}
		slots, err := p.Slots()
		if err != nil {
			return count, err
		}

		touched := false
		for _, s := range slots {
			if s.Row.Deleted || !predicate(s.Row.Values) {
				continue
			}
			p.MarkDeleted(s.Offset)
			e.indexDelete(table, s.Row.Values)
			touched = true
			count++
		}
		if touched {
			if err := e.storage.WritePage(table, p); err != nil {
				return count, err
			}
		}
	}

	e.met.RowsDeleted.Add(float64(count))
	return count, nil
}

// SetClause assigns a new value to a named column.
type SetClause struct {
	Column string
	Value  string
}

// UpdateRows rewrites every live row matching the predicate: the old record
// is tombstoned and the updated row is reinserted into the same page, or
// into a fresh overflow page when the source page is full, so no row is
// ever lost. Index entries whose key columns changed are purged and
// reinserted. Unknown SET columns are ignored.
func (e *Engine) UpdateRows(table string, set []SetClause, predicate func([]string) bool) (int, error) {
	schema, err := e.schema(table)
	if err != nil {
		return 0, err
	}

	type resolved struct {
		idx   int
		value string
	}
	var clauses []resolved
	for _, sc := range set {
		if i, ok := schema.ColumnIndex(sc.Column); ok {
			clauses = append(clauses, resolved{idx: i, value: sc.Value})
		}
	}
	if len(clauses) == 0 {
		return 0, nil
	}

	pkIdx, pkEnabled := e.primary.Enabled(table)

	count := 0
	var overflow *storage.Page
	maxID := e.storage.MaxPageID(table)
	for id := uint64(1); id <= maxID; id++ {
		p, ok := e.storage.GetPage(table, id)
		if !ok {
			continue
		}
		slots, err := p.Slots()
		if err != nil {
			return count, err
		}

		touched := false
		for _, s := range slots {
			if s.Row.Deleted || !predicate(s.Row.Values) {
				continue
			}

			oldValues := s.Row.Values
			newValues := append([]string(nil), oldValues...)
			for _, c := range clauses {
				if c.idx < len(newValues) {
					newValues[c.idx] = c.value
				}
			}

			newRow := storage.NewRow(newValues)
			if !rowFits(newRow) {
				return count, storage.ErrPageFull
			}

			p.MarkDeleted(s.Offset)
			touched = true

			if err := p.InsertRow(newRow); errors.Is(err, storage.ErrPageFull) {
				if overflow == nil {
					overflow = e.storage.CreatePage(table)
				}
				if err := overflow.InsertRow(newRow); errors.Is(err, storage.ErrPageFull) {
					if err := e.storage.WritePage(table, overflow); err != nil {
						return count, err
					}
					overflow = e.storage.CreatePage(table)
					if err := overflow.InsertRow(newRow); err != nil {
						return count, err
					}
				} else if err != nil {
					return count, err
				}
			} else if err != nil {
				return count, err
			}

			e.updateIndexes(table, pkIdx, pkEnabled, oldValues, newValues)
			count++
		}
		if touched {
			if err := e.storage.WritePage(table, p); err != nil {
				return count, err
			}
		}
	}

	if overflow != nil && overflow.IsDirty() {
		if err := e.storage.WritePage(table, overflow); err != nil {
			return count, err
		}
	}

	e.met.RowsUpdated.Add(float64(count))
	return count, nil
}

// updateIndexes moves the primary and composite entries of a rewritten row,
// dropping the stale entries when the key columns changed.
func (e *Engine) updateIndexes(table string, pkIdx int, pkEnabled bool, oldValues, newValues []string) {
	if pkEnabled && pkIdx < len(oldValues) && pkIdx < len(newValues) &&
		oldValues[pkIdx] != newValues[pkIdx] {
		e.primary.Delete(table, oldValues[pkIdx])
	}
	if indices, ok := e.composite.Describe(table); ok {
		oldKey, oldOK := index.BuildKey(indices, oldValues)
		newKey, newOK := index.BuildKey(indices, newValues)
		if oldOK && (!newOK || oldKey != newKey) {
			if err := e.composite.Delete(table, oldValues); err != nil {
				e.log.Warn("composite index delete failed",
					zap.String("table", table), zap.Error(err))
			}
		}
	}
	e.indexInsert(table, newValues)
}
