package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"github.com/tuannm99/minirel/internal/metrics"
)

type pageKey struct {
	table string
	id    uint64
}

// Engine is the buffer cache: it exclusively owns every cached Page and
// hands out borrowed handles that are only valid for the duration of a
// single operator call. A decoded-row read cache (ristretto) sits next to
// it and is dropped whenever a page is flushed or evicted.
type Engine struct {
	dir string
	log *zap.Logger
	met *metrics.Metrics

	pages     map[pageKey]*Page
	maxPageID map[string]uint64

	rowCache *ristretto.Cache[string, [][]string]
}

// NewEngine opens a storage engine over dir. rowCacheEntries bounds the
// decoded-row cache; logger and met may not be nil.
func NewEngine(dir string, rowCacheEntries int64, logger *zap.Logger, met *metrics.Metrics) (*Engine, error) {
	if err := os.MkdirAll(dir, FileMode0755); err != nil {
		return nil, fmt.Errorf("create workdir: %w", err)
	}

	rc, err := ristretto.NewCache(&ristretto.Config[string, [][]string]{
		NumCounters: rowCacheEntries * 10,
		MaxCost:     rowCacheEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create row cache: %w", err)
	}

	return &Engine{
		dir:       dir,
		log:       logger,
		met:       met,
		pages:     make(map[pageKey]*Page),
		maxPageID: make(map[string]uint64),
		rowCache:  rc,
	}, nil
}

func (e *Engine) Dir() string { return e.dir }

// GetPage returns the cached page, loading it from disk on a miss. The
// second return is false when the page exists neither in cache nor on
// disk; the caller must explicitly create it.
func (e *Engine) GetPage(table string, id uint64) (*Page, bool) {
	key := pageKey{table, id}
	if p, ok := e.pages[key]; ok {
		return p, true
	}

	p := NewPage(id)
	if err := p.LoadFromDisk(e.dir, table); err != nil {
		return nil, false
	}
	e.pages[key] = p
	return p, true
}

// CreatePage allocates the next page id for table, caches the fresh page
// and advances the per-table max id.
func (e *Engine) CreatePage(table string) *Page {
	id := e.MaxPageID(table) + 1
	p := NewPage(id)
	e.pages[pageKey{table, id}] = p
	e.maxPageID[table] = id
	return p
}

// WritePage flushes a (possibly clean) page and invalidates its row-cache
// entry.
func (e *Engine) WritePage(table string, p *Page) error {
	if p == nil {
		return fmt.Errorf("storage: nil page for table %q", table)
	}
	wasDirty := p.IsDirty()
	if err := p.WriteToDisk(e.dir, table); err != nil {
		return err
	}
	if wasDirty {
		e.met.PagesFlushed.Inc()
		e.rowCache.Del(rowCacheKey(table, p.ID()))
	}
	return nil
}

// FlushAllDirtyPages writes every dirty cached page. IO errors are logged
// and swallowed so the engine stays usable.
func (e *Engine) FlushAllDirtyPages() {
	for key, p := range e.pages {
		if !p.IsDirty() {
			continue
		}
		if err := e.WritePage(key.table, p); err != nil {
			e.log.Warn("flush dirty page failed",
				zap.String("table", key.table),
				zap.Uint64("page", key.id),
				zap.Error(err))
		}
	}
}

// PageRows returns the decoded live rows of a page, served from the row
// cache when possible. Dirty pages are decoded directly and never cached.
func (e *Engine) PageRows(table string, id uint64) ([][]string, error) {
	ck := rowCacheKey(table, id)
	if vals, ok := e.rowCache.Get(ck); ok {
		e.met.RowCacheHits.Inc()
		return vals, nil
	}
	e.met.RowCacheMisses.Inc()

	p, ok := e.GetPage(table, id)
	if !ok {
		return nil, nil
	}
	rows, err := p.Rows()
	if err != nil {
		return nil, err
	}
	vals := make([][]string, len(rows))
	for i, r := range rows {
		vals[i] = r.Values
	}
	if !p.IsDirty() {
		e.rowCache.Set(ck, vals, 1)
	}
	return vals, nil
}

// InvalidateRows drops the cached decoded rows of a page after an in-place
// mutation.
func (e *Engine) InvalidateRows(table string, id uint64) {
	e.rowCache.Del(rowCacheKey(table, id))
}

// MaxPageID returns the highest data page id of a table. On first use it is
// bootstrapped by probing "<table>_page_<k>.bin" for k = 1,2,... until a
// gap is found. The catalog page (id 0) is not a data page and never counts.
func (e *Engine) MaxPageID(table string) uint64 {
	if id, ok := e.maxPageID[table]; ok {
		return id
	}

	var max uint64
	for {
		path := filepath.Join(e.dir, PageFileName(table, max+1))
		if _, err := os.Stat(path); err != nil {
			break
		}
		max++
	}
	e.maxPageID[table] = max
	return max
}

// DropTableData flushes and evicts the table's cached pages, removes every
// data page file and forgets the max page id. Best effort: file removal
// errors are logged and swallowed.
func (e *Engine) DropTableData(table string) {
	maxID := e.MaxPageID(table)

	for key, p := range e.pages {
		if key.table != table {
			continue
		}
		if p.IsDirty() {
			if err := e.WritePage(table, p); err != nil {
				e.log.Warn("flush page before drop failed",
					zap.String("table", table),
					zap.Uint64("page", key.id),
					zap.Error(err))
			}
		}
		delete(e.pages, key)
	}

	for id := uint64(1); id <= maxID; id++ {
		path := filepath.Join(e.dir, PageFileName(table, id))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			e.log.Warn("remove page file failed",
				zap.String("path", path),
				zap.Error(err))
		}
		e.rowCache.Del(rowCacheKey(table, id))
	}

	delete(e.maxPageID, table)
}

// Close flushes dirty pages and releases the row cache.
func (e *Engine) Close() {
	e.FlushAllDirtyPages()
	e.rowCache.Close()
}

func rowCacheKey(table string, id uint64) string {
	return fmt.Sprintf("%s/%d", table, id)
}
