package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tuannm99/minirel/internal"
	"github.com/tuannm99/minirel/internal/catalog"
	"github.com/tuannm99/minirel/internal/index"
	"github.com/tuannm99/minirel/internal/metrics"
	"github.com/tuannm99/minirel/internal/mvcc"
	"github.com/tuannm99/minirel/internal/storage"
)

var (
	ErrNotFound        = errors.New("engine: not found")
	ErrAlreadyExists   = errors.New("engine: already exists")
	ErrInvalidArgument = errors.New("engine: invalid argument")
)

// Engine is the host-facing operator surface. It composes the storage
// engine, the system catalog, the primary and composite indexes and the
// MVCC version chains into relational query execution.
//
// Scheduling model is single-threaded cooperative: one caller at a time,
// no locks, no suspension points inside operators. A host serializes
// external requests on a single worker.
type Engine struct {
	cfg *internal.MinirelConfig
	log *zap.Logger
	met *metrics.Metrics

	storage   *storage.Engine
	catalog   *catalog.SystemCatalog
	primary   *index.Primary
	composite *index.Composite
	mvcc      *mvcc.Manager
}

// New opens an engine over cfg.Storage.Workdir. cfg may be nil and logger
// may be nil; defaults are applied. Bootstrap loads the catalog, probes the
// data page files, rebuilds every primary index by scanning pages and
// recovers composite indexes from snapshot + WAL.
func New(cfg *internal.MinirelConfig, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = &internal.MinirelConfig{}
	}
	cfg.ApplyDefaults()
	if logger == nil {
		if cfg.Logging.Debug {
			logger, _ = zap.NewDevelopment()
		} else {
			logger = zap.NewNop()
		}
	}

	met := metrics.New()
	st, err := storage.NewEngine(cfg.Storage.Workdir, cfg.Storage.RowCacheEntries, logger, met)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(cfg.Storage.Workdir, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		log:       logger,
		met:       met,
		storage:   st,
		catalog:   cat,
		primary:   index.NewPrimary(),
		composite: index.NewComposite(cfg.Storage.Workdir, cfg.Index.WalCheckpointEvery, logger, met),
		mvcc:      mvcc.NewManager(),
	}

	for _, table := range cat.TableNames() {
		schema, _ := cat.Schema(table)
		e.primary.Init(schema)
		e.rebuildPrimaryIndex(table)
		if err := e.composite.LoadIfExists(table); err != nil {
			e.log.Warn("composite index recovery failed",
				zap.String("table", table), zap.Error(err))
		}
	}
	met.OpenTables.Set(float64(len(cat.TableNames())))

	return e, nil
}

// rebuildPrimaryIndex scans the table's data pages and reinserts every live
// row, so index queries stay consistent across restarts.
func (e *Engine) rebuildPrimaryIndex(table string) {
	maxID := e.storage.MaxPageID(table)
	for id := uint64(1); id <= maxID; id++ {
		p, ok := e.storage.GetPage(table, id)
		if !ok {
			continue
		}
		rows, err := p.Rows()
		if err != nil {
			e.log.Warn("skipping unreadable page during index rebuild",
				zap.String("table", table), zap.Uint64("page", id), zap.Error(err))
			continue
		}
		for _, r := range rows {
			e.primary.Insert(table, r.Values)
		}
	}
}

func (e *Engine) schema(table string) (catalog.TableSchema, error) {
	s, ok := e.catalog.Schema(table)
	if !ok {
		return catalog.TableSchema{}, fmt.Errorf("%w: table %q", ErrNotFound, table)
	}
	return s, nil
}

// CreateTable registers the schema and initializes the primary index.
func (e *Engine) CreateTable(name string, columns []catalog.Column) error {
	if name == "" || len(columns) == 0 {
		return fmt.Errorf("%w: table name and columns are required", ErrInvalidArgument)
	}
	schema := catalog.TableSchema{Name: name, Columns: columns}
	if err := e.catalog.RegisterTable(schema); err != nil {
		if errors.Is(err, catalog.ErrTableExists) {
			return fmt.Errorf("%w: table %q", ErrAlreadyExists, name)
		}
		return err
	}
	e.primary.Init(schema)
	e.met.OpenTables.Inc()
	return nil
}

// DropTable unregisters the table, drops its composite index and files,
// flushes and removes its data pages and clears the primary index.
func (e *Engine) DropTable(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty table name", ErrInvalidArgument)
	}
	if _, err := e.schema(name); err != nil {
		return err
	}
	if err := e.catalog.UnregisterTable(name); err != nil {
		return err
	}

	e.composite.Drop(name)
	e.storage.DropTableData(name)
	e.primary.Drop(name)
	e.met.OpenTables.Dec()

	e.log.Info("table dropped", zap.String("table", name))
	return nil
}

// TableNames lists the registered tables in sorted order.
func (e *Engine) TableNames() []string { return e.catalog.TableNames() }

// TableColumns returns the column names of a table.
func (e *Engine) TableColumns(table string) ([]string, error) {
	s, err := e.schema(table)
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = c.Name
	}
	return cols, nil
}

// HasIndex reports whether the table carries a primary-key column.
func (e *Engine) HasIndex(table string) bool {
	_, ok := e.primary.Enabled(table)
	return ok
}

// IndexSize returns the number of entries in the table's primary index.
func (e *Engine) IndexSize(table string) int { return e.primary.Size(table) }

// FlushAll writes every dirty cached page to disk.
func (e *Engine) FlushAll() { e.storage.FlushAllDirtyPages() }

// Checkpoint rebuilds the table's composite-index snapshot and truncates
// its WAL.
func (e *Engine) Checkpoint(table string) error {
	if err := e.composite.Checkpoint(table); err != nil {
		if errors.Is(err, index.ErrNotEnabled) {
			return fmt.Errorf("%w: composite index on %q", ErrNotFound, table)
		}
		return err
	}
	return nil
}

// Metrics exposes the engine's private Prometheus registry for a host to
// mount.
func (e *Engine) Metrics() *metrics.Metrics { return e.met }

// Close flushes dirty pages, checkpoints every composite index and
// releases caches.
func (e *Engine) Close() error {
	e.composite.CheckpointAll()
	e.storage.Close()
	return nil
}
