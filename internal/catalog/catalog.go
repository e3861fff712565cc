package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/tuannm99/minirel/internal/storage"
)

// CatalogTable is the reserved table holding schema rows in its page 0.
const CatalogTable = "sys_catalog"

var (
	ErrTableExists   = errors.New("catalog: table already exists")
	ErrTableNotFound = errors.New("catalog: table not found")
	ErrCatalogFull   = errors.New("catalog: catalog page is full")
)

// SystemCatalog caches table schemas in memory and persists them as rows in
// sys_catalog_page_0.bin. Catalog row format:
//
//	[table_name, column_count, "name:TYPE:0|1", ...]
type SystemCatalog struct {
	dir  string
	log  *zap.Logger
	page *storage.Page

	schemas map[string]TableSchema
}

// Open loads the catalog page from dir, tolerating absence, and reparses
// every row into a schema. Malformed rows are skipped.
func Open(dir string, logger *zap.Logger) (*SystemCatalog, error) {
	c := &SystemCatalog{
		dir:     dir,
		log:     logger,
		page:    storage.NewPage(0),
		schemas: make(map[string]TableSchema),
	}

	if err := c.page.LoadFromDisk(dir, CatalogTable); err != nil {
		// First boot: no catalog page yet.
		c.page = storage.NewPage(0)
		return c, nil
	}

	rows, err := c.page.Rows()
	if err != nil {
		return nil, fmt.Errorf("parse catalog page: %w", err)
	}
	for _, row := range rows {
		schema, ok := parseCatalogRow(row.Values)
		if !ok {
			c.log.Warn("skipping malformed catalog row", zap.Strings("values", row.Values))
			continue
		}
		c.schemas[schema.Name] = schema
	}
	return c, nil
}

func parseCatalogRow(vals []string) (TableSchema, bool) {
	if len(vals) < 3 {
		return TableSchema{}, false
	}
	name := vals[0]
	colCount, err := strconv.Atoi(vals[1])
	if err != nil || colCount < 0 || 2+colCount > len(vals) {
		return TableSchema{}, false
	}

	cols := make([]Column, 0, colCount)
	for i := 0; i < colCount; i++ {
		parts := strings.SplitN(vals[2+i], ":", 3)
		if len(parts) != 3 {
			continue
		}
		typ, err := ParseDataType(parts[1])
		if err != nil {
			continue
		}
		cols = append(cols, Column{
			Name:       parts[0],
			Type:       typ,
			PrimaryKey: parts[2] == "1",
		})
	}
	return TableSchema{Name: name, Columns: cols}, true
}

func catalogRow(s TableSchema) storage.Row {
	vals := make([]string, 0, 2+len(s.Columns))
	vals = append(vals, s.Name, strconv.Itoa(s.ColumnCount()))
	for _, c := range s.Columns {
		pk := "0"
		if c.PrimaryKey {
			pk = "1"
		}
		vals = append(vals, c.Name+":"+c.Type.String()+":"+pk)
	}
	return storage.NewRow(vals)
}

// RegisterTable caches the schema, appends its catalog row and immediately
// persists the catalog page.
func (c *SystemCatalog) RegisterTable(s TableSchema) error {
	if _, ok := c.schemas[s.Name]; ok {
		return ErrTableExists
	}

	if err := c.page.InsertRow(catalogRow(s)); err != nil {
		if errors.Is(err, storage.ErrPageFull) {
			return ErrCatalogFull
		}
		return err
	}
	if err := c.page.WriteToDisk(c.dir, CatalogTable); err != nil {
		return fmt.Errorf("persist catalog: %w", err)
	}

	c.schemas[s.Name] = s
	return nil
}

// UnregisterTable drops the schema and rebuilds the catalog page from
// scratch with the surviving schemas, then persists it.
func (c *SystemCatalog) UnregisterTable(name string) error {
	if _, ok := c.schemas[name]; !ok {
		return ErrTableNotFound
	}
	delete(c.schemas, name)

	page := storage.NewPage(0)
	for _, table := range c.TableNames() {
		if err := page.InsertRow(catalogRow(c.schemas[table])); err != nil {
			return fmt.Errorf("rebuild catalog page: %w", err)
		}
	}
	// An emptied catalog still has to overwrite the old page on disk.
	page.SetDirty(true)
	if err := page.WriteToDisk(c.dir, CatalogTable); err != nil {
		return fmt.Errorf("persist catalog: %w", err)
	}

	c.page = page
	return nil
}

// Schema returns the cached schema of a table.
func (c *SystemCatalog) Schema(name string) (TableSchema, bool) {
	s, ok := c.schemas[name]
	return s, ok
}

func (c *SystemCatalog) ColumnExists(table, column string) bool {
	s, ok := c.schemas[table]
	if !ok {
		return false
	}
	_, ok = s.ColumnIndex(column)
	return ok
}

func (c *SystemCatalog) ColumnIndex(table, column string) (int, bool) {
	s, ok := c.schemas[table]
	if !ok {
		return 0, false
	}
	return s.ColumnIndex(column)
}

// TableNames returns every registered table in sorted order.
func (c *SystemCatalog) TableNames() []string {
	names := make([]string, 0, len(c.schemas))
	for name := range c.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
