package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tuannm99/minirel/internal"
	"github.com/tuannm99/minirel/internal/catalog"
	"github.com/tuannm99/minirel/internal/storage"
)

func newTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	cfg := &internal.MinirelConfig{}
	cfg.Storage.Workdir = dir
	e, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return e
}

func studentColumns() []catalog.Column {
	return []catalog.Column{
		{Name: "id", Type: catalog.Int, PrimaryKey: true},
		{Name: "name", Type: catalog.String},
	}
}

func createStudent(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.CreateTable("t", studentColumns()))
	for _, row := range [][]string{{"1", "A"}, {"2", "B"}, {"3", "C"}} {
		require.NoError(t, e.Insert("t", row))
	}
}

func TestCreateTable_Validation(t *testing.T) {
	e := newTestEngine(t, t.TempDir())

	require.ErrorIs(t, e.CreateTable("", studentColumns()), ErrInvalidArgument)
	require.ErrorIs(t, e.CreateTable("t", nil), ErrInvalidArgument)

	require.NoError(t, e.CreateTable("t", studentColumns()))
	require.ErrorIs(t, e.CreateTable("t", studentColumns()), ErrAlreadyExists)
}

func TestInsert_Validation(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	require.NoError(t, e.CreateTable("t", studentColumns()))

	require.ErrorIs(t, e.Insert("missing", []string{"1", "A"}), ErrNotFound)
	require.ErrorIs(t, e.Insert("t", []string{"1"}), ErrInvalidArgument)

	// A row that can never fit one page fails with PageFull.
	huge := []string{"1", strings.Repeat("x", storage.PageSize)}
	require.ErrorIs(t, e.Insert("t", huge), storage.ErrPageFull)
}

func TestIndexRangeScan_Scenario(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	createStudent(t, e)

	rows, err := e.IndexRangeScan("t", "1", "2")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1", "A"}, rows[0])
	assert.Equal(t, []string{"2", "B"}, rows[1])

	row, err := e.IndexScan("t", "3")
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "C"}, row)

	_, err = e.IndexScan("t", "9")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBulkInsert_SpillsToSecondPage(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	require.NoError(t, e.CreateTable("t", studentColumns()))

	rows := make([][]string, 200)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("%d", i), strings.Repeat("n", 30)}
	}
	n, err := e.InsertMany("t", rows)
	require.NoError(t, err)
	assert.Equal(t, 200, n)

	scanned, err := e.SeqScan("t")
	require.NoError(t, err)
	assert.Len(t, scanned, 200)
	assert.Equal(t, 200, e.IndexSize("t"))

	_, err = os.Stat(filepath.Join(dir, "t_page_2.bin"))
	require.NoError(t, err)
}

func TestCompositeIndex_Scenario(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	cols := []catalog.Column{
		{Name: "id", Type: catalog.Int, PrimaryKey: true},
		{Name: "b", Type: catalog.String},
		{Name: "c", Type: catalog.String},
	}
	require.NoError(t, e.CreateTable("t", cols))
	for _, row := range [][]string{{"1", "x", "p"}, {"2", "x", "q"}, {"3", "y", "p"}} {
		require.NoError(t, e.Insert("t", row))
	}

	require.NoError(t, e.EnableCompositeIndex("t", []int{1, 2}))

	key := CompositeKey("x", "p")
	rows, err := e.CompositeIndexRangeScan("t", key, key)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"1", "x", "p"}, rows[0])

	// Maintenance on later inserts.
	require.NoError(t, e.Insert("t", []string{"4", "x", "p"}))
	row, err := e.CompositeIndexGet("t", key)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "x", "p"}, row)

	indices, err := e.DescribeCompositeIndex("t")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, indices)

	require.NoError(t, e.DropCompositeIndex("t"))
	_, err = e.CompositeIndexRangeScan("t", key, key)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_TombstonesAndPurgesIndexes(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	createStudent(t, e)
	require.NoError(t, e.EnableCompositeIndex("t", []int{1}))

	n, err := e.DeleteRows("t", func(vals []string) bool { return vals[1] == "B" })
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := e.SeqScan("t")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, vals := range rows {
		assert.NotEqual(t, "B", vals[1])
	}

	// Tombstoning reuses the slot: the page file stays one page.
	info, err := os.Stat(filepath.Join(dir, "t_page_1.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(storage.PageSize), info.Size())

	// Stale index entries are gone.
	_, err = e.IndexScan("t", "2")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, e.IndexSize("t"))
	_, err = e.CompositeIndexGet("t", "B")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_RewritesRowAndIndexes(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	createStudent(t, e)
	require.NoError(t, e.EnableCompositeIndex("t", []int{1}))

	n, err := e.UpdateRows("t",
		[]SetClause{{Column: "name", Value: "Z"}},
		func(vals []string) bool { return vals[0] == "2" })
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, err := e.IndexScan("t", "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "Z"}, row)

	// The composite entry moved from the old key to the new one.
	_, err = e.CompositeIndexGet("t", "B")
	require.ErrorIs(t, err, ErrNotFound)
	row, err = e.CompositeIndexGet("t", "Z")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "Z"}, row)

	rows, err := e.SeqScan("t")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// Unknown SET columns are ignored.
	n, err = e.UpdateRows("t",
		[]SetClause{{Column: "nope", Value: "1"}},
		func([]string) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestUpdate_OverflowsToFreshPage(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	require.NoError(t, e.CreateTable("t", studentColumns()))

	// Fill until a second page exists, so page 1 is full.
	i := 0
	for e.storage.MaxPageID("t") < 2 {
		require.NoError(t, e.Insert("t", []string{fmt.Sprintf("%d", i), strings.Repeat("v", 40)}))
		i++
	}
	before, err := e.SeqScan("t")
	require.NoError(t, err)

	// Growing every row forces the rewrites off their full source pages.
	n, err := e.UpdateRows("t",
		[]SetClause{{Column: "name", Value: strings.Repeat("w", 60)}},
		func([]string) bool { return true })
	require.NoError(t, err)
	assert.Equal(t, len(before), n)

	after, err := e.SeqScan("t")
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for _, vals := range after {
		assert.Equal(t, strings.Repeat("w", 60), vals[1])
	}
}

func TestRestart_RebuildsPrimaryIndexAndCatalog(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	createStudent(t, e)
	require.NoError(t, e.EnableCompositeIndex("t", []int{1}))
	require.NoError(t, e.Close())

	e2 := newTestEngine(t, dir)
	defer e2.Close()

	schema, ok := e2.catalog.Schema("t")
	require.True(t, ok)
	assert.Equal(t, 2, schema.ColumnCount())

	assert.Equal(t, 3, e2.IndexSize("t"))
	row, err := e2.IndexScan("t", "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "B"}, row)

	// Composite index recovered from snapshot + WAL.
	row, err = e2.CompositeIndexGet("t", "C")
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "C"}, row)
}

func TestFilterAndProject(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	createStudent(t, e)

	rows, err := e.Filter("t", func(vals []string) bool { return vals[0] != "2" })
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = e.FilterConditions("t", []Condition{
		{Column: 0, Op: ">=", Value: "2"},
		{Column: 1, Op: "!=", Value: "C"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"2", "B"}, rows[0])

	// Out-of-range column index rejects every row.
	rows, err = e.FilterConditions("t", []Condition{{Column: 9, Op: "=", Value: "1"}})
	require.NoError(t, err)
	assert.Empty(t, rows)

	all, err := e.SeqScan("t")
	require.NoError(t, err)
	projected, err := e.Project("t", all, []string{"name"})
	require.NoError(t, err)
	require.Len(t, projected, 3)
	assert.Equal(t, []string{"A"}, projected[0])

	_, err = e.Project("t", all, []string{"nope"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJoins(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	require.NoError(t, e.CreateTable("orders", []catalog.Column{
		{Name: "oid", Type: catalog.Int, PrimaryKey: true},
		{Name: "uid", Type: catalog.Int},
	}))
	require.NoError(t, e.CreateTable("users", []catalog.Column{
		{Name: "id", Type: catalog.Int, PrimaryKey: true},
		{Name: "uname", Type: catalog.String},
	}))

	_, err := e.InsertMany("orders", [][]string{{"100", "1"}, {"101", "2"}, {"102", "1"}})
	require.NoError(t, err)
	_, err = e.InsertMany("users", [][]string{{"1", "ann"}, {"2", "bob"}})
	require.NoError(t, err)

	hash, err := e.InnerJoin("orders", "users", "uid", "id")
	require.NoError(t, err)
	require.Len(t, hash, 3)
	assert.Equal(t, []string{"100", "1", "1", "ann"}, hash[0])

	merge, err := e.MergeJoin("orders", "users", "uid", "id")
	require.NoError(t, err)
	assert.ElementsMatch(t, hash, merge)

	_, err = e.InnerJoin("orders", "users", "nope", "id")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOrderBy(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	require.NoError(t, e.CreateTable("t", []catalog.Column{
		{Name: "id", Type: catalog.Int, PrimaryKey: true},
		{Name: "grp", Type: catalog.String},
	}))
	_, err := e.InsertMany("t", [][]string{
		{"10", "b"}, {"2", "a"}, {"1", "b"}, {"30", "a"},
	})
	require.NoError(t, err)

	// Numeric comparison: "2" sorts before "10".
	rows, err := e.OrderBy("t", []OrderClause{{Column: "id", Ascending: true}})
	require.NoError(t, err)
	assert.Equal(t, "1", rows[0][0])
	assert.Equal(t, "2", rows[1][0])
	assert.Equal(t, "10", rows[2][0])
	assert.Equal(t, "30", rows[3][0])

	rows, err = e.OrderBy("t", []OrderClause{
		{Column: "grp", Ascending: true},
		{Column: "id", Ascending: false},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"30", "a"}, rows[0])
	assert.Equal(t, []string{"2", "a"}, rows[1])
	assert.Equal(t, []string{"10", "b"}, rows[2])
	assert.Equal(t, []string{"1", "b"}, rows[3])

	// Unknown sort columns fall back to scan order.
	rows, err = e.OrderBy("t", []OrderClause{{Column: "nope", Ascending: true}})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestGroupBy(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	require.NoError(t, e.CreateTable("grades", []catalog.Column{
		{Name: "id", Type: catalog.Int, PrimaryKey: true},
		{Name: "subject", Type: catalog.String},
		{Name: "score", Type: catalog.Double},
	}))
	_, err := e.InsertMany("grades", [][]string{
		{"1", "math", "80"},
		{"2", "math", "90"},
		{"3", "art", "70"},
		{"4", "art", "n/a"},
	})
	require.NoError(t, err)

	res, err := e.GroupBy("grades", []string{"subject"},
		[]AggSpec{
			{Column: "score", Fn: "COUNT"},
			{Column: "score", Fn: "SUM"},
			{Column: "score", Fn: "AVG"},
			{Column: "score", Fn: "MAX"},
			{Column: "score", Fn: "MIN"},
		})
	require.NoError(t, err)
	require.Len(t, res, 2)

	// Buckets arrive in ascending key order: art, math.
	art := res[0]
	assert.Equal(t, []string{"art"}, art.Keys)
	assert.Equal(t, 2.0, art.Aggregates["COUNT(score)"])
	// "n/a" is silently skipped by the numeric aggregates.
	assert.Equal(t, 70.0, art.Aggregates["SUM(score)"])
	assert.Equal(t, 70.0, art.Aggregates["AVG(score)"])

	math := res[1]
	assert.Equal(t, []string{"math"}, math.Keys)
	assert.Equal(t, 170.0, math.Aggregates["SUM(score)"])
	assert.Equal(t, 85.0, math.Aggregates["AVG(score)"])
	assert.Equal(t, 90.0, math.Aggregates["MAX(score)"])
	assert.Equal(t, 80.0, math.Aggregates["MIN(score)"])
}

func TestMvcc_EndToEnd(t *testing.T) {
	e := newTestEngine(t, t.TempDir())

	require.ErrorIs(t, e.MvccInsertUncommitted("t", []string{"1"}, "A", 5), ErrInvalidArgument)

	require.NoError(t, e.MvccInsertUncommitted("t", []string{"1", "v"}, "A", 0))
	_, ok := e.MvccLookupVisible("t", "1", "B", []string{"A"})
	assert.False(t, ok)

	require.NoError(t, e.MvccCommitInsert("t", "1", "A"))
	vals, ok := e.MvccLookupVisible("t", "1", "B", nil)
	require.True(t, ok)
	assert.Equal(t, []string{"1", "v"}, vals)

	require.NoError(t, e.MvccMarkDeleteCommit("t", "1", "B"))
	_, ok = e.MvccLookupVisible("t", "1", "C", nil)
	assert.False(t, ok)

	assert.Equal(t, 1, e.MvccVacuum(nil))
}

func TestDropTable(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	createStudent(t, e)
	require.NoError(t, e.EnableCompositeIndex("t", []int{1}))

	require.ErrorIs(t, e.DropTable(""), ErrInvalidArgument)
	require.ErrorIs(t, e.DropTable("missing"), ErrNotFound)

	require.NoError(t, e.DropTable("t"))
	assert.Empty(t, e.TableNames())
	assert.Equal(t, 0, e.IndexSize("t"))

	for _, name := range []string{"t_page_1.bin", "t_cidx.meta", "t_cidx.bin"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(err), name)
	}

	_, err := e.SeqScan("t")
	require.ErrorIs(t, err, ErrNotFound)

	// The name is free again.
	require.NoError(t, e.CreateTable("t", studentColumns()))
	rows, err := e.SeqScan("t")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCheckpointOperator(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	createStudent(t, e)
	require.NoError(t, e.EnableCompositeIndex("t", []int{1}))
	require.NoError(t, e.Insert("t", []string{"4", "D"}))

	wal := filepath.Join(dir, "t_cidx.wal")
	_, err := os.Stat(wal)
	require.NoError(t, err)

	require.NoError(t, e.Checkpoint("t"))
	_, err = os.Stat(wal)
	assert.True(t, os.IsNotExist(err))

	require.ErrorIs(t, e.Checkpoint("missing"), ErrNotFound)
}

func TestTableHelpers(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	createStudent(t, e)

	assert.True(t, e.HasIndex("t"))
	cols, err := e.TableColumns("t")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, cols)

	require.NoError(t, e.CreateTable("plain", []catalog.Column{{Name: "v", Type: catalog.String}}))
	assert.False(t, e.HasIndex("plain"))
}
