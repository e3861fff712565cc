package index

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/tuannm99/minirel/internal/alias/bx"
	"github.com/tuannm99/minirel/internal/metrics"
)

// KeySeparator joins the participating column values into a composite key.
// U+001F (unit separator) cannot collide with printable field text.
const KeySeparator = "\x1f"

const (
	walOpUpsert uint8 = 1
	walOpDelete uint8 = 2
)

var (
	ErrNoColumns  = errors.New("index: composite index needs at least one column")
	ErrNotEnabled = errors.New("index: composite index not enabled for table")
)

type compositeIndex struct {
	indices  []int
	tree     *btree.BTreeG[entry]
	metaPath string
	dataPath string
	walPath  string
	walCount int
}

// Composite manages the per-table composite indexes: an ordered map from
// separator-joined key to row, durable through an on-disk snapshot plus a
// write-ahead log that is replayed on recovery.
type Composite struct {
	dir             string
	log             *zap.Logger
	met             *metrics.Metrics
	checkpointEvery int

	tables map[string]*compositeIndex
}

func NewComposite(dir string, checkpointEvery int, logger *zap.Logger, met *metrics.Metrics) *Composite {
	return &Composite{
		dir:             dir,
		log:             logger,
		met:             met,
		checkpointEvery: checkpointEvery,
		tables:          make(map[string]*compositeIndex),
	}
}

// BuildKey joins the values at the participating column indices. The row is
// skipped (ok=false) when an index is out of range or a participant value
// is empty.
func BuildKey(indices []int, values []string) (string, bool) {
	parts := make([]string, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(values) {
			return "", false
		}
		if values[i] == "" {
			return "", false
		}
		parts = append(parts, values[i])
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, KeySeparator), true
}

func (c *Composite) paths(table string) (meta, data, wal string) {
	meta = filepath.Join(c.dir, table+"_cidx.meta")
	data = filepath.Join(c.dir, table+"_cidx.bin")
	wal = filepath.Join(c.dir, table+"_cidx.wal")
	return
}

// Enable replaces any existing composite index on the table with a fresh one
// over the given column indices, back-fills it from the primary index,
// writes a snapshot, truncates the WAL and persists the meta file.
func (c *Composite) Enable(table string, indices []int, primary *Primary) error {
	if len(indices) == 0 {
		return ErrNoColumns
	}

	meta, data, wal := c.paths(table)
	ci := &compositeIndex{
		indices:  append([]int(nil), indices...),
		tree:     btree.NewG(btreeDegree, lessEntry),
		metaPath: meta,
		dataPath: data,
		walPath:  wal,
	}

	primary.Walk(table, func(_ string, values []string) bool {
		if key, ok := BuildKey(ci.indices, values); ok {
			ci.tree.ReplaceOrInsert(entry{key: key, values: values})
		}
		return true
	})

	if err := c.saveSnapshot(ci); err != nil {
		return err
	}
	if err := os.Remove(ci.walPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("truncate composite wal: %w", err)
	}
	if err := c.saveMeta(ci); err != nil {
		return err
	}

	c.tables[table] = ci
	c.log.Info("composite index enabled",
		zap.String("table", table),
		zap.Ints("columns", ci.indices))
	return nil
}

// Upsert maintains the index after a primary-index insert: recompute the
// composite key from the new row, upsert the map and append a WAL record.
func (c *Composite) Upsert(table string, values []string) error {
	ci, ok := c.tables[table]
	if !ok {
		return nil
	}
	key, ok := BuildKey(ci.indices, values)
	if !ok {
		return nil
	}

	ci.tree.ReplaceOrInsert(entry{key: key, values: values})
	if err := c.appendWAL(ci, walOpUpsert, key, values); err != nil {
		return err
	}
	return c.maybeCheckpoint(table, ci)
}

// Delete removes the entry for a row's composite key, logging a WAL delete
// record on a hit.
func (c *Composite) Delete(table string, values []string) error {
	ci, ok := c.tables[table]
	if !ok {
		return nil
	}
	key, ok := BuildKey(ci.indices, values)
	if !ok {
		return nil
	}
	if _, found := ci.tree.Delete(entry{key: key}); !found {
		return nil
	}
	if err := c.appendWAL(ci, walOpDelete, key, nil); err != nil {
		return err
	}
	return c.maybeCheckpoint(table, ci)
}

// Get is the exact composite-key lookup.
func (c *Composite) Get(table, key string) ([]string, bool) {
	ci, ok := c.tables[table]
	if !ok {
		return nil, false
	}
	e, found := ci.tree.Get(entry{key: key})
	if !found {
		return nil, false
	}
	return e.values, true
}

// Range returns the rows whose composite keys fall in [min, max] in
// ascending key order.
func (c *Composite) Range(table, min, max string) [][]string {
	ci, ok := c.tables[table]
	if !ok {
		return nil
	}
	var out [][]string
	ci.tree.AscendGreaterOrEqual(entry{key: min}, func(e entry) bool {
		if e.key > max {
			return false
		}
		out = append(out, e.values)
		return true
	})
	return out
}

// Describe returns the participating column indices.
func (c *Composite) Describe(table string) ([]int, bool) {
	ci, ok := c.tables[table]
	if !ok {
		return nil, false
	}
	return append([]int(nil), ci.indices...), true
}

// Enabled reports whether the table has a composite index.
func (c *Composite) Enabled(table string) bool {
	_, ok := c.tables[table]
	return ok
}

// Drop removes the in-memory index and best-effort deletes its files.
func (c *Composite) Drop(table string) bool {
	ci, ok := c.tables[table]
	if !ok {
		return false
	}
	delete(c.tables, table)
	for _, path := range []string{ci.metaPath, ci.dataPath, ci.walPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.log.Warn("remove composite index file failed",
				zap.String("path", path), zap.Error(err))
		}
	}
	return true
}

// Checkpoint rebuilds the snapshot from the in-memory map and truncates the
// WAL.
func (c *Composite) Checkpoint(table string) error {
	ci, ok := c.tables[table]
	if !ok {
		return ErrNotEnabled
	}
	if err := c.saveSnapshot(ci); err != nil {
		return err
	}
	if err := os.Remove(ci.walPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("truncate composite wal: %w", err)
	}
	ci.walCount = 0
	c.met.Checkpoints.Inc()
	return nil
}

// CheckpointAll checkpoints every enabled index; used at shutdown. Errors
// are logged and swallowed.
func (c *Composite) CheckpointAll() {
	for table := range c.tables {
		if err := c.Checkpoint(table); err != nil {
			c.log.Warn("composite checkpoint failed",
				zap.String("table", table), zap.Error(err))
		}
	}
}

func (c *Composite) maybeCheckpoint(table string, ci *compositeIndex) error {
	ci.walCount++
	if ci.walCount < c.checkpointEvery {
		return nil
	}
	return c.Checkpoint(table)
}

// LoadIfExists recovers the table's composite index: presence of the meta
// file triggers the load; the snapshot is read first, then every WAL record
// is replayed. Partial records at end-of-file are discarded silently.
func (c *Composite) LoadIfExists(table string) error {
	meta, data, wal := c.paths(table)
	raw, err := os.ReadFile(meta)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read composite meta: %w", err)
	}

	ci := &compositeIndex{
		tree:     btree.NewG(btreeDegree, lessEntry),
		metaPath: meta,
		dataPath: data,
		walPath:  wal,
	}
	for _, tok := range strings.Split(strings.TrimSpace(string(raw)), ",") {
		if tok == "" {
			continue
		}
		i, err := strconv.Atoi(tok)
		if err != nil {
			return fmt.Errorf("parse composite meta %q: %w", tok, err)
		}
		ci.indices = append(ci.indices, i)
	}
	if len(ci.indices) == 0 {
		return ErrNoColumns
	}

	if err := c.loadSnapshot(ci); err != nil {
		return err
	}
	if err := c.replayWAL(ci); err != nil {
		return err
	}

	c.tables[table] = ci
	return nil
}

func (c *Composite) saveMeta(ci *compositeIndex) error {
	toks := make([]string, len(ci.indices))
	for i, v := range ci.indices {
		toks[i] = strconv.Itoa(v)
	}
	if err := os.WriteFile(ci.metaPath, []byte(strings.Join(toks, ",")+"\n"), 0o644); err != nil {
		return fmt.Errorf("write composite meta: %w", err)
	}
	return nil
}

// Snapshot record (repeated until EOF):
//
//	[u32 key_len][key][u32 field_count][repeat: u32 field_len, field]
//
// WAL records prepend a 1-byte op tag (upsert/delete) to the same body;
// delete records carry field_count == 0.
func encodeRecordBody(key string, values []string) []byte {
	size := 4 + len(key) + 4
	for _, v := range values {
		size += 4 + len(v)
	}
	out := make([]byte, 0, size)
	out = bx.AppendU32(out, uint32(len(key)))
	out = append(out, key...)
	out = bx.AppendU32(out, uint32(len(values)))
	for _, v := range values {
		out = bx.AppendU32(out, uint32(len(v)))
		out = append(out, v...)
	}
	return out
}

func readRecordBody(r *bufio.Reader) (string, []string, error) {
	var lenB [4]byte
	if _, err := io.ReadFull(r, lenB[:]); err != nil {
		return "", nil, err
	}
	key := make([]byte, bx.U32(lenB[:]))
	if _, err := io.ReadFull(r, key); err != nil {
		return "", nil, err
	}
	if _, err := io.ReadFull(r, lenB[:]); err != nil {
		return "", nil, err
	}
	count := int(bx.U32(lenB[:]))

	values := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, lenB[:]); err != nil {
			return "", nil, err
		}
		field := make([]byte, bx.U32(lenB[:]))
		if _, err := io.ReadFull(r, field); err != nil {
			return "", nil, err
		}
		values = append(values, string(field))
	}
	return string(key), values, nil
}

func isTornTail(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (c *Composite) saveSnapshot(ci *compositeIndex) error {
	f, err := os.OpenFile(ci.dataPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open composite snapshot: %w", err)
	}
	w := bufio.NewWriter(f)

	var werr error
	ci.tree.Ascend(func(e entry) bool {
		if _, err := w.Write(encodeRecordBody(e.key, e.values)); err != nil {
			werr = err
			return false
		}
		return true
	})
	if werr == nil {
		werr = w.Flush()
	}
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write composite snapshot: %w", werr)
	}
	return nil
}

func (c *Composite) loadSnapshot(ci *compositeIndex) error {
	f, err := os.Open(ci.dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open composite snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReader(f)
	for {
		key, values, err := readRecordBody(r)
		if err != nil {
			if isTornTail(err) {
				return nil
			}
			return fmt.Errorf("read composite snapshot: %w", err)
		}
		ci.tree.ReplaceOrInsert(entry{key: key, values: values})
	}
}

// appendWAL writes one record after the in-memory map has been updated and
// fsyncs it; this ordering is the durability contract.
func (c *Composite) appendWAL(ci *compositeIndex, op uint8, key string, values []string) error {
	f, err := os.OpenFile(ci.walPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open composite wal: %w", err)
	}

	rec := make([]byte, 1, 1+4+len(key)+4)
	rec[0] = op
	rec = append(rec, encodeRecordBody(key, values)...)

	if _, err := f.Write(rec); err != nil {
		f.Close()
		return fmt.Errorf("append composite wal: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync composite wal: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close composite wal: %w", err)
	}

	c.met.WalAppends.Inc()
	return nil
}

func (c *Composite) replayWAL(ci *compositeIndex) error {
	f, err := os.Open(ci.walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open composite wal: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReader(f)
	for {
		op, err := r.ReadByte()
		if err != nil {
			if isTornTail(err) {
				return nil
			}
			return fmt.Errorf("read composite wal: %w", err)
		}
		key, values, err := readRecordBody(r)
		if err != nil {
			if isTornTail(err) {
				return nil
			}
			return fmt.Errorf("read composite wal: %w", err)
		}

		switch op {
		case walOpUpsert:
			ci.tree.ReplaceOrInsert(entry{key: key, values: values})
		case walOpDelete:
			ci.tree.Delete(entry{key: key})
		default:
			// Unknown record from a newer writer: stop replay here.
			c.log.Warn("unknown composite wal op, stopping replay", zap.Uint8("op", op))
			return nil
		}
		ci.walCount++
	}
}
