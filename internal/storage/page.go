package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tuannm99/minirel/internal/alias/bx"
)

// Page layout:
//
//	+--------------------------------+ 0
//	| [u64le length][row bytes] ...  |   length = LenSize + len(row bytes)
//	+--------------------------------+
//	| zero-length sentinel           |   first u64 == 0 marks free space
//	+--------------------------------+
//	| zero-initialized free space    |
//	+--------------------------------+ PageSize (4096)
//
// Records never straddle page boundaries. A tombstoned row keeps its slot;
// space is only reclaimed when the table is dropped.
type Page struct {
	id    uint64
	buf   []byte
	dirty bool
}

// Slot is a record position inside a page, carrying the decoded row
// including its tombstone state.
type Slot struct {
	Offset int
	Row    Row
}

func NewPage(id uint64) *Page {
	return &Page{
		id:  id,
		buf: make([]byte, PageSize),
	}
}

func (p *Page) ID() uint64      { return p.id }
func (p *Page) IsDirty() bool   { return p.dirty }
func (p *Page) SetDirty(d bool) { p.dirty = d }

// freeOffset walks the record chain until the zero-length sentinel and
// returns the first free byte offset.
func (p *Page) freeOffset() (int, error) {
	pos := 0
	for pos+LenSize <= PageSize {
		l := int(bx.U64At(p.buf, pos))
		if l == 0 {
			return pos, nil
		}
		if l < LenSize || pos+l > PageSize {
			return 0, ErrPageCorrupt
		}
		pos += l
	}
	return pos, nil
}

// InsertRow appends a serialized row at the first free slot. The stored
// length field includes the size of its own prefix (LenSize + payload), a
// convention preserved for on-disk compatibility.
func (p *Page) InsertRow(r Row) error {
	rowBin := EncodeRow(r)
	recLen := LenSize + len(rowBin)

	pos, err := p.freeOffset()
	if err != nil {
		return err
	}
	if pos+recLen > PageSize {
		return ErrPageFull
	}

	bx.PutU64At(p.buf, pos, uint64(recLen))
	copy(p.buf[pos+LenSize:], rowBin)
	p.dirty = true
	return nil
}

// Rows returns the live rows of the page in insertion order, skipping
// tombstoned records.
func (p *Page) Rows() ([]Row, error) {
	slots, err := p.Slots()
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(slots))
	for _, s := range slots {
		if !s.Row.Deleted {
			rows = append(rows, s.Row)
		}
	}
	return rows, nil
}

// Slots returns every record of the page, tombstoned ones included, with
// the byte offset each record starts at. Delete and update walk these to
// flip tombstone bits in place.
func (p *Page) Slots() ([]Slot, error) {
	var slots []Slot
	pos := 0
	for pos+LenSize <= PageSize {
		l := int(bx.U64At(p.buf, pos))
		if l == 0 {
			break
		}
		if l < LenSize || pos+l > PageSize {
			return nil, ErrPageCorrupt
		}
		row, err := DecodeRow(p.buf[pos+LenSize : pos+l])
		if err != nil {
			return nil, err
		}
		slots = append(slots, Slot{Offset: pos, Row: row})
		pos += l
	}
	return slots, nil
}

// MarkDeleted sets the tombstone bit of the record starting at off.
func (p *Page) MarkDeleted(off int) {
	p.buf[off+LenSize] = 1
	p.dirty = true
}

// PageFileName is the on-disk name of data page id of a table.
func PageFileName(table string, id uint64) string {
	return fmt.Sprintf("%s_page_%d.bin", table, id)
}

// WriteToDisk persists the page buffer. Writing a clean page is a no-op;
// a successful write fsyncs and clears the dirty flag.
func (p *Page) WriteToDisk(dir, table string) error {
	if !p.dirty {
		return nil
	}
	path := filepath.Join(dir, PageFileName(table, p.id))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FileMode0644)
	if err != nil {
		return fmt.Errorf("open page file: %w", err)
	}
	if _, err := f.Write(p.buf); err != nil {
		f.Close()
		return fmt.Errorf("write page file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync page file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close page file: %w", err)
	}

	p.dirty = false
	return nil
}

// LoadFromDisk reads the page file into the buffer. A missing file is
// reported so callers can decide whether to create the page instead.
func (p *Page) LoadFromDisk(dir, table string) error {
	path := filepath.Join(dir, PageFileName(table, p.id))

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read page file: %w", err)
	}
	if len(data) != PageSize {
		return ErrShortPage
	}

	copy(p.buf, data)
	p.dirty = false
	return nil
}
