package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/minirel/internal/alias/bx"
)

func TestPage_InsertAndScan(t *testing.T) {
	p := NewPage(1)
	rows := []Row{
		NewRow([]string{"1", "A"}),
		NewRow([]string{"2", "B"}),
		NewRow([]string{"3", "C"}),
	}
	for _, r := range rows {
		require.NoError(t, p.InsertRow(r))
	}
	assert.True(t, p.IsDirty())

	got, err := p.Rows()
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range rows {
		assert.Equal(t, r.Values, got[i].Values)
	}
}

func TestPage_LengthPrefixConvention(t *testing.T) {
	p := NewPage(1)
	row := NewRow([]string{"x"})
	require.NoError(t, p.InsertRow(row))

	// The stored length includes its own prefix.
	want := uint64(LenSize + len(EncodeRow(row)))
	assert.Equal(t, want, bx.U64(p.buf))
}

func TestPage_TombstoneSkipped(t *testing.T) {
	p := NewPage(1)
	require.NoError(t, p.InsertRow(NewRow([]string{"1", "A"})))
	require.NoError(t, p.InsertRow(NewRow([]string{"2", "B"})))

	slots, err := p.Slots()
	require.NoError(t, err)
	require.Len(t, slots, 2)

	p.MarkDeleted(slots[0].Offset)

	live, err := p.Rows()
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, []string{"2", "B"}, live[0].Values)

	// The tombstoned row keeps its slot.
	slots, err = p.Slots()
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.True(t, slots[0].Row.Deleted)
}

func TestPage_Full(t *testing.T) {
	p := NewPage(1)
	big := NewRow([]string{strings.Repeat("x", PageSize)})
	require.ErrorIs(t, p.InsertRow(big), ErrPageFull)

	// Fill with small rows until full; every accepted row must scan back.
	inserted := 0
	for {
		if err := p.InsertRow(NewRow([]string{"0123456789"})); err != nil {
			require.ErrorIs(t, err, ErrPageFull)
			break
		}
		inserted++
	}
	require.Greater(t, inserted, 0)

	rows, err := p.Rows()
	require.NoError(t, err)
	assert.Len(t, rows, inserted)
}

func TestPage_DiskRoundTrip(t *testing.T) {
	dir := t.TempDir()

	p := NewPage(1)
	require.NoError(t, p.InsertRow(NewRow([]string{"1", "A"})))
	require.NoError(t, p.WriteToDisk(dir, "t"))
	assert.False(t, p.IsDirty())

	info, err := os.Stat(filepath.Join(dir, "t_page_1.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(PageSize), info.Size())

	loaded := NewPage(1)
	require.NoError(t, loaded.LoadFromDisk(dir, "t"))
	rows, err := loaded.Rows()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"1", "A"}, rows[0].Values)
}

func TestPage_LoadMissing(t *testing.T) {
	p := NewPage(7)
	require.Error(t, p.LoadFromDisk(t.TempDir(), "nope"))
}

func TestPage_WriteCleanIsNoop(t *testing.T) {
	dir := t.TempDir()
	p := NewPage(1)
	require.NoError(t, p.WriteToDisk(dir, "t"))

	_, err := os.Stat(filepath.Join(dir, "t_page_1.bin"))
	assert.True(t, os.IsNotExist(err))
}
