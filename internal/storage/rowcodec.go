package storage

import (
	"github.com/tuannm99/minirel/internal/alias/bx"
)

// Row is an ordered sequence of field values stored as UTF-8 text, plus a
// tombstone flag. Type coercion is a query-time concern; the page layer only
// ever sees text.
type Row struct {
	Values  []string
	Deleted bool
}

// NewRow wraps field values in a live row.
func NewRow(values []string) Row {
	return Row{Values: values}
}

// EncodeRow serializes a row.
// Format: [tombstone u8][n u64le][for i in 0..n: len u64le, bytes len]
func EncodeRow(r Row) []byte {
	size := 1 + LenSize
	for _, v := range r.Values {
		size += LenSize + len(v)
	}

	out := make([]byte, 0, size)
	if r.Deleted {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = bx.AppendU64(out, uint64(len(r.Values)))
	for _, v := range r.Values {
		out = bx.AppendU64(out, uint64(len(v)))
		out = append(out, v...)
	}
	return out
}

// DecodeRow is the exact inverse of EncodeRow. It never reads past buf;
// a truncated buffer or a field count disagreeing with the length prefixes
// fails with ErrMalformedRow.
func DecodeRow(buf []byte) (Row, error) {
	if len(buf) < 1+LenSize {
		return Row{}, ErrMalformedRow
	}
	deleted := buf[0] == 1
	n := bx.U64At(buf, 1)
	pos := 1 + LenSize
	// Every field needs at least its length prefix.
	if n > uint64(len(buf)-pos)/LenSize {
		return Row{}, ErrMalformedRow
	}

	values := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		if pos+LenSize > len(buf) {
			return Row{}, ErrMalformedRow
		}
		l := int(bx.U64At(buf, pos))
		pos += LenSize
		if l < 0 || pos+l > len(buf) {
			return Row{}, ErrMalformedRow
		}
		values = append(values, string(buf[pos:pos+l]))
		pos += l
	}

	return Row{Values: values, Deleted: deleted}, nil
}
