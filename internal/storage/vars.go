package storage

import (
	"errors"
)

const (
	OneB  = 1
	OneKB = 1024
	OneMB = OneKB * 1024

	// 4KB page size, one disk IO unit
	PageSize = 4 * OneKB

	// On-disk length prefixes are fixed at 8 bytes little-endian so page
	// files stay portable across 32/64-bit hosts.
	LenSize = 8
)

const (
	FileMode0644 = 0o644 // rw-r--r--
	FileMode0664 = 0o664 // rw-rw-r--
	FileMode0755 = 0o755 // rwxr-xr-x
)

var (
	ErrPageFull     = errors.New("storage: row does not fit in page")
	ErrMalformedRow = errors.New("storage: row bytes cannot be parsed")
	ErrPageCorrupt  = errors.New("storage: page record chain is corrupt")
	ErrShortPage    = errors.New("storage: page file is not exactly one page")
)
