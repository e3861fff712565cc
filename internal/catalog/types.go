package catalog

import "fmt"

// DataType tags a column's declared SQL type. Values are stored on disk as
// UTF-8 text regardless of the tag; coercion happens at query time.
type DataType uint8

const (
	Int DataType = iota
	String
	Double
)

func (t DataType) String() string {
	switch t {
	case Int:
		return "INT"
	case String:
		return "STRING"
	case Double:
		return "DOUBLE"
	default:
		return "unknown"
	}
}

// ParseDataType reads the textual tag used in catalog rows.
func ParseDataType(s string) (DataType, error) {
	switch s {
	case "INT":
		return Int, nil
	case "STRING":
		return String, nil
	case "DOUBLE":
		return Double, nil
	default:
		return 0, fmt.Errorf("catalog: invalid data type %q", s)
	}
}

type Column struct {
	Name       string
	Type       DataType
	PrimaryKey bool
}

type TableSchema struct {
	Name    string
	Columns []Column
}

func (s TableSchema) ColumnCount() int { return len(s.Columns) }

// ColumnIndex maps a column name to its position in row values.
func (s TableSchema) ColumnIndex(name string) (int, bool) {
	for i, c := range s.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}

// PrimaryKeyIndex returns the position of the first primary-key column.
func (s TableSchema) PrimaryKeyIndex() (int, bool) {
	for i, c := range s.Columns {
		if c.PrimaryKey {
			return i, true
		}
	}
	return 0, false
}
