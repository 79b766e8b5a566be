// Package schema derives table schemas from source files without loading
// their contents: CSV types are inferred from a bounded sample, Parquet types
// come from the file footer.
package schema

import (
	"fmt"
	"path/filepath"
	"strings"

	lakeerrors "github.com/logflow/datalake/pkg/errors"
)

// Format is the on-disk format of a table file.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// Formats lists every supported format.
var Formats = []Format{FormatCSV, FormatParquet}

// Ext returns the file extension, including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

func (f Format) String() string {
	return string(f)
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}

// FormatFromPath determines the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".csv":
		return FormatCSV, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", lakeerrors.UnsupportedFormat(path, ext)
	}
}

// ColumnType is the closed set of inferred column types.
type ColumnType int

const (
	TypeUnknown ColumnType = iota
	TypeInteger
	TypeFloat
	TypeBoolean
	TypeTimestamp
	TypeString
)

var typeNames = [...]string{
	TypeUnknown:   "unknown",
	TypeInteger:   "integer",
	TypeFloat:     "float",
	TypeBoolean:   "boolean",
	TypeTimestamp: "timestamp",
	TypeString:    "string",
}

func (t ColumnType) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "unknown"
	}
	return typeNames[t]
}

// ParseColumnType parses a type name written by String.
func ParseColumnType(s string) (ColumnType, error) {
	for i, name := range typeNames {
		if name == s {
			return ColumnType(i), nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown column type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t ColumnType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ColumnType) UnmarshalText(text []byte) error {
	parsed, err := ParseColumnType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Column is one named, typed column.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
	// SourceType is the type as reported by the reader (arrow or DuckDB name).
	SourceType string `json:"source_type,omitempty"`
}

// Schema is the ordered column list of a table file.
type Schema struct {
	Format  Format   `json:"format"`
	Columns []Column `json:"columns"`
}

// Names returns the column names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}
