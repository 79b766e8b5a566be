package schema

import (
	"context"
	"fmt"
)

// DefaultSampleRows is the number of CSV rows sampled for type inference.
const DefaultSampleRows = 1000

// Inspector determines the schema of a table file.
type Inspector interface {
	// Inspect returns the format and ordered columns of the file at path.
	Inspect(ctx context.Context, path string) (*Schema, error)
	Close() error
}

// Open returns the inspector for an engine name ("native" or "duckdb").
func Open(engine string, sampleRows int) (Inspector, error) {
	switch engine {
	case "", "native":
		return NewNativeInspector(sampleRows), nil
	case "duckdb":
		return NewDuckDBInspector(sampleRows)
	default:
		return nil, fmt.Errorf("unknown inspect engine %q", engine)
	}
}

// NativeInspector reads CSV headers and samples in Go and Parquet footers
// through Apache Arrow.
type NativeInspector struct {
	csv     *csvSampler
	parquet *parquetFooterReader
}

// NewNativeInspector creates an inspector that samples at most sampleRows CSV rows.
func NewNativeInspector(sampleRows int) *NativeInspector {
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}
	return &NativeInspector{
		csv:     newCSVSampler(sampleRows),
		parquet: newParquetFooterReader(),
	}
}

// Inspect dispatches on the file extension.
func (n *NativeInspector) Inspect(ctx context.Context, path string) (*Schema, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	var columns []Column
	switch format {
	case FormatCSV:
		columns, err = n.csv.Columns(ctx, path)
	case FormatParquet:
		columns, err = n.parquet.Columns(path)
	}
	if err != nil {
		return nil, err
	}

	return &Schema{Format: format, Columns: columns}, nil
}

// Close does nothing.
func (n *NativeInspector) Close() error {
	return nil
}
