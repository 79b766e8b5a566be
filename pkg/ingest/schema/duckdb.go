package schema

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	lakeerrors "github.com/logflow/datalake/pkg/errors"
)

// DuckDBInspector asks an in-memory DuckDB to DESCRIBE the file.
// DuckDB reads only the CSV sample or the Parquet footer for DESCRIBE.
type DuckDBInspector struct {
	db         *sql.DB
	sampleRows int
}

// NewDuckDBInspector opens an in-memory DuckDB connection.
func NewDuckDBInspector(sampleRows int) (*DuckDBInspector, error) {
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connection: %w", err)
	}

	return &DuckDBInspector{db: db, sampleRows: sampleRows}, nil
}

// Close releases the DuckDB connection.
func (d *DuckDBInspector) Close() error {
	return d.db.Close()
}

// Inspect runs DESCRIBE over read_csv_auto or read_parquet.
func (d *DuckDBInspector) Inspect(ctx context.Context, path string) (*Schema, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	// DuckDB reports a missing file as a generic IO error.
	if _, err := os.Stat(path); err != nil {
		return nil, lakeerrors.SourceUnreadable(path, err)
	}

	var query string
	switch format {
	case FormatCSV:
		query = fmt.Sprintf(`DESCRIBE SELECT * FROM read_csv_auto('%s', header=true, sample_size=%d)`,
			escapePath(path), d.sampleRows)
	case FormatParquet:
		query = fmt.Sprintf(`DESCRIBE SELECT * FROM read_parquet('%s')`, escapePath(path))
	}

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, lakeerrors.ContextCanceled("inspect", ctx.Err())
		}
		return nil, lakeerrors.SourceUnreadable(path, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var name, dtype string
		var null, key, dflt, extra interface{}
		if err := rows.Scan(&name, &dtype, &null, &key, &dflt, &extra); err != nil {
			return nil, lakeerrors.SourceUnreadable(path, err)
		}
		columns = append(columns, Column{
			Name:       name,
			Type:       fromDuckDBType(dtype),
			SourceType: dtype,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, lakeerrors.SourceUnreadable(path, err)
	}

	if len(columns) == 0 {
		return nil, lakeerrors.EmptySchema(path)
	}

	return &Schema{Format: format, Columns: columns}, nil
}

// fromDuckDBType maps a DuckDB logical type name onto the closed column type set.
func fromDuckDBType(dtype string) ColumnType {
	t := strings.ToUpper(strings.TrimSpace(dtype))

	switch {
	case strings.HasPrefix(t, "DECIMAL"):
		return TypeFloat
	case strings.HasPrefix(t, "TIMESTAMP"):
		return TypeTimestamp
	}

	switch t {
	case "TINYINT", "SMALLINT", "INTEGER", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT":
		return TypeInteger
	case "FLOAT", "REAL", "DOUBLE":
		return TypeFloat
	case "BOOLEAN":
		return TypeBoolean
	case "DATE":
		return TypeTimestamp
	case "VARCHAR", "BLOB":
		return TypeString
	default:
		return TypeUnknown
	}
}

func escapePath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
