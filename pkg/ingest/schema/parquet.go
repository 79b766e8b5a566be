package schema

import (
	"fmt"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	lakeerrors "github.com/logflow/datalake/pkg/errors"
)

// parquetFooterReader reads the arrow schema embedded in a Parquet footer.
// Row groups are never decoded.
type parquetFooterReader struct {
	alloc memory.Allocator
}

func newParquetFooterReader() *parquetFooterReader {
	return &parquetFooterReader{alloc: memory.DefaultAllocator}
}

// Columns returns the file's columns from its footer metadata.
func (p *parquetFooterReader) Columns(path string) ([]Column, error) {
	pqReader, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, lakeerrors.SourceUnreadable(path, err)
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{}, p.alloc)
	if err != nil {
		return nil, lakeerrors.SourceUnreadable(path, fmt.Errorf("arrow reader: %w", err))
	}

	sc, err := arrowReader.Schema()
	if err != nil {
		return nil, lakeerrors.SourceUnreadable(path, fmt.Errorf("read schema: %w", err))
	}
	if sc.NumFields() == 0 {
		return nil, lakeerrors.EmptySchema(path)
	}

	columns := make([]Column, sc.NumFields())
	for i, field := range sc.Fields() {
		columns[i] = Column{
			Name:       field.Name,
			Type:       fromArrowType(field.Type),
			SourceType: field.Type.String(),
		}
	}
	return columns, nil
}

// fromArrowType maps an arrow data type onto the closed column type set.
func fromArrowType(dt arrow.DataType) ColumnType {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return TypeInteger
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64,
		arrow.DECIMAL128, arrow.DECIMAL256:
		return TypeFloat
	case arrow.BOOL:
		return TypeBoolean
	case arrow.TIMESTAMP, arrow.DATE32, arrow.DATE64:
		return TypeTimestamp
	case arrow.STRING, arrow.LARGE_STRING,
		arrow.BINARY, arrow.LARGE_BINARY, arrow.FIXED_SIZE_BINARY:
		return TypeString
	case arrow.DICTIONARY:
		if dict, ok := dt.(*arrow.DictionaryType); ok {
			return fromArrowType(dict.ValueType)
		}
		return TypeUnknown
	default:
		return TypeUnknown
	}
}
