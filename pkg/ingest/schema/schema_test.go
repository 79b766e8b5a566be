package schema

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lakeerrors "github.com/logflow/datalake/pkg/errors"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// writeParquet writes a small id/name/score/active file.
func writeParquet(t *testing.T, path string) {
	t.Helper()

	sc := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "active", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
	}, nil)

	b := array.NewRecordBuilder(memory.DefaultAllocator, sc)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2}, nil)
	b.Field(1).(*array.StringBuilder).AppendValues([]string{"a", "b"}, nil)
	b.Field(2).(*array.Float64Builder).AppendValues([]float64{0.5, 1.5}, nil)
	b.Field(3).(*array.BooleanBuilder).AppendValues([]bool{true, false}, nil)
	rec := b.NewRecord()
	defer rec.Release()

	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := pqarrow.NewFileWriter(sc, f, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	require.NoError(t, err)
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Close())
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path     string
		expected Format
		wantErr  bool
	}{
		{"sales.csv", FormatCSV, false},
		{"SALES.CSV", FormatCSV, false},
		{"returns.parquet", FormatParquet, false},
		{"notes.txt", "", true},
		{"noext", "", true},
	}

	for _, tt := range tests {
		got, err := FormatFromPath(tt.path)
		if tt.wantErr {
			require.Error(t, err, tt.path)
			assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeUnsupportedFormat), tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.expected, got, tt.path)
	}
}

func TestColumnType_TextRoundTrip(t *testing.T) {
	for _, ct := range []ColumnType{TypeUnknown, TypeInteger, TypeFloat, TypeBoolean, TypeTimestamp, TypeString} {
		text, err := ct.MarshalText()
		require.NoError(t, err)

		var back ColumnType
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, ct, back)
	}

	var bad ColumnType
	assert.Error(t, bad.UnmarshalText([]byte("varchar")))
	assert.Equal(t, "unknown", ColumnType(42).String())
}

func TestNativeInspector_CSVIntegers(t *testing.T) {
	path := writeTemp(t, "abc.csv", "a,b,c\n1,2,3\n4,5,6\n")

	got, err := NewNativeInspector(0).Inspect(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, FormatCSV, got.Format)
	require.Len(t, got.Columns, 3)
	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, name, got.Columns[i].Name)
		assert.Equal(t, TypeInteger, got.Columns[i].Type)
	}
}

func TestNativeInspector_CSVTypes(t *testing.T) {
	content := strings.Join([]string{
		`id,price,flag,when,label,empty,mixed`,
		`1,10,true,2024-01-02,"hello, world",,1`,
		`2,10.5,FALSE,2024-01-03T10:00:00Z,"say ""hi""",NULL,x`,
		`3,,true,2024-01-04,plain,NA,2`,
	}, "\n")
	path := writeTemp(t, "types.csv", content)

	got, err := NewNativeInspector(100).Inspect(context.Background(), path)
	require.NoError(t, err)

	expected := []struct {
		name string
		typ  ColumnType
	}{
		{"id", TypeInteger},
		{"price", TypeFloat},
		{"flag", TypeBoolean},
		{"when", TypeTimestamp},
		{"label", TypeString},
		{"empty", TypeUnknown},
		{"mixed", TypeString},
	}
	require.Len(t, got.Columns, len(expected))
	for i, e := range expected {
		assert.Equal(t, e.name, got.Columns[i].Name)
		assert.Equal(t, e.typ, got.Columns[i].Type, "column %s", e.name)
	}
}

func TestNativeInspector_CSVSampleIsBounded(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("n\n")
	for i := 0; i < 10; i++ {
		sb.WriteString("1\n")
	}
	sb.WriteString("not-a-number\n")
	path := writeTemp(t, "bounded.csv", sb.String())

	got, err := NewNativeInspector(10).Inspect(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, TypeInteger, got.Columns[0].Type)

	got, err = NewNativeInspector(11).Inspect(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, TypeString, got.Columns[0].Type)
}

func TestNativeInspector_CSVHeaderEdgeCases(t *testing.T) {
	path := writeTemp(t, "headers.csv", "\xEF\xBB\xBFa,,a\n1,2,3\n")

	got, err := NewNativeInspector(0).Inspect(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "column_1", "a_1"}, got.Names())
}

func TestNativeInspector_CSVHeaderDuplicates(t *testing.T) {
	tests := []struct {
		header string
		want   []string
	}{
		{"a,a,a_1", []string{"a", "a_1", "a_1_1"}},
		{"a,a_1,a", []string{"a", "a_1", "a_2"}},
		{"x,x,x", []string{"x", "x_1", "x_2"}},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			path := writeTemp(t, "dups.csv", tt.header+"\n")
			got, err := NewNativeInspector(0).Inspect(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Names())
		})
	}
}

func TestParseFields(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"plain", "a,b,c", []string{"a", "b", "c"}},
		{"quoted comma", `"a,b",c`, []string{"a,b", "c"}},
		{"doubled quote", `"say ""hi""",x`, []string{`say "hi"`, "x"}},
		{"bare quote is data", `pipe,5"`, []string{"pipe", `5"`}},
		{"empty fields", ",,", []string{"", "", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, f := range parseFields([]byte(tt.line)) {
				got = append(got, string(f))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadRecord_QuotedNewline(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("1,\"two\nlines\"\n2,x\n"))

	rec, err := readRecord(r, DefaultMaxRecordBytes)
	require.NoError(t, err)
	assert.Equal(t, "1,\"two\nlines\"", string(rec))

	rec, err = readRecord(r, DefaultMaxRecordBytes)
	require.NoError(t, err)
	assert.Equal(t, "2,x", string(rec))
}

// countingReader counts the bytes handed to the sampler.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func largeCSV(head string, rows int) string {
	var sb strings.Builder
	sb.WriteString(head)
	for i := 0; i < rows; i++ {
		sb.WriteString("bolt,12\n")
	}
	return sb.String()
}

func TestCSVSampler_ReadsBoundedPrefix(t *testing.T) {
	tests := []struct {
		name     string
		head     string
		maxBytes int
		want     []ColumnType
	}{
		{"bare inch mark", "item,size\npipe,5\"\n", DefaultMaxRecordBytes, []ColumnType{TypeString, TypeString}},
		{"unterminated quote", "item,size\n\"pipe,5\n", 4096, []ColumnType{TypeUnknown, TypeUnknown}},
		{"clean", "item,size\n", DefaultMaxRecordBytes, []ColumnType{TypeString, TypeInteger}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := largeCSV(tt.head, 200000)
			cr := &countingReader{r: strings.NewReader(data)}

			s := newCSVSampler(10)
			s.maxRecordBytes = tt.maxBytes
			cols, err := s.columns(context.Background(), "big.csv", cr)
			require.NoError(t, err)

			require.Len(t, cols, 2)
			assert.Equal(t, tt.want, []ColumnType{cols[0].Type, cols[1].Type})
			assert.Less(t, cr.n, int64(len(data)/10), "read %d of %d bytes", cr.n, len(data))
		})
	}
}

func TestCSVSampler_OversizedHeader(t *testing.T) {
	header := strings.Repeat("c", 10000)
	cr := &countingReader{r: strings.NewReader(header + largeCSV("", 200000))}

	s := newCSVSampler(10)
	s.maxRecordBytes = 4096
	_, err := s.columns(context.Background(), "wide.csv", cr)
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeSourceUnreadable), "got %v", err)
	assert.Less(t, cr.n, int64(200000))
}

func TestNativeInspector_Errors(t *testing.T) {
	ctx := context.Background()
	inspector := NewNativeInspector(0)

	_, err := inspector.Inspect(ctx, writeTemp(t, "table.xlsx", "x"))
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeUnsupportedFormat), "xlsx: %v", err)

	_, err = inspector.Inspect(ctx, filepath.Join(t.TempDir(), "missing.csv"))
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeSourceUnreadable), "missing: %v", err)

	_, err = inspector.Inspect(ctx, writeTemp(t, "empty.csv", ""))
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeEmptySchema), "empty: %v", err)

	_, err = inspector.Inspect(ctx, writeTemp(t, "blank.csv", "\n1\n"))
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeEmptySchema), "blank header: %v", err)

	_, err = inspector.Inspect(ctx, writeTemp(t, "bad.parquet", "this is not parquet"))
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeSourceUnreadable), "bad parquet: %v", err)
}

func TestNativeInspector_CSVCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewNativeInspector(0).Inspect(ctx, writeTemp(t, "c.csv", "a\n1\n"))
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeContextCanceled))
}

func TestNativeInspector_Parquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "returns.parquet")
	writeParquet(t, path)

	got, err := NewNativeInspector(0).Inspect(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, FormatParquet, got.Format)
	assert.Equal(t, []string{"id", "name", "score", "active"}, got.Names())
	assert.Equal(t, TypeInteger, got.Columns[0].Type)
	assert.Equal(t, TypeString, got.Columns[1].Type)
	assert.Equal(t, TypeFloat, got.Columns[2].Type)
	assert.Equal(t, TypeBoolean, got.Columns[3].Type)
	assert.Equal(t, "int64", got.Columns[0].SourceType)
}

func TestFromDuckDBType(t *testing.T) {
	tests := []struct {
		input    string
		expected ColumnType
	}{
		{"BIGINT", TypeInteger},
		{"integer", TypeInteger},
		{"DOUBLE", TypeFloat},
		{"DECIMAL(18,3)", TypeFloat},
		{"BOOLEAN", TypeBoolean},
		{"DATE", TypeTimestamp},
		{"TIMESTAMP WITH TIME ZONE", TypeTimestamp},
		{"VARCHAR", TypeString},
		{"STRUCT(a INTEGER)", TypeUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, fromDuckDBType(tt.input), tt.input)
	}
}

func TestDuckDBInspector(t *testing.T) {
	inspector, err := Open("duckdb", 100)
	require.NoError(t, err)
	defer inspector.Close()

	ctx := context.Background()

	got, err := inspector.Inspect(ctx, writeTemp(t, "abc.csv", "a,b,c\n1,2,3\n4,5,6\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got.Names())
	for _, c := range got.Columns {
		assert.Equal(t, TypeInteger, c.Type, c.Name)
	}

	pq := filepath.Join(t.TempDir(), "returns.parquet")
	writeParquet(t, pq)
	got, err = inspector.Inspect(ctx, pq)
	require.NoError(t, err)
	assert.Equal(t, FormatParquet, got.Format)
	assert.Equal(t, []string{"id", "name", "score", "active"}, got.Names())

	_, err = inspector.Inspect(ctx, filepath.Join(t.TempDir(), "missing.csv"))
	assert.True(t, lakeerrors.IsCode(err, lakeerrors.CodeSourceUnreadable))
}

func TestOpen_UnknownEngine(t *testing.T) {
	_, err := Open("spark", 0)
	assert.Error(t, err)
}
