package schema

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	lakeerrors "github.com/logflow/datalake/pkg/errors"
)

const (
	csvDelimiter = ','
	csvQuote     = '"'

	// DefaultMaxRecordBytes bounds one CSV record, quoted newlines included.
	DefaultMaxRecordBytes = 1 << 20
)

var errRecordTooLong = errors.New("record exceeds size limit")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// csvSampler infers column types from the header and the first rows of a CSV file.
type csvSampler struct {
	sampleRows     int
	maxRecordBytes int
}

func newCSVSampler(sampleRows int) *csvSampler {
	return &csvSampler{sampleRows: sampleRows, maxRecordBytes: DefaultMaxRecordBytes}
}

// Columns reads the header and at most sampleRows records.
func (s *csvSampler) Columns(ctx context.Context, path string) ([]Column, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, lakeerrors.SourceUnreadable(path, err)
	}
	defer f.Close()

	return s.columns(ctx, path, f)
}

func (s *csvSampler) columns(ctx context.Context, path string, r io.Reader) ([]Column, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	if bom, _ := reader.Peek(len(utf8BOM)); bytes.Equal(bom, utf8BOM) {
		reader.Discard(len(utf8BOM))
	}

	headerLine, err := readRecord(reader, s.maxRecordBytes)
	if errors.Is(err, errRecordTooLong) {
		return nil, lakeerrors.SourceUnreadable(path, fmt.Errorf("header: %w", err)).
			WithContext("maxRecordBytes", s.maxRecordBytes)
	}
	if err != nil && err != io.EOF {
		return nil, lakeerrors.SourceUnreadable(path, fmt.Errorf("read header: %w", err))
	}
	if len(bytes.TrimSpace(headerLine)) == 0 {
		return nil, lakeerrors.EmptySchema(path)
	}

	headers := parseFields(headerLine)
	counts := make([]map[ColumnType]int, len(headers))
	for i := range counts {
		counts[i] = make(map[ColumnType]int)
	}

	for row := 0; row < s.sampleRows; row++ {
		if row%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, lakeerrors.ContextCanceled("inspect", err)
			}
		}

		line, err := readRecord(reader, s.maxRecordBytes)
		if err == io.EOF && len(line) == 0 {
			break
		}
		if errors.Is(err, errRecordTooLong) {
			// Keep what was sampled; an oversized record ends the sample.
			break
		}
		if err != nil && err != io.EOF {
			return nil, lakeerrors.SourceUnreadable(path, fmt.Errorf("read row %d: %w", row+2, err))
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		for j, field := range parseFields(line) {
			if j >= len(counts) {
				break
			}
			if t, ok := inferFieldType(field); ok {
				counts[j][t]++
			}
		}
	}

	columns := make([]Column, len(headers))
	seen := make(map[string]int, len(headers))
	for i, header := range headers {
		name := strings.TrimSpace(string(header))
		if name == "" {
			name = fmt.Sprintf("column_%d", i)
		}
		name = uniqueName(name, seen)

		t := selectType(counts[i])
		columns[i] = Column{Name: name, Type: t, SourceType: t.String()}
	}

	return columns, nil
}

// inferFieldType classifies one value. ok is false for null-like values.
func inferFieldType(value []byte) (ColumnType, bool) {
	s := strings.TrimSpace(string(value))

	if isNullValue(s) {
		return TypeUnknown, false
	}

	switch strings.ToLower(s) {
	case "true", "false":
		return TypeBoolean, true
	}

	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return TypeInteger, true
	}

	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return TypeFloat, true
	}

	if parseTimestamp(s) {
		return TypeTimestamp, true
	}

	return TypeString, true
}

// selectType picks the narrowest type consistent with every sampled value.
// Integer and float mixes widen to float; any other mix is a string.
func selectType(counts map[ColumnType]int) ColumnType {
	switch len(counts) {
	case 0:
		return TypeUnknown
	case 1:
		for t := range counts {
			return t
		}
	}

	if len(counts) == 2 && counts[TypeInteger] > 0 && counts[TypeFloat] > 0 {
		return TypeFloat
	}
	return TypeString
}

func isNullValue(s string) bool {
	switch s {
	case "", "NULL", "null", "NA", "N/A", "n/a", "None", "none", "nil", "\\N":
		return true
	}
	return false
}

var timestampLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

func parseTimestamp(s string) bool {
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// uniqueName returns name, or name_N for the smallest free N, and marks the
// result as taken.
func uniqueName(name string, seen map[string]int) string {
	base := name
	if n, dup := seen[base]; dup {
		for n++; ; n++ {
			candidate := fmt.Sprintf("%s_%d", base, n)
			if _, taken := seen[candidate]; !taken {
				seen[base] = n
				name = candidate
				break
			}
		}
	}
	seen[name] = 0
	return name
}

// readRecord reads one logical record, joining physical lines inside quoted
// fields. A quote opens a quoted field only at the start of a field, so a
// bare quote such as 5" is data. At most limit bytes are buffered; a longer
// record returns errRecordTooLong.
func readRecord(reader *bufio.Reader, limit int) ([]byte, error) {
	var (
		record  []byte
		inQuote bool
		atStart = true
		closed  bool
	)

	for {
		part, err := reader.ReadSlice('\n')
		if len(record)+len(part) > limit {
			return nil, errRecordTooLong
		}
		record = append(record, part...)

		for _, b := range part {
			switch {
			case inQuote:
				if b == csvQuote {
					inQuote = false
					closed = true
				}
			case b == csvQuote && closed:
				// Doubled quote inside a quoted field.
				inQuote = true
				closed = false
			case b == csvQuote && atStart:
				inQuote = true
				atStart = false
			case b == csvDelimiter:
				atStart = true
				closed = false
			default:
				atStart = false
				closed = false
			}
		}

		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == nil && !inQuote:
			return bytes.TrimRight(record, "\r\n"), nil
		case err == nil:
			// The newline is inside a quoted field.
			atStart = false
			closed = false
			continue
		case err == io.EOF && len(record) > 0:
			return bytes.TrimRight(record, "\r\n"), nil
		default:
			return record, err
		}
	}
}

// parseFields splits a record on commas. Quoted fields may contain commas
// and doubled quotes; quotes elsewhere are kept as data.
func parseFields(line []byte) [][]byte {
	var fields [][]byte
	var field []byte
	inQuote := false
	atStart := true

	for i := 0; i < len(line); i++ {
		b := line[i]

		switch {
		case inQuote && b == csvQuote:
			if i+1 < len(line) && line[i+1] == csvQuote {
				field = append(field, csvQuote)
				i++
			} else {
				inQuote = false
			}
		case inQuote:
			field = append(field, b)
		case b == csvQuote && atStart:
			inQuote = true
			atStart = false
		case b == csvDelimiter:
			fields = append(fields, field)
			field = nil
			atStart = true
		default:
			field = append(field, b)
			atStart = false
		}
	}

	fields = append(fields, field)
	return fields
}
