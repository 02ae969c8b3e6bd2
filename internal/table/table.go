package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"gptqual/internal/domain"
)

const (
	// DefaultExportName is the file name offered for download.
	DefaultExportName   = "analyzed_data.csv"
	DefaultOutputColumn = "analysis_result"
)

var ErrColumnNotFound = errors.New("column not found")

// Table is a header row plus string cells. Tables are treated as immutable
// values: every operation returns a new Table. Header keeps the file's text;
// column lookups ignore surrounding whitespace.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadCSV parses a delimited file with a header row. A UTF-8 or UTF-16 byte
// order mark is honored and removed; short rows are padded with empty cells.
func ReadCSV(r io.Reader) (*Table, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read csv: file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	t := &Table{Header: header}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", line, err)
		}
		if len(record) > len(header) {
			return nil, fmt.Errorf("read csv row %d: expected %d fields, saw %d", line, len(header), len(record))
		}
		for len(record) < len(header) {
			record = append(record, "")
		}
		t.Rows = append(t.Rows, record)
	}
	return t, nil
}

func (t *Table) Len() int {
	return len(t.Rows)
}

func (t *Table) ColumnIndex(name string) int {
	name = strings.TrimSpace(name)
	for i, h := range t.Header {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}

// Column returns the values of the named column in row order.
func (t *Table) Column(name string) ([]string, error) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Head returns a copy limited to the first n rows.
func (t *Table) Head(n int) *Table {
	if n < 0 || n > len(t.Rows) {
		n = len(t.Rows)
	}
	return t.copyRows(n)
}

func (t *Table) copyRows(n int) *Table {
	out := &Table{
		Header: append([]string(nil), t.Header...),
		Rows:   make([][]string, n),
	}
	for i := 0; i < n; i++ {
		out.Rows[i] = append([]string(nil), t.Rows[i]...)
	}
	return out
}

// WithColumn returns a copy with values under name. An existing column of the
// same name is replaced in place; otherwise the column is appended.
func (t *Table) WithColumn(name string, values []string) (*Table, error) {
	if len(values) != len(t.Rows) {
		return nil, fmt.Errorf("column %q has %d values for %d rows", name, len(values), len(t.Rows))
	}
	out := t.copyRows(len(t.Rows))
	idx := out.ColumnIndex(name)
	if idx < 0 {
		out.Header = append(out.Header, name)
		for i := range out.Rows {
			out.Rows[i] = append(out.Rows[i], values[i])
		}
		return out, nil
	}
	for i := range out.Rows {
		out.Rows[i][idx] = values[i]
	}
	return out, nil
}

// Assemble attaches a result column to the analyzed table.
func Assemble(t *Table, column string, results []domain.RowResult) (*Table, error) {
	values := make([]string, len(results))
	for i, r := range results {
		values[i] = r.Cell()
	}
	return t.WithColumn(column, values)
}

func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Header); err != nil {
		return err
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return err
	}
	return writer.Error()
}
