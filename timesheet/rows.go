package timesheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/warp/payroll-engine/payroll"
)

// maxXLSRows bounds how many rows are read from a legacy .xls workbook, which
// the xls reader can only load whole.
const maxXLSRows = 100000

// RowIterator walks the rows of the first sheet of a workbook. Row numbers
// are 1-based and include blank rows, so they match what a user sees in a
// spreadsheet application.
type RowIterator interface {
	Next() bool
	Row() []string
	Index() int
	Err() error
	Close() error
}

// Open returns a streaming iterator over the first sheet of data. The format
// is chosen from the file extension of name.
func Open(name string, data []byte) (RowIterator, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".xlsx", ".xlsm":
		return openXLSX(name, data)
	case ".xls":
		return openXLS(name, data)
	case ".csv", ".txt":
		return openCSV(data), nil
	default:
		return nil, &payroll.FormatError{Source: name, Reason: fmt.Sprintf("unsupported file type %q (want .xlsx, .xls or .csv)", ext)}
	}
}

// ReadAll drains an iterator into memory. Blank rows are kept as nil.
func ReadAll(it RowIterator) ([][]string, error) {
	defer it.Close()
	var rows [][]string
	for it.Next() {
		rows = append(rows, it.Row())
	}
	return rows, it.Err()
}

// =============================================================================
// XLSX (streaming)
// =============================================================================

type xlsxRows struct {
	file *excelize.File
	rows *excelize.Rows
	cur  []string
	n    int
	err  error
}

func openXLSX(name string, data []byte) (*xlsxRows, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &payroll.FormatError{Source: name, Reason: "cannot open workbook: " + err.Error()}
	}
	sheet := f.GetSheetName(0)
	if sheet == "" {
		_ = f.Close()
		return nil, &payroll.FormatError{Source: name, Reason: "workbook has no worksheet"}
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		_ = f.Close()
		return nil, &payroll.FormatError{Source: name, Sheet: sheet, Reason: "cannot read worksheet: " + err.Error()}
	}
	return &xlsxRows{file: f, rows: rows}, nil
}

func (r *xlsxRows) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}
	r.n++
	// Raw values keep dates as serial numbers and hours unformatted.
	r.cur, r.err = r.rows.Columns(excelize.Options{RawCellValue: true})
	return r.err == nil
}

func (r *xlsxRows) Row() []string { return r.cur }
func (r *xlsxRows) Index() int    { return r.n }

func (r *xlsxRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.rows.Error()
}

func (r *xlsxRows) Close() error {
	return errors.Join(r.rows.Close(), r.file.Close())
}

// =============================================================================
// XLS (legacy, materialized)
// =============================================================================

func openXLS(name string, data []byte) (RowIterator, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, &payroll.FormatError{Source: name, Reason: "cannot open workbook: " + err.Error()}
	}
	if wb.NumSheets() == 0 {
		return nil, &payroll.FormatError{Source: name, Reason: "workbook has no worksheet"}
	}
	return SliceRows(wb.ReadAllCells(maxXLSRows)), nil
}

// =============================================================================
// CSV (streaming)
// =============================================================================

type csvRows struct {
	r   *csv.Reader
	cur []string
	n   int
	err error
}

func openCSV(data []byte) *csvRows {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return &csvRows{r: r}
}

func (c *csvRows) Next() bool {
	if c.err != nil {
		return false
	}
	rec, err := c.r.Read()
	if err == io.EOF {
		return false
	}
	if err != nil {
		c.err = err
		return false
	}
	line, _ := c.r.FieldPos(0)
	c.n = line
	c.cur = rec
	return true
}

func (c *csvRows) Row() []string { return c.cur }
func (c *csvRows) Index() int    { return c.n }
func (c *csvRows) Err() error    { return c.err }
func (c *csvRows) Close() error  { return nil }

// =============================================================================
// IN-MEMORY
// =============================================================================

type sliceRows struct {
	rows [][]string
	i    int
}

// SliceRows iterates over rows already in memory.
func SliceRows(rows [][]string) RowIterator {
	return &sliceRows{rows: rows}
}

func (s *sliceRows) Next() bool {
	if s.i >= len(s.rows) {
		return false
	}
	s.i++
	return true
}

func (s *sliceRows) Row() []string { return s.rows[s.i-1] }
func (s *sliceRows) Index() int    { return s.i }
func (s *sliceRows) Err() error    { return nil }
func (s *sliceRows) Close() error  { return nil }

// columnName converts a 0-based column index to its letter, e.g. 2 -> "C".
func columnName(idx int) string {
	name, err := excelize.ColumnNumberToName(idx + 1)
	if err != nil {
		return "?"
	}
	return name
}
