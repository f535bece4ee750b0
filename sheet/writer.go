package sheet

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/warp/payroll-engine/payroll"
)

// Writer fills one workbook. It is not safe for concurrent use.
type Writer struct {
	f     *excelize.File
	sheet string
}

// Open loads a template workbook. sheet selects the target sheet; empty
// means the first one.
func Open(template []byte, sheet string) (*Writer, error) {
	f, err := excelize.OpenReader(bytes.NewReader(template))
	if err != nil {
		return nil, &payroll.FormatError{Source: "template", Reason: fmt.Sprintf("not an xlsx workbook: %v", err)}
	}
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		f.Close()
		return nil, &payroll.FormatError{Source: "template", Sheet: sheet, Reason: "sheet not found"}
	}
	return &Writer{f: f, sheet: sheet}, nil
}

// Fresh builds a workbook from a layout when no template was uploaded: a
// header row, then one row per employee and label.
func Fresh(l Layout, roster []payroll.Employee) (*Writer, error) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	if l.Sheet != "" && l.Sheet != sheet {
		if err := f.SetSheetName(sheet, l.Sheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("rename sheet: %w", err)
		}
		sheet = l.Sheet
	}
	w := &Writer{f: f, sheet: sheet}

	cols := make([]string, 0, len(l.Headers))
	for c := range l.Headers {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		if err := f.SetCellStr(sheet, c+"1", l.Headers[c]); err != nil {
			w.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	if l.HeaderMarker != "" {
		ref, _ := excelize.CoordinatesToCellName(l.nameCol, 1)
		if err := f.SetCellStr(sheet, ref, l.HeaderMarker); err != nil {
			w.Close()
			return nil, err
		}
	}

	labels := l.Labels
	if l.typeCol == 0 || len(labels) == 0 {
		labels = []string{""}
	}
	row := 2
	for _, e := range roster {
		for _, label := range labels {
			nameRef, _ := excelize.CoordinatesToCellName(l.nameCol, row)
			if err := f.SetCellStr(sheet, nameRef, e.Name); err != nil {
				w.Close()
				return nil, err
			}
			if label != "" {
				typeRef, _ := excelize.CoordinatesToCellName(l.typeCol, row)
				if err := f.SetCellStr(sheet, typeRef, label); err != nil {
					w.Close()
					return nil, err
				}
			}
			row++
		}
	}
	return w, nil
}

// Rows returns the target sheet as strings, for Layout.Index.
func (w *Writer) Rows() ([][]string, error) {
	rows, err := w.f.GetRows(w.sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows, nil
}

// Apply writes every cell of the mapping. Cells without a sheet go to the
// writer's target sheet.
func (w *Writer) Apply(m Mapping) error {
	for _, c := range m.Cells {
		sheet := c.Sheet
		if sheet == "" {
			sheet = w.sheet
		}
		var err error
		if c.Text != "" {
			err = w.f.SetCellStr(sheet, c.Ref(), c.Text)
		} else {
			err = w.f.SetCellFloat(sheet, c.Ref(), c.Number.InexactFloat64(), -1, 64)
		}
		if err != nil {
			return fmt.Errorf("write %s!%s: %w", sheet, c.Ref(), err)
		}
	}
	return nil
}

// AddTable appends (or replaces) an audit sheet holding a plain table.
func (w *Writer) AddTable(name string, header []string, rows [][]string) error {
	if idx, _ := w.f.GetSheetIndex(name); idx >= 0 {
		if err := w.f.DeleteSheet(name); err != nil {
			return err
		}
	}
	if _, err := w.f.NewSheet(name); err != nil {
		return fmt.Errorf("add sheet %s: %w", name, err)
	}
	all := append([][]string{header}, rows...)
	for i, r := range all {
		ref, _ := excelize.CoordinatesToCellName(1, i+1)
		vals := make([]any, len(r))
		for j, v := range r {
			vals[j] = v
		}
		if err := w.f.SetSheetRow(name, ref, &vals); err != nil {
			return fmt.Errorf("write %s row %d: %w", name, i+1, err)
		}
	}
	return nil
}

// AppendRows adds rows below the last used row of a sheet, creating the
// sheet with header when it does not exist.
func (w *Writer) AppendRows(name string, header []string, rows [][]string) error {
	idx, _ := w.f.GetSheetIndex(name)
	if idx < 0 {
		return w.AddTable(name, header, rows)
	}
	existing, err := w.f.GetRows(name)
	if err != nil {
		return err
	}
	next := len(existing) + 1
	for i, r := range rows {
		ref, _ := excelize.CoordinatesToCellName(1, next+i)
		vals := make([]any, len(r))
		for j, v := range r {
			vals[j] = v
		}
		if err := w.f.SetSheetRow(name, ref, &vals); err != nil {
			return err
		}
	}
	return nil
}

// ClearRow blanks the given columns of a row on the target sheet.
func (w *Writer) ClearRow(row int, cols []int) error {
	for _, c := range cols {
		ref, _ := excelize.CoordinatesToCellName(c, row)
		if err := w.f.SetCellValue(w.sheet, ref, nil); err != nil {
			return err
		}
	}
	return nil
}

// Bytes serializes the workbook.
func (w *Writer) Bytes() ([]byte, error) {
	buf, err := w.f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Close releases the workbook.
func (w *Writer) Close() error {
	return w.f.Close()
}

// FileName builds an output name like "Cash_Filled_03.06.25.xlsx".
func FileName(prefix, date string) string {
	date = strings.NewReplacer("/", ".", " ", "_").Replace(date)
	return prefix + date + ".xlsx"
}
