/*
Package sheet maps payroll results onto spreadsheet templates.

PURPOSE:
  Templates differ per business (column order, type labels, where the
  names start), so cell addresses are data, not code. A Layout describes
  one template category in YAML; the Map* functions turn allocations,
  day records and bonuses into a flat list of cells; the Writer puts
  those cells into a workbook with excelize.

  Mapping is pure. Given the same layout, template rows and results it
  always returns the same cells in the same order.

LAYOUT (YAML):
  category:      weekly | cash | payroll
  sheet:         sheet name, empty for the first sheet
  header_marker: text in the name column of the header row
  name_column:   column holding employee names
  type_column:   column holding row labels (R, OT, SICK), optional
  labels:        row labels in the order Fresh writes them
  bindings:      field → (label, column)
  days:          weekday → column (weekly sheets)
  headers:       column → title (Fresh only)

SEE ALSO:
  - layouts/: the built-in layouts
  - pipeline/: builds mappings and writes outputs
*/
package sheet

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// CATEGORIES
// =============================================================================

// Category names a template kind.
type Category string

const (
	CategoryWeekly  Category = "weekly"
	CategoryCash    Category = "cash"
	CategoryPayroll Category = "payroll"
)

// Categories lists the template kinds in output order.
var Categories = []Category{CategoryWeekly, CategoryCash, CategoryPayroll}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", &payroll.ValidationError{Field: "category", Value: s, Reason: "must be weekly, cash or payroll"}
}

// Field names a value a layout can bind to a column.
type Field string

const (
	FieldRegular       Field = "regular"
	FieldOvertime      Field = "overtime"
	FieldSick          Field = "sick"
	FieldCashRegular   Field = "cash_regular"
	FieldCashOvertime  Field = "cash_overtime"
	FieldRateRegular   Field = "rate_regular"
	FieldRateOvertime  Field = "rate_overtime"
	FieldBonus         Field = "bonus"
	FieldReimbursement Field = "reimbursement"
	FieldLoan          Field = "loan"
	FieldNet           Field = "net"
	FieldTotal         Field = "total"
)

var knownFields = map[Field]bool{
	FieldRegular: true, FieldOvertime: true, FieldSick: true,
	FieldCashRegular: true, FieldCashOvertime: true,
	FieldRateRegular: true, FieldRateOvertime: true,
	FieldBonus: true, FieldReimbursement: true, FieldLoan: true, FieldNet: true,
	FieldTotal: true,
}

// =============================================================================
// LAYOUT
// =============================================================================

// Binding places one field in a column of the row carrying Label. An empty
// label means the first row of the employee.
type Binding struct {
	Field  Field  `yaml:"field" json:"field"`
	Label  string `yaml:"label,omitempty" json:"label,omitempty"`
	Column string `yaml:"column" json:"column"`
}

// Layout is the declarative description of one template category.
type Layout struct {
	Category     Category          `yaml:"category" json:"category"`
	Sheet        string            `yaml:"sheet,omitempty" json:"sheet,omitempty"`
	HeaderMarker string            `yaml:"header_marker" json:"header_marker"`
	NameColumn   string            `yaml:"name_column" json:"name_column"`
	TypeColumn   string            `yaml:"type_column,omitempty" json:"type_column,omitempty"`
	Labels       []string          `yaml:"labels,omitempty" json:"labels,omitempty"`
	Bindings     []Binding         `yaml:"bindings" json:"bindings"`
	Days         map[string]string `yaml:"days,omitempty" json:"days,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// resolved column numbers, 1-based
	nameCol, typeCol int
	dayCols          map[string]int
}

//go:embed layouts/*.yaml
var builtin embed.FS

// Builtin returns the embedded layout for a category.
func Builtin(c Category) (Layout, error) {
	data, err := builtin.ReadFile("layouts/" + string(c) + ".yaml")
	if err != nil {
		return Layout{}, fmt.Errorf("no built-in layout for %q: %w", c, payroll.ErrNotFound)
	}
	return ParseLayout(data)
}

// LoadLayoutFile reads a layout from disk.
func LoadLayoutFile(path string) (Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("read layout: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout decodes and checks a YAML layout. Unknown keys are rejected.
func ParseLayout(data []byte) (Layout, error) {
	var l Layout
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil {
		return Layout{}, &payroll.ValidationError{Field: "layout", Reason: err.Error()}
	}
	if err := l.resolve(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

func (l *Layout) resolve() error {
	if _, err := ParseCategory(string(l.Category)); err != nil {
		return err
	}
	var err error
	if l.nameCol, err = columnNumber("name_column", l.NameColumn); err != nil {
		return err
	}
	if l.TypeColumn != "" {
		if l.typeCol, err = columnNumber("type_column", l.TypeColumn); err != nil {
			return err
		}
	}
	for i := range l.Labels {
		l.Labels[i] = strings.ToUpper(strings.TrimSpace(l.Labels[i]))
	}
	for i, b := range l.Bindings {
		if !knownFields[b.Field] {
			return &payroll.ValidationError{Field: fmt.Sprintf("bindings[%d].field", i), Value: b.Field, Reason: "unknown field"}
		}
		if _, err := columnNumber(fmt.Sprintf("bindings[%d].column", i), b.Column); err != nil {
			return err
		}
		if b.Label != "" && l.typeCol == 0 {
			return &payroll.ValidationError{Field: fmt.Sprintf("bindings[%d].label", i), Value: b.Label, Reason: "layout has no type_column"}
		}
		l.Bindings[i].Label = strings.ToUpper(strings.TrimSpace(b.Label))
	}
	l.dayCols = make(map[string]int, len(l.Days))
	for day, col := range l.Days {
		key := strings.ToLower(day)
		if _, ok := weekdays[key]; !ok {
			return &payroll.ValidationError{Field: "days", Value: day, Reason: "not a weekday"}
		}
		if l.dayCols[key], err = columnNumber("days."+key, col); err != nil {
			return err
		}
	}
	return nil
}

var weekdays = map[string]struct{}{
	"sunday": {}, "monday": {}, "tuesday": {}, "wednesday": {},
	"thursday": {}, "friday": {}, "saturday": {},
}

func columnNumber(field, name string) (int, error) {
	n, err := excelize.ColumnNameToNumber(strings.TrimSpace(name))
	if err != nil {
		return 0, &payroll.ValidationError{Field: field, Value: name, Reason: "not a column name"}
	}
	return n, nil
}

// Binding returns the binding for a field.
func (l Layout) Binding(f Field) (Binding, bool) {
	for _, b := range l.Bindings {
		if b.Field == f {
			return b, true
		}
	}
	return Binding{}, false
}

// =============================================================================
// ROW INDEX
// =============================================================================

// RowIndex locates template rows by employee and label.
type RowIndex struct {
	rows  map[string]int
	names map[string]struct{}
}

func rowKey(name, label string) string {
	return payrollKey(name) + "|" + label
}

// payrollKey folds a name for template lookup.
func payrollKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Index scans template rows (as read by timesheet.ReadAll) and records the
// 1-based row of each (name, label). Scanning starts after the header
// marker row, or after row 1 when no marker is found. The first row of each
// name is also indexed under the empty label.
func (l Layout) Index(rows [][]string) RowIndex {
	idx := RowIndex{rows: make(map[string]int), names: make(map[string]struct{})}
	start := 1
	for i, r := range rows {
		if l.HeaderMarker != "" && strings.EqualFold(strings.TrimSpace(cellAt(r, l.nameCol)), l.HeaderMarker) {
			start = i + 1
			break
		}
	}
	for i := start; i < len(rows); i++ {
		name := strings.TrimSpace(cellAt(rows[i], l.nameCol))
		if name == "" {
			continue
		}
		first := rowKey(name, "")
		if _, ok := idx.rows[first]; !ok {
			idx.rows[first] = i + 1
		}
		idx.names[payrollKey(name)] = struct{}{}
		if l.typeCol > 0 {
			label := strings.ToUpper(strings.TrimSpace(cellAt(rows[i], l.typeCol)))
			if label == "" {
				continue
			}
			key := rowKey(name, label)
			if _, ok := idx.rows[key]; !ok {
				idx.rows[key] = i + 1
			}
		}
	}
	return idx
}

// Row returns the 1-based row for an employee and label.
func (x RowIndex) Row(name, label string) (int, bool) {
	r, ok := x.rows[rowKey(name, label)]
	return r, ok
}

// Has reports whether the template lists the employee at all.
func (x RowIndex) Has(name string) bool {
	_, ok := x.names[payrollKey(name)]
	return ok
}

// Len is the number of distinct employees in the template.
func (x RowIndex) Len() int { return len(x.names) }

func cellAt(row []string, col int) string {
	if col > 0 && col <= len(row) {
		return row[col-1]
	}
	return ""
}

// Names lists the template's employees in row order.
func (l Layout) Names(rows [][]string) []string {
	idx := l.Index(rows)
	var names []string
	for i := range rows {
		name := strings.TrimSpace(cellAt(rows[i], l.nameCol))
		if name == "" {
			continue
		}
		if r, ok := idx.Row(name, ""); ok && r == i+1 {
			names = append(names, name)
		}
	}
	return names
}
