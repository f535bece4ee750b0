package sheet

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/payroll-engine/payroll"
)

// Cell is one value to write. Text wins over Number when set.
type Cell struct {
	Sheet  string          `json:"sheet,omitempty"`
	Row    int             `json:"row"`
	Col    int             `json:"col"`
	Number decimal.Decimal `json:"number"`
	Text   string          `json:"text,omitempty"`
}

// Ref returns the A1 reference of the cell.
func (c Cell) Ref() string {
	ref, _ := excelize.CoordinatesToCellName(c.Col, c.Row)
	return ref
}

// Mapping is the result of mapping values onto one template category.
type Mapping struct {
	Category Category `json:"category"`
	Cells    []Cell   `json:"cells"`
	Missing  []string `json:"missing"`
}

// Merge combines mappings of the same category. A later cell at the same
// address replaces an earlier one. Cells and Missing come back sorted.
func Merge(c Category, parts ...Mapping) Mapping {
	type addr struct {
		sheet    string
		row, col int
	}
	cells := make(map[addr]Cell)
	missing := make(map[string]struct{})
	for _, p := range parts {
		for _, cell := range p.Cells {
			cells[addr{cell.Sheet, cell.Row, cell.Col}] = cell
		}
		for _, m := range p.Missing {
			missing[m] = struct{}{}
		}
	}
	out := Mapping{Category: c, Cells: make([]Cell, 0, len(cells))}
	for _, cell := range cells {
		out.Cells = append(out.Cells, cell)
	}
	sortCells(out.Cells)
	for m := range missing {
		out.Missing = append(out.Missing, m)
	}
	sort.Strings(out.Missing)
	return out
}

func sortCells(cells []Cell) {
	sort.Slice(cells, func(i, j int) bool {
		a, b := cells[i], cells[j]
		if a.Sheet != b.Sheet {
			return a.Sheet < b.Sheet
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Col < b.Col
	})
}

// mapper accumulates cells for one layout and template.
type mapper struct {
	layout  Layout
	idx     RowIndex
	cells   map[string]Cell
	missing map[string]struct{}
}

func newMapper(l Layout, idx RowIndex) *mapper {
	return &mapper{layout: l, idx: idx, cells: make(map[string]Cell), missing: make(map[string]struct{})}
}

// add accumulates a numeric value into a bound field. Fields the layout does
// not bind are ignored.
func (m *mapper) add(name string, f Field, v decimal.Decimal) {
	b, ok := m.layout.Binding(f)
	if !ok {
		return
	}
	row, ok := m.idx.Row(name, b.Label)
	if !ok {
		m.miss(name, b.Label)
		return
	}
	col, _ := excelize.ColumnNameToNumber(b.Column)
	m.put(row, col, v, "")
}

func (m *mapper) put(row, col int, v decimal.Decimal, text string) {
	key := fmt.Sprintf("%d:%d", row, col)
	c, ok := m.cells[key]
	if !ok {
		c = Cell{Sheet: m.layout.Sheet, Row: row, Col: col}
	}
	if text != "" {
		c.Text = text
	} else {
		c.Number = c.Number.Add(v)
	}
	m.cells[key] = c
}

func (m *mapper) miss(name, label string) {
	if !m.idx.Has(name) {
		m.missing[name] = struct{}{}
		return
	}
	m.missing[fmt.Sprintf("%s [%s]", name, label)] = struct{}{}
}

func (m *mapper) done() Mapping {
	out := Mapping{Category: m.layout.Category, Cells: make([]Cell, 0, len(m.cells))}
	for _, c := range m.cells {
		out.Cells = append(out.Cells, c)
	}
	sortCells(out.Cells)
	for name := range m.missing {
		out.Missing = append(out.Missing, name)
	}
	sort.Strings(out.Missing)
	return out
}

// =============================================================================
// MAPPERS
// =============================================================================

// MapAllocations writes weekly allocation buckets. Several weeks of one
// employee add up in the same cells.
func MapAllocations(l Layout, idx RowIndex, allocs []payroll.WeeklyAllocation) Mapping {
	m := newMapper(l, idx)
	for _, a := range allocs {
		m.add(a.Employee, FieldRegular, a.Regular)
		m.add(a.Employee, FieldOvertime, a.Overtime)
		m.add(a.Employee, FieldSick, a.Sick)
		m.add(a.Employee, FieldCashRegular, a.CashRegular)
		m.add(a.Employee, FieldCashOvertime, a.CashOvertime)
	}
	return m.done()
}

// MapDays writes rounded hours per weekday. Sick days are written as
// "SICK". Unmatched records are skipped.
//
// A weekly sheet has one column per weekday, so only the seven days ending
// at the latest matched date are written; older days would land on the same
// columns. LastSevenDays tells how many records were left out.
func MapDays(l Layout, idx RowIndex, records []payroll.DayRecord) Mapping {
	m := newMapper(l, idx)
	window, _ := LastSevenDays(records)
	for _, r := range records {
		if !r.Matched || r.Date.Before(window.From) {
			continue
		}
		row, ok := idx.Row(r.Employee.Name, "")
		if !ok {
			m.miss(r.Employee.Name, "")
			continue
		}
		if col, ok := l.dayCols[strings.ToLower(r.Date.Weekday().String())]; ok {
			if r.Sick {
				m.put(row, col, decimal.Zero, "SICK")
			} else {
				m.put(row, col, r.RoundedHours, "")
			}
		}
		if !r.Sick {
			m.add(r.Employee.Name, FieldTotal, r.RoundedHours)
		}
	}
	return m.done()
}

// LastSevenDays returns the seven day window ending at the latest matched
// record and the number of matched records before it.
func LastSevenDays(records []payroll.DayRecord) (payroll.DateRange, int) {
	var last payroll.Day
	for _, r := range records {
		if r.Matched && (last.IsZero() || r.Date.After(last)) {
			last = r.Date
		}
	}
	if last.IsZero() {
		return payroll.DateRange{}, 0
	}
	window := payroll.DateRange{From: last.AddDays(-6), To: last}
	older := 0
	for _, r := range records {
		if r.Matched && r.Date.Before(window.From) {
			older++
		}
	}
	return window, older
}

// MapBonuses writes bonus and reimbursement totals per employee.
func MapBonuses(l Layout, idx RowIndex, entries []payroll.BonusEntry) Mapping {
	m := newMapper(l, idx)
	for _, e := range entries {
		m.add(e.Employee, FieldBonus, e.Amount)
		m.add(e.Employee, FieldReimbursement, e.Reimbursement)
	}
	return m.done()
}

// MapAmounts writes one amount per employee into a bound field, in name
// order.
func MapAmounts(l Layout, idx RowIndex, f Field, amounts map[string]decimal.Decimal) Mapping {
	m := newMapper(l, idx)
	names := make([]string, 0, len(amounts))
	for n := range amounts {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		m.add(n, f, amounts[n])
	}
	return m.done()
}

// MapRates writes each employee's cash rates.
func MapRates(l Layout, idx RowIndex, roster []payroll.Employee) Mapping {
	m := newMapper(l, idx)
	for _, e := range roster {
		if e.Rates.Regular.IsPositive() {
			m.add(e.Name, FieldRateRegular, e.Rates.Regular)
		}
		if e.Rates.Overtime.IsPositive() {
			m.add(e.Name, FieldRateOvertime, e.Rates.Overtime)
		}
	}
	return m.done()
}

// LoanColumns are the 1-based loan sheet columns updated after deductions.
type LoanColumns struct {
	Paid    int
	Balance int
}

// MapLoans updates total paid and balance on the loans sheet for every loan
// that had a deduction.
func MapLoans(sheet string, cols LoanColumns, outcomes []payroll.LoanOutcome) Mapping {
	var cells []Cell
	for _, o := range outcomes {
		if !o.Deduction.IsPositive() {
			continue
		}
		if cols.Paid > 0 {
			cells = append(cells, Cell{Sheet: sheet, Row: o.Loan.Row, Col: cols.Paid, Number: payroll.Cents(o.TotalPaidAfter())})
		}
		if cols.Balance > 0 {
			cells = append(cells, Cell{Sheet: sheet, Row: o.Loan.Row, Col: cols.Balance, Number: payroll.Cents(o.BalanceAfter)})
		}
	}
	sortCells(cells)
	return Mapping{Category: "loans", Cells: cells}
}
