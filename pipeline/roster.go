package pipeline

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/timesheet"
)

// ReadRoster loads employees from a roster file (xlsx, xls or csv). Row 1 is
// the header; columns are found by name: name, type, position, rate and
// ot rate. Only the name column is required.
func ReadRoster(name string, data []byte) ([]payroll.Employee, error) {
	it, err := timesheet.Open(name, data)
	if err != nil {
		return nil, err
	}
	rows, err := timesheet.ReadAll(it)
	if err != nil {
		return nil, err
	}
	return ParseRoster(name, rows)
}

type rosterColumns struct {
	name, typ, position, rate, otRate int
}

func locateRosterColumns(header []string) rosterColumns {
	c := rosterColumns{name: -1, typ: -1, position: -1, rate: -1, otRate: -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case h == "":
		case strings.Contains(h, "name") && c.name < 0:
			c.name = i
		case (strings.Contains(h, "ot") || strings.Contains(h, "overtime")) && strings.Contains(h, "rate") && c.otRate < 0:
			c.otRate = i
		case strings.Contains(h, "rate") && c.rate < 0:
			c.rate = i
		case (strings.Contains(h, "type") || strings.Contains(h, "category")) && c.typ < 0:
			c.typ = i
		case (strings.Contains(h, "position") || strings.Contains(h, "role")) && c.position < 0:
			c.position = i
		}
	}
	return c
}

// ParseRoster reads roster rows. A blank type is allowed and only fails the
// run if that employee has hours to allocate.
func ParseRoster(source string, rows [][]string) ([]payroll.Employee, error) {
	if len(rows) == 0 {
		return nil, &payroll.FormatError{Source: source, Reason: "roster is empty"}
	}
	cols := locateRosterColumns(rows[0])
	if cols.name < 0 {
		return nil, &payroll.FormatError{Source: source, Row: 1, Reason: "no name column in header"}
	}

	seen := make(map[string]int)
	var out []payroll.Employee
	for i := 1; i < len(rows); i++ {
		r := rows[i]
		name := strings.Join(strings.Fields(at(r, cols.name)), " ")
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if first, dup := seen[key]; dup {
			return nil, &payroll.ValidationError{Field: cellRef(source, i, cols.name), Value: name,
				Reason: fmt.Sprintf("duplicate of row %d", first)}
		}
		seen[key] = i + 1

		e := payroll.Employee{Name: name, Position: strings.TrimSpace(at(r, cols.position))}
		if raw := strings.TrimSpace(at(r, cols.typ)); raw != "" {
			t, err := payroll.ParseEmployeeType(raw)
			if err != nil {
				return nil, &payroll.ValidationError{Field: cellRef(source, i, cols.typ), Value: raw, Reason: "employee type must be one of A, B, C"}
			}
			e.Type = t
		}
		var err error
		if e.Rates.Regular, err = rate(source, r, i, cols.rate); err != nil {
			return nil, err
		}
		if e.Rates.Overtime, err = rate(source, r, i, cols.otRate); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func rate(source string, row []string, r, c int) (d decimal.Decimal, err error) {
	raw := at(row, c)
	d, err = payroll.ParseAmount(raw)
	if err != nil {
		return d, &payroll.ValidationError{Field: cellRef(source, r, c), Value: raw, Reason: err.Error()}
	}
	if d.IsNegative() {
		return d, &payroll.ValidationError{Field: cellRef(source, r, c), Value: raw, Reason: "must not be negative"}
	}
	return d, nil
}

func at(row []string, idx int) string {
	if idx >= 0 && idx < len(row) {
		return row[idx]
	}
	return ""
}

func cellRef(source string, r, c int) string {
	ref, _ := excelize.CoordinatesToCellName(c+1, r+1)
	return source + "!" + ref
}
