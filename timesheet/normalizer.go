/*
Package timesheet turns time-tracking exports into RawTimeEntry values.

PURPOSE:
  Time data arrives in three layouts. The normalizer recognizes the layout
  from the first rows of the sheet and then streams entries row by row, so
  arbitrarily large sheets are never loaded whole (legacy .xls excepted).

SHAPES:
  long   one row per employee per date: Employee | Date | Hours
  wide   one row per employee, one column per weekday (Mon..Sun), anchored
         by a "Week of" line above the header or by input.week_start
  tar    Time Activity Report: "Timecard Date: m/d/yyyy" block headers,
         employee in column A and stint hours in column F

  Anything else is a FormatError. Cells that cannot be read are FormatErrors
  naming the cell (e.g. "hours.xlsx!C7"). Blank and zero hours are skipped.

SEE ALSO:
  - rows.go: xlsx/xls/csv row iterators
  - cells.go: hours and date parsing
  - aggregate.go: per-day totals
*/
package timesheet

import (
	"iter"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/payroll"
)

// detectWindow is how many leading rows are inspected to recognize a shape.
const detectWindow = 25

// Shape is a recognized sheet layout.
type Shape string

const (
	ShapeLong Shape = "long"
	ShapeWide Shape = "wide"
	ShapeTAR  Shape = "tar"
)

var (
	timecardRe = regexp.MustCompile(`(?i)timecard date:\s*(\d{1,2}/\d{1,2}/\d{4})`)
	weekOfRe   = regexp.MustCompile(`(?i)week\s*of\s*:?\s*(.*)$`)

	employeeHeaders = []string{"employee", "employee name", "employee name:", "name", "employee_name"}
	dateHeaders     = []string{"date", "work date", "day"}
	hoursHeaders    = []string{"hours", "total hours", "total", "hrs"}

	weekdayHeaders = map[string]time.Weekday{
		"mon": time.Monday, "monday": time.Monday,
		"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
		"wed": time.Wednesday, "wednesday": time.Wednesday,
		"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
		"fri": time.Friday, "friday": time.Friday,
		"sat": time.Saturday, "saturday": time.Saturday,
		"sun": time.Sunday, "sunday": time.Sunday,
	}
)

// TAR column positions.
const (
	tarNameCol  = 0
	tarHoursCol = 5
)

// Normalizer reads one source file.
type Normalizer struct {
	Source       string
	DateOrder    config.DateOrder
	SickDayHours decimal.Decimal

	weekAnchor    payroll.Day
	hasWeekAnchor bool
	shape         Shape
}

// New returns a normalizer for the file called source.
func New(source string, in config.InputSettings, sickDayHours decimal.Decimal) *Normalizer {
	n := &Normalizer{Source: source, DateOrder: in.DateOrder, SickDayHours: sickDayHours}
	n.weekAnchor, n.hasWeekAnchor = in.WeekAnchor()
	return n
}

// Shape returns the layout detected by the last call to Entries.
func (n *Normalizer) Shape() Shape { return n.shape }

type numberedRow struct {
	n     int
	cells []string
}

// rowParser consumes rows after detection. begin is the index within the
// detection window of the first row to parse.
type rowParser interface {
	begin() int
	parse(r numberedRow) ([]payroll.RawTimeEntry, error)
	finish(emitted int) error
}

// Entries streams the entries of rows. The sequence stops at the first
// error, which is yielded with a zero entry. rows is closed when iteration
// ends.
func (n *Normalizer) Entries(rows RowIterator) iter.Seq2[payroll.RawTimeEntry, error] {
	return func(yield func(payroll.RawTimeEntry, error) bool) {
		defer rows.Close()
		fail := func(err error) { yield(payroll.RawTimeEntry{}, err) }

		var head []numberedRow
		for len(head) < detectWindow && rows.Next() {
			head = append(head, numberedRow{n: rows.Index(), cells: rows.Row()})
		}
		if err := rows.Err(); err != nil {
			fail(n.fileError("cannot read rows: " + err.Error()))
			return
		}

		p, err := n.detect(head)
		if err != nil {
			fail(err)
			return
		}

		emitted := 0
		emit := func(r numberedRow) bool {
			entries, err := p.parse(r)
			if err != nil {
				fail(err)
				return false
			}
			for _, e := range entries {
				emitted++
				if !yield(e, nil) {
					return false
				}
			}
			return true
		}

		for _, r := range head[p.begin():] {
			if !emit(r) {
				return
			}
		}
		for rows.Next() {
			if !emit(numberedRow{n: rows.Index(), cells: rows.Row()}) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			fail(n.fileError("cannot read rows: " + err.Error()))
			return
		}
		if err := p.finish(emitted); err != nil {
			fail(err)
		}
	}
}

// Collect drains Entries into a slice.
func (n *Normalizer) Collect(rows RowIterator) ([]payroll.RawTimeEntry, error) {
	var out []payroll.RawTimeEntry
	for e, err := range n.Entries(rows) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// ReadFile opens and normalizes one uploaded file.
func ReadFile(name string, data []byte, in config.InputSettings, sickDayHours decimal.Decimal) ([]payroll.RawTimeEntry, Shape, error) {
	rows, err := Open(name, data)
	if err != nil {
		return nil, "", err
	}
	n := New(name, in, sickDayHours)
	entries, err := n.Collect(rows)
	return entries, n.Shape(), err
}

func (n *Normalizer) fileError(reason string) error {
	return &payroll.FormatError{Source: n.Source, Reason: reason}
}

func (n *Normalizer) cellError(row, col int, value, reason string) error {
	return &payroll.FormatError{Source: n.Source, Row: row, Column: columnName(col), Value: value, Reason: reason}
}

// =============================================================================
// DETECTION
// =============================================================================

func (n *Normalizer) detect(head []numberedRow) (rowParser, error) {
	if len(head) == 0 {
		return nil, n.fileError("sheet is empty")
	}

	for _, r := range head {
		for _, c := range r.cells {
			if timecardRe.MatchString(c) {
				n.shape = ShapeTAR
				return &tarParser{n: n}, nil
			}
		}
	}

	for i, r := range head {
		nameCol, dateCol, hoursCol := -1, -1, -1
		days := map[int]time.Weekday{}
		for j, c := range r.cells {
			h := normalizeHeader(c)
			switch {
			case nameCol < 0 && contains(employeeHeaders, h):
				nameCol = j
			case dateCol < 0 && contains(dateHeaders, h):
				dateCol = j
			case hoursCol < 0 && contains(hoursHeaders, h):
				hoursCol = j
			default:
				if wd, ok := weekdayHeader(h); ok {
					days[j] = wd
				}
			}
		}
		if nameCol < 0 {
			continue
		}
		if dateCol >= 0 && hoursCol >= 0 {
			n.shape = ShapeLong
			return &longParser{n: n, start: i + 1, nameCol: nameCol, dateCol: dateCol, hoursCol: hoursCol}, nil
		}
		if len(days) > 0 {
			anchor, err := n.wideAnchor(head[:i])
			if err != nil {
				return nil, err
			}
			dates := make(map[int]payroll.Day, len(days))
			for col, wd := range days {
				offset := (int(wd) - int(anchor.Weekday()) + 7) % 7
				dates[col] = anchor.AddDays(offset)
			}
			n.shape = ShapeWide
			return &wideParser{n: n, start: i + 1, nameCol: nameCol, dates: dates, cols: sortedCols(days)}, nil
		}
	}
	return nil, n.fileError("unrecognized layout: need an Employee column with Date and Hours columns, weekday columns, or Timecard Date blocks")
}

// weekdayHeader recognizes "Mon", "Monday", "Mon 03/10" and similar.
func weekdayHeader(h string) (time.Weekday, bool) {
	word := strings.Trim(strings.SplitN(h, " ", 2)[0], ".:")
	wd, ok := weekdayHeaders[word]
	return wd, ok
}

// wideAnchor finds the first date of the week for a wide sheet.
func (n *Normalizer) wideAnchor(above []numberedRow) (payroll.Day, error) {
	for _, r := range above {
		for j, c := range r.cells {
			m := weekOfRe.FindStringSubmatch(strings.TrimSpace(c))
			if m == nil {
				continue
			}
			text := strings.TrimSpace(m[1])
			if text == "" {
				text = cell(r.cells, j+1)
			}
			first := strings.TrimSpace(strings.SplitN(text, " - ", 2)[0])
			first = strings.TrimSpace(strings.SplitN(first, " to ", 2)[0])
			d, err := parseDate(first, n.DateOrder)
			if err != nil {
				return payroll.Day{}, n.cellError(r.n, j, c, "cannot read week start: "+err.Error())
			}
			return d, nil
		}
	}
	if n.hasWeekAnchor {
		return n.weekAnchor, nil
	}
	return payroll.Day{}, n.fileError(`weekday columns found but no "Week of" line above the header and no input.week_start configured`)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedCols(days map[int]time.Weekday) []int {
	cols := make([]int, 0, len(days))
	for c := range days {
		cols = append(cols, c)
	}
	sort.Ints(cols)
	return cols
}

// =============================================================================
// LONG
// =============================================================================

type longParser struct {
	n                          *Normalizer
	start                      int
	nameCol, dateCol, hoursCol int
}

func (p *longParser) begin() int { return p.start }

func (p *longParser) parse(r numberedRow) ([]payroll.RawTimeEntry, error) {
	name := cell(r.cells, p.nameCol)
	if name == "" || isTotalRow(name) {
		return nil, nil
	}
	raw := cell(r.cells, p.hoursCol)
	hc, err := parseHours(raw)
	if err != nil {
		return nil, p.n.cellError(r.n, p.hoursCol, raw, err.Error())
	}
	if hc.empty {
		return nil, nil
	}
	rawDate := cell(r.cells, p.dateCol)
	date, err := parseDate(rawDate, p.n.DateOrder)
	if err != nil {
		return nil, p.n.cellError(r.n, p.dateCol, rawDate, err.Error())
	}
	return []payroll.RawTimeEntry{p.n.entry(name, date, hc, r.n)}, nil
}

func (p *longParser) finish(int) error { return nil }

// =============================================================================
// WIDE
// =============================================================================

type wideParser struct {
	n       *Normalizer
	start   int
	nameCol int
	dates   map[int]payroll.Day
	cols    []int
}

func (p *wideParser) begin() int { return p.start }

func (p *wideParser) parse(r numberedRow) ([]payroll.RawTimeEntry, error) {
	name := cell(r.cells, p.nameCol)
	if name == "" || isTotalRow(name) {
		return nil, nil
	}
	var out []payroll.RawTimeEntry
	for _, col := range p.cols {
		raw := cell(r.cells, col)
		hc, err := parseHours(raw)
		if err != nil {
			return nil, p.n.cellError(r.n, col, raw, err.Error())
		}
		if hc.empty {
			continue
		}
		out = append(out, p.n.entry(name, p.dates[col], hc, r.n))
	}
	return out, nil
}

func (p *wideParser) finish(int) error { return nil }

// =============================================================================
// TIME ACTIVITY REPORT
// =============================================================================

type tarParser struct {
	n       *Normalizer
	current payroll.Day
	dated   bool
}

func (p *tarParser) begin() int { return 0 }

func (p *tarParser) parse(r numberedRow) ([]payroll.RawTimeEntry, error) {
	for j, c := range r.cells {
		if m := timecardRe.FindStringSubmatch(c); m != nil {
			d, err := parseDate(m[1], config.DateOrderMDY)
			if err != nil {
				return nil, p.n.cellError(r.n, j, c, err.Error())
			}
			p.current, p.dated = d, true
			return nil, nil
		}
	}
	if !p.dated {
		return nil, nil
	}

	name := cell(r.cells, tarNameCol)
	low := strings.ToLower(name)
	if name == "" || low == "employee" || low == "nan" || isTotalRow(name) {
		return nil, nil
	}
	raw := cell(r.cells, tarHoursCol)
	hc, err := parseHours(raw)
	if err != nil {
		return nil, p.n.cellError(r.n, tarHoursCol, raw, err.Error())
	}
	if hc.empty {
		return nil, nil
	}
	return []payroll.RawTimeEntry{p.n.entry(name, p.current, hc, r.n)}, nil
}

func (p *tarParser) finish(emitted int) error {
	if emitted == 0 {
		return p.n.fileError("parsed zero rows from Time Activity Report; expected employee in column A and hours in column F")
	}
	return nil
}

func (n *Normalizer) entry(name string, date payroll.Day, hc hoursCell, row int) payroll.RawTimeEntry {
	e := payroll.RawTimeEntry{
		Source:     n.Source,
		SourceName: strings.Join(strings.Fields(name), " "),
		Date:       date,
		Hours:      hc.hours,
		Row:        row,
	}
	if hc.sick {
		e.Sick = true
		e.Hours = n.SickDayHours
	}
	return e
}
