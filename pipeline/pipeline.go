/*
Package pipeline runs one payroll reconciliation from uploaded files to
filled spreadsheets.

STAGES (in order):
  1. Normalize   timesheet files → RawTimeEntry        (timesheet)
  2. Round       daily totals → DayRecord              (rounding)
  3. Flag        advisory anomalies per day            (anomaly)
  4. Match       source names → roster employees       (matcher)
  5. Allocate    weekly payroll/cash buckets           (allocation)
  6. Bonus/Loans cash adjustments                      (bonus, loans)
  7. Map/Write   cell mappings and workbooks           (sheet)

MODES:
  preview: every stage runs and the Summary is returned, nothing is written
  process: also returns the cell mappings and the filled workbooks

ERRORS:
  Format, validation and sanity errors abort the run and nothing is
  returned. Unmatched names and missing template rows never abort; they
  are listed in the Summary for review.

CONCURRENCY:
  A Runner holds only its settings snapshot. Every Run builds its own
  matcher, engine and ledger, so one Runner may serve parallel requests.
*/
package pipeline

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/allocation"
	"github.com/warp/payroll-engine/anomaly"
	"github.com/warp/payroll-engine/bonus"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/loans"
	"github.com/warp/payroll-engine/matcher"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/report"
	"github.com/warp/payroll-engine/rounding"
	"github.com/warp/payroll-engine/sheet"
	"github.com/warp/payroll-engine/timesheet"
)

// =============================================================================
// INPUT AND RESULT
// =============================================================================

// Mode selects how far a run goes.
type Mode string

const (
	ModePreview Mode = "preview"
	ModeProcess Mode = "process"
)

// Source is one uploaded file.
type Source struct {
	Name string
	Data []byte
}

// Input is everything one run reads. Templates and Layouts are optional per
// category; a missing template is generated from the layout and roster.
type Input struct {
	Time      []Source
	Roster    []payroll.Employee
	Bonus     *Source
	Loans     *Source
	Templates map[sheet.Category][]byte
	Layouts   map[sheet.Category]sheet.Layout
	Overrides payroll.OverrideSet
	Aliases   map[string]string
}

// Counts are the headline numbers of a run.
type Counts struct {
	Employees      int `json:"employees"`
	Days           int `json:"days"`
	CellsFilled    int `json:"cells_filled"`
	SickEntries    int `json:"sick_entries"`
	Anomalies      int `json:"anomalies"`
	Unmatched      int `json:"unmatched"`
	LoansProcessed int `json:"loans_processed"`
	LoansClosed    int `json:"loans_closed"`
}

// SourceSummary describes how one timesheet file was read.
type SourceSummary struct {
	Name    string          `json:"name"`
	Shape   timesheet.Shape `json:"shape"`
	Entries int             `json:"entries"`
}

// Payout is one employee's cash line after loans.
type Payout struct {
	Employee  string          `json:"employee"`
	Available decimal.Decimal `json:"available"`
	Loan      decimal.Decimal `json:"loan"`
	Net       decimal.Decimal `json:"net"`
}

// Summary is the reviewable outcome of a run.
type Summary struct {
	RunID          string                      `json:"run_id"`
	Mode           Mode                        `json:"mode"`
	Week           payroll.DateRange           `json:"week"`
	Counts         Counts                      `json:"counts"`
	Sources        []SourceSummary             `json:"sources"`
	Matches        []payroll.MatchResult       `json:"matches"`
	BonusMatches   []payroll.MatchResult       `json:"bonus_matches,omitempty"`
	LoanMatches    []payroll.MatchResult       `json:"loan_matches,omitempty"`
	Days           []payroll.DayRecord         `json:"days"`
	Anomalies      []payroll.Anomaly           `json:"anomalies"`
	Allocations    []payroll.WeeklyAllocation  `json:"allocations"`
	Bonuses        []payroll.BonusEntry        `json:"bonuses"`
	Loans          []payroll.LoanOutcome       `json:"loans"`
	Payouts        []Payout                    `json:"payouts"`
	Unmatched      []string                    `json:"unmatched"`
	BonusUnmatched []string                    `json:"bonus_unmatched,omitempty"`
	LoanUnmatched  []string                    `json:"loan_unmatched,omitempty"`
	LoanNotes      []string                    `json:"loan_notes,omitempty"`
	ClosedLoans    []payroll.LoanOutcome       `json:"closed_loans,omitempty"`
	Missing        map[sheet.Category][]string `json:"missing,omitempty"`
	Message        string                      `json:"message"`
}

// Output is one filled workbook.
type Output struct {
	Category sheet.Category `json:"category"`
	FileName string         `json:"file_name"`
	Data     []byte         `json:"-"`
}

// Result is returned by Run. Cells and Outputs are empty in preview mode.
type Result struct {
	Summary Summary         `json:"summary"`
	Cells   []sheet.Mapping `json:"cells,omitempty"`
	Outputs []Output        `json:"outputs,omitempty"`
}

// CategoryLoans labels the updated loans workbook.
const CategoryLoans sheet.Category = "loans"

// =============================================================================
// RUNNER
// =============================================================================

// Runner executes runs with a fixed settings snapshot.
type Runner struct {
	settings config.Settings
	logger   *zap.Logger
	newID    func() string
}

// New validates settings and returns a Runner.
func New(settings config.Settings, logger *zap.Logger) (*Runner, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{settings: settings, logger: logger, newID: uuid.NewString}, nil
}

// Settings returns the snapshot the runner uses.
func (r *Runner) Settings() config.Settings { return r.settings }

// Preview runs every stage and returns the summary only.
func (r *Runner) Preview(in Input) (*Result, error) { return r.Run(in, ModePreview) }

// Process runs every stage and returns cells and filled workbooks.
func (r *Runner) Process(in Input) (*Result, error) { return r.Run(in, ModeProcess) }

// run carries the state of one execution.
type run struct {
	*Runner
	in      Input
	mode    Mode
	log     *zap.Logger
	sum     Summary
	records []payroll.DayRecord
	totals  map[string]bonus.Totals
	ledger  loans.Result
	loanTab loans.Sheet
}

// Run executes the stages in order. Any fatal error returns (nil, err).
func (r *Runner) Run(in Input, mode Mode) (*Result, error) {
	id := r.newID()
	x := &run{
		Runner: r,
		in:     in,
		mode:   mode,
		log:    r.logger.With(zap.String("run_id", id), zap.String("mode", string(mode))),
		sum:    Summary{RunID: id, Mode: mode, Missing: map[sheet.Category][]string{}},
	}
	x.log.Info("run started", zap.Int("time_files", len(in.Time)), zap.Int("roster", len(in.Roster)))

	if len(in.Roster) == 0 {
		return nil, &payroll.ValidationError{Field: "roster", Reason: "no employees"}
	}
	if err := x.normalize(); err != nil {
		return nil, x.fail("normalize", err)
	}
	x.match()
	if err := x.allocate(); err != nil {
		return nil, x.fail("allocate", err)
	}
	if err := x.bonuses(); err != nil {
		return nil, x.fail("bonus", err)
	}
	if err := x.loans(); err != nil {
		return nil, x.fail("loans", err)
	}
	res, err := x.write()
	if err != nil {
		return nil, x.fail("write", err)
	}

	x.sum.Message = report.SecretaryMessage(report.Digest{
		Week:        x.sum.Week,
		Employees:   x.sum.Counts.Employees,
		CellsFilled: x.sum.Counts.CellsFilled,
		Anomalies:   x.sum.Anomalies,
		Unmatched:   x.allUnmatched(),
		LoanNotes:   x.sum.LoanNotes,
		Matches:     x.matchSets(),
	})
	res.Summary = x.sum
	x.log.Info("run finished",
		zap.Int("days", x.sum.Counts.Days),
		zap.Int("cells", x.sum.Counts.CellsFilled),
		zap.Int("anomalies", x.sum.Counts.Anomalies),
		zap.Int("unmatched", x.sum.Counts.Unmatched),
	)
	return res, nil
}

func (x *run) fail(stage string, err error) error {
	x.log.Warn("run failed", zap.String("stage", stage), zap.Error(err))
	return err
}

// =============================================================================
// STAGES 1-3: NORMALIZE, ROUND, FLAG
// =============================================================================

func (x *run) normalize() error {
	sickHours := x.settings.HourCaps.SickDayHours
	var entries []payroll.RawTimeEntry
	for _, src := range x.in.Time {
		got, shape, err := timesheet.ReadFile(src.Name, src.Data, x.settings.Input, sickHours)
		if err != nil {
			return err
		}
		x.sum.Sources = append(x.sum.Sources, SourceSummary{Name: src.Name, Shape: shape, Entries: len(got)})
		entries = append(entries, got...)
	}

	rounder := rounding.New(x.settings.Rounding)
	detector := anomaly.New(x.settings.Flagging, x.settings.HourCaps, rounder)
	for _, t := range timesheet.Aggregate(entries) {
		rec := payroll.DayRecord{
			SourceName:   t.SourceName,
			Date:         t.Date,
			RawHours:     t.Hours,
			RoundedHours: t.Hours,
			Sick:         t.Sick,
			Segments:     len(t.Stints),
		}
		if !t.Sick {
			rec.RoundedHours = rounder.Round(t.Hours)
		}
		rec.Anomalies = detector.Detect(rec)
		x.records = append(x.records, rec)
		x.sum.Week = x.sum.Week.Extend(t.Date)
	}
	return nil
}

// =============================================================================
// STAGE 4: MATCH
// =============================================================================

func (x *run) match() {
	m := matcher.New(x.settings.Matching.StrictScore, x.settings.Matching.FallbackScore).
		WithLogger(x.log).
		WithAliases(x.in.Aliases)

	names := make([]string, 0)
	seen := make(map[string]struct{})
	for _, rec := range x.records {
		if _, ok := seen[rec.SourceName]; !ok {
			seen[rec.SourceName] = struct{}{}
			names = append(names, rec.SourceName)
		}
	}
	results := m.Match(names, x.in.Roster)
	byName := make(map[string]payroll.MatchResult, len(results))
	for _, res := range results {
		byName[res.SourceName] = res
	}

	dates := map[string]payroll.Day{}
	employees := map[string]struct{}{}
	for i := range x.records {
		rec := &x.records[i]
		if res := byName[rec.SourceName]; res.Matched() {
			rec.Employee = x.in.Roster[res.RosterIndex]
			rec.Matched = true
			employees[rec.Employee.Name] = struct{}{}
		}
		for j := range rec.Anomalies {
			rec.Anomalies[j].Employee = rec.DisplayName()
		}
		x.sum.Anomalies = append(x.sum.Anomalies, rec.Anomalies...)
		dates[rec.Date.String()] = rec.Date
		if rec.Sick {
			x.sum.Counts.SickEntries++
		}
	}

	keys := make([]string, 0, len(dates))
	for k := range dates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	all := make([]payroll.Day, len(keys))
	for i, k := range keys {
		all[i] = dates[k]
	}
	x.sum.Anomalies = append(x.sum.Anomalies, anomaly.MissingDays(x.records, all)...)
	anomaly.Sort(x.sum.Anomalies)

	x.sum.Matches = matcher.SortForReview(results)
	x.sum.Unmatched = matcher.Unmatched(results)
	x.sum.Days = x.records
	x.sum.Counts.Days = len(x.records)
	x.sum.Counts.Employees = len(employees)
	x.sum.Counts.Anomalies = len(x.sum.Anomalies)
}

// =============================================================================
// STAGE 5: ALLOCATE
// =============================================================================

func (x *run) allocate() error {
	engine := allocation.New(x.settings.HourCaps, x.settings.EmployeeTypes, x.settings.Input.WeekStartWeekday())
	allocs, err := engine.AllocateAll(x.in.Roster, x.records, x.in.Overrides)
	if err != nil {
		return err
	}
	x.sum.Allocations = allocs
	return nil
}

// =============================================================================
// STAGE 6: BONUS AND LOANS
// =============================================================================

func readRows(src *Source) ([][]string, error) {
	it, err := timesheet.Open(src.Name, src.Data)
	if err != nil {
		return nil, err
	}
	return timesheet.ReadAll(it)
}

func (x *run) bonuses() error {
	x.totals = map[string]bonus.Totals{}
	if x.in.Bonus == nil {
		return nil
	}
	rows, err := readRows(x.in.Bonus)
	if err != nil {
		return err
	}
	s, err := bonus.ParseSheet(x.in.Bonus.Name, rows)
	if err != nil {
		return err
	}
	res := bonus.New(x.settings.Bonuses, x.settings.Matching, x.log).
		WithAliases(x.in.Aliases).
		Compute(s, x.in.Roster)
	x.sum.Bonuses = res.Entries
	x.sum.BonusMatches = res.Matches
	x.sum.BonusUnmatched = res.Unmatched
	x.totals = res.Totals
	return nil
}

func (x *run) loans() error {
	extras := make(map[string]decimal.Decimal, len(x.totals))
	for name, t := range x.totals {
		extras[name] = t.Sum()
	}
	available := loans.Available(x.in.Roster, x.sum.Allocations, extras)
	ledger := loans.New(x.settings.Loans, x.settings.Matching, x.log).WithAliases(x.in.Aliases)

	if x.in.Loans != nil && x.settings.Loans.Enabled {
		rows, err := readRows(x.in.Loans)
		if err != nil {
			return err
		}
		if x.loanTab, err = loans.ParseSheet(x.in.Loans.Name, rows); err != nil {
			return err
		}
		states, matches := ledger.Resolve(x.loanTab.Loans, x.in.Roster)
		x.sum.LoanMatches = matcher.SortForReview(matches)
		x.ledger = ledger.Apply(states, available)
		x.sum.Loans = x.ledger.Outcomes
		x.sum.LoanNotes = x.ledger.Notes
		x.sum.LoanUnmatched = x.ledger.Unmatched
		x.sum.ClosedLoans = x.ledger.Closed()
		x.sum.Counts.LoansProcessed = len(x.ledger.Outcomes)
		x.sum.Counts.LoansClosed = len(x.sum.ClosedLoans)
	}

	for _, e := range x.in.Roster {
		avail, ok := available[e.Name]
		if !ok {
			continue
		}
		loan := x.ledger.Deductions[e.Name]
		x.sum.Payouts = append(x.sum.Payouts, Payout{
			Employee:  e.Name,
			Available: avail,
			Loan:      loan,
			Net:       ledger.Payout(avail, loan),
		})
	}
	return nil
}

// matchSets groups the name matching of every uploaded document.
func (x *run) matchSets() []report.MatchSet {
	return []report.MatchSet{
		{Document: "timesheet", Matches: x.sum.Matches},
		{Document: "bonus", Matches: x.sum.BonusMatches},
		{Document: "loans", Matches: x.sum.LoanMatches},
	}
}

func (x *run) allUnmatched() []string {
	set := map[string]struct{}{}
	for _, list := range [][]string{x.sum.Unmatched, x.sum.BonusUnmatched, x.sum.LoanUnmatched} {
		for _, n := range list {
			set[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// STAGE 7: MAP AND WRITE
// =============================================================================

func (x *run) layout(c sheet.Category) (sheet.Layout, error) {
	if l, ok := x.in.Layouts[c]; ok {
		return l, nil
	}
	return sheet.Builtin(c)
}

func (x *run) open(c sheet.Category, l sheet.Layout) (*sheet.Writer, error) {
	if data, ok := x.in.Templates[c]; ok && len(data) > 0 {
		return sheet.Open(data, l.Sheet)
	}
	return sheet.Fresh(l, x.in.Roster)
}

// mapping builds the cells for one category from the run's results.
func (x *run) mapping(c sheet.Category, l sheet.Layout, idx sheet.RowIndex) sheet.Mapping {
	switch c {
	case sheet.CategoryWeekly:
		if window, older := sheet.LastSevenDays(x.records); older > 0 {
			x.log.Warn("weekly sheet holds the last seven days only",
				zap.String("from", window.From.String()),
				zap.String("to", window.To.String()),
				zap.Int("days_left_out", older))
		}
		return sheet.MapDays(l, idx, x.records)
	case sheet.CategoryCash:
		loan := map[string]decimal.Decimal{}
		net := map[string]decimal.Decimal{}
		for _, p := range x.sum.Payouts {
			net[p.Employee] = p.Net
			if p.Loan.IsPositive() {
				loan[p.Employee] = p.Loan
			}
		}
		return sheet.Merge(c,
			sheet.MapAllocations(l, idx, x.sum.Allocations),
			sheet.MapRates(l, idx, x.in.Roster),
			sheet.MapBonuses(l, idx, x.sum.Bonuses),
			sheet.MapAmounts(l, idx, sheet.FieldLoan, loan),
			sheet.MapAmounts(l, idx, sheet.FieldNet, net),
		)
	default:
		return sheet.MapAllocations(l, idx, x.sum.Allocations)
	}
}

func (x *run) write() (*Result, error) {
	res := &Result{}
	for _, c := range sheet.Categories {
		l, err := x.layout(c)
		if err != nil {
			return nil, err
		}
		w, err := x.open(c, l)
		if err != nil {
			return nil, err
		}
		out, m, err := x.fill(c, l, w)
		w.Close()
		if err != nil {
			return nil, err
		}
		x.sum.Counts.CellsFilled += len(m.Cells)
		if len(m.Missing) > 0 {
			x.sum.Missing[c] = m.Missing
		}
		if x.mode == ModeProcess {
			res.Cells = append(res.Cells, m)
			res.Outputs = append(res.Outputs, out)
		}
	}

	if x.in.Loans != nil && len(x.ledger.Outcomes) > 0 {
		out, m, err := x.writeLoans()
		if err != nil {
			return nil, err
		}
		if x.mode == ModeProcess && out != nil {
			res.Cells = append(res.Cells, m)
			res.Outputs = append(res.Outputs, *out)
		}
	}

	all := x.allUnmatched()
	x.sum.Counts.Unmatched = len(all)
	return res, nil
}

func (x *run) fill(c sheet.Category, l sheet.Layout, w *sheet.Writer) (Output, sheet.Mapping, error) {
	rows, err := w.Rows()
	if err != nil {
		return Output{}, sheet.Mapping{}, err
	}
	m := x.mapping(c, l, l.Index(rows))
	if x.mode != ModeProcess {
		return Output{}, m, nil
	}

	if err := w.Apply(m); err != nil {
		return Output{}, m, err
	}
	if c == sheet.CategoryWeekly {
		if err := x.auditTabs(w); err != nil {
			return Output{}, m, err
		}
	}
	data, err := w.Bytes()
	if err != nil {
		return Output{}, m, err
	}
	return Output{Category: c, FileName: sheet.FileName(x.prefix(c), x.stamp()), Data: data}, m, nil
}

func (x *run) auditTabs(w *sheet.Writer) error {
	tabs := []struct {
		name string
		data func() ([]byte, error)
	}{
		{"Review_Queue", func() ([]byte, error) { return report.ReviewCSV(x.sum.Anomalies, x.allUnmatched()) }},
		{"Name_Matching", func() ([]byte, error) { return report.MatchesCSV(x.matchSets()...) }},
		{"Daily_Hours_Long", func() ([]byte, error) { return report.DailyCSV(x.records) }},
	}
	for _, t := range tabs {
		header, rows, err := report.Table(t.data())
		if err != nil {
			return err
		}
		if err := w.AddTable(t.name, header, rows); err != nil {
			return err
		}
	}
	return nil
}

// writeLoans updates paid and balance columns of the uploaded loans
// workbook and moves closed loans to its HISTORY sheet. Only xlsx loan
// files can be written back.
func (x *run) writeLoans() (*Output, sheet.Mapping, error) {
	cols := sheet.LoanColumns{}
	if x.loanTab.Columns.Paid >= 0 {
		cols.Paid = x.loanTab.Columns.Paid + 1
	}
	if x.loanTab.Columns.Balance >= 0 {
		cols.Balance = x.loanTab.Columns.Balance + 1
	}
	m := sheet.MapLoans("", cols, x.ledger.Outcomes)
	m.Category = CategoryLoans
	if x.mode != ModeProcess || !strings.EqualFold(filepath.Ext(x.in.Loans.Name), ".xlsx") {
		return nil, m, nil
	}

	w, err := sheet.Open(x.in.Loans.Data, "")
	if err != nil {
		return nil, m, err
	}
	defer w.Close()
	if err := w.Apply(m); err != nil {
		return nil, m, err
	}

	if closed := x.ledger.Closed(); len(closed) > 0 {
		var rows [][]string
		width := 0
		for _, c := range []int{x.loanTab.Columns.Name, x.loanTab.Columns.Amount, x.loanTab.Columns.Payment,
			x.loanTab.Columns.Date, x.loanTab.Columns.Paid, x.loanTab.Columns.Balance} {
			if c+1 > width {
				width = c + 1
			}
		}
		for _, o := range closed {
			rows = append(rows, []string{
				o.Loan.SourceName,
				o.Loan.LoanAmount.StringFixed(2),
				o.Deduction.StringFixed(2),
				o.Loan.DateTaken,
				x.stamp(),
			})
			blank := make([]int, width)
			for i := range blank {
				blank[i] = i + 1
			}
			if err := w.ClearRow(o.Loan.Row, blank); err != nil {
				return nil, m, err
			}
		}
		header := []string{"Name", "Loan Amount", "Final Payment", "Date Taken", "Closed"}
		if err := w.AppendRows("HISTORY", header, rows); err != nil {
			return nil, m, err
		}
	}

	data, err := w.Bytes()
	if err != nil {
		return nil, m, err
	}
	return &Output{Category: CategoryLoans, FileName: sheet.FileName("Loans_Updated_", x.stamp()), Data: data}, m, nil
}

func (x *run) prefix(c sheet.Category) string {
	switch c {
	case sheet.CategoryWeekly:
		return x.settings.Output.WeeklyPrefix
	case sheet.CategoryCash:
		return x.settings.Output.CashPrefix
	default:
		return x.settings.Output.PayrollPrefix
	}
}

// stamp is the run's week end in the configured date format.
func (x *run) stamp() string {
	if x.sum.Week.IsZero() {
		return "undated"
	}
	return x.sum.Week.To.Format(x.settings.Output.DateFormat)
}
