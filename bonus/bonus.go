/*
bonus.go - Yardage bonuses and reimbursements

PURPOSE:
  Turns the weekly bonus sheet into per-employee bonus amounts and
  reimbursement totals. The sheet carries two yardage figures for the
  whole crew and one row per worker:

      A          B               C          D
    1 (title)
    2 Yards      1200
    3 Premium    300
    4 Name       Reimbursement   Position   Uploads
    5 Ann Lee    12.50           Foreman    3+4
    6 Bo Diaz                    3x

POSITION CODES:
  foreman   total_yards / num_foremen × clamp(uploads)/uploads_max × standard
  3x        premium_yards × triple_multiplier
  0.5       total_yards × half_multiplier
  1x        total_yards × standard_multiplier
  other     no bonus (reimbursement still paid)

  total_yards = regular + premium. Amounts are rounded to cents.

SEE ALSO:
  - loans/: consumes the totals as part of available cash
  - matcher/: resolves sheet names against the roster
*/
package bonus

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/matcher"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// POSITION CODES
// =============================================================================

// Kind is the bonus formula a position code selects.
type Kind string

const (
	KindNone     Kind = ""
	KindForeman  Kind = "foreman"
	KindTriple   Kind = "triple"
	KindHalf     Kind = "half"
	KindStandard Kind = "standard"
)

// Classify maps a free-text position to its bonus formula. Checks run in a
// fixed order so "Foreman 1x" is still a foreman.
func Classify(position string) Kind {
	p := strings.ToLower(strings.ReplaceAll(position, " ", ""))
	switch {
	case strings.Contains(p, "foreman"):
		return KindForeman
	case strings.Contains(p, "3x"):
		return KindTriple
	case strings.Contains(p, "0.5"):
		return KindHalf
	case strings.Contains(p, "1x"):
		return KindStandard
	default:
		return KindNone
	}
}

// =============================================================================
// SHEET
// =============================================================================

// Row is one worker line of the bonus sheet.
type Row struct {
	Line          int // 1-based sheet row
	Name          string
	Reimbursement decimal.Decimal
	Position      string
	Uploads       decimal.Decimal // summed, not yet clamped
}

// Sheet is the parsed bonus sheet.
type Sheet struct {
	RegularYards decimal.Decimal
	PremiumYards decimal.Decimal
	Rows         []Row
}

// TotalYards is regular plus premium yardage.
func (s Sheet) TotalYards() decimal.Decimal {
	return s.RegularYards.Add(s.PremiumYards)
}

// Foremen counts rows whose position is a foreman code.
func (s Sheet) Foremen() int {
	n := 0
	for _, r := range s.Rows {
		if Classify(r.Position) == KindForeman {
			n++
		}
	}
	return n
}

const (
	colName = iota
	colReimbursement
	colPosition
	colUploads
)

var uploadsSep = regexp.MustCompile(`\s*[+,]\s*`)

// ParseSheet reads the raw rows of the bonus sheet. source names the file in
// error messages.
func ParseSheet(source string, rows [][]string) (Sheet, error) {
	var s Sheet
	var err error
	if s.RegularYards, err = amountAt(source, rows, 1, 1); err != nil {
		return Sheet{}, err
	}
	if s.PremiumYards, err = amountAt(source, rows, 2, 1); err != nil {
		return Sheet{}, err
	}

	header := -1
	for i, r := range rows {
		if len(r) > 0 && strings.EqualFold(strings.TrimSpace(r[colName]), "name") {
			header = i
			break
		}
	}
	if header < 0 {
		return Sheet{}, &payroll.FormatError{Source: source, Reason: `no header row with "Name" in column A`}
	}

	for i := header + 1; i < len(rows); i++ {
		r := rows[i]
		name := strings.TrimSpace(cell(r, colName))
		if name == "" || strings.EqualFold(name, "total") {
			continue
		}
		row := Row{Line: i + 1, Name: name, Position: strings.TrimSpace(cell(r, colPosition))}
		if row.Reimbursement, err = amountAt(source, rows, i, colReimbursement); err != nil {
			return Sheet{}, err
		}
		if row.Uploads, err = uploadsAt(source, rows, i); err != nil {
			return Sheet{}, err
		}
		s.Rows = append(s.Rows, row)
	}
	return s, nil
}

func amountAt(source string, rows [][]string, r, c int) (decimal.Decimal, error) {
	var raw string
	if r < len(rows) {
		raw = cell(rows[r], c)
	}
	d, err := payroll.ParseAmount(raw)
	if err != nil {
		return decimal.Zero, invalidCell(source, r, c, raw, err.Error())
	}
	if d.IsNegative() {
		return decimal.Zero, invalidCell(source, r, c, raw, "must not be negative")
	}
	return d, nil
}

// uploadsAt accepts a number or several numbers joined by "+" or ",".
func uploadsAt(source string, rows [][]string, r int) (decimal.Decimal, error) {
	raw := strings.TrimSpace(cell(rows[r], colUploads))
	if raw == "" {
		return decimal.Zero, nil
	}
	sum := decimal.Zero
	for _, part := range uploadsSep.Split(raw, -1) {
		if part == "" {
			continue
		}
		d, err := decimal.NewFromString(part)
		if err != nil {
			return decimal.Zero, invalidCell(source, r, colUploads, raw, "uploads must be numbers joined by + or ,")
		}
		if d.IsNegative() {
			return decimal.Zero, invalidCell(source, r, colUploads, raw, "must not be negative")
		}
		sum = sum.Add(d)
	}
	return sum, nil
}

func invalidCell(source string, r, c int, raw, reason string) error {
	ref, _ := excelize.CoordinatesToCellName(c+1, r+1)
	return &payroll.ValidationError{Field: fmt.Sprintf("%s!%s", source, ref), Value: raw, Reason: reason}
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Totals is what one employee receives from the bonus sheet.
type Totals struct {
	Bonus         decimal.Decimal `json:"bonus"`
	Reimbursement decimal.Decimal `json:"reimbursement"`
}

// Sum is bonus plus reimbursement.
func (t Totals) Sum() decimal.Decimal {
	return t.Bonus.Add(t.Reimbursement)
}

// Result is the outcome of Compute.
type Result struct {
	Entries   []payroll.BonusEntry  `json:"entries"`
	Matches   []payroll.MatchResult `json:"matches"`
	Unmatched []string              `json:"unmatched"`
	Totals    map[string]Totals     `json:"totals"`
}

// Calculator prices bonus rows.
type Calculator struct {
	settings config.BonusSettings
	matcher  *matcher.Matcher
	logger   *zap.Logger
}

// New builds a calculator. Bonus names match against bonus_match_score, with
// the regular fallback threshold behind it.
func New(bonuses config.BonusSettings, matching config.MatchingSettings, logger *zap.Logger) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{
		settings: bonuses,
		matcher:  matcher.New(matching.BonusMatchScore, matching.FallbackScore).WithLogger(logger),
		logger:   logger,
	}
}

// WithAliases forwards operator aliases to the name matcher.
func (c *Calculator) WithAliases(aliases map[string]string) *Calculator {
	c.matcher = c.matcher.WithAliases(aliases)
	return c
}

// Amount prices one row. The multiplier reported is the configured factor
// for the row's kind.
func (c *Calculator) Amount(s Sheet, r Row) (decimal.Decimal, decimal.Decimal) {
	switch Classify(r.Position) {
	case KindForeman:
		n := s.Foremen()
		if !c.settings.ForemanEnabled || n == 0 || c.settings.UploadsMaxScore <= 0 {
			return decimal.Zero, decimal.Zero
		}
		maxScore := decimal.NewFromInt(int64(c.settings.UploadsMaxScore))
		uploads := decimal.Min(r.Uploads, maxScore)
		mult := c.settings.StandardMultiplier
		base := s.TotalYards().Div(decimal.NewFromInt(int64(n))).Mul(uploads).Div(maxScore)
		return payroll.Cents(base.Mul(mult)), mult
	case KindTriple:
		mult := c.settings.TripleMultiplier
		return payroll.Cents(s.PremiumYards.Mul(mult)), mult
	case KindHalf:
		mult := c.settings.HalfMultiplier
		return payroll.Cents(s.TotalYards().Mul(mult)), mult
	case KindStandard:
		mult := c.settings.StandardMultiplier
		return payroll.Cents(s.TotalYards().Mul(mult)), mult
	}
	return decimal.Zero, decimal.Zero
}

// Compute matches sheet names to the roster and prices every matched row.
// Entries come back in roster order, then sheet order.
func (c *Calculator) Compute(s Sheet, roster []payroll.Employee) Result {
	names := make([]string, 0, len(s.Rows))
	for _, r := range s.Rows {
		names = append(names, r.Name)
	}
	matches := c.matcher.Match(names, roster)
	byName := make(map[string]payroll.MatchResult, len(matches))
	for _, m := range matches {
		byName[m.SourceName] = m
	}

	res := Result{
		Matches:   matcher.SortForReview(matches),
		Unmatched: matcher.Unmatched(matches),
		Totals:    make(map[string]Totals),
	}

	type ranked struct {
		entry payroll.BonusEntry
		rank  int
		line  int
	}
	var rows []ranked
	for _, r := range s.Rows {
		m, ok := byName[r.Name]
		if !ok || !m.Matched() {
			continue
		}
		amount, mult := c.Amount(s, r)
		e := payroll.BonusEntry{
			Employee:      m.Canonical,
			SourceName:    r.Name,
			Position:      r.Position,
			Uploads:       r.Uploads,
			Multiplier:    mult,
			Amount:        amount,
			Reimbursement: payroll.Cents(r.Reimbursement),
		}
		rows = append(rows, ranked{entry: e, rank: m.RosterIndex, line: r.Line})

		t := res.Totals[m.Canonical]
		t.Bonus = t.Bonus.Add(e.Amount)
		t.Reimbursement = t.Reimbursement.Add(e.Reimbursement)
		res.Totals[m.Canonical] = t
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].rank != rows[j].rank {
			return rows[i].rank < rows[j].rank
		}
		return rows[i].line < rows[j].line
	})
	res.Entries = make([]payroll.BonusEntry, len(rows))
	for i, r := range rows {
		res.Entries[i] = r.entry
	}

	if len(res.Unmatched) > 0 {
		c.logger.Warn("unmatched bonus names", zap.Strings("names", res.Unmatched))
	}
	return res
}
