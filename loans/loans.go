/*
loans.go - Weekly loan deductions

PURPOSE:
  Reads the open-loans sheet and decides how much of each loan is taken
  out of this week's cash payout. The ledger never edits history: each
  run produces LoanOutcome records (deduction, balance after, notes) and
  the persistence layer decides what to write back.

DEDUCTION RULE:
  1. due = min(payment_due, balance)
       payment larger than balance → note "capped to balance"
  2. prevent_negative: deduction = min(due, cash still available)
       short → note "only $X deducted, $Y rolled"
     otherwise:        deduction = due
  3. balance_after = balance - deduction
       reaches zero with move_paid_to_history → Closed

  Several loans of one person draw on the same available cash, in sheet
  order.

EXAMPLE:
  balance 50, payment 80, cash 60
    due 50 (capped), deduction 50, balance 0, closed
  balance 200, payment 80, cash 60
    due 80, deduction 60 (20 rolled), balance 140

SEE ALSO:
  - bonus/: bonus and reimbursement feed available cash
  - store/sqlite: loan_history for closed loans
*/
package loans

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/matcher"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// SHEET
// =============================================================================

// Columns holds the 0-based positions of the loan sheet fields. Optional
// fields are -1 when the sheet has no such column.
type Columns struct {
	Name    int `json:"name"`
	Amount  int `json:"amount"`
	Payment int `json:"payment"`
	Date    int `json:"date"`
	Paid    int `json:"paid"`
	Balance int `json:"balance"`
}

// Sheet is the parsed open-loans sheet.
type Sheet struct {
	Columns Columns
	Loans   []payroll.LoanState
}

// locateColumns finds fields in the header row by substring. Name, amount
// and payment fall back to the conventional A, B and C columns.
func locateColumns(header []string) Columns {
	c := Columns{Name: -1, Amount: -1, Payment: -1, Date: -1, Paid: -1, Balance: -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case h == "":
		case strings.Contains(h, "name") && c.Name < 0:
			c.Name = i
		case strings.Contains(h, "payment") && c.Payment < 0:
			c.Payment = i
		case strings.Contains(h, "paid") && c.Paid < 0:
			c.Paid = i
		case strings.Contains(h, "balance") && c.Balance < 0:
			c.Balance = i
		case strings.Contains(h, "amount") && c.Amount < 0:
			c.Amount = i
		case strings.Contains(h, "date") && c.Date < 0:
			c.Date = i
		}
	}
	if c.Name < 0 {
		c.Name = 0
	}
	if c.Amount < 0 {
		c.Amount = 1
	}
	if c.Payment < 0 {
		c.Payment = 2
	}
	return c
}

// ParseSheet reads the loans sheet. Row 1 is the header. Rows without a name
// or with a payment of zero or less are not active loans and are skipped.
func ParseSheet(source string, rows [][]string) (Sheet, error) {
	if len(rows) == 0 {
		return Sheet{}, &payroll.FormatError{Source: source, Reason: "loans sheet is empty"}
	}
	cols := locateColumns(rows[0])
	out := Sheet{Columns: cols}

	for i := 1; i < len(rows); i++ {
		r := rows[i]
		name := strings.TrimSpace(cell(r, cols.Name))
		if name == "" {
			continue
		}
		payment, err := amountAt(source, r, i, cols.Payment)
		if err != nil {
			return Sheet{}, err
		}
		if !payment.IsPositive() {
			continue
		}
		amount, err := amountAt(source, r, i, cols.Amount)
		if err != nil {
			return Sheet{}, err
		}
		paid, err := amountAt(source, r, i, cols.Paid)
		if err != nil {
			return Sheet{}, err
		}

		balance := amount.Sub(paid)
		if cols.Balance >= 0 && strings.TrimSpace(cell(r, cols.Balance)) != "" {
			if balance, err = amountAt(source, r, i, cols.Balance); err != nil {
				return Sheet{}, err
			}
		}
		if balance.IsNegative() {
			balance = decimal.Zero
		}

		out.Loans = append(out.Loans, payroll.LoanState{
			SourceName: name,
			LoanAmount: amount,
			TotalPaid:  paid,
			Balance:    balance,
			PaymentDue: payment,
			DateTaken:  strings.TrimSpace(cell(r, cols.Date)),
			Row:        i + 1,
		})
	}
	return out, nil
}

func amountAt(source string, row []string, r, c int) (decimal.Decimal, error) {
	if c < 0 {
		return decimal.Zero, nil
	}
	raw := cell(row, c)
	d, err := payroll.ParseAmount(raw)
	if err != nil {
		ref, _ := excelize.CoordinatesToCellName(c+1, r+1)
		return decimal.Zero, &payroll.ValidationError{Field: fmt.Sprintf("%s!%s", source, ref), Value: raw, Reason: err.Error()}
	}
	return d, nil
}

func cell(row []string, idx int) string {
	if idx >= 0 && idx < len(row) {
		return row[idx]
	}
	return ""
}

// =============================================================================
// LEDGER
// =============================================================================

// Result is the outcome of one deduction run.
type Result struct {
	Outcomes   []payroll.LoanOutcome      `json:"outcomes"`
	Deductions map[string]decimal.Decimal `json:"deductions"`
	Notes      []string                   `json:"notes"`
	Unmatched  []string                   `json:"unmatched"`
}

// Closed returns the outcomes that paid a loan off.
func (r Result) Closed() []payroll.LoanOutcome {
	var out []payroll.LoanOutcome
	for _, o := range r.Outcomes {
		if o.Closed {
			out = append(out, o)
		}
	}
	return out
}

// Ledger applies weekly loan payments against available cash.
type Ledger struct {
	settings config.LoanSettings
	matcher  *matcher.Matcher
	logger   *zap.Logger
}

// New builds a ledger. Loan names match with the time-sheet thresholds.
func New(loans config.LoanSettings, matching config.MatchingSettings, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		settings: loans,
		matcher:  matcher.New(matching.StrictScore, matching.FallbackScore).WithLogger(logger),
		logger:   logger,
	}
}

// WithAliases forwards operator aliases to the name matcher.
func (l *Ledger) WithAliases(aliases map[string]string) *Ledger {
	l.matcher = l.matcher.WithAliases(aliases)
	return l
}

// Resolve fills in the canonical employee of each loan. Loans whose name
// does not match keep an empty Employee.
func (l *Ledger) Resolve(states []payroll.LoanState, roster []payroll.Employee) ([]payroll.LoanState, []payroll.MatchResult) {
	names := make([]string, 0, len(states))
	for _, s := range states {
		names = append(names, s.SourceName)
	}
	matches := l.matcher.Match(names, roster)
	canon := make(map[string]string, len(matches))
	for _, m := range matches {
		if m.Matched() {
			canon[m.SourceName] = m.Canonical
		}
	}
	out := make([]payroll.LoanState, len(states))
	for i, s := range states {
		s.Employee = canon[s.SourceName]
		out[i] = s
	}
	return out, matches
}

// Apply computes this run's deductions. available maps canonical employee
// names to the cash they are owed before loans. A disabled ledger returns an
// empty result.
func (l *Ledger) Apply(states []payroll.LoanState, available map[string]decimal.Decimal) Result {
	res := Result{Deductions: make(map[string]decimal.Decimal)}
	if !l.settings.Enabled {
		return res
	}

	taken := make(map[string]decimal.Decimal)
	unmatched := make(map[string]struct{})
	for _, s := range states {
		o := payroll.LoanOutcome{Loan: s, Deduction: decimal.Zero, BalanceAfter: s.Balance}
		switch {
		case s.Employee == "":
			if _, dup := unmatched[s.SourceName]; !dup {
				unmatched[s.SourceName] = struct{}{}
				res.Unmatched = append(res.Unmatched, s.SourceName)
			}
		case l.settings.AutoDeduct:
			o = l.deduct(s, available[s.Employee], taken[s.Employee])
			taken[s.Employee] = taken[s.Employee].Add(o.Deduction)
		}
		res.Outcomes = append(res.Outcomes, o)
		res.Notes = append(res.Notes, o.Notes...)
	}
	for name, d := range taken {
		res.Deductions[name] = d
	}

	l.logger.Info("loan deductions applied",
		zap.Int("loans", len(res.Outcomes)),
		zap.Int("closed", len(res.Closed())),
		zap.Int("unmatched", len(res.Unmatched)),
	)
	return res
}

func (l *Ledger) deduct(s payroll.LoanState, available, alreadyTaken decimal.Decimal) payroll.LoanOutcome {
	o := payroll.LoanOutcome{Loan: s}
	who := s.Employee

	due := decimal.Min(s.PaymentDue, s.Balance)
	if s.PaymentDue.GreaterThan(s.Balance) {
		o.Notes = append(o.Notes, fmt.Sprintf("%s: capped to balance %s (intended %s)",
			who, payroll.Money(s.Balance), payroll.Money(s.PaymentDue)))
	}

	take := due
	if l.settings.PreventNegative {
		left := decimal.Max(decimal.Zero, decimal.Max(decimal.Zero, available).Sub(alreadyTaken))
		take = decimal.Min(due, left)
		if take.LessThan(due) {
			o.Notes = append(o.Notes, fmt.Sprintf("%s: only %s deducted, %s rolled",
				who, payroll.Money(take), payroll.Money(due.Sub(take))))
		}
	}

	o.Deduction = take
	o.BalanceAfter = s.Balance.Sub(take)
	o.Closed = l.settings.MovePaidToHistory && take.IsPositive() && !o.BalanceAfter.IsPositive()
	return o
}

// =============================================================================
// AVAILABLE CASH
// =============================================================================

// Available sums each employee's cash before loans: cash hours at the
// roster's cash rates plus any extra amounts (bonus, reimbursement).
func Available(roster []payroll.Employee, allocations []payroll.WeeklyAllocation, extras map[string]decimal.Decimal) map[string]decimal.Decimal {
	rates := make(map[string]payroll.CashRates, len(roster))
	for _, e := range roster {
		rates[e.Name] = e.Rates
	}
	out := make(map[string]decimal.Decimal)
	for _, a := range allocations {
		r := rates[a.Employee]
		pay := a.CashRegular.Mul(r.Regular).Add(a.CashOvertime.Mul(r.Overtime))
		out[a.Employee] = out[a.Employee].Add(pay)
	}
	for name, amt := range extras {
		out[name] = out[name].Add(amt)
	}
	for name, amt := range out {
		out[name] = payroll.Cents(amt)
	}
	return out
}

// Payout is the cash left after deductions. With prevent_negative the
// ledger never deducts more than is available, so the floor only guards
// against negative available cash.
func (l *Ledger) Payout(available, deducted decimal.Decimal) decimal.Decimal {
	net := available.Sub(deducted)
	if l.settings.PreventNegative && net.IsNegative() {
		return decimal.Zero
	}
	return net
}
