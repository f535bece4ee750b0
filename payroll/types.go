/*
Package payroll holds the domain model shared by every stage of a payroll run.

PURPOSE:
  A weekly run turns raw timesheets into filled payroll, cash and weekly
  workbooks. Each stage (normalize, round, flag, match, allocate, bonus/loan,
  write) consumes and produces the immutable values defined here, so stages
  can be tested in isolation and composed by the pipeline package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Employee: roster entry with its allocation policy type (A, B or C)
  - RawTimeEntry: one hours cell exactly as read from a timesheet
  - DayRecord: per-employee per-date total after rounding and flagging
  - MatchResult: how a timesheet name was resolved against the roster
  - WeeklyAllocation: hours split into payroll and cash buckets
  - BonusEntry / LoanState / LoanOutcome: cash adjustments for the week

DESIGN PRINCIPLES:
  1. Precision: hours and money are decimal.Decimal, never float64
  2. Immutability: records are built once per run and never mutated
  3. Determinism: identical inputs produce identical values and ordering

SEE ALSO:
  - day.go: Day, Week and DateRange calendar helpers
  - errors.go: FormatError, ValidationError, SanityCheckFailure
*/
package payroll

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MustDecimal parses a decimal literal, panicking on malformed input. Intended
// for constants and test fixtures.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("payroll: bad decimal literal %q", s))
	}
	return d
}

// =============================================================================
// EMPLOYEE
// =============================================================================

// EmployeeType selects the hour allocation policy.
type EmployeeType string

const (
	// TypeA: regular hours on payroll, overtime paid in cash.
	TypeA EmployeeType = "A"
	// TypeB: every hour paid in cash.
	TypeB EmployeeType = "B"
	// TypeC: payroll absorbs a capped number of regular hours, rest in cash.
	TypeC EmployeeType = "C"
)

// ParseEmployeeType accepts "a", "B", " c " and similar spellings.
func ParseEmployeeType(s string) (EmployeeType, error) {
	t := EmployeeType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &ValidationError{Field: "employee_type", Value: s, Reason: "must be one of A, B, C"}
	}
	return t, nil
}

func (t EmployeeType) Valid() bool {
	return t == TypeA || t == TypeB || t == TypeC
}

// CashRates are the hourly cash rates printed on the cash sheet.
type CashRates struct {
	Regular  decimal.Decimal `json:"regular"`
	Overtime decimal.Decimal `json:"overtime"`
}

// Employee is one roster entry. Name is the canonical display name used on
// every output sheet.
type Employee struct {
	Name     string       `json:"name"`
	Type     EmployeeType `json:"type"`
	Position string       `json:"position,omitempty"`
	Rates    CashRates    `json:"rates"`
}

// =============================================================================
// TIME ENTRIES
// =============================================================================

// RawTimeEntry is a single hours value read from a timesheet, before any
// rounding. For punch reports each entry is one stint; a day with a lunch
// break yields two entries.
type RawTimeEntry struct {
	Source     string          `json:"source"`
	SourceName string          `json:"source_name"`
	Date       Day             `json:"date"`
	Hours      decimal.Decimal `json:"hours"`
	Sick       bool            `json:"sick,omitempty"`
	Row        int             `json:"row"`
}

// DayRecord is the rounded total for one person on one date.
//
// Segments is the number of stints recorded for the day, or zero when the
// source shape does not distinguish stints (wide weekly grids).
type DayRecord struct {
	Employee     Employee        `json:"employee"`
	Matched      bool            `json:"matched"`
	SourceName   string          `json:"source_name"`
	Date         Day             `json:"date"`
	RawHours     decimal.Decimal `json:"raw_hours"`
	RoundedHours decimal.Decimal `json:"rounded_hours"`
	Sick         bool            `json:"sick,omitempty"`
	Segments     int             `json:"segments"`
	Anomalies    []Anomaly       `json:"anomalies,omitempty"`
}

// DisplayName is the canonical name when matched, otherwise the name as it
// appeared in the timesheet.
func (r DayRecord) DisplayName() string {
	if r.Matched {
		return r.Employee.Name
	}
	return r.SourceName
}

// =============================================================================
// ANOMALIES
// =============================================================================

// AnomalyType identifies a review flag. Anomalies never block a run.
type AnomalyType string

const (
	AnomalyLongShift    AnomalyType = "long_shift"
	AnomalyShortWeekday AnomalyType = "short_weekday"
	AnomalyMissingLunch AnomalyType = "missing_lunch"
	AnomalyOverDailyMax AnomalyType = "over_daily_max"
	AnomalyMissingDay   AnomalyType = "missing_day"
)

// Anomaly is an advisory flag raised on a day.
type Anomaly struct {
	Type     AnomalyType     `json:"type"`
	Employee string          `json:"employee"`
	Date     Day             `json:"date"`
	Hours    decimal.Decimal `json:"hours"`
	Message  string          `json:"message"`
}

// =============================================================================
// NAME MATCHING
// =============================================================================

type MatchMethod string

const (
	MatchStrict           MatchMethod = "strict"
	MatchFallbackLastName MatchMethod = "fallback_lastname"
	MatchUnmatched        MatchMethod = "unmatched"
)

// MatchAmbiguity explains why a name was not accepted even though it scored
// against a roster entry. It is surfaced for manual review and never fails a
// run.
type MatchAmbiguity struct {
	Candidate string `json:"candidate"`
	Winner    string `json:"winner"`
	Reason    string `json:"reason"`
}

// MatchResult records how one source name resolved against the roster.
// Canonical is empty when Method is MatchUnmatched.
type MatchResult struct {
	SourceName  string          `json:"source_name"`
	Canonical   string          `json:"canonical_name,omitempty"`
	Score       int             `json:"score"`
	Method      MatchMethod     `json:"method"`
	NeedsReview bool            `json:"needs_review"`
	Ambiguity   *MatchAmbiguity `json:"ambiguity,omitempty"`

	// RosterIndex is the position of the matched employee in the roster, or
	// -1 when unmatched.
	RosterIndex int `json:"-"`
}

func (m MatchResult) Matched() bool { return m.Method != MatchUnmatched }

// =============================================================================
// ALLOCATION
// =============================================================================

// WeeklyAllocation is one employee's week split into buckets. The five
// buckets always sum to the week's rounded hours.
type WeeklyAllocation struct {
	Employee     string          `json:"employee"`
	Type         EmployeeType    `json:"type"`
	Week         Week            `json:"week"`
	Regular      decimal.Decimal `json:"regular"`
	Overtime     decimal.Decimal `json:"overtime"`
	Sick         decimal.Decimal `json:"sick"`
	CashRegular  decimal.Decimal `json:"cash_regular"`
	CashOvertime decimal.Decimal `json:"cash_overtime"`
}

// Total is the sum of every bucket.
func (a WeeklyAllocation) Total() decimal.Decimal {
	return a.Regular.Add(a.Overtime).Add(a.Sick).Add(a.CashRegular).Add(a.CashOvertime)
}

// PayrollHours is the portion paid through payroll.
func (a WeeklyAllocation) PayrollHours() decimal.Decimal {
	return a.Regular.Add(a.Overtime).Add(a.Sick)
}

// CashHours is the portion paid in cash.
func (a WeeklyAllocation) CashHours() decimal.Decimal {
	return a.CashRegular.Add(a.CashOvertime)
}

// =============================================================================
// BONUSES AND LOANS
// =============================================================================

// BonusEntry is a computed cash bonus for one employee.
type BonusEntry struct {
	Employee      string          `json:"employee"`
	SourceName    string          `json:"source_name"`
	Position      string          `json:"position"`
	Uploads       decimal.Decimal `json:"uploads"`
	Multiplier    decimal.Decimal `json:"multiplier"`
	Amount        decimal.Decimal `json:"amount"`
	Reimbursement decimal.Decimal `json:"reimbursement"`
}

// LoanState is an open loan as read from the loans sheet.
type LoanState struct {
	Employee   string          `json:"employee"`
	SourceName string          `json:"source_name"`
	LoanAmount decimal.Decimal `json:"loan_amount"`
	TotalPaid  decimal.Decimal `json:"total_paid"`
	Balance    decimal.Decimal `json:"balance"`
	PaymentDue decimal.Decimal `json:"payment_due"`
	DateTaken  string          `json:"date_taken,omitempty"`
	Row        int             `json:"row"`
}

// LoanOutcome is what the run did to one loan.
type LoanOutcome struct {
	Loan         LoanState       `json:"loan"`
	Deduction    decimal.Decimal `json:"deduction"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Closed       bool            `json:"closed"`
	Notes        []string        `json:"notes,omitempty"`
}

// TotalPaidAfter is the running total paid once this run's deduction lands.
func (o LoanOutcome) TotalPaidAfter() decimal.Decimal {
	return o.Loan.TotalPaid.Add(o.Deduction)
}

// =============================================================================
// OVERRIDES
// =============================================================================

// OverrideSet lists the (employee, date) pairs an operator approved to exceed
// daily_max_sanity. The zero value approves nothing.
type OverrideSet struct {
	All  bool
	days map[string]struct{}
}

// NewOverrideSet builds a set from explicit approvals.
func NewOverrideSet(approvals ...SanityOverride) OverrideSet {
	s := OverrideSet{days: make(map[string]struct{}, len(approvals))}
	for _, a := range approvals {
		s.days[overrideKey(a.Employee, a.Date)] = struct{}{}
	}
	return s
}

// SanityOverride approves one employee's hours on one date.
type SanityOverride struct {
	Employee string `json:"employee"`
	Date     Day    `json:"date"`
}

// Allows reports whether the employee may exceed the limit on date.
func (s OverrideSet) Allows(employee string, date Day) bool {
	if s.All {
		return true
	}
	_, ok := s.days[overrideKey(employee, date)]
	return ok
}

func overrideKey(employee string, date Day) string {
	return strings.ToLower(strings.TrimSpace(employee)) + "|" + date.String()
}
