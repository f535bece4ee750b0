/*
errors.go - Error taxonomy for payroll runs

PURPOSE:
  Every failure a run can produce is one of three kinds. Callers branch on
  the kind with errors.Is against the sentinels, and read details from the
  structured types with errors.As.

ERROR CATEGORIES:
  1. FormatError - an input file cannot be read (bad shape, bad cell)
  2. ValidationError - a value is present but out of range or malformed
  3. SanityCheckFailure - a day exceeds daily_max_sanity without override

  All three are fatal: a failed run produces no output at all. Name matching
  problems are never errors; see MatchAmbiguity in types.go.

SEE ALSO:
  - timesheet: produces FormatError with cell references
  - config: produces ValidationError with dotted setting keys
  - allocation: produces SanityCheckFailure
*/
package payroll

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrFormat is returned when an input file is unreadable or has an
	// unrecognized layout.
	ErrFormat = errors.New("format error")

	// ErrValidation is returned when a setting or input value is out of range.
	ErrValidation = errors.New("validation error")

	// ErrSanityCheck is returned when rounded daily hours exceed the sanity
	// limit and no override was granted.
	ErrSanityCheck = errors.New("sanity check failed")

	// ErrNotFound is returned by lookups of stored templates and outputs.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FormatError points at the offending cell of an input file. Row is 1-based;
// Column is a spreadsheet column letter. Either may be unset when the problem
// concerns the whole file.
type FormatError struct {
	Source string
	Sheet  string
	Row    int
	Column string
	Value  string
	Reason string
}

// Cell returns the A1-style reference, e.g. "C7", or "" when unknown.
func (e *FormatError) Cell() string {
	if e.Row == 0 {
		return ""
	}
	return fmt.Sprintf("%s%d", e.Column, e.Row)
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString(e.Source)
	if e.Sheet != "" {
		b.WriteString("[" + e.Sheet + "]")
	}
	if cell := e.Cell(); cell != "" {
		b.WriteString("!" + cell)
	}
	b.WriteString(": " + e.Reason)
	if e.Value != "" {
		fmt.Fprintf(&b, " (%q)", e.Value)
	}
	return b.String()
}

func (e *FormatError) Unwrap() error {
	return ErrFormat
}

// ValidationError names the field (a dotted setting key, or an input column)
// that failed validation.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// SanityViolation is one day over the sanity limit.
type SanityViolation struct {
	Employee string          `json:"employee"`
	Date     Day             `json:"date"`
	Hours    decimal.Decimal `json:"hours"`
	Limit    decimal.Decimal `json:"limit"`
}

// SanityCheckFailure lists every day that exceeded daily_max_sanity.
type SanityCheckFailure struct {
	Violations []SanityViolation
}

func (e *SanityCheckFailure) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s on %s: %s h > %s h",
			v.Employee, v.Date, v.Hours.String(), v.Limit.String()))
	}
	return "sanity check failed: " + strings.Join(parts, "; ")
}

func (e *SanityCheckFailure) Unwrap() error {
	return ErrSanityCheck
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsFatal reports whether err aborts a run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFormat) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrSanityCheck)
}

// IsClientError reports whether err was caused by the submitted files or
// settings rather than by the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrFormat) || errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err indicates a missing stored resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
