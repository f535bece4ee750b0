// Package report renders run results for people: the plain-text note sent
// to the office after each run, and CSV exports of the review tables.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/warp/payroll-engine/anomaly"
	"github.com/warp/payroll-engine/payroll"
)

// maxExamples bounds the flagged lines quoted in the message.
const maxExamples = 8

// Digest is what the office message needs from a run.
type Digest struct {
	Week        payroll.DateRange
	Employees   int
	CellsFilled int
	Anomalies   []payroll.Anomaly
	Unmatched   []string
	LoanNotes   []string
	Matches     []MatchSet
}

// MatchSet is the name matching outcome for one kind of document.
type MatchSet struct {
	Document string
	Matches  []payroll.MatchResult
}

// SecretaryMessage builds the note summarizing a run.
func SecretaryMessage(d Digest) string {
	var b strings.Builder
	if d.Week.IsZero() {
		fmt.Fprintf(&b, "No time entries: filled %d cell(s).\n", d.CellsFilled)
	} else {
		fmt.Fprintf(&b, "Week %s - %s: filled %d cell(s) for %d employee(s).\n",
			d.Week.From.Format("01/02/2006"), d.Week.To.Format("01/02/2006"), d.CellsFilled, d.Employees)
	}

	if len(d.Anomalies) == 0 {
		b.WriteString("Nothing flagged.\n")
	} else {
		counts := anomaly.CountByType(d.Anomalies)
		types := make([]string, 0, len(counts))
		for t := range counts {
			types = append(types, string(t))
		}
		sort.Strings(types)
		parts := make([]string, len(types))
		for i, t := range types {
			parts[i] = fmt.Sprintf("%s %d", strings.ReplaceAll(t, "_", " "), counts[payroll.AnomalyType(t)])
		}
		fmt.Fprintf(&b, "Flagged %d item(s): %s.\n", len(d.Anomalies), strings.Join(parts, ", "))
		for i, a := range d.Anomalies {
			if i == maxExamples {
				fmt.Fprintf(&b, "• ... and %d more\n", len(d.Anomalies)-maxExamples)
				break
			}
			fmt.Fprintf(&b, "• %s %s: %s\n", a.Employee, a.Date.Format("01/02"), a.Message)
		}
	}

	if len(d.Unmatched) > 0 {
		fmt.Fprintf(&b, "\nNot on the roster (%d):\n", len(d.Unmatched))
		for _, n := range d.Unmatched {
			fmt.Fprintf(&b, "• %s\n", n)
		}
	}
	if review := reviewMatches(d.Matches); len(review) > 0 {
		fmt.Fprintf(&b, "\nCheck these name matches (%d):\n", len(review))
		for _, line := range review {
			fmt.Fprintf(&b, "• %s\n", line)
		}
	}
	if len(d.LoanNotes) > 0 {
		b.WriteString("\nLoans:\n")
		for _, n := range d.LoanNotes {
			fmt.Fprintf(&b, "• %s\n", n)
		}
	}

	b.WriteString("\nPlease review the flagged items before approving payroll.")
	return b.String()
}

// reviewMatches lists accepted matches that a person should confirm.
func reviewMatches(sets []MatchSet) []string {
	var out []string
	for _, set := range sets {
		for _, m := range set.Matches {
			if !m.Matched() || !m.NeedsReview {
				continue
			}
			out = append(out, fmt.Sprintf("%s: %q read as %s (score %d)", set.Document, m.SourceName, m.Canonical, m.Score))
		}
	}
	return out
}

// =============================================================================
// CSV EXPORTS
// =============================================================================

type dailyRow struct {
	Employee   string `csv:"employee"`
	SourceName string `csv:"source_name"`
	Matched    bool   `csv:"matched"`
	Date       string `csv:"date"`
	RawHours   string `csv:"raw_hours"`
	Rounded    string `csv:"rounded_hours"`
	Sick       bool   `csv:"sick"`
	Stints     int    `csv:"stints"`
	Flags      string `csv:"flags"`
}

type matchRow struct {
	Document   string `csv:"document"`
	SourceName string `csv:"source_name"`
	Canonical  string `csv:"canonical_name"`
	Score      int    `csv:"score"`
	Method     string `csv:"method"`
	Review     bool   `csv:"needs_review"`
	Note       string `csv:"note"`
}

type allocationRow struct {
	Employee     string `csv:"employee"`
	Type         string `csv:"type"`
	WeekStart    string `csv:"week_start"`
	Regular      string `csv:"regular"`
	Overtime     string `csv:"overtime"`
	Sick         string `csv:"sick"`
	CashRegular  string `csv:"cash_regular"`
	CashOvertime string `csv:"cash_overtime"`
	Total        string `csv:"total"`
}

type reviewRow struct {
	Employee string `csv:"employee"`
	Date     string `csv:"date"`
	Reason   string `csv:"reason"`
	Hours    string `csv:"hours"`
	Detail   string `csv:"detail"`
}

// DailyCSV exports one line per employee day.
func DailyCSV(records []payroll.DayRecord) ([]byte, error) {
	rows := make([]dailyRow, len(records))
	for i, r := range records {
		flags := make([]string, len(r.Anomalies))
		for j, a := range r.Anomalies {
			flags[j] = string(a.Type)
		}
		rows[i] = dailyRow{
			Employee:   r.DisplayName(),
			SourceName: r.SourceName,
			Matched:    r.Matched,
			Date:       r.Date.String(),
			RawHours:   r.RawHours.StringFixed(2),
			Rounded:    r.RoundedHours.String(),
			Sick:       r.Sick,
			Stints:     r.Segments,
			Flags:      strings.Join(flags, ";"),
		}
	}
	return gocsv.MarshalBytes(&rows)
}

// MatchesCSV exports the name matching decisions of every document, one
// line per source name.
func MatchesCSV(sets ...MatchSet) ([]byte, error) {
	var rows []matchRow
	for _, set := range sets {
		for _, m := range set.Matches {
			row := matchRow{
				Document:   set.Document,
				SourceName: m.SourceName,
				Canonical:  m.Canonical,
				Score:      m.Score,
				Method:     string(m.Method),
				Review:     m.NeedsReview,
			}
			if m.Ambiguity != nil {
				row.Note = m.Ambiguity.Reason
			}
			rows = append(rows, row)
		}
	}
	if rows == nil {
		rows = []matchRow{}
	}
	return gocsv.MarshalBytes(&rows)
}

// AllocationsCSV exports the weekly buckets.
func AllocationsCSV(allocs []payroll.WeeklyAllocation) ([]byte, error) {
	rows := make([]allocationRow, len(allocs))
	for i, a := range allocs {
		rows[i] = allocationRow{
			Employee:     a.Employee,
			Type:         string(a.Type),
			WeekStart:    a.Week.Start.String(),
			Regular:      a.Regular.String(),
			Overtime:     a.Overtime.String(),
			Sick:         a.Sick.String(),
			CashRegular:  a.CashRegular.String(),
			CashOvertime: a.CashOvertime.String(),
			Total:        a.Total().String(),
		}
	}
	return gocsv.MarshalBytes(&rows)
}

// ReviewCSV lists anomalies and unmatched names in one queue.
func ReviewCSV(anomalies []payroll.Anomaly, unmatched []string) ([]byte, error) {
	rows := make([]reviewRow, 0, len(anomalies)+len(unmatched))
	for _, n := range unmatched {
		rows = append(rows, reviewRow{Employee: n, Reason: "unmatched", Detail: "name not found on the roster"})
	}
	for _, a := range anomalies {
		rows = append(rows, reviewRow{
			Employee: a.Employee,
			Date:     a.Date.String(),
			Reason:   string(a.Type),
			Hours:    a.Hours.String(),
			Detail:   a.Message,
		})
	}
	return gocsv.MarshalBytes(&rows)
}

// Table splits an exported CSV into a header and rows for a spreadsheet tab.
func Table(data []byte, err error) ([]string, [][]string, error) {
	if err != nil {
		return nil, nil, err
	}
	all, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read table: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}
