package timesheet

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/payroll"
)

var (
	clockRe     = regexp.MustCompile(`^(\d+):(\d{2})(?::(\d{2}))?$`)
	slashDateRe = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{2}|\d{4})$`)
	dotDateRe   = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.(\d{2}|\d{4})$`)
	isoDateRe   = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})(?:[ T].*)?$`)

	sixty = decimal.NewFromInt(60)
	hour  = decimal.NewFromInt(3600)
)

// hoursCell is the parsed content of an hours cell.
type hoursCell struct {
	hours decimal.Decimal
	sick  bool
	empty bool
}

// parseHours accepts decimal hours ("8.5"), clock durations ("8:25",
// "8:25:30") and the word "sick". Blank and zero cells are empty.
func parseHours(raw string) (hoursCell, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return hoursCell{empty: true}, nil
	}
	if strings.Contains(strings.ToLower(s), "sick") {
		return hoursCell{sick: true}, nil
	}

	var h decimal.Decimal
	if m := clockRe.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		ss := 0
		if m[3] != "" {
			ss, _ = strconv.Atoi(m[3])
		}
		if mm >= 60 || ss >= 60 {
			return hoursCell{}, fmt.Errorf("minutes and seconds must be below 60")
		}
		h = decimal.NewFromInt(int64(hh)).
			Add(decimal.NewFromInt(int64(mm)).Div(sixty)).
			Add(decimal.NewFromInt(int64(ss)).Div(hour))
	} else {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return hoursCell{}, fmt.Errorf("hours must be a number or H:MM")
		}
		h = d
	}

	if h.IsNegative() {
		return hoursCell{}, fmt.Errorf("hours must not be negative")
	}
	if h.IsZero() {
		return hoursCell{empty: true}, nil
	}
	return hoursCell{hours: h}, nil
}

// parseDate resolves a date cell to exactly one calendar date.
//
// Accepted forms: Excel serial numbers, ISO yyyy-mm-dd (optionally with a
// time), MM.DD.YY report dates, and a/b/yyyy slash or dash dates. Slash dates
// are read according to order; in strict order a date such as 03/04/2025,
// which is a valid date both ways, is rejected as ambiguous.
func parseDate(raw string, order config.DateOrder) (payroll.Day, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return payroll.Day{}, fmt.Errorf("missing date")
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial < 1 || serial > 2958465 {
			return payroll.Day{}, fmt.Errorf("date serial out of range")
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return payroll.Day{}, fmt.Errorf("invalid date serial: %v", err)
		}
		return payroll.DayOf(t), nil
	}

	if m := isoDateRe.FindStringSubmatch(s); m != nil {
		return calendarDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}

	if m := dotDateRe.FindStringSubmatch(s); m != nil {
		return calendarDate(fullYear(m[3]), atoi(m[1]), atoi(m[2]))
	}

	if m := slashDateRe.FindStringSubmatch(s); m != nil {
		a, b, year := atoi(m[1]), atoi(m[2]), fullYear(m[3])
		switch order {
		case config.DateOrderMDY:
			return calendarDate(year, a, b)
		case config.DateOrderDMY:
			return calendarDate(year, b, a)
		}
		switch {
		case a > 12:
			return calendarDate(year, b, a)
		case b > 12 || a == b:
			return calendarDate(year, a, b)
		default:
			return payroll.Day{}, fmt.Errorf("ambiguous date: could be month/day or day/month; set input.date_order or use yyyy-mm-dd")
		}
	}

	return payroll.Day{}, fmt.Errorf("unrecognized date")
}

func calendarDate(year, month, day int) (payroll.Day, error) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return payroll.Day{}, fmt.Errorf("no such date")
	}
	d := payroll.NewDay(year, time.Month(month), day)
	if d.Day() != day {
		return payroll.Day{}, fmt.Errorf("no such date")
	}
	return d, nil
}

func fullYear(s string) int {
	y := atoi(s)
	if len(s) == 2 {
		y += 2000
	}
	return y
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func normalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(h))), " ")
}

// isTotalRow reports whether a name cell is a subtotal line.
func isTotalRow(name string) bool {
	low := strings.ToLower(name)
	return strings.HasPrefix(low, "total") || strings.Contains(low, "grand total")
}
