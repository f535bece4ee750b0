// Package anomaly flags days a payroll operator should look at before
// approving a run. Flags are advisory: they never change hours and never
// fail a run. The hard daily ceiling lives in the allocation package.
package anomaly

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/rounding"
)

type Detector struct {
	longShift    decimal.Decimal
	shortWeekday decimal.Decimal
	lunch        decimal.Decimal
	dailyMax     decimal.Decimal
	rounder      *rounding.Rounder
}

func New(flags config.FlaggingSettings, caps config.HourCapSettings, r *rounding.Rounder) *Detector {
	return &Detector{
		longShift:    flags.LongShiftHours,
		shortWeekday: flags.ShortWeekdayHours,
		lunch:        flags.SuggestLunchDeduct,
		dailyMax:     caps.DailyMaxSanity,
		rounder:      r,
	}
}

// Detect evaluates every rule against one day. Sick days are never flagged.
func (d *Detector) Detect(rec payroll.DayRecord) []payroll.Anomaly {
	if rec.Sick {
		return nil
	}
	h := rec.RoundedHours
	var out []payroll.Anomaly
	add := func(t payroll.AnomalyType, msg string) {
		out = append(out, payroll.Anomaly{
			Type:     t,
			Employee: rec.DisplayName(),
			Date:     rec.Date,
			Hours:    h,
			Message:  msg,
		})
	}

	if h.GreaterThan(d.longShift) {
		add(payroll.AnomalyLongShift, fmt.Sprintf("%s h exceeds %s h; suggest %s h after a %s h lunch deduction",
			h, d.longShift, d.SuggestedHours(h), d.lunch))
	}
	if rec.Date.IsWeekday() && h.IsPositive() && h.LessThan(d.shortWeekday) {
		add(payroll.AnomalyShortWeekday, fmt.Sprintf("only %s h on a %s (under %s h)",
			h, rec.Date.Weekday(), d.shortWeekday))
	}
	if rec.Segments == 1 && rec.RawHours.GreaterThanOrEqual(d.longShift) {
		add(payroll.AnomalyMissingLunch, fmt.Sprintf("single %s h stint with no break punched",
			rec.RawHours.StringFixed(2)))
	}
	if h.GreaterThan(d.dailyMax) {
		add(payroll.AnomalyOverDailyMax, fmt.Sprintf("%s h exceeds the %s h daily maximum; needs an override to process",
			h, d.dailyMax))
	}
	return out
}

// SuggestedHours is the day's hours after the configured lunch deduction,
// snapped to the rounding grid and never negative.
func (d *Detector) SuggestedHours(rounded decimal.Decimal) decimal.Decimal {
	s := d.rounder.Snap(rounded.Sub(d.lunch))
	if s.IsNegative() {
		return decimal.Zero
	}
	return s
}

// MissingDays flags weekdays on which a regular worker has no time. A
// regular is a matched employee with at least two worked days in the run;
// dates is every date anyone worked.
func MissingDays(records []payroll.DayRecord, dates []payroll.Day) []payroll.Anomaly {
	worked := map[string]map[string]bool{}
	var order []string
	for _, r := range records {
		if !r.Matched {
			continue
		}
		name := r.Employee.Name
		if worked[name] == nil {
			worked[name] = map[string]bool{}
			order = append(order, name)
		}
		worked[name][r.Date.String()] = true
	}

	var out []payroll.Anomaly
	for _, name := range order {
		days := worked[name]
		if len(days) < 2 {
			continue
		}
		for _, date := range dates {
			if date.IsWeekend() || days[date.String()] {
				continue
			}
			out = append(out, payroll.Anomaly{
				Type:     payroll.AnomalyMissingDay,
				Employee: name,
				Date:     date,
				Hours:    decimal.Zero,
				Message:  fmt.Sprintf("no time recorded on %s %s", date.Weekday(), date),
			})
		}
	}
	return out
}

// Sort orders anomalies by employee, date and type.
func Sort(anomalies []payroll.Anomaly) {
	sort.SliceStable(anomalies, func(i, j int) bool {
		a, b := anomalies[i], anomalies[j]
		if a.Employee != b.Employee {
			return a.Employee < b.Employee
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Type < b.Type
	})
}

// CountByType tallies anomalies per type.
func CountByType(anomalies []payroll.Anomaly) map[payroll.AnomalyType]int {
	counts := make(map[payroll.AnomalyType]int)
	for _, a := range anomalies {
		counts[a.Type]++
	}
	return counts
}
