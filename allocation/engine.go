/*
Package allocation splits each employee's week of rounded hours into the
payroll and cash buckets of a WeeklyAllocation.

PURPOSE:
  The same 45 hours are paid very differently depending on the employee
  type. This package owns those rules and guarantees that every rounded hour
  lands in exactly one bucket.

ALGORITHM:
  1. Sanity gate: any day above daily_max_sanity without an operator
     override fails the whole run (SanityCheckFailure). Nothing is capped
     silently.
  2. Sick: sick hours fill the sick bucket up to payroll_sick_ceiling; any
     excess is paid as cash regular.
  3. Daily pass: per worked day, hours above daily_regular_cap are overtime.
  4. Weekly pass: walking the days in date order, regular hours beyond the
     weekly cap are reclassified as overtime. The cap is
     weekly_ot_threshold, or type_b_weekly_cap for Type B.
  5. Channel split by type:
       A  regular -> payroll regular; overtime -> cash overtime
          (or payroll overtime when type_a_overtime_channel=payroll)
       B  regular -> cash regular; overtime -> cash overtime
       C  skips step 4. Payroll regular up to
          max(0, type_c_payroll_cap - sick); of the regular hours left,
          up to weekly_ot_threshold -> cash regular and the excess joins
          daily overtime in cash overtime

  Steps 3 and 4 must run in that order: a 12/4/12/4/12 week has 12 hours of
  daily overtime even though it totals only 44.

INVARIANT:
  regular + overtime + sick + cash_regular + cash_overtime == sum(rounded)
  in exact decimal arithmetic. A violation is a programming error and is
  returned, never corrected.
*/
package allocation

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/payroll"
)

type Engine struct {
	dailyCap        decimal.Decimal
	weeklyThreshold decimal.Decimal
	sickCeiling     decimal.Decimal
	dailyMax        decimal.Decimal
	typeCCap        decimal.Decimal
	typeBCap        decimal.Decimal
	typeAChannel    config.OvertimeChannel
	weekStart       time.Weekday
}

func New(caps config.HourCapSettings, types config.EmployeeTypeSettings, weekStart time.Weekday) *Engine {
	return &Engine{
		dailyCap:        caps.DailyRegularCap,
		weeklyThreshold: caps.WeeklyOTThreshold,
		sickCeiling:     caps.PayrollSickCeiling,
		dailyMax:        caps.DailyMaxSanity,
		typeCCap:        types.TypeCPayrollCap,
		typeBCap:        types.TypeBWeeklyCap,
		typeAChannel:    types.TypeAOvertimeChannel,
		weekStart:       weekStart,
	}
}

// =============================================================================
// SANITY GATE
// =============================================================================

// Violations lists the days above daily_max_sanity that the overrides do not
// approve.
func (e *Engine) Violations(days []payroll.DayRecord, overrides payroll.OverrideSet) []payroll.SanityViolation {
	var out []payroll.SanityViolation
	for _, d := range days {
		if !d.RoundedHours.GreaterThan(e.dailyMax) {
			continue
		}
		name := d.DisplayName()
		if overrides.Allows(name, d.Date) {
			continue
		}
		out = append(out, payroll.SanityViolation{
			Employee: name,
			Date:     d.Date,
			Hours:    d.RoundedHours,
			Limit:    e.dailyMax,
		})
	}
	return out
}

// =============================================================================
// SINGLE WEEK
// =============================================================================

// Allocate splits one employee's days, all inside week, into buckets.
func (e *Engine) Allocate(emp payroll.Employee, week payroll.Week, days []payroll.DayRecord, overrides payroll.OverrideSet) (payroll.WeeklyAllocation, error) {
	if v := e.Violations(days, overrides); len(v) > 0 {
		return payroll.WeeklyAllocation{}, &payroll.SanityCheckFailure{Violations: v}
	}
	if !emp.Type.Valid() {
		return payroll.WeeklyAllocation{}, &payroll.ValidationError{Field: "employee_type", Value: emp.Type, Reason: "employee " + emp.Name + " has no type A, B or C"}
	}

	ordered := append([]payroll.DayRecord(nil), days...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Date.Before(ordered[j].Date) })

	total := decimal.Zero
	sick := decimal.Zero
	// One entry per worked date: two spellings of one name on the same day
	// share that day's regular cap.
	var worked []decimal.Decimal
	var lastWorked payroll.Day
	for _, d := range ordered {
		if !week.Contains(d.Date) {
			return payroll.WeeklyAllocation{}, fmt.Errorf("allocate %s: %s is outside week %s", emp.Name, d.Date, week)
		}
		total = total.Add(d.RoundedHours)
		if d.Sick {
			sick = sick.Add(d.RoundedHours)
			continue
		}
		if n := len(worked); n > 0 && d.Date.Equal(lastWorked) {
			worked[n-1] = worked[n-1].Add(d.RoundedHours)
			continue
		}
		worked = append(worked, d.RoundedHours)
		lastWorked = d.Date
	}

	a := payroll.WeeklyAllocation{Employee: emp.Name, Type: emp.Type, Week: week}

	a.Sick = decimal.Min(sick, e.sickCeiling)
	sickExcess := sick.Sub(a.Sick)

	switch emp.Type {
	case payroll.TypeA:
		regular, overtime := e.split(worked, e.weeklyThreshold)
		a.Regular = regular
		if e.typeAChannel == config.ChannelPayroll {
			a.Overtime = overtime
		} else {
			a.CashOvertime = overtime
		}
	case payroll.TypeB:
		regular, overtime := e.split(worked, e.typeBCap)
		a.CashRegular = regular
		a.CashOvertime = overtime
	case payroll.TypeC:
		// Daily pass only; the weekly threshold applies to what is left
		// for cash once payroll has taken its share.
		regular, overtime := e.split(worked, total)
		capAfterSick := decimal.Max(decimal.Zero, e.typeCCap.Sub(a.Sick))
		a.Regular = decimal.Min(regular, capAfterSick)
		remainder := regular.Sub(a.Regular)
		a.CashRegular = decimal.Min(remainder, e.weeklyThreshold)
		a.CashOvertime = overtime.Add(remainder.Sub(a.CashRegular))
	}
	a.CashRegular = a.CashRegular.Add(sickExcess)

	if !a.Total().Equal(total) {
		return payroll.WeeklyAllocation{}, fmt.Errorf("allocate %s week %s: buckets sum to %s, rounded hours sum to %s",
			emp.Name, week, a.Total(), total)
	}
	return a, nil
}

// split runs the daily pass then the weekly pass over worked hours in date
// order and returns total regular and overtime.
func (e *Engine) split(worked []decimal.Decimal, weeklyCap decimal.Decimal) (regular, overtime decimal.Decimal) {
	regular, overtime = decimal.Zero, decimal.Zero
	for _, h := range worked {
		dayRegular := decimal.Min(h, e.dailyCap)
		overtime = overtime.Add(h.Sub(dayRegular))

		room := decimal.Max(decimal.Zero, weeklyCap.Sub(regular))
		kept := decimal.Min(dayRegular, room)
		regular = regular.Add(kept)
		overtime = overtime.Add(dayRegular.Sub(kept))
	}
	return regular, overtime
}

// =============================================================================
// WHOLE RUN
// =============================================================================

// AllocateAll allocates every matched employee for every week present in
// records. Unmatched records are ignored. Sanity violations across the
// whole run are collected first; if there are any, no allocation is
// returned. Results follow roster order, then week.
func (e *Engine) AllocateAll(roster []payroll.Employee, records []payroll.DayRecord, overrides payroll.OverrideSet) ([]payroll.WeeklyAllocation, error) {
	var matched []payroll.DayRecord
	for _, r := range records {
		if r.Matched {
			matched = append(matched, r)
		}
	}
	if v := e.Violations(matched, overrides); len(v) > 0 {
		return nil, &payroll.SanityCheckFailure{Violations: v}
	}

	type bucket struct {
		week payroll.Week
		days []payroll.DayRecord
	}
	byEmployee := map[string]map[string]*bucket{}
	for _, r := range matched {
		w := payroll.WeekContaining(r.Date, e.weekStart)
		weeks := byEmployee[r.Employee.Name]
		if weeks == nil {
			weeks = map[string]*bucket{}
			byEmployee[r.Employee.Name] = weeks
		}
		b := weeks[w.Start.String()]
		if b == nil {
			b = &bucket{week: w}
			weeks[w.Start.String()] = b
		}
		b.days = append(b.days, r)
	}

	var out []payroll.WeeklyAllocation
	for _, emp := range roster {
		weeks := byEmployee[emp.Name]
		if weeks == nil {
			continue
		}
		starts := make([]string, 0, len(weeks))
		for k := range weeks {
			starts = append(starts, k)
		}
		sort.Strings(starts)
		for _, k := range starts {
			b := weeks[k]
			a, err := e.Allocate(emp, b.week, b.days, overrides)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
		delete(byEmployee, emp.Name)
	}
	if len(byEmployee) > 0 {
		missing := make([]string, 0, len(byEmployee))
		for name := range byEmployee {
			missing = append(missing, name)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("allocate: matched employees not on the roster: %v", missing)
	}
	return out, nil
}

// Weeks returns the distinct pay weeks covered by records, in order.
func (e *Engine) Weeks(records []payroll.DayRecord) []payroll.Week {
	seen := map[string]payroll.Week{}
	for _, r := range records {
		w := payroll.WeekContaining(r.Date, e.weekStart)
		seen[w.Start.String()] = w
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]payroll.Week, len(keys))
	for i, k := range keys {
		out[i] = seen[k]
	}
	return out
}
