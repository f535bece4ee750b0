package allocation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/payroll"
)

// Week of Thursday 2025-03-06 through Wednesday 2025-03-12.
var week = payroll.WeekContaining(payroll.MustParseDay("2025-03-06"), time.Thursday)

func engine(mutate ...func(*config.Settings)) *Engine {
	s := config.Defaults()
	for _, m := range mutate {
		m(&s)
	}
	return New(s.HourCaps, s.EmployeeTypes, s.Input.WeekStartWeekday())
}

func emp(name string, t payroll.EmployeeType) payroll.Employee {
	return payroll.Employee{Name: name, Type: t}
}

// days builds consecutive worked days starting Thursday.
func days(e payroll.Employee, hours ...string) []payroll.DayRecord {
	out := make([]payroll.DayRecord, len(hours))
	for i, h := range hours {
		d := payroll.MustDecimal(h)
		out[i] = payroll.DayRecord{
			Employee: e, Matched: true, SourceName: e.Name,
			Date: week.Start.AddDays(i), RawHours: d, RoundedHours: d,
		}
	}
	return out
}

func sickDay(e payroll.Employee, offset int) payroll.DayRecord {
	return payroll.DayRecord{
		Employee: e, Matched: true, SourceName: e.Name, Sick: true,
		Date: week.Start.AddDays(offset), RawHours: payroll.MustDecimal("8"), RoundedHours: payroll.MustDecimal("8"),
	}
}

func assertBuckets(t *testing.T, a payroll.WeeklyAllocation, regular, overtime, sick, cashRegular, cashOvertime string) {
	t.Helper()
	assert.Equal(t, regular, a.Regular.String(), "regular")
	assert.Equal(t, overtime, a.Overtime.String(), "overtime")
	assert.Equal(t, sick, a.Sick.String(), "sick")
	assert.Equal(t, cashRegular, a.CashRegular.String(), "cash_regular")
	assert.Equal(t, cashOvertime, a.CashOvertime.String(), "cash_overtime")
}

// =============================================================================
// TYPE B
// =============================================================================

func TestTypeB_WeeklyCapOverflowToCashOvertime(t *testing.T) {
	// GIVEN a Type B employee with five 9 hour days (45 h), weekly cap 40
	e := emp("Bo Lee", payroll.TypeB)

	// WHEN allocating
	a, err := engine().Allocate(e, week, days(e, "9", "9", "9", "9", "9"), payroll.OverrideSet{})

	// THEN everything is cash: 40 regular, 5 overtime
	require.NoError(t, err)
	assertBuckets(t, a, "0", "0", "0", "40", "5")
}

func TestTypeB_CustomWeeklyCap(t *testing.T) {
	e := emp("Bo Lee", payroll.TypeB)
	eng := engine(func(s *config.Settings) { s.EmployeeTypes.TypeBWeeklyCap = decimal.NewFromInt(30) })

	a, err := eng.Allocate(e, week, days(e, "8", "8", "8", "8"), payroll.OverrideSet{})

	require.NoError(t, err)
	assertBuckets(t, a, "0", "0", "0", "30", "2")
}

// =============================================================================
// TYPE A
// =============================================================================

func TestTypeA_DailyOvertimeToCash(t *testing.T) {
	e := emp("Ana Ruiz", payroll.TypeA)

	a, err := engine().Allocate(e, week, days(e, "10", "10", "10", "10", "10"), payroll.OverrideSet{})

	require.NoError(t, err)
	assertBuckets(t, a, "40", "0", "0", "0", "10")
}

func TestTypeA_WeeklyOvertimeToCash(t *testing.T) {
	// six 8 hour days: no daily overtime, 8 hours over the weekly threshold
	e := emp("Ana Ruiz", payroll.TypeA)

	a, err := engine().Allocate(e, week, days(e, "8", "8", "8", "8", "8", "8"), payroll.OverrideSet{})

	require.NoError(t, err)
	assertBuckets(t, a, "40", "0", "0", "0", "8")
}

func TestTypeA_DailyPassRunsBeforeWeeklyPass(t *testing.T) {
	// GIVEN an uneven 44 hour week
	e := emp("Ana Ruiz", payroll.TypeA)

	// WHEN allocating
	a, err := engine().Allocate(e, week, days(e, "12", "4", "12", "4", "12"), payroll.OverrideSet{})

	// THEN the three 12 hour days carry 12 hours of overtime although the
	// week is only 4 hours over the weekly threshold
	require.NoError(t, err)
	assertBuckets(t, a, "32", "0", "0", "0", "12")
}

func TestTypeA_PayrollOvertimeChannel(t *testing.T) {
	e := emp("Ana Ruiz", payroll.TypeA)
	eng := engine(func(s *config.Settings) { s.EmployeeTypes.TypeAOvertimeChannel = config.ChannelPayroll })

	a, err := eng.Allocate(e, week, days(e, "9", "9", "9", "9", "9"), payroll.OverrideSet{})

	require.NoError(t, err)
	assertBuckets(t, a, "40", "5", "0", "0", "0")
}

func TestTypeA_SickAboveCeilingPaidInCash(t *testing.T) {
	// four 8 hour sick days against a 24 hour sick ceiling
	e := emp("Ana Ruiz", payroll.TypeA)
	recs := []payroll.DayRecord{sickDay(e, 0), sickDay(e, 1), sickDay(e, 4), sickDay(e, 5)}

	a, err := engine().Allocate(e, week, recs, payroll.OverrideSet{})

	require.NoError(t, err)
	assertBuckets(t, a, "0", "0", "24", "8", "0")
}

// =============================================================================
// TYPE C
// =============================================================================

func TestTypeC_SickReducesPayrollCap(t *testing.T) {
	// GIVEN 40 worked hours and one 8 hour sick day
	e := emp("Cy Park", payroll.TypeC)
	recs := append(days(e, "8", "8", "8", "8", "8"), sickDay(e, 6))

	// WHEN allocating
	a, err := engine().Allocate(e, week, recs, payroll.OverrideSet{})

	// THEN payroll absorbs 24-8=16 regular hours and the rest goes to cash
	require.NoError(t, err)
	assertBuckets(t, a, "16", "0", "8", "24", "0")
}

func TestTypeC_CapExhaustedBySick(t *testing.T) {
	e := emp("Cy Park", payroll.TypeC)
	recs := append(days(e, "10", "0", "0", "0"), sickDay(e, 1), sickDay(e, 2), sickDay(e, 3))

	a, err := engine().Allocate(e, week, recs, payroll.OverrideSet{})

	require.NoError(t, err)
	assertBuckets(t, a, "0", "0", "24", "8", "2")
}

func TestTypeC_DailyOvertimeToCash(t *testing.T) {
	e := emp("Cy Park", payroll.TypeC)

	a, err := engine().Allocate(e, week, days(e, "9", "9", "9", "9", "9", "5"), payroll.OverrideSet{})

	require.NoError(t, err)
	assertBuckets(t, a, "24", "0", "0", "21", "5")
}

func TestTypeC_WeeklyThresholdAppliesToCashRemainder(t *testing.T) {
	// GIVEN six 8 hour days: 48 regular hours, none over the daily cap
	e := emp("Cal Ortiz", payroll.TypeC)

	// WHEN allocating with the default 40 hour threshold
	a, err := engine().Allocate(e, week, days(e, "8", "8", "8", "8", "8", "8"), payroll.OverrideSet{})

	// THEN payroll takes 24 and the 24 left for cash are all regular
	require.NoError(t, err)
	assertBuckets(t, a, "24", "0", "0", "24", "0")
}

func TestTypeC_CashRemainderAboveThresholdIsOvertime(t *testing.T) {
	// GIVEN a 20 hour weekly threshold
	e := emp("Cal Ortiz", payroll.TypeC)
	eng := engine(func(s *config.Settings) { s.HourCaps.WeeklyOTThreshold = decimal.NewFromInt(20) })

	// WHEN 48 regular hours are allocated
	a, err := eng.Allocate(e, week, days(e, "8", "8", "8", "8", "8", "8"), payroll.OverrideSet{})

	// THEN the cash remainder of 24 splits 20 regular and 4 overtime
	require.NoError(t, err)
	assertBuckets(t, a, "24", "0", "0", "20", "4")
}

// =============================================================================
// SAME DATE FROM TWO SOURCE NAMES
// =============================================================================

func TestAllocate_SameDateSharesDailyCap(t *testing.T) {
	// GIVEN one employee recorded twice on Thursday under two spellings
	e := emp("Ann Lee", payroll.TypeA)
	recs := days(e, "6")
	second := recs[0]
	second.SourceName = "LEE, ANN"
	recs = append(recs, second)

	// WHEN allocating
	a, err := engine().Allocate(e, week, recs, payroll.OverrideSet{})

	// THEN the 12 hours are one day: 8 regular, 4 daily overtime
	require.NoError(t, err)
	assertBuckets(t, a, "8", "0", "0", "0", "4")
}

// =============================================================================
// SANITY GATE
// =============================================================================

func TestSanity_DayOverMaxFails(t *testing.T) {
	// GIVEN an 18 hour day against a 16 hour sanity limit
	e := emp("Ana Ruiz", payroll.TypeA)
	recs := days(e, "8", "18")

	// WHEN allocating without an override
	a, err := engine().Allocate(e, week, recs, payroll.OverrideSet{})

	// THEN the run fails and no allocation is produced
	var sf *payroll.SanityCheckFailure
	require.ErrorAs(t, err, &sf)
	require.Len(t, sf.Violations, 1)
	assert.Equal(t, "2025-03-07", sf.Violations[0].Date.String())
	assert.Equal(t, "18", sf.Violations[0].Hours.String())
	assert.Equal(t, payroll.WeeklyAllocation{}, a)
}

func TestSanity_OverrideAllowsDay(t *testing.T) {
	e := emp("Ana Ruiz", payroll.TypeA)
	recs := days(e, "8", "18")
	ov := payroll.NewOverrideSet(payroll.SanityOverride{Employee: "Ana Ruiz", Date: recs[1].Date})

	a, err := engine().Allocate(e, week, recs, ov)

	require.NoError(t, err)
	assertBuckets(t, a, "16", "0", "0", "0", "10")
}

// =============================================================================
// INVARIANT
// =============================================================================

func TestInvariant_BucketsSumToRoundedHours(t *testing.T) {
	hours := []string{"0.5", "7.5", "8", "8.25", "9.5", "11", "12.75", "16", "3", "0"}
	for _, typ := range []payroll.EmployeeType{payroll.TypeA, payroll.TypeB, payroll.TypeC} {
		for _, channel := range []config.OvertimeChannel{config.ChannelCash, config.ChannelPayroll} {
			eng := engine(func(s *config.Settings) { s.EmployeeTypes.TypeAOvertimeChannel = channel })
			for start := 0; start < len(hours); start++ {
				e := emp("Any One", typ)
				var hs []string
				for i := 0; i < 7; i++ {
					hs = append(hs, hours[(start+i*3)%len(hours)])
				}
				recs := days(e, hs...)
				if start%2 == 0 {
					recs[start%7] = sickDay(e, start%7)
				}

				a, err := eng.Allocate(e, week, recs, payroll.OverrideSet{})
				require.NoError(t, err)

				sum := decimal.Zero
				for _, r := range recs {
					sum = sum.Add(r.RoundedHours)
				}
				assert.True(t, a.Total().Equal(sum), "type %s hours %v: %s != %s", typ, hs, a.Total(), sum)
				for _, b := range []decimal.Decimal{a.Regular, a.Overtime, a.Sick, a.CashRegular, a.CashOvertime} {
					assert.False(t, b.IsNegative())
				}
			}
		}
	}
}

// =============================================================================
// WHOLE RUN
// =============================================================================

func TestAllocateAll_RosterOrderAndWeeks(t *testing.T) {
	ana := emp("Ana Ruiz", payroll.TypeA)
	bo := emp("Bo Lee", payroll.TypeB)
	recs := append(days(bo, "8"), days(ana, "8", "8")...)
	nextWeek := days(ana, "5")
	nextWeek[0].Date = week.Start.AddDays(7)
	recs = append(recs, nextWeek...)
	stray := days(emp("Nobody", payroll.TypeA), "9")
	stray[0].Matched = false
	recs = append(recs, stray...)

	out, err := engine().AllocateAll([]payroll.Employee{ana, bo}, recs, payroll.OverrideSet{})

	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "Ana Ruiz", out[0].Employee)
	assert.Equal(t, "16", out[0].Regular.String())
	assert.Equal(t, "2025-03-13", out[1].Week.Start.String())
	assert.Equal(t, "Bo Lee", out[2].Employee)
	assert.Len(t, engine().Weeks(recs), 2)
}

func TestAllocateAll_CollectsEveryViolation(t *testing.T) {
	ana := emp("Ana Ruiz", payroll.TypeA)
	bo := emp("Bo Lee", payroll.TypeB)
	recs := append(days(ana, "17"), days(bo, "8", "20")...)

	out, err := engine().AllocateAll([]payroll.Employee{ana, bo}, recs, payroll.OverrideSet{})

	var sf *payroll.SanityCheckFailure
	require.ErrorAs(t, err, &sf)
	assert.Len(t, sf.Violations, 2)
	assert.Nil(t, out)
}

func TestAllocate_RejectsMissingType(t *testing.T) {
	e := emp("Ana Ruiz", "")
	_, err := engine().Allocate(e, week, days(e, "8"), payroll.OverrideSet{})
	assert.ErrorIs(t, err, payroll.ErrValidation)
}
