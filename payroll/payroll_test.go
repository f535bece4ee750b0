package payroll

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeekContaining_ThursdayStart(t *testing.T) {
	// GIVEN pay weeks that run Thursday through Wednesday
	// WHEN locating the week of Monday 2025-03-10
	w := WeekContaining(MustParseDay("2025-03-10"), time.Thursday)

	// THEN the week starts on Thursday 2025-03-06 and ends Wednesday 2025-03-12
	assert.Equal(t, "2025-03-06", w.Start.String())
	assert.Equal(t, "2025-03-12", w.End().String())
	assert.True(t, w.Contains(MustParseDay("2025-03-12")))
	assert.False(t, w.Contains(MustParseDay("2025-03-13")))
	assert.Len(t, w.Days(), 7)
}

func TestDateRange_Extend(t *testing.T) {
	var r DateRange
	assert.True(t, r.IsZero())

	r = r.Extend(MustParseDay("2025-03-05"))
	r = r.Extend(MustParseDay("2025-03-03"))
	r = r.Extend(MustParseDay("2025-03-07"))

	assert.Equal(t, "2025-03-03", r.From.String())
	assert.Equal(t, "2025-03-07", r.To.String())
}

func TestDay_JSONRoundTrip(t *testing.T) {
	d := MustParseDay("2025-01-31")
	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `"2025-01-31"`, string(data))

	var back Day
	require.NoError(t, back.UnmarshalJSON(data))
	assert.True(t, back.Equal(d))
}

func TestFormatError_CellReference(t *testing.T) {
	err := error(&FormatError{Source: "hours.xlsx", Row: 7, Column: "C", Value: "eight", Reason: "hours must be numeric"})

	assert.Equal(t, `hours.xlsx!C7: hours must be numeric ("eight")`, err.Error())
	assert.True(t, errors.Is(err, ErrFormat))
	assert.True(t, IsFatal(err))
	assert.True(t, IsClientError(err))

	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "C7", fe.Cell())
}

func TestSanityCheckFailure_ListsEveryViolation(t *testing.T) {
	err := error(&SanityCheckFailure{Violations: []SanityViolation{
		{Employee: "Ana Ruiz", Date: MustParseDay("2025-03-03"), Hours: MustDecimal("17"), Limit: MustDecimal("16")},
		{Employee: "Bo Lee", Date: MustParseDay("2025-03-04"), Hours: MustDecimal("18.5"), Limit: MustDecimal("16")},
	}})

	assert.True(t, errors.Is(err, ErrSanityCheck))
	assert.False(t, IsClientError(err))
	assert.Contains(t, err.Error(), "Ana Ruiz on 2025-03-03: 17 h > 16 h")
	assert.Contains(t, err.Error(), "Bo Lee on 2025-03-04: 18.5 h > 16 h")
}

func TestParseEmployeeType(t *testing.T) {
	tests := []struct {
		in      string
		want    EmployeeType
		wantErr bool
	}{
		{"a", TypeA, false},
		{" B ", TypeB, false},
		{"C", TypeC, false},
		{"D", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEmployeeType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOverrideSet_Allows(t *testing.T) {
	day := MustParseDay("2025-03-03")
	s := NewOverrideSet(SanityOverride{Employee: "Ana Ruiz", Date: day})

	assert.True(t, s.Allows("ana ruiz", day))
	assert.False(t, s.Allows("Ana Ruiz", day.AddDays(1)))
	assert.False(t, OverrideSet{}.Allows("Ana Ruiz", day))
	assert.True(t, OverrideSet{All: true}.Allows("anyone", day))
}

func TestWeeklyAllocation_Totals(t *testing.T) {
	a := WeeklyAllocation{
		Regular:      MustDecimal("24"),
		Sick:         MustDecimal("8"),
		CashRegular:  MustDecimal("10"),
		CashOvertime: MustDecimal("2.5"),
	}
	assert.Equal(t, "44.5", a.Total().String())
	assert.Equal(t, "32", a.PayrollHours().String())
	assert.Equal(t, "12.5", a.CashHours().String())
}
