package payroll

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// DAY - Calendar date without time of day
// =============================================================================

// Day is a calendar date in UTC. Timesheets never carry a meaningful time of
// day, so every Day is normalized to midnight.
type Day struct {
	time.Time
}

// NewDay returns the Day for year/month/day.
func NewDay(year int, month time.Month, day int) Day {
	return Day{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates t to its calendar date.
func DayOf(t time.Time) Day {
	return NewDay(t.Year(), t.Month(), t.Day())
}

// ParseDay parses an ISO yyyy-mm-dd date.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DayOf(t), nil
}

// MustParseDay is ParseDay for literals in tests and fixtures.
func MustParseDay(s string) Day {
	d, err := ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Day) Before(other Day) bool { return d.Time.Before(other.Time) }
func (d Day) After(other Day) bool  { return d.Time.After(other.Time) }
func (d Day) Equal(other Day) bool  { return d.Time.Equal(other.Time) }

// Arithmetic
func (d Day) AddDays(n int) Day { return Day{Time: d.Time.AddDate(0, 0, n)} }

// Properties
func (d Day) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
func (d Day) IsWeekday() bool { return !d.IsWeekend() }

func (d Day) String() string { return d.Time.Format("2006-01-02") }

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Day) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// WEEK - Pay week anchored on a configurable start weekday
// =============================================================================

// Week is the 7-day pay period starting at Start (inclusive).
type Week struct {
	Start Day `json:"start"`
}

// WeekContaining returns the week that contains d when pay weeks begin on
// startDay.
func WeekContaining(d Day, startDay time.Weekday) Week {
	offset := (int(d.Weekday()) - int(startDay) + 7) % 7
	return Week{Start: d.AddDays(-offset)}
}

// End returns the last day of the week (inclusive).
func (w Week) End() Day { return w.Start.AddDays(6) }

// Contains reports whether d falls inside the week.
func (w Week) Contains(d Day) bool {
	return !d.Before(w.Start) && !d.After(w.End())
}

// Days returns the seven dates of the week in order.
func (w Week) Days() []Day {
	days := make([]Day, 7)
	for i := range days {
		days[i] = w.Start.AddDays(i)
	}
	return days
}

func (w Week) String() string { return w.Start.String() + ".." + w.End().String() }

// DateRange is the inclusive span of dates seen in one run.
type DateRange struct {
	From Day `json:"from"`
	To   Day `json:"to"`
}

// IsZero reports whether the range was never extended.
func (r DateRange) IsZero() bool { return r.From.IsZero() }

// Extend widens the range to include d.
func (r DateRange) Extend(d Day) DateRange {
	if r.IsZero() {
		return DateRange{From: d, To: d}
	}
	if d.Before(r.From) {
		r.From = d
	}
	if d.After(r.To) {
		r.To = d
	}
	return r
}
