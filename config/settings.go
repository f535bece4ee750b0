/*
Package config holds the typed settings of a payroll run and the application
configuration of the server and CLI.

PURPOSE:
  Settings is constructed once per run and passed by value through the
  pipeline. Every key has a default and a documented range; Validate rejects
  anything outside it. Unknown keys are rejected on every load path (viper
  and JSON import) rather than ignored.

KEY CONCEPTS:
  - Settings: rounding, hour caps, matching, flagging, bonuses, employee
    types, loans, input and output sections
  - Defaults(): the values a fresh installation starts with
  - Validate(): range checks returning *payroll.ValidationError

SEE ALSO:
  - load.go: viper loading from file and environment
  - json.go: JSON import/export validated by JSON Schema
*/
package config

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// SETTINGS
// =============================================================================

// Settings is the full set of business rules for a run.
type Settings struct {
	Rounding      RoundingSettings     `mapstructure:"rounding" json:"rounding"`
	HourCaps      HourCapSettings      `mapstructure:"hour_caps" json:"hour_caps"`
	Matching      MatchingSettings     `mapstructure:"matching" json:"matching"`
	Flagging      FlaggingSettings     `mapstructure:"flagging" json:"flagging"`
	Bonuses       BonusSettings        `mapstructure:"bonuses" json:"bonuses"`
	EmployeeTypes EmployeeTypeSettings `mapstructure:"employee_types" json:"employee_types"`
	Loans         LoanSettings         `mapstructure:"loans" json:"loans"`
	Input         InputSettings        `mapstructure:"input" json:"input"`
	Output        OutputSettings       `mapstructure:"output" json:"output"`
}

// RoundMode controls the direction of standard rounding.
type RoundMode string

const (
	RoundNearest RoundMode = "nearest"
	RoundUp      RoundMode = "up"
	RoundDown    RoundMode = "down"
)

type RoundingSettings struct {
	// RoundTo is the granularity in hours: 0.25, 0.5 or 1.0.
	RoundTo decimal.Decimal `mapstructure:"round_to" json:"round_to"`
	Mode    RoundMode       `mapstructure:"round_mode" json:"round_mode"`
	// SpecialRules floors any time within SpecialThresholdMinutes past the
	// hour down to the enclosing boundary.
	SpecialRules            bool `mapstructure:"special_rules" json:"special_rules"`
	SpecialThresholdMinutes int  `mapstructure:"special_threshold_minutes" json:"special_threshold_minutes"`
}

type HourCapSettings struct {
	DailyRegularCap    decimal.Decimal `mapstructure:"daily_regular_cap" json:"daily_regular_cap"`
	WeeklyOTThreshold  decimal.Decimal `mapstructure:"weekly_ot_threshold" json:"weekly_ot_threshold"`
	PayrollSickCeiling decimal.Decimal `mapstructure:"payroll_sick_ceiling" json:"payroll_sick_ceiling"`
	DailyMaxSanity     decimal.Decimal `mapstructure:"daily_max_sanity" json:"daily_max_sanity"`
	SickDayHours       decimal.Decimal `mapstructure:"sick_day_hours" json:"sick_day_hours"`
}

type MatchingSettings struct {
	StrictScore     int `mapstructure:"strict_score" json:"strict_score"`
	FallbackScore   int `mapstructure:"fallback_score" json:"fallback_score"`
	BonusMatchScore int `mapstructure:"bonus_match_score" json:"bonus_match_score"`
}

type FlaggingSettings struct {
	LongShiftHours     decimal.Decimal `mapstructure:"long_shift_hours" json:"long_shift_hours"`
	ShortWeekdayHours  decimal.Decimal `mapstructure:"short_weekday_hours" json:"short_weekday_hours"`
	SuggestLunchDeduct decimal.Decimal `mapstructure:"suggest_lunch_deduct" json:"suggest_lunch_deduct"`
}

type BonusSettings struct {
	ForemanEnabled     bool            `mapstructure:"foreman_enabled" json:"foreman_enabled"`
	TripleMultiplier   decimal.Decimal `mapstructure:"triple_multiplier" json:"triple_multiplier"`
	HalfMultiplier     decimal.Decimal `mapstructure:"half_multiplier" json:"half_multiplier"`
	StandardMultiplier decimal.Decimal `mapstructure:"standard_multiplier" json:"standard_multiplier"`
	UploadsMaxScore    int             `mapstructure:"uploads_max_score" json:"uploads_max_score"`
}

// OvertimeChannel selects where Type A overtime is paid.
type OvertimeChannel string

const (
	ChannelCash    OvertimeChannel = "cash"
	ChannelPayroll OvertimeChannel = "payroll"
)

type EmployeeTypeSettings struct {
	TypeCPayrollCap      decimal.Decimal `mapstructure:"type_c_payroll_cap" json:"type_c_payroll_cap"`
	TypeBWeeklyCap       decimal.Decimal `mapstructure:"type_b_weekly_cap" json:"type_b_weekly_cap"`
	TypeAOvertimeChannel OvertimeChannel `mapstructure:"type_a_overtime_channel" json:"type_a_overtime_channel"`
}

type LoanSettings struct {
	Enabled           bool `mapstructure:"enabled" json:"enabled"`
	AutoDeduct        bool `mapstructure:"auto_deduct" json:"auto_deduct"`
	PreventNegative   bool `mapstructure:"prevent_negative" json:"prevent_negative"`
	MovePaidToHistory bool `mapstructure:"move_paid_to_history" json:"move_paid_to_history"`
}

// DateOrder tells the timesheet reader how to read slash dates.
type DateOrder string

const (
	// DateOrderStrict rejects dates such as 03/04/2025 whose day and month
	// could be swapped.
	DateOrderStrict DateOrder = ""
	DateOrderMDY    DateOrder = "mdy"
	DateOrderDMY    DateOrder = "dmy"
)

type InputSettings struct {
	DateOrder DateOrder `mapstructure:"date_order" json:"date_order"`
	// WeekStart anchors wide weekly grids that carry no "Week of" line.
	// Empty, or an ISO date.
	WeekStart string `mapstructure:"week_start" json:"week_start"`
	// WeekStartDay is the weekday pay weeks begin on.
	WeekStartDay string `mapstructure:"week_start_day" json:"week_start_day"`
}

type OutputSettings struct {
	DateFormat    string `mapstructure:"date_format" json:"date_format"`
	CashPrefix    string `mapstructure:"cash_prefix" json:"cash_prefix"`
	PayrollPrefix string `mapstructure:"payroll_prefix" json:"payroll_prefix"`
	WeeklyPrefix  string `mapstructure:"weekly_prefix" json:"weekly_prefix"`
}

// Defaults returns the settings of a fresh installation.
func Defaults() Settings {
	return Settings{
		Rounding: RoundingSettings{
			RoundTo:                 decimal.RequireFromString("0.5"),
			Mode:                    RoundNearest,
			SpecialRules:            true,
			SpecialThresholdMinutes: 25,
		},
		HourCaps: HourCapSettings{
			DailyRegularCap:    decimal.NewFromInt(8),
			WeeklyOTThreshold:  decimal.NewFromInt(40),
			PayrollSickCeiling: decimal.NewFromInt(24),
			DailyMaxSanity:     decimal.NewFromInt(16),
			SickDayHours:       decimal.NewFromInt(8),
		},
		Matching: MatchingSettings{
			StrictScore:     92,
			FallbackScore:   85,
			BonusMatchScore: 90,
		},
		Flagging: FlaggingSettings{
			LongShiftHours:     decimal.NewFromInt(10),
			ShortWeekdayHours:  decimal.NewFromInt(2),
			SuggestLunchDeduct: decimal.RequireFromString("0.5"),
		},
		Bonuses: BonusSettings{
			ForemanEnabled:     true,
			TripleMultiplier:   decimal.NewFromInt(3),
			HalfMultiplier:     decimal.RequireFromString("0.5"),
			StandardMultiplier: decimal.NewFromInt(1),
			UploadsMaxScore:    10,
		},
		EmployeeTypes: EmployeeTypeSettings{
			TypeCPayrollCap:      decimal.NewFromInt(24),
			TypeBWeeklyCap:       decimal.NewFromInt(40),
			TypeAOvertimeChannel: ChannelCash,
		},
		Loans: LoanSettings{
			Enabled:           true,
			AutoDeduct:        true,
			PreventNegative:   true,
			MovePaidToHistory: true,
		},
		Input: InputSettings{
			DateOrder:    DateOrderStrict,
			WeekStartDay: "thursday",
		},
		Output: OutputSettings{
			DateFormat:    "01.02.06",
			CashPrefix:    "Cash_Filled_",
			PayrollPrefix: "Payroll_Filled_",
			WeeklyPrefix:  "Weekly_Updated_",
		},
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks every field against its documented range and returns the
// first violation found.
func (s Settings) Validate() error {
	checks := []func() error{
		func() error {
			for _, step := range roundSteps {
				if s.Rounding.RoundTo.Equal(step) {
					return nil
				}
			}
			return invalid("rounding.round_to", s.Rounding.RoundTo.String(), "must be one of 0.25, 0.5, 1.0")
		},
		func() error {
			switch s.Rounding.Mode {
			case RoundNearest, RoundUp, RoundDown:
				return nil
			}
			return invalid("rounding.round_mode", s.Rounding.Mode, "must be one of nearest, up, down")
		},
		func() error {
			return intRange("rounding.special_threshold_minutes", s.Rounding.SpecialThresholdMinutes, 0, 59)
		},
		func() error { return decRange("hour_caps.daily_regular_cap", s.HourCaps.DailyRegularCap, "1", "24") },
		func() error { return decRange("hour_caps.weekly_ot_threshold", s.HourCaps.WeeklyOTThreshold, "1", "168") },
		func() error { return decRange("hour_caps.payroll_sick_ceiling", s.HourCaps.PayrollSickCeiling, "0", "168") },
		func() error { return decRange("hour_caps.daily_max_sanity", s.HourCaps.DailyMaxSanity, "1", "24") },
		func() error { return decRange("hour_caps.sick_day_hours", s.HourCaps.SickDayHours, "0", "24") },
		func() error {
			if s.HourCaps.DailyMaxSanity.LessThan(s.HourCaps.DailyRegularCap) {
				return invalid("hour_caps.daily_max_sanity", s.HourCaps.DailyMaxSanity, "must not be below daily_regular_cap")
			}
			return nil
		},
		func() error { return intRange("matching.strict_score", s.Matching.StrictScore, 0, 100) },
		func() error { return intRange("matching.fallback_score", s.Matching.FallbackScore, 0, 100) },
		func() error { return intRange("matching.bonus_match_score", s.Matching.BonusMatchScore, 0, 100) },
		func() error { return decRange("flagging.long_shift_hours", s.Flagging.LongShiftHours, "0", "24") },
		func() error { return decRange("flagging.short_weekday_hours", s.Flagging.ShortWeekdayHours, "0", "24") },
		func() error { return decRange("flagging.suggest_lunch_deduct", s.Flagging.SuggestLunchDeduct, "0", "4") },
		func() error { return decRange("bonuses.triple_multiplier", s.Bonuses.TripleMultiplier, "0", "100") },
		func() error { return decRange("bonuses.half_multiplier", s.Bonuses.HalfMultiplier, "0", "100") },
		func() error { return decRange("bonuses.standard_multiplier", s.Bonuses.StandardMultiplier, "0", "100") },
		func() error { return intRange("bonuses.uploads_max_score", s.Bonuses.UploadsMaxScore, 1, 1000) },
		func() error { return decRange("employee_types.type_c_payroll_cap", s.EmployeeTypes.TypeCPayrollCap, "0", "168") },
		func() error { return decRange("employee_types.type_b_weekly_cap", s.EmployeeTypes.TypeBWeeklyCap, "0", "168") },
		func() error {
			switch s.EmployeeTypes.TypeAOvertimeChannel {
			case ChannelCash, ChannelPayroll:
				return nil
			}
			return invalid("employee_types.type_a_overtime_channel", s.EmployeeTypes.TypeAOvertimeChannel, "must be cash or payroll")
		},
		func() error {
			switch s.Input.DateOrder {
			case DateOrderStrict, DateOrderMDY, DateOrderDMY:
				return nil
			}
			return invalid("input.date_order", s.Input.DateOrder, `must be "", mdy or dmy`)
		},
		func() error {
			if s.Input.WeekStart == "" {
				return nil
			}
			if _, err := payroll.ParseDay(s.Input.WeekStart); err != nil {
				return invalid("input.week_start", s.Input.WeekStart, "must be an ISO date (yyyy-mm-dd)")
			}
			return nil
		},
		func() error {
			if _, ok := weekdays[s.Input.WeekStartDay]; !ok {
				return invalid("input.week_start_day", s.Input.WeekStartDay, "must be a lowercase weekday name")
			}
			return nil
		},
		func() error {
			if s.Output.DateFormat == "" {
				return invalid("output.date_format", s.Output.DateFormat, "must not be empty")
			}
			return nil
		},
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func invalid(field string, value any, reason string) error {
	return &payroll.ValidationError{Field: field, Value: value, Reason: reason}
}

func decRange(field string, v decimal.Decimal, lo, hi string) error {
	if v.LessThan(decimal.RequireFromString(lo)) || v.GreaterThan(decimal.RequireFromString(hi)) {
		return invalid(field, v.String(), rangeReason(lo, hi))
	}
	return nil
}

func intRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return invalid(field, v, rangeReason(decimal.NewFromInt(int64(lo)).String(), decimal.NewFromInt(int64(hi)).String()))
	}
	return nil
}

func rangeReason(lo, hi string) string {
	return "must be between " + lo + " and " + hi
}

var roundSteps = []decimal.Decimal{
	decimal.RequireFromString("0.25"),
	decimal.RequireFromString("0.5"),
	decimal.NewFromInt(1),
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// =============================================================================
// INPUT ACCESSORS
// =============================================================================

// WeekStartWeekday returns the configured first day of a pay week.
func (s InputSettings) WeekStartWeekday() time.Weekday {
	if wd, ok := weekdays[s.WeekStartDay]; ok {
		return wd
	}
	return time.Thursday
}

// WeekAnchor returns the configured wide-sheet anchor date, if any.
func (s InputSettings) WeekAnchor() (payroll.Day, bool) {
	if s.WeekStart == "" {
		return payroll.Day{}, false
	}
	d, err := payroll.ParseDay(s.WeekStart)
	if err != nil {
		return payroll.Day{}, false
	}
	return d, true
}
