package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/payroll"
)

// assertSettings compares settings by their exported JSON so that equal
// decimals with different internal representations compare equal.
func assertSettings(t *testing.T, want, got Settings) {
	t.Helper()
	w, err := ToJSON(want)
	require.NoError(t, err)
	g, err := ToJSON(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(w), string(g))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDefaults_AreValid(t *testing.T) {
	require.NoError(t, Defaults().Validate())
	require.NoError(t, DefaultApp().Validate())
}

func TestValidate_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Settings)
		field  string
	}{
		{"round_to", func(s *Settings) { s.Rounding.RoundTo = dec("0.3") }, "rounding.round_to"},
		{"round_mode", func(s *Settings) { s.Rounding.Mode = "banker" }, "rounding.round_mode"},
		{"threshold", func(s *Settings) { s.Rounding.SpecialThresholdMinutes = 60 }, "rounding.special_threshold_minutes"},
		{"strict score", func(s *Settings) { s.Matching.StrictScore = 101 }, "matching.strict_score"},
		{"sanity below cap", func(s *Settings) { s.HourCaps.DailyMaxSanity = dec("6") }, "hour_caps.daily_max_sanity"},
		{"daily cap", func(s *Settings) { s.HourCaps.DailyRegularCap = dec("24.5") }, "hour_caps.daily_regular_cap"},
		{"multiplier", func(s *Settings) { s.Bonuses.HalfMultiplier = dec("-0.5") }, "bonuses.half_multiplier"},
		{"uploads max", func(s *Settings) { s.Bonuses.UploadsMaxScore = 0 }, "bonuses.uploads_max_score"},
		{"channel", func(s *Settings) { s.EmployeeTypes.TypeAOvertimeChannel = "check" }, "employee_types.type_a_overtime_channel"},
		{"date order", func(s *Settings) { s.Input.DateOrder = "ymd" }, "input.date_order"},
		{"week start", func(s *Settings) { s.Input.WeekStart = "03/06/2025" }, "input.week_start"},
		{"week start day", func(s *Settings) { s.Input.WeekStartDay = "Thu" }, "input.week_start_day"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(&s)

			err := s.Validate()

			var ve *payroll.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestFromJSON_PartialDocumentKeepsDefaults(t *testing.T) {
	s, err := FromJSON([]byte(`{"rounding": {"round_to": 0.25}, "loans": {"auto_deduct": false}}`))
	require.NoError(t, err)

	assert.Equal(t, "0.25", s.Rounding.RoundTo.String())
	assert.False(t, s.Loans.AutoDeduct)
	assert.Equal(t, RoundNearest, s.Rounding.Mode)
	assert.Equal(t, 92, s.Matching.StrictScore)
}

func TestFromJSON_RejectsUnknownKeys(t *testing.T) {
	_, err := FromJSON([]byte(`{"rounding": {"round_too": 0.25}}`))
	assert.ErrorIs(t, err, payroll.ErrValidation)

	_, err = FromJSON([]byte(`{"extras": {}}`))
	assert.ErrorIs(t, err, payroll.ErrValidation)
}

func TestFromJSON_RejectsBadEnum(t *testing.T) {
	_, err := FromJSON([]byte(`{"rounding": {"round_mode": "sideways"}}`))
	assert.ErrorIs(t, err, payroll.ErrValidation)
}

func TestJSON_ExportImport(t *testing.T) {
	orig := Defaults()
	orig.HourCaps.DailyMaxSanity = dec("14.5")
	orig.Matching.FallbackScore = 80

	data, err := ToJSON(orig)
	require.NoError(t, err)
	back, err := FromJSON(data)
	require.NoError(t, err)

	assertSettings(t, orig, back)
	assert.True(t, back.HourCaps.DailyMaxSanity.Equal(dec("14.5")))
}

func TestFromJSON_AcceptsNumbersAndDecimalStrings(t *testing.T) {
	s, err := FromJSON([]byte(`{"hour_caps": {"daily_regular_cap": 7.5, "weekly_ot_threshold": "37.5"}}`))
	require.NoError(t, err)

	assert.Equal(t, "7.5", s.HourCaps.DailyRegularCap.String())
	assert.Equal(t, "37.5", s.HourCaps.WeeklyOTThreshold.String())

	_, err = FromJSON([]byte(`{"hour_caps": {"daily_regular_cap": "eight"}}`))
	assert.ErrorIs(t, err, payroll.ErrValidation)
}

func TestLoad_FileAndEnv(t *testing.T) {
	// GIVEN a YAML file overriding one key and an env var overriding another
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rounding:\n  round_to: 1.0\nmatching:\n  strict_score: 95\nhour_caps:\n  daily_regular_cap: 7.5\n"), 0o600))
	t.Setenv("PAYROLL_MATCHING_STRICT_SCORE", "90")
	t.Setenv("PAYROLL_FLAGGING_SUGGEST_LUNCH_DEDUCT", "0.25")

	// WHEN loading
	s, err := Load(path)

	// THEN env wins over the file, the file wins over defaults
	require.NoError(t, err)
	assert.True(t, s.Rounding.RoundTo.Equal(dec("1")))
	assert.True(t, s.HourCaps.DailyRegularCap.Equal(dec("7.5")))
	assert.True(t, s.Flagging.SuggestLunchDeduct.Equal(dec("0.25")))
	assert.Equal(t, 90, s.Matching.StrictScore)
	assert.Equal(t, 85, s.Matching.FallbackScore)
}

func TestLoad_RejectsUnknownFileKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rounding:\n  roundto: 1.0\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_NoFile(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	assertSettings(t, Defaults(), s)
}

func TestLoadApp_Defaults(t *testing.T) {
	c, err := LoadApp("")
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, ":8080", c.Server.Addr())
	assert.Equal(t, "info", c.Log.Level)
}
