package rounding

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/payroll"
)

func rounder(step string, mode config.RoundMode, special bool, threshold int) *Rounder {
	return New(config.RoundingSettings{RoundTo: decimal.RequireFromString(step), Mode: mode, SpecialRules: special, SpecialThresholdMinutes: threshold})
}

func TestRound_SpecialRuleFires(t *testing.T) {
	// GIVEN 8h25m (8.42) with round_to 0.5, nearest, special rule at 25 minutes
	r := rounder("0.5", config.RoundNearest, true, 25)

	// WHEN rounding
	got := r.Round(payroll.MustDecimal("8.42"))

	// THEN the special window floors to 8.0 instead of rounding to 8.5
	assert.True(t, got.Equal(payroll.MustDecimal("8")), "got %s", got)
	assert.True(t, r.SpecialApplies(payroll.MustDecimal("8.42")))
}

func TestRound_OutsideSpecialWindow(t *testing.T) {
	r := rounder("0.5", config.RoundNearest, true, 25)

	// 8:26 is past the window; nearest gives 8.5
	got := r.Round(payroll.MustDecimal("8").Add(payroll.MustDecimal("26").Div(decimal.NewFromInt(60))))
	assert.True(t, got.Equal(payroll.MustDecimal("8.5")), "got %s", got)

	// 8:50 rounds up to 9
	got = r.Round(payroll.MustDecimal("8").Add(payroll.MustDecimal("50").Div(decimal.NewFromInt(60))))
	assert.True(t, got.Equal(payroll.MustDecimal("9")), "got %s", got)
}

func TestRound_SpecialRuleUsesWholeMinutes(t *testing.T) {
	// 7.999 hours is 480 minutes once rounded to the minute: exactly 8:00
	r := rounder("0.5", config.RoundNearest, true, 25)
	assert.True(t, r.Round(payroll.MustDecimal("7.999")).Equal(payroll.MustDecimal("8")))
}

func TestRound_SpecialRuleBeatsUpMode(t *testing.T) {
	r := rounder("0.5", config.RoundUp, true, 25)
	assert.True(t, r.Round(payroll.MustDecimal("8.1")).Equal(payroll.MustDecimal("8")))
}

func TestRound_Modes(t *testing.T) {
	tests := []struct {
		name string
		step string
		mode config.RoundMode
		in   string
		want string
	}{
		{"nearest half-up tie", "0.5", config.RoundNearest, "8.25", "8.5"},
		{"nearest below tie", "0.5", config.RoundNearest, "8.24", "8"},
		{"up", "0.5", config.RoundUp, "8.01", "8.5"},
		{"down", "0.5", config.RoundDown, "8.99", "8.5"},
		{"quarter nearest", "0.25", config.RoundNearest, "7.6", "7.5"},
		{"quarter tie", "0.25", config.RoundNearest, "7.625", "7.75"},
		{"whole", "1", config.RoundNearest, "7.5", "8"},
		{"zero", "0.5", config.RoundNearest, "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rounder(tt.step, tt.mode, false, 0).Round(payroll.MustDecimal(tt.in))
			assert.True(t, got.Equal(payroll.MustDecimal(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestRound_QuarterStepSpecialFloorsToQuarter(t *testing.T) {
	// 8:20 inside the window floors to the enclosing quarter, 8.25
	r := rounder("0.25", config.RoundNearest, true, 25)
	raw := payroll.MustDecimal("8").Add(payroll.MustDecimal("20").Div(decimal.NewFromInt(60)))
	assert.True(t, r.Round(raw).Equal(payroll.MustDecimal("8.25")))
}

func TestRound_AlwaysMultipleOfStep(t *testing.T) {
	for _, step := range []string{"0.25", "0.5", "1"} {
		for _, mode := range []config.RoundMode{config.RoundNearest, config.RoundUp, config.RoundDown} {
			for _, special := range []bool{false, true} {
				r := rounder(step, mode, special, 25)
				stepDec := decimal.RequireFromString(step)
				for cents := int64(0); cents <= 1600; cents += 7 {
					raw := decimal.New(cents, -2)
					got := r.Round(raw)
					assert.True(t, got.Mod(stepDec).IsZero(),
						"step=%v mode=%s special=%v raw=%s got=%s", step, mode, special, raw, got)
				}
			}
		}
	}
}

func TestRound_Deterministic(t *testing.T) {
	r := rounder("0.5", config.RoundNearest, true, 25)
	raw := payroll.MustDecimal("9.3777")
	first := r.Round(raw)
	for i := 0; i < 10; i++ {
		assert.True(t, first.Equal(r.Round(raw)))
	}
}
