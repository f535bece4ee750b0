// Package rounding converts raw daily hours into payable hours.
//
// Standard rounding snaps to the round_to grid (nearest is half-up, up is
// ceiling, down is floor). When special rules are on, a day whose minutes
// past the hour fall within [0, threshold] is floored to the grid instead,
// whatever the mode: 8:25 with a 25 minute threshold pays 8.0, not 8.5.
package rounding

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/config"
)

var minutesPerHour = decimal.NewFromInt(60)

type Rounder struct {
	step      decimal.Decimal
	mode      config.RoundMode
	special   bool
	threshold int64
}

func New(cfg config.RoundingSettings) *Rounder {
	return &Rounder{
		step:      cfg.RoundTo,
		mode:      cfg.Mode,
		special:   cfg.SpecialRules,
		threshold: int64(cfg.SpecialThresholdMinutes),
	}
}

// Step is the rounding granularity in hours.
func (r *Rounder) Step() decimal.Decimal { return r.step }

// Round returns raw snapped to the grid. raw must not be negative.
func (r *Rounder) Round(raw decimal.Decimal) decimal.Decimal {
	if r.special {
		minutes := raw.Mul(minutesPerHour).Round(0)
		past := minutes.IntPart() % 60
		if past <= r.threshold {
			stepMinutes := r.step.Mul(minutesPerHour)
			return minutes.Div(stepMinutes).Floor().Mul(r.step)
		}
	}
	return r.snap(raw)
}

// SpecialApplies reports whether the special window decided the result for
// raw. Used to annotate the preview.
func (r *Rounder) SpecialApplies(raw decimal.Decimal) bool {
	if !r.special {
		return false
	}
	past := raw.Mul(minutesPerHour).Round(0).IntPart() % 60
	return past <= r.threshold
}

// Snap rounds v to the grid using the configured mode, ignoring special
// rules. Suggested deductions use it.
func (r *Rounder) Snap(v decimal.Decimal) decimal.Decimal { return r.snap(v) }

func (r *Rounder) snap(v decimal.Decimal) decimal.Decimal {
	q := v.Div(r.step)
	switch r.mode {
	case config.RoundUp:
		q = q.Ceil()
	case config.RoundDown:
		q = q.Floor()
	default:
		q = q.Round(0)
	}
	return q.Mul(r.step)
}
