package timesheet

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// DailyTotal is every entry for one source name on one date, summed. Sick
// entries are kept apart from worked time.
type DailyTotal struct {
	SourceName string
	Date       payroll.Day
	Sick       bool
	Hours      decimal.Decimal
	// Stints holds each entry's hours in file order.
	Stints []decimal.Decimal
}

// Aggregate groups entries by (source name, date, sick) and returns totals
// ordered by name, date, worked before sick.
func Aggregate(entries []payroll.RawTimeEntry) []DailyTotal {
	type key struct {
		name string
		date string
		sick bool
	}
	index := make(map[key]int)
	var out []DailyTotal
	for _, e := range entries {
		k := key{e.SourceName, e.Date.String(), e.Sick}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, DailyTotal{SourceName: e.SourceName, Date: e.Date, Sick: e.Sick})
		}
		out[i].Hours = out[i].Hours.Add(e.Hours)
		out[i].Stints = append(out[i].Stints, e.Hours)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SourceName != b.SourceName {
			return a.SourceName < b.SourceName
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return !a.Sick && b.Sick
	})
	return out
}

// SourceNames returns the distinct names in totals, in order of appearance.
func SourceNames(totals []DailyTotal) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, t := range totals {
		if _, ok := seen[t.SourceName]; ok {
			continue
		}
		seen[t.SourceName] = struct{}{}
		names = append(names, t.SourceName)
	}
	return names
}
