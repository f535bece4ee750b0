package matcher

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

// indel scores substitutions as a deletion plus an insertion, which turns
// the edit distance into len(a)+len(b)-2*LCS(a, b).
var indel = levenshtein.NewParams().SubCost(2)

// Ratio is the similarity of two strings in 0..100, rounded half-up.
// Two empty strings score 0.
func Ratio(a, b string) int {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 0
	}
	dist := levenshtein.Distance(a, b, indel)
	return (200*(total-dist) + total) / (2 * total)
}

// TokenSetRatio compares two names as sets of tokens, so word order and
// repeated tokens do not matter and a name contained in another scores
// high. Inputs are normalized first. The score is symmetric.
func TokenSetRatio(a, b string) int {
	ta := tokenSet(Normalize(a))
	tb := tokenSet(Normalize(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var common, onlyA, onlyB []string
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			common = append(common, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range tb {
		if _, ok := ta[tok]; !ok {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(common)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sect := strings.Join(common, " ")
	withA := strings.TrimSpace(sect + " " + strings.Join(onlyA, " "))
	withB := strings.TrimSpace(sect + " " + strings.Join(onlyB, " "))

	best := Ratio(withA, withB)
	if sect != "" {
		best = max(best, Ratio(sect, withA), Ratio(sect, withB))
	}
	return best
}

// nameRatio compares single normalized tokens, such as two last names.
func nameRatio(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	return Ratio(a, b)
}

func tokenSet(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		set[tok] = struct{}{}
	}
	return set
}
