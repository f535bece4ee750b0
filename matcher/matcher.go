/*
Package matcher resolves employee names written inconsistently across
timesheets, bonus sheets and loan sheets to the canonical roster.

PURPOSE:
  Timesheets say "SMITH, JOHN", the roster says "John Smith", the bonus sheet
  says "Jon Smith". The matcher scores every source name against every roster
  name and decides, deterministically, whether to accept the best candidate.

KEY CONCEPTS:
  - Normalize: case, accents, punctuation, honorifics, "Last, First"
  - TokenSetRatio: order-insensitive similarity, symmetric, 0..100
  - Strict match: best full-name score >= strict threshold
  - Fallback match: last names agree >= fallback threshold; flagged for review
  - Conflicts: two different people claiming one employee; only the best
    keeps it. Spellings that normalize to the same name, or an alias for
    it, are the same person and all keep the match

DESIGN PRINCIPLES:
  1. Pure: no caches, no shared state; safe to call from parallel runs
  2. Deterministic: ties break on first-name similarity, then roster order
  3. Never fails: problems surface as unmatched results for manual review
*/
package matcher

import (
	"sort"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/payroll"
)

// Matcher holds the thresholds for one kind of document pair.
type Matcher struct {
	Strict   int
	Fallback int

	// Aliases maps a source name to a roster name chosen by an operator.
	// Both sides are compared after Normalize.
	Aliases map[string]string

	logger *zap.Logger
}

// New returns a Matcher with the given thresholds.
func New(strict, fallback int) *Matcher {
	return &Matcher{Strict: strict, Fallback: fallback, logger: zap.NewNop()}
}

// WithLogger attaches a logger for fallback and conflict decisions.
func (m *Matcher) WithLogger(l *zap.Logger) *Matcher {
	if l != nil {
		m.logger = l
	}
	return m
}

// WithAliases attaches operator-confirmed name resolutions.
func (m *Matcher) WithAliases(aliases map[string]string) *Matcher {
	m.Aliases = make(map[string]string, len(aliases))
	for src, dst := range aliases {
		m.Aliases[Normalize(src)] = Normalize(dst)
	}
	return m
}

type candidate struct {
	full, first, last string
}

// Match returns one result per distinct source name, in first-seen order.
func (m *Matcher) Match(sources []string, roster []payroll.Employee) []payroll.MatchResult {
	cands := make([]candidate, len(roster))
	byName := make(map[string]int, len(roster))
	for i, e := range roster {
		full := Normalize(e.Name)
		first, last := firstLast(full)
		cands[i] = candidate{full: full, first: first, last: last}
		if _, dup := byName[full]; !dup {
			byName[full] = i
		}
	}

	seen := make(map[string]struct{}, len(sources))
	results := make([]payroll.MatchResult, 0, len(sources))
	people := make([]string, 0, len(sources))
	for _, src := range sources {
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		results = append(results, m.matchOne(src, roster, cands, byName))
		people = append(people, m.person(src))
	}

	m.resolveConflicts(results, people, roster)
	return results
}

// person is the identity a source name stands for: the alias target when an
// operator confirmed one, otherwise the normalized name.
func (m *Matcher) person(src string) string {
	norm := Normalize(src)
	if target, ok := m.Aliases[norm]; ok {
		return target
	}
	return norm
}

// MatchOne resolves a single name.
func (m *Matcher) MatchOne(source string, roster []payroll.Employee) payroll.MatchResult {
	res := m.Match([]string{source}, roster)
	return res[0]
}

func (m *Matcher) matchOne(src string, roster []payroll.Employee, cands []candidate, byName map[string]int) payroll.MatchResult {
	norm := Normalize(src)
	res := payroll.MatchResult{SourceName: src, Method: payroll.MatchUnmatched, RosterIndex: -1}
	if norm == "" || len(roster) == 0 {
		return res
	}

	if target, ok := m.Aliases[norm]; ok {
		if idx, ok := byName[target]; ok {
			res.Canonical = roster[idx].Name
			res.Score = 100
			res.Method = payroll.MatchStrict
			res.RosterIndex = idx
			return res
		}
	}

	srcFirst, srcLast := firstLast(norm)
	full := make([]int, len(cands))
	first := make([]int, len(cands))
	for i, c := range cands {
		full[i] = TokenSetRatio(norm, c.full)
		first[i] = nameRatio(srcFirst, c.first)
	}

	best := 0
	for i := 1; i < len(cands); i++ {
		if full[i] > full[best] || (full[i] == full[best] && first[i] > first[best]) {
			best = i
		}
	}
	res.Score = full[best]

	if full[best] >= m.Strict {
		res.Canonical = roster[best].Name
		res.Method = payroll.MatchStrict
		res.RosterIndex = best
		return res
	}

	lastBest, lastScore := -1, -1
	for i, c := range cands {
		s := nameRatio(srcLast, c.last)
		if lastBest < 0 || s > lastScore ||
			(s == lastScore && (full[i] > full[lastBest] ||
				(full[i] == full[lastBest] && first[i] > first[lastBest]))) {
			lastBest, lastScore = i, s
		}
	}
	if lastScore >= m.Fallback {
		res.Canonical = roster[lastBest].Name
		res.Score = full[lastBest]
		res.Method = payroll.MatchFallbackLastName
		res.NeedsReview = true
		res.RosterIndex = lastBest
		m.logger.Debug("fallback name match",
			zap.String("source", src),
			zap.String("canonical", res.Canonical),
			zap.Int("score", res.Score),
			zap.Int("last_name_score", lastScore))
	}
	return res
}

// resolveConflicts demotes every result that claims an employee already
// claimed by a better result for a different person. Strict beats fallback,
// then higher score, then earlier position. people[i] identifies results[i].
func (m *Matcher) resolveConflicts(results []payroll.MatchResult, people []string, roster []payroll.Employee) {
	winner := make(map[int]int)
	for i, r := range results {
		if !r.Matched() {
			continue
		}
		w, ok := winner[r.RosterIndex]
		if !ok || better(r, results[w]) {
			winner[r.RosterIndex] = i
		}
	}
	for i, r := range results {
		if !r.Matched() {
			continue
		}
		w := winner[r.RosterIndex]
		if w == i || people[w] == people[i] {
			continue
		}
		m.logger.Debug("name conflict",
			zap.String("source", r.SourceName),
			zap.String("winner", results[w].SourceName),
			zap.String("canonical", r.Canonical))
		results[i] = payroll.MatchResult{
			SourceName:  r.SourceName,
			Score:       r.Score,
			Method:      payroll.MatchUnmatched,
			NeedsReview: true,
			RosterIndex: -1,
			Ambiguity: &payroll.MatchAmbiguity{
				Candidate: roster[r.RosterIndex].Name,
				Winner:    results[w].SourceName,
				Reason:    "roster name already matched by a closer source name",
			},
		}
	}
}

func better(a, b payroll.MatchResult) bool {
	if a.Method != b.Method {
		return a.Method == payroll.MatchStrict
	}
	return a.Score > b.Score
}

// SortForReview orders results for display: strict matches, then fallback
// matches, then unmatched names; higher scores first, then by name.
func SortForReview(results []payroll.MatchResult) []payroll.MatchResult {
	out := append([]payroll.MatchResult(nil), results...)
	rank := map[payroll.MatchMethod]int{
		payroll.MatchStrict:           0,
		payroll.MatchFallbackLastName: 1,
		payroll.MatchUnmatched:        2,
	}
	sort.SliceStable(out, func(i, j int) bool {
		if rank[out[i].Method] != rank[out[j].Method] {
			return rank[out[i].Method] < rank[out[j].Method]
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SourceName < out[j].SourceName
	})
	return out
}

// Unmatched returns the source names that did not resolve, sorted.
func Unmatched(results []payroll.MatchResult) []string {
	var names []string
	for _, r := range results {
		if !r.Matched() {
			names = append(names, r.SourceName)
		}
	}
	sort.Strings(names)
	return names
}

// Index maps each matched source name to its roster position.
func Index(results []payroll.MatchResult) map[string]int {
	idx := make(map[string]int, len(results))
	for _, r := range results {
		if r.Matched() {
			idx[r.SourceName] = r.RosterIndex
		}
	}
	return idx
}
