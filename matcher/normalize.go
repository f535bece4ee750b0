package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// honorifics are dropped wherever they appear as a whole token.
var honorifics = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "miss": {}, "dr": {},
	"jr": {}, "sr": {}, "ii": {}, "iii": {}, "iv": {},
}

// Normalize folds a person's name to the form used for comparison:
// accents removed, lowercase, "Last, First" reordered, apostrophes dropped,
// other punctuation turned into spaces, honorifics removed and whitespace
// collapsed.
//
//	Normalize("  SMITH, José Jr. ") == "jose smith"
//	Normalize("O'Brien-Diaz, Mary") == "mary obrien diaz"
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if last, first, ok := strings.Cut(name, ","); ok && strings.TrimSpace(first) != "" {
		name = strings.TrimSpace(first) + " " + strings.TrimSpace(last)
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range norm.NFD.String(name) {
		switch {
		case unicode.In(r, unicode.Mn):
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	kept := tokens[:0]
	for _, tok := range tokens {
		if _, ok := honorifics[tok]; ok {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// firstLast splits a normalized name into its first and last tokens. A single
// token is both.
func firstLast(normalized string) (first, last string) {
	tokens := strings.Fields(normalized)
	if len(tokens) == 0 {
		return "", ""
	}
	return tokens[0], tokens[len(tokens)-1]
}
