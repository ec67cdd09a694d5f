package mockapi

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips combining marks so that accented and plain
// spellings compare equal ("Paracétamol" matches "paracetamol").
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lowercases s and removes diacritics for matching.
func fold(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// matches reports whether the folded query is a substring of any of
// the folded fields.
func matches(query string, fields ...string) bool {
	q := fold(query)
	if q == "" {
		return false
	}
	for _, f := range fields {
		if strings.Contains(fold(f), q) {
			return true
		}
	}
	return false
}
