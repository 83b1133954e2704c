// Package identity implements S3, the Identity Resolver: extract distinct
// buyer/supplier names, exact+fuzzy match into an org registry, and assign
// stable UUIDs back to standardized rows, per spec.md §4.3.
package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// suffixTokens is the closed set of company-suffix tokens stripped
// iteratively, longest match first, from a normalized name.
var suffixTokens = []string{
	"PRIVATE LIMITED", "PTY LTD", "PVT LTD",
	"LIMITED", "PRIVATE", "PVT", "LTD", "LLC", "INC", "CORP", "CO",
	"PLC", "GMBH", "SAS", "SA", "FZE", "PJSC", "BV", "AG", "NV", "KG", "SL", "SRL",
}

func init() {
	// Strip longest tokens first regardless of authoring order above.
	sortBySuffixLengthDesc(suffixTokens)
}

func sortBySuffixLengthDesc(tokens []string) {
	for i := 1; i < len(tokens); i++ {
		for j := i; j > 0 && len(tokens[j]) > len(tokens[j-1]); j-- {
			tokens[j], tokens[j-1] = tokens[j-1], tokens[j]
		}
	}
}

var punctToSpace = func(r rune) rune {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
		return r
	}
	return ' '
}

// stripCombiningMarks drops Unicode combining marks left behind after NFKD
// decomposition, so accented names fold to their base ASCII-ish letters.
var stripCombiningMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName implements spec.md §4.3 step 2: uppercase, NFKD decompose
// and strip combining marks, replace punctuation with space, collapse
// whitespace, then iteratively strip company-suffix tokens (longest match
// first). Idempotent: NormalizeName(NormalizeName(x)) == NormalizeName(x).
// Returns ok=false if the result collapses to empty.
func NormalizeName(raw string) (string, bool) {
	upper := strings.ToUpper(raw)

	decomposed, _, err := transform.String(stripCombiningMarks, upper)
	if err != nil {
		decomposed = upper
	}

	mapped := strings.Map(punctToSpace, decomposed)
	collapsed := strings.Join(strings.Fields(mapped), " ")

	stripped := stripSuffixes(collapsed)
	stripped = strings.TrimSpace(stripped)

	if stripped == "" {
		return "", false
	}
	return stripped, true
}

func stripSuffixes(name string) string {
	for {
		trimmed := strings.TrimSpace(name)
		changed := false
		for _, tok := range suffixTokens {
			if trimmed == tok {
				continue // don't erase a name that IS only the suffix
			}
			if strings.HasSuffix(trimmed, " "+tok) {
				trimmed = strings.TrimSuffix(trimmed, " "+tok)
				changed = true
				break
			}
		}
		if !changed {
			return trimmed
		}
		name = trimmed
	}
}
