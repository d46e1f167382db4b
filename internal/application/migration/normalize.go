package migration

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field length limits imposed by the target platform's contact schema.
const (
	maxAddressLen    = 120
	maxCityLen       = 60
	maxPostalCodeLen = 15
	maxProvinceLen   = 60
)

var asciiFolder = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// foldASCII decomposes accented characters, strips the combining marks and
// drops whatever non-ASCII runes remain. The target platform mangles
// anything outside ASCII in contact fields.
func foldASCII(s string) string {
	folded, _, err := transform.String(asciiFolder, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// collapseSpaces trims and squeezes runs of whitespace to single spaces.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// sanitizeField folds, collapses and truncates one contact field. A max of
// 0 means unlimited.
func sanitizeField(s string, max int) string {
	s = collapseSpaces(foldASCII(s))
	if max > 0 && len(s) > max {
		s = strings.TrimSpace(s[:max])
	}
	return s
}

// countryCode reduces a country value to its two-letter upper-case form.
func countryCode(s string) string {
	s = sanitizeField(s, 0)
	if len(s) > 2 {
		s = s[:2]
	}
	return strings.ToUpper(s)
}
