// Package policy masks personal data before user text reaches the logs.
package policy

import (
	"regexp"
	"strings"
)

// Card numbers go before phones, which would otherwise match them.
var redactions = []struct {
	marker string
	re     *regexp.Regexp
}{
	{"[email]", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"[secret]", regexp.MustCompile(`\b(?:sk|pk|rk)[-_][A-Za-z0-9_\-]{16,}\b`)},
	{"[card]", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)},
	{"[phone]", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)},
}

// RedactPII replaces emails, API keys, card numbers and phone numbers with
// markers. changed reports whether anything was masked.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range redactions {
		out = r.re.ReplaceAllString(out, r.marker)
	}
	return out, out != input
}

// Preview returns a redacted single-line excerpt of at most max runes.
// Redaction runs first so a cut never exposes part of a match.
func Preview(input string, max int) string {
	out, _ := RedactPII(strings.Join(strings.Fields(input), " "))
	r := []rune(out)
	if max <= 0 || len(r) <= max {
		return out
	}
	return string(r[:max]) + "…"
}
