package voiceio

import (
	"regexp"
	"strings"
	"unicode"
)

var speakableRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`([^`]*)`"), "$1"},
	{regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
	{regexp.MustCompile(`(?m)^[ \t]*(?:[-*+]|\d+[.)])[ \t]+`), ""},
	{regexp.MustCompile(`(?m)^[ \t]*#+[ \t]*`), ""},
}

// Speakable strips markdown, links and emoji from an interviewer reply so a
// synthesizer reads only the words.
func Speakable(text string) string {
	for _, rule := range speakableRules {
		text = rule.re.ReplaceAllString(text, rule.repl)
	}

	var b strings.Builder
	b.Grow(len(text))
	space := true
	for _, r := range text {
		switch {
		case unicode.IsSpace(r) || strings.ContainsRune("*_~#|<>\\", r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		case unicode.IsControl(r) || unicode.In(r, unicode.Cf, unicode.Mn, unicode.So, unicode.Sm, unicode.Sk):
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}
