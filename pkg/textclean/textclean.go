// Package textclean turns model output into plain text that a speech
// synthesizer can read aloud without pronouncing markup.
package textclean

import (
	"regexp"
	"strings"
)

// rule is one ordered rewrite step.
type rule struct {
	re   *regexp.Regexp
	repl string
}

// rules are applied in order, before whitespace is collapsed. Dash runs
// become a space, so "a -- b" ends up as "a b" rather than "a  b".
var rules = []rule{
	{regexp.MustCompile(`\*+`), ""},
	{regexp.MustCompile("[#_`]"), ""},
	{regexp.MustCompile(`-{2,}`), " "},
	{regexp.MustCompile(`\|`), " "},
}

// Sanitize strips markdown control characters and normalizes whitespace. It
// is pure, total and idempotent.
//
// Whitespace is anything [unicode.IsSpace] accepts, including \v, NBSP and
// U+2003; regexp's \s only covers ASCII.
func Sanitize(text string) string {
	for _, r := range rules {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return strings.Join(strings.Fields(text), " ")
}
