package blocklist

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// leetRunes maps common character substitutions back to the letters they
// stand in for. Kept deliberately small: each entry must be an unambiguous
// evasion, not a legitimate spelling.
var leetRunes = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'$': 's',
	'@': 'a',
	'!': 'i',
}

// Normalize canonicalizes text for matching: lowercase, diacritics stripped,
// leetspeak substitutions folded back to letters, and runs of whitespace
// collapsed to a single space. It is deterministic and idempotent, which the
// audit log relies on: Normalize(Normalize(s)) == Normalize(s) for all s.
func Normalize(text string) string {
	// The transform chain must be constructed per call; norm transformers
	// carry state and are not safe for concurrent reuse.
	deaccent := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	lowered := strings.ToLower(text)
	stripped, _, err := transform.String(deaccent, lowered)
	if err != nil {
		// Malformed input falls back to the lowercased original; matching
		// still works for plain ASCII evasions.
		stripped = lowered
	}

	var b strings.Builder
	b.Grow(len(stripped))
	space := false
	for _, r := range stripped {
		if folded, ok := leetRunes[r]; ok {
			r = folded
		}
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			if b.Len() > 0 {
				b.WriteRune(' ')
			}
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// tokenize splits normalized text on every non-letter/digit rune. Tokens are
// the unit of word-boundary matching for single-word entries.
func tokenize(normalized string) []string {
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !isWordRune(r)
	})
}

// maxSeparatorRun bounds how many consecutive non-word runes may sit between
// letters and still be collapsed. Anything longer is treated as legitimate
// structure rather than spacing evasion.
const maxSeparatorRun = 2

// collapseSeparators removes short runs of separator characters that sit
// between word runes, turning "h.a.t.e" into "hate". Runs longer than
// maxSeparatorRun are kept as a single space so distinct words stay distinct.
func collapseSeparators(normalized string) string {
	var b strings.Builder
	b.Grow(len(normalized))

	rs := []rune(normalized)
	i := 0
	for i < len(rs) {
		r := rs[i]
		if isWordRune(r) {
			b.WriteRune(r)
			i++
			continue
		}
		// Measure the separator run.
		j := i
		for j < len(rs) && !isWordRune(rs[j]) {
			j++
		}
		runLen := j - i
		// Collapse only when the run is short and flanked by word runes.
		if runLen <= maxSeparatorRun && i > 0 && isWordRune(rs[i-1]) && j < len(rs) {
			i = j
			continue
		}
		b.WriteRune(' ')
		i = j
	}
	return b.String()
}
