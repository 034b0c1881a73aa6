// Package blocklist matches free text against a curated term list. The list
// is loaded once at process start and never mutated afterwards; updating it
// means shipping a new list and restarting the process.
package blocklist

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// Result is the outcome of evaluating one piece of text.
type Result struct {
	// Matched reports whether any blocklist entry was found.
	Matched bool

	// Terms lists every matched entry in normalized form, sorted and
	// deduplicated. The audit log records all of them, not just the first.
	Terms []string
}

// Matcher holds the compiled blocklist. Safe for concurrent use: all state is
// written during construction and read-only afterwards.
type Matcher struct {
	// words are single-word entries, matched on word boundaries.
	words map[string]struct{}

	// phrases are multi-word entries, matched by substring over the
	// normalized text.
	phrases []string
}

// New builds a Matcher from raw entries. Entries are normalized with the same
// function applied to evaluated text, so matching is case- and
// accent-insensitive by construction. Empty entries are dropped.
func New(entries []string) *Matcher {
	m := &Matcher{words: make(map[string]struct{})}
	for _, entry := range entries {
		normalized := Normalize(entry)
		if normalized == "" {
			continue
		}
		if strings.ContainsRune(normalized, ' ') {
			m.phrases = append(m.phrases, normalized)
		} else {
			m.words[normalized] = struct{}{}
		}
	}
	sort.Strings(m.phrases)
	return m
}

// Load reads a blocklist file: one entry per line, blank lines and lines
// starting with '#' skipped. An empty path returns a disabled Matcher that
// matches nothing, mirroring how the rest of the system degrades when a
// moderation config is absent.
func Load(path string) (*Matcher, error) {
	if path == "" {
		log.Info().Msg("blocklist: no path configured, matcher disabled")
		return New(nil), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blocklist: %w", err)
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blocklist: %w", err)
	}

	m := New(entries)
	log.Info().Str("path", path).Int("entries", m.Len()).Msg("blocklist: loaded")
	return m, nil
}

// Len returns the number of compiled entries.
func (m *Matcher) Len() int {
	return len(m.words) + len(m.phrases)
}

// Evaluate checks text against the blocklist. Empty or whitespace-only text
// never matches. Single-word entries match only on word boundaries, so
// "class" does not trip an entry "ass"; evasions using leetspeak or short
// separator runs ("h4te", "h.a.t.e") are folded back before matching.
func (m *Matcher) Evaluate(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{}
	}

	normalized := Normalize(text)
	matched := make(map[string]struct{})

	// Word-boundary pass over the normalized text.
	for _, token := range tokenize(normalized) {
		if _, ok := m.words[token]; ok {
			matched[token] = struct{}{}
		}
	}

	// Separator-collapse pass catches spacing evasion. Collapsed tokens are
	// only compared for exact equality against single-word entries; substring
	// checks here would false-positive on glued-together legitimate words.
	for _, token := range tokenize(collapseSeparators(normalized)) {
		if _, ok := m.words[token]; ok {
			matched[token] = struct{}{}
		}
	}

	// Phrase pass: multi-word entries match as substrings of the normalized
	// text, which already has inner whitespace collapsed.
	for _, phrase := range m.phrases {
		if strings.Contains(normalized, phrase) {
			matched[phrase] = struct{}{}
		}
	}

	if len(matched) == 0 {
		return Result{}
	}

	terms := make([]string, 0, len(matched))
	for term := range matched {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return Result{Matched: true, Terms: terms}
}
