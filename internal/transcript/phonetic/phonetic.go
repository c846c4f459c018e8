// Package phonetic restores vocabulary terms that speech recognition
// misheard, such as the agent's name, the company or product names.
//
// A [Matcher] is built once per vocabulary. Each term's Double Metaphone
// codes are precomputed; a spoken phrase matches a term when
//
//   - their codes overlap and their Jaro-Winkler similarity reaches the
//     phonetic threshold (default 0.80), or
//   - their similarity alone reaches the fuzzy threshold (default 0.88).
//
// Similarity is the better of the full-string and the space-stripped
// comparison, so "fiber max" matches "FiberMax" and "acmy telecom" matches
// "Acme Telecom". A phrase is only compared with terms whose word count
// differs by at most one.
//
// [Matcher.Correct] scans a transcript with word windows and replaces
// matches with the canonical spelling. A window spanning several words is
// only accepted when it scores higher than the same window without its
// first or last word, so neighbouring words are never swallowed.
package phonetic

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.88

	// minPhraseLen keeps short filler words like "a" or "um" from matching.
	minPhraseLen = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when the
// phonetic codes do not overlap. Default: 0.88.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// term is a vocabulary entry with its precomputed comparison forms.
type term struct {
	text   string
	lower  string
	concat string
	words  int
	codes  map[string]struct{}
}

// Matcher corrects transcripts against a fixed vocabulary. It is read-only
// after construction and safe for concurrent use.
type Matcher struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] for vocabulary. Blank entries are ignored.
func New(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, v := range vocabulary {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		lower := strings.ToLower(v)
		tokens := strings.Fields(lower)
		m.terms = append(m.terms, term{
			text:   v,
			lower:  lower,
			concat: strings.Join(tokens, ""),
			words:  len(tokens),
			codes:  codesForTokens(tokens),
		})
		m.maxWords = max(m.maxWords, len(tokens))
	}
	return m
}

// Len returns the number of vocabulary terms.
func (m *Matcher) Len() int { return len(m.terms) }

// Match returns the vocabulary term phrase most likely stands for.
// When matched is false, corrected equals phrase and confidence is 0.
func (m *Matcher) Match(phrase string) (corrected string, confidence float64, matched bool) {
	t, score, ok := m.best(phrase, true)
	if !ok {
		return phrase, 0, false
	}
	return t.text, score, true
}

// best returns the highest scoring term for phrase. With gate set, only
// terms passing the thresholds are considered.
func (m *Matcher) best(phrase string, gate bool) (term, float64, bool) {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	tokens := strings.Fields(lower)
	concat := strings.Join(tokens, "")
	if len(concat) < minPhraseLen {
		return term{}, 0, false
	}

	var codes map[string]struct{}
	var (
		bestTerm  term
		bestScore float64
		found     bool
	)
	for _, t := range m.terms {
		if d := len(tokens) - t.words; d < -1 || d > 1 {
			continue
		}
		score := matchr.JaroWinkler(lower, t.lower, false)
		if s := matchr.JaroWinkler(concat, t.concat, false); s > score {
			score = s
		}
		if gate && score < m.fuzzyThreshold {
			if score < m.phoneticThreshold {
				continue
			}
			if codes == nil {
				codes = codesForTokens(tokens)
			}
			if !codesOverlap(codes, t.codes) {
				continue
			}
		}
		if !found || score > bestScore {
			bestTerm, bestScore, found = t, score, true
		}
	}
	return bestTerm, bestScore, found
}

// Correct implements call.Corrector. It never fails; ctx is unused because
// matching is in-process.
func (m *Matcher) Correct(_ context.Context, text string) (string, error) {
	if len(m.terms) == 0 {
		return text, nil
	}
	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	for i := 0; i < len(words); {
		n, replacement := m.matchAt(words[i:])
		if n == 0 {
			out = append(out, words[i])
			i++
			continue
		}
		if orig := strings.Join(words[i:i+n], " "); orig != replacement {
			slog.Debug("transcript corrected", "original", orig, "corrected", replacement)
		}
		out = append(out, replacement)
		i += n
	}
	return strings.Join(out, " "), nil
}

// matchAt tries windows starting at words[0], longest first, and returns
// the number of words consumed and their replacement. n is 0 on no match.
func (m *Matcher) matchAt(words []string) (n int, replacement string) {
	maxN := min(m.maxWords+1, len(words))
	for n := maxN; n >= 1; n-- {
		parts := make([]token, n)
		for j := range parts {
			parts[j] = split(words[j])
		}
		if !contiguous(parts) {
			continue
		}
		cores := make([]string, n)
		for j, p := range parts {
			cores[j] = p.core
		}
		t, score, ok := m.best(strings.Join(cores, " "), true)
		if !ok {
			continue
		}
		if n > 1 && (m.rawScore(cores[1:]) >= score || m.rawScore(cores[:n-1]) >= score) {
			continue
		}
		return n, parts[0].lead + t.text + parts[n-1].trail
	}
	return 0, ""
}

func (m *Matcher) rawScore(cores []string) float64 {
	_, s, _ := m.best(strings.Join(cores, " "), false)
	return s
}

// token is a word split into surrounding punctuation and its core.
type token struct {
	lead, core, trail string
}

func split(word string) token {
	isPunct := func(r rune) bool { return r != '\'' && unicode.IsPunct(r) }
	core := strings.TrimLeftFunc(word, isPunct)
	lead := word[:len(word)-len(core)]
	trimmed := strings.TrimRightFunc(core, isPunct)
	return token{lead: lead, core: trimmed, trail: core[len(trimmed):]}
}

// contiguous reports whether a window stays within one clause: only the
// first word may carry leading and only the last trailing punctuation.
func contiguous(parts []token) bool {
	for j, p := range parts {
		if j > 0 && p.lead != "" {
			return false
		}
		if j < len(parts)-1 && p.trail != "" {
			return false
		}
	}
	return true
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
