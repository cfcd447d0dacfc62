// Package phonetic repairs case vocabulary in dictated text.
//
// Speech recognition regularly mangles the proper nouns of a case file: the
// defendant's surname, the name of a witness, a street. A [Vocabulary] holds
// those terms and a [Matcher] replaces phrases that sound like them.
//
// A phrase matches a term of the same word count when every word pair either
// shares a Double Metaphone code or is Jaro-Winkler similar above the fuzzy
// threshold. Candidates are then ranked by Jaro-Winkler similarity of the
// whole phrase. Comparison is case- and accent-insensitive.
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/juicio/internal/court"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum phrase similarity accepted when every
// word pair shares a phonetic code. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum similarity for word pairs without a
// shared phonetic code, and for phrases that are not fully phonetic matches.
// Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Correction records one substitution made by [Matcher.Correct].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

type term struct {
	display string
	key     string
	words   []string
	codes   []map[string]struct{}
}

// Vocabulary is a prepared set of case terms. It is immutable.
type Vocabulary struct {
	terms    []term
	maxWords int
}

// NewVocabulary prepares terms for matching. Blank and duplicate terms are
// ignored.
func NewVocabulary(terms ...string) *Vocabulary {
	v := &Vocabulary{}
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		key := court.Fold(t)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		words := strings.Fields(key)
		codes := make([]map[string]struct{}, len(words))
		for i, w := range words {
			codes[i] = codesFor(w)
		}
		v.terms = append(v.terms, term{
			display: strings.Join(strings.Fields(t), " "),
			key:     key,
			words:   words,
			codes:   codes,
		})
		v.maxWords = max(v.maxWords, len(words))
	}
	return v
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.terms)
}

// Terms returns the display form of every term.
func (v *Vocabulary) Terms() []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v.terms))
	for i, t := range v.terms {
		out[i] = t.display
	}
	return out
}

// Match finds the term most similar to phrase. When matched is false,
// corrected equals phrase and confidence is 0.
func (m *Matcher) Match(phrase string, v *Vocabulary) (corrected string, confidence float64, matched bool) {
	if v.Len() == 0 {
		return phrase, 0, false
	}
	key := court.Fold(phrase)
	if key == "" {
		return phrase, 0, false
	}
	words := strings.Fields(key)

	var best *term
	var bestScore float64
	for i := range v.terms {
		t := &v.terms[i]
		if len(t.words) != len(words) {
			continue
		}
		phonetic, ok := m.alignWords(words, t)
		if !ok {
			continue
		}
		score := matchr.JaroWinkler(key, t.key, false)
		threshold := m.fuzzyThreshold
		if phonetic {
			threshold = m.phoneticThreshold
		}
		if score >= threshold && score > bestScore {
			best, bestScore = t, score
		}
	}
	if best == nil {
		return phrase, 0, false
	}
	return best.display, bestScore, true
}

// alignWords reports whether every word pair matches, and whether all of them
// matched phonetically.
func (m *Matcher) alignWords(words []string, t *term) (phonetic, ok bool) {
	phonetic = true
	for i, w := range words {
		if codesOverlap(codesFor(w), t.codes[i]) {
			continue
		}
		phonetic = false
		if matchr.JaroWinkler(w, t.words[i], false) < m.fuzzyThreshold {
			return false, false
		}
	}
	return phonetic, true
}

// Correct replaces every phrase of text that matches a term with the term's
// display form. Longer phrases win over shorter ones starting at the same
// word. Leading and trailing punctuation around a phrase is preserved; words
// are rejoined with single spaces.
func (m *Matcher) Correct(text string, v *Vocabulary) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || v.Len() == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n, replacement, corr, ok := m.correctAt(tokens[i:], v)
		if !ok {
			out = append(out, tokens[i])
			i++
			continue
		}
		out = append(out, replacement)
		if corr != nil {
			corrections = append(corrections, *corr)
		}
		i += n
	}
	return strings.Join(out, " "), corrections
}

// correctAt tries the longest window first. A window that already spells a
// term exactly is consumed without a correction.
func (m *Matcher) correctAt(tokens []string, v *Vocabulary) (int, string, *Correction, bool) {
	for n := min(v.maxWords, len(tokens)); n >= 1; n-- {
		window := tokens[:n]
		lead, first, _ := splitPunct(window[0])
		_, last, trail := splitPunct(window[n-1])
		if first == "" || last == "" {
			continue
		}
		words := make([]string, n)
		copy(words, window)
		words[0], words[n-1] = first, last
		if hasInnerPunct(words) {
			continue
		}
		phrase := strings.Join(words, " ")
		corrected, conf, ok := m.Match(phrase, v)
		if !ok {
			continue
		}
		replacement := lead + corrected + trail
		if phrase == corrected {
			return n, replacement, nil, true
		}
		return n, replacement, &Correction{Original: phrase, Corrected: corrected, Confidence: conf}, true
	}
	return 0, "", nil, false
}

// splitPunct separates leading and trailing punctuation ("¿", ",", ".") from
// the word core.
func splitPunct(tok string) (lead, core, trail string) {
	core = strings.TrimLeftFunc(tok, unicode.IsPunct)
	lead = tok[:len(tok)-len(core)]
	trimmed := strings.TrimRightFunc(core, unicode.IsPunct)
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}

func hasInnerPunct(words []string) bool {
	for _, w := range words {
		if strings.IndexFunc(w, unicode.IsPunct) >= 0 {
			return true
		}
	}
	return false
}

// codesFor returns the non-empty Double Metaphone codes of word.
func codesFor(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(strings.ToLower(word))
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

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
