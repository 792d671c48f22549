// Package phonetic ranks catalog names against a spoken or typed product
// query.
//
// Speech recognisers routinely mangle figure names ("na ru to", "goh coo"),
// and the pattern extractor may capture trailing fragments ("Goku m"). A
// plain substring search misses those, so names are scored in two stages:
//
//  1. Double Metaphone codes are computed for every query token and every
//     name token. A name sharing any code with the query is a phonetic
//     candidate and is accepted when its Jaro-Winkler score reaches the
//     phonetic threshold (default 0.70).
//
//  2. Names without phonetic overlap are accepted only when their
//     Jaro-Winkler score reaches the stricter fuzzy threshold (default 0.85).
//
// Inputs are expected to be folded (lower case, no diacritics) by the caller.
package phonetic

import (
	"cmp"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minTokenLen drops one and two letter fragments from the query; they
	// overlap phonetically with almost everything.
	minTokenLen = 3
)

// Option configures a [Ranker].
type Option func(*Ranker)

// WithPhoneticThreshold sets the minimum score for phonetic candidates.
func WithPhoneticThreshold(threshold float64) Option {
	return func(r *Ranker) { r.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum score for names without phonetic
// overlap.
func WithFuzzyThreshold(threshold float64) Option {
	return func(r *Ranker) { r.fuzzyThreshold = threshold }
}

// Ranker scores names against a query. It is read-only after construction
// and safe for concurrent use.
type Ranker struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Ranker with the given options applied.
func New(opts ...Option) *Ranker {
	r := &Ranker{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Match is one accepted name.
type Match struct {
	// Index is the position of the name in the slice passed to Rank.
	Index int
	Score float64
	// Phonetic reports whether the name shared a metaphone code with the
	// query.
	Phonetic bool
}

// Score returns the similarity of name to query and whether it passes the
// applicable threshold.
func (r *Ranker) Score(query, name string) (float64, bool) {
	qTokens := tokens(query)
	if len(qTokens) == 0 {
		return 0, false
	}
	m, ok := r.score(qTokens, codesFor(qTokens), name)
	return m.Score, ok
}

// Rank returns the accepted names ordered by descending score. Phonetic
// candidates sort ahead of fuzzy ones at equal score. Ties keep input order.
func (r *Ranker) Rank(query string, names []string) []Match {
	qTokens := tokens(query)
	if len(qTokens) == 0 || len(names) == 0 {
		return nil
	}
	qCodes := codesFor(qTokens)

	var out []Match
	for i, name := range names {
		m, ok := r.score(qTokens, qCodes, name)
		if !ok {
			continue
		}
		m.Index = i
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		switch {
		case a.Phonetic && !b.Phonetic:
			return -1
		case b.Phonetic && !a.Phonetic:
			return 1
		}
		return 0
	})
	return out
}

func (r *Ranker) score(qTokens []string, qCodes map[string]struct{}, name string) (Match, bool) {
	nTokens := strings.Fields(strings.ToLower(name))
	if len(nTokens) == 0 {
		return Match{}, false
	}
	s := bestScore(qTokens, nTokens)
	if overlaps(qCodes, codesFor(nTokens)) {
		return Match{Score: s, Phonetic: true}, s >= r.phoneticThreshold
	}
	return Match{Score: s}, s >= r.fuzzyThreshold
}

func tokens(s string) []string {
	var out []string
	for _, t := range strings.Fields(strings.ToLower(s)) {
		if len(t) >= minTokenLen {
			out = append(out, t)
		}
	}
	return out
}

func codesFor(tokens []string) map[string]struct{} {
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

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// bestScore takes the maximum Jaro-Winkler similarity over the joined
// strings, the space-stripped strings and every token pair.
func bestScore(q, n []string) float64 {
	score := matchr.JaroWinkler(strings.Join(q, " "), strings.Join(n, " "), false)
	if len(q) > 1 || len(n) > 1 {
		if s := matchr.JaroWinkler(strings.Join(q, ""), strings.Join(n, ""), false); s > score {
			score = s
		}
	}
	for _, a := range q {
		for _, b := range n {
			if s := matchr.JaroWinkler(a, b, false); s > score {
				score = s
			}
		}
	}
	return score
}
