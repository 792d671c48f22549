// Package pattern implements the regex-based intent classifier and entity
// extractor of the voice agent.
//
// Matching runs in up to two passes over the same [Table]. The first pass
// matches the patterns as written against the raw utterance. Only when the
// first pass finds nothing (no intent for [Matcher.Classify], no entities
// for [Matcher.Extract]) does a second pass run the diacritic-stripped
// patterns against the folded utterance. This recovers matches when a user
// types without Vietnamese accents, at the cost of per-language nuance.
//
// Classification never consults more than one intent at a time: intents are
// tried in the table's priority order and the first one with any matching
// pattern wins. A keyword backstop runs before declaring
// [types.IntentUnknown].
//
// A Matcher holds no mutable state and is safe for concurrent use.
package pattern

import (
	"regexp"
	"strings"

	"github.com/figuro/voice/pkg/types"
)

const (
	// EntityConfidence is assigned to every extracted entity. It is a fixed
	// constant, not a measure of match quality.
	EntityConfidence = 0.8

	// MaxEntities caps the entities returned per utterance.
	MaxEntities = 3
)

// Matcher classifies utterances and extracts entities using a compiled
// [Table].
type Matcher struct {
	table *Table
}

// NewMatcher returns a Matcher over table. A nil table selects the built-in
// storefront tables.
func NewMatcher(table *Table) *Matcher {
	if table == nil {
		table = MustDefaultTable()
	}
	return &Matcher{table: table}
}

// Classify returns the intent of text. It never returns an intent outside
// the closed set.
func (m *Matcher) Classify(text string) types.Intent {
	return m.classify(text, Fold(text))
}

// Extract returns the entities found in text, in extraction order,
// deduplicated by (type, value) and capped at [MaxEntities].
func (m *Matcher) Extract(text string) []types.Entity {
	return m.extract(text, Fold(text))
}

// Analyze runs [Matcher.Classify] and [Matcher.Extract] with a single
// folding of text.
func (m *Matcher) Analyze(text string) (types.Intent, []types.Entity) {
	folded := Fold(text)
	return m.classify(text, folded), m.extract(text, folded)
}

func (m *Matcher) classify(raw, folded string) types.Intent {
	if in, ok := m.matchIntent(raw, false); ok {
		return in
	}
	if in, ok := m.matchIntent(folded, true); ok {
		return in
	}
	for _, h := range m.table.heuristics {
		if h.re.MatchString(folded) {
			return h.intent
		}
	}
	return types.IntentUnknown
}

func (m *Matcher) matchIntent(text string, folded bool) (types.Intent, bool) {
	for _, ir := range m.table.intents {
		for _, r := range ir.rules {
			if pick(r, folded).MatchString(text) {
				return ir.intent, true
			}
		}
	}
	return "", false
}

func (m *Matcher) extract(raw, folded string) []types.Entity {
	if ents := m.extractPass(raw, false); len(ents) > 0 {
		return ents
	}
	return m.extractPass(folded, true)
}

func (m *Matcher) extractPass(text string, folded bool) []types.Entity {
	var out []types.Entity
	seen := make(map[[2]string]bool)

	for _, er := range m.table.entities {
		for _, r := range er.rules {
			re := pick(r, folded)
			for _, match := range re.FindAllStringSubmatch(text, -1) {
				value := match[0]
				if len(match) > 1 {
					value = match[1]
				}
				value = strings.TrimSpace(value)
				if value == "" {
					continue
				}
				key := [2]string{er.typ, value}
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, types.Entity{
					Type:       er.typ,
					Value:      value,
					Confidence: EntityConfidence,
				})
				if len(out) == MaxEntities {
					return out
				}
			}
		}
	}
	return out
}

func pick(r rule, folded bool) *regexp.Regexp {
	if folded {
		return r.folded
	}
	return r.raw
}
