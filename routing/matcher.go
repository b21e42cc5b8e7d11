// Package routing decides which backend, if any, should handle a query.
//
// The decision contract is deliberately small: Match is a pure function
// of the query and a registry snapshot. The keyword matcher below can
// be swapped for a learned classifier or an LLM call behind the same
// interface without touching the relay engine.
package routing

import (
	"strings"
	"unicode"

	"github.com/agentrelay/agentrelay/registry"
)

// Decision is the outcome of a routing decision: delegate to one
// backend, or handle the query locally.
type Decision struct {
	// BackendID is the chosen backend; empty means handle locally.
	BackendID string
}

// Local reports whether the query should be handled locally.
func (d Decision) Local() bool {
	return d.BackendID == ""
}

// Matcher decides the destination of a query. Implementations must be
// deterministic: the same query and snapshot always yield the same
// decision.
type Matcher interface {
	Match(query string, snapshot []registry.Descriptor) Decision
}

// KeywordMatcher routes by keyword containment over each backend's
// declared skill tags and examples. Backends are tested in registration
// order and the first hit wins; no scoring, no ties. Tags must match as
// whole words (or whole phrases for multi-word tags) to limit the
// accidental-substring false positives the naive approach suffers from.
type KeywordMatcher struct {
	// MinExampleTokenLen filters noise words out of example sentences.
	MinExampleTokenLen int
}

// NewKeywordMatcher returns a KeywordMatcher with default settings.
func NewKeywordMatcher() *KeywordMatcher {
	return &KeywordMatcher{MinExampleTokenLen: 4}
}

// Match implements Matcher. An empty query, or one that matches no
// backend's tags or example tokens, always routes locally.
func (m *KeywordMatcher) Match(query string, snapshot []registry.Descriptor) Decision {
	words := tokenize(query)
	if len(words) == 0 {
		return Decision{}
	}
	normalized := normalize(query)

	for _, d := range snapshot {
		if m.matches(normalized, words, d) {
			return Decision{BackendID: d.ID}
		}
	}
	return Decision{}
}

func (m *KeywordMatcher) matches(normalized string, words map[string]bool, d registry.Descriptor) bool {
	for _, skill := range d.Skills {
		for _, tag := range skill.Tags {
			if tagMatches(normalized, words, tag) {
				return true
			}
		}
		for _, example := range skill.Examples {
			for token := range tokenize(example) {
				if len(token) >= m.MinExampleTokenLen && !stopwords[token] && words[token] {
					return true
				}
			}
		}
	}
	return false
}

// tagMatches tests one declared tag against the query. Single-token
// tags must appear as a whole word; multi-token tags (including
// hyphenated ones) match as a whole phrase within the normalized query.
func tagMatches(normalized string, words map[string]bool, tag string) bool {
	t := normalize(tag)
	if t == "" {
		return false
	}
	if !strings.Contains(t, " ") {
		return words[t]
	}
	return strings.Contains(" "+normalized+" ", " "+t+" ")
}

// normalize lowercases and maps every non-alphanumeric rune to a space,
// so "vector-db" and "Vector DB" compare equal.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(normalize(s)) {
		out[w] = true
	}
	return out
}

// stopwords are example-sentence tokens too generic to route on. Tags
// are exempt: a backend that declares a tag gets matched on it as-is.
var stopwords = map[string]bool{
	"about":  true,
	"does":   true,
	"have":   true,
	"please": true,
	"should": true,
	"tell":   true,
	"this":   true,
	"what":   true,
	"when":   true,
	"where":  true,
	"which":  true,
	"with":   true,
	"would":  true,
	"your":   true,
}

var _ Matcher = (*KeywordMatcher)(nil)
