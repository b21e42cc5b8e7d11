package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/agentrelay/agentrelay/a2a"
	"github.com/agentrelay/agentrelay/registry"
)

func testSnapshot() []registry.Descriptor {
	return []registry.Descriptor{
		{
			ID: "docsearch",
			Skills: []a2a.Skill{{
				ID:       "search",
				Name:     "Document Search",
				Tags:     []string{"rag", "search", "documents", "vector-db"},
				Examples: []string{"What does the documentation say about retrieval?"},
			}},
		},
		{
			ID: "imagecaption",
			Skills: []a2a.Skill{{
				ID:       "caption",
				Name:     "Image Captioning",
				Tags:     []string{"image", "caption", "picture"},
				Examples: []string{"Describe the picture at photos/cat.png"},
			}},
		},
	}
}

func TestKeywordMatcherMatch(t *testing.T) {
	m := NewKeywordMatcher()
	snapshot := testSnapshot()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"tag hit routes to first declaring backend", "search the knowledge base", "docsearch"},
		{"tag is case insensitive", "SEARCH the docs", "docsearch"},
		{"hyphenated tag matches spaced phrase", "is there a vector db here", "docsearch"},
		{"hyphenated tag matches hyphenated query", "tell me about the vector-db", "docsearch"},
		{"second backend reachable", "caption this image for me", "imagecaption"},
		{"example token routes", "can you describe this?", "imagecaption"},
		{"substring of a tag does not match", "searching is fun", ""},
		{"stopword from an example does not route", "what about the weather", ""},
		{"no match routes locally", "how tall is the eiffel tower", ""},
		{"empty query routes locally", "", ""},
		{"punctuation only routes locally", "?!...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Match(tt.query, snapshot)
			assert.Equal(t, tt.want, got.BackendID)
			assert.Equal(t, tt.want == "", got.Local())
		})
	}
}

func TestKeywordMatcherFirstMatchWins(t *testing.T) {
	m := NewKeywordMatcher()
	snapshot := []registry.Descriptor{
		{ID: "first", Skills: []a2a.Skill{{ID: "a", Tags: []string{"shared"}}}},
		{ID: "second", Skills: []a2a.Skill{{ID: "b", Tags: []string{"shared"}}}},
	}

	got := m.Match("a shared concern", snapshot)
	assert.Equal(t, "first", got.BackendID)
}

func TestKeywordMatcherEmptySnapshot(t *testing.T) {
	m := NewKeywordMatcher()
	assert.True(t, m.Match("anything at all", nil).Local())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "vector db", normalize("Vector-DB"))
	assert.Equal(t, "hello world", normalize("  Hello,   World! "))
	assert.Equal(t, "", normalize("?!"))
}

// Matching must be a pure function of the query and the snapshot:
// repeated calls always produce the same decision.
func TestKeywordMatcherDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewKeywordMatcher()

		n := rapid.IntRange(0, 4).Draw(t, "backends")
		snapshot := make([]registry.Descriptor, n)
		for i := range snapshot {
			snapshot[i] = registry.Descriptor{
				ID: rapid.StringMatching(`[a-z]{3,8}`).Draw(t, "id"),
				Skills: []a2a.Skill{{
					ID:       "s",
					Tags:     rapid.SliceOfN(rapid.StringMatching(`[a-z]{2,10}`), 0, 4).Draw(t, "tags"),
					Examples: rapid.SliceOfN(rapid.StringMatching(`[a-z ]{0,40}`), 0, 2).Draw(t, "examples"),
				}},
			}
		}
		query := rapid.StringMatching(`[a-zA-Z0-9 .,!?-]{0,80}`).Draw(t, "query")

		first := m.Match(query, snapshot)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, m.Match(query, snapshot))
		}

		// The chosen backend, if any, must come from the snapshot.
		if !first.Local() {
			found := false
			for _, d := range snapshot {
				if d.ID == first.BackendID {
					found = true
					break
				}
			}
			assert.True(t, found)
		}
	})
}
