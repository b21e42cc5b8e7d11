// Package docsearch is a demo document-search backend: it serves the
// A2A protocol and answers queries by keyword lookup over an in-memory
// corpus, streaming one sentence per chunk. It stands in for a real
// retrieval backend so the orchestrator can be exercised end to end
// without a vector store.
package docsearch

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentrelay/agentrelay/a2a"
)

// Document is one searchable entry of the corpus.
type Document struct {
	Topic string
	Text  string
}

// DefaultCorpus is the built-in demo corpus.
func DefaultCorpus() []Document {
	return []Document{
		{
			Topic: "Python",
			Text: "Python is a high-level, interpreted programming language known for its simplicity and readability. " +
				"It supports multiple programming paradigms including procedural, object-oriented, and functional programming.",
		},
		{
			Topic: "Machine Learning",
			Text: "Machine learning is a subset of artificial intelligence that focuses on building systems that can learn from data. " +
				"Common algorithms include linear regression, decision trees, and neural networks.",
		},
		{
			Topic: "Vector Databases",
			Text: "Vector databases store data as high-dimensional vectors, enabling efficient similarity search. " +
				"They are commonly used in retrieval-augmented systems to find relevant context for language models.",
		},
		{
			Topic: "A2A Protocol",
			Text: "The A2A protocol enables communication between independent agents. " +
				"It exchanges tasks, messages, and incremental artifacts between agent systems over HTTP.",
		},
	}
}

// Executor implements a2a.Executor over a fixed corpus.
type Executor struct {
	corpus []Document
}

// NewExecutor creates an Executor. A nil corpus uses DefaultCorpus.
func NewExecutor(corpus []Document) *Executor {
	if corpus == nil {
		corpus = DefaultCorpus()
	}
	return &Executor{corpus: corpus}
}

// Card implements a2a.Executor.
func (e *Executor) Card() *a2a.Card {
	return &a2a.Card{
		Name:        "Document Search",
		Description: "Searches a document corpus and streams back the relevant passages",
		Version:     "1.0.0",
		Skills: []a2a.Skill{{
			ID:          "document_search",
			Name:        "Document Search",
			Description: "Search through documents to find relevant information",
			Tags:        []string{"rag", "search", "documents", "python", "vector-db"},
			Examples: []string{
				"What do you know about Python?",
				"Tell me about machine learning",
				"Explain the A2A protocol",
			},
		}},
		Capabilities:       a2a.Capabilities{Streaming: true},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
	}
}

// Execute implements a2a.Executor: one chunk per matching sentence,
// then a completed terminal status.
func (e *Executor) Execute(ctx context.Context, req *a2a.InvokeRequest, sink a2a.EventSink) error {
	matches := e.search(req.Query)

	if len(matches) == 0 {
		ev := &a2a.Event{
			Kind:    a2a.EventChunk,
			Content: "No documents matched your question.",
		}
		if err := sink.Send(ctx, ev); err != nil {
			return err
		}
	}

	for i, doc := range matches {
		if i == 0 {
			ev := &a2a.Event{Kind: a2a.EventChunk, Content: "Here is what I found:\n"}
			if err := sink.Send(ctx, ev); err != nil {
				return err
			}
		}
		for _, sentence := range sentences(doc.Text) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			ev := &a2a.Event{
				Kind:    a2a.EventChunk,
				Content: fmt.Sprintf("\n[%s] %s", doc.Topic, sentence),
			}
			if err := sink.Send(ctx, ev); err != nil {
				return err
			}
		}
	}

	return sink.Send(ctx, &a2a.Event{
		Kind:  a2a.EventStatus,
		State: a2a.StateCompleted,
		Final: true,
	})
}

// search returns the corpus entries whose topic or text shares a word
// with the query, in corpus order.
func (e *Executor) search(query string) []Document {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		words[strings.Trim(w, ".,!?")] = true
	}

	var out []Document
	for _, doc := range e.corpus {
		if docMatches(doc, words) {
			out = append(out, doc)
		}
	}
	return out
}

func docMatches(doc Document, words map[string]bool) bool {
	for _, w := range strings.Fields(strings.ToLower(doc.Topic + " " + doc.Text)) {
		if len(w) < 4 {
			continue
		}
		if words[strings.Trim(w, ".,!?")] {
			return true
		}
	}
	return false
}

func sentences(text string) []string {
	var out []string
	for _, s := range strings.SplitAfter(text, ". ") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

var _ a2a.Executor = (*Executor)(nil)
