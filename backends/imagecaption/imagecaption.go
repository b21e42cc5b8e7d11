// Package imagecaption is a demo image-captioning backend. It serves
// the A2A protocol and produces a deterministic caption from the image
// path it finds in the query, standing in for a vision model.
package imagecaption

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agentrelay/agentrelay/a2a"
)

var imageExtensions = map[string]bool{
	".bmp":  true,
	".gif":  true,
	".jpeg": true,
	".jpg":  true,
	".png":  true,
	".tiff": true,
	".webp": true,
}

// Executor implements a2a.Executor.
type Executor struct{}

// NewExecutor creates an Executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Card implements a2a.Executor.
func (e *Executor) Card() *a2a.Card {
	return &a2a.Card{
		Name:        "Image Captioning",
		Description: "Generates descriptive captions for images",
		Version:     "1.0.0",
		Skills: []a2a.Skill{{
			ID:          "image_captioning",
			Name:        "Image Captioning",
			Description: "Generate a descriptive caption for an image",
			Tags:        []string{"image", "caption", "picture", "photo", "vision"},
			Examples: []string{
				"caption: /path/to/image.jpg",
				"describe: ~/Downloads/sunset.png",
			},
		}},
		Capabilities:       a2a.Capabilities{Streaming: true},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
	}
}

// Execute implements a2a.Executor. A query without a recognizable image
// path fails the task rather than guessing.
func (e *Executor) Execute(ctx context.Context, req *a2a.InvokeRequest, sink a2a.EventSink) error {
	path, ok := extractImagePath(req.Query)
	if !ok {
		return sink.Send(ctx, &a2a.Event{
			Kind:  a2a.EventStatus,
			State: a2a.StateFailed,
			Final: true,
			Error: "no image path found in query",
		})
	}

	for _, content := range caption(path) {
		ev := &a2a.Event{Kind: a2a.EventChunk, Content: content}
		if err := sink.Send(ctx, ev); err != nil {
			return err
		}
	}

	return sink.Send(ctx, &a2a.Event{
		Kind:  a2a.EventStatus,
		State: a2a.StateCompleted,
		Final: true,
	})
}

// extractImagePath finds the first token of the query that looks like
// an image file path.
func extractImagePath(query string) (string, bool) {
	for _, tok := range strings.Fields(query) {
		tok = strings.TrimRight(tok, ".,!?")
		if imageExtensions[strings.ToLower(filepath.Ext(tok))] {
			return tok, true
		}
	}
	return "", false
}

// caption produces a deterministic two-chunk caption for the image at
// path. A real deployment would swap this for model inference.
func caption(path string) []string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	subject := strings.NewReplacer("_", " ", "-", " ").Replace(name)
	return []string{
		fmt.Sprintf("Caption for %s: ", filepath.Base(path)),
		fmt.Sprintf("a photo of %s.", subject),
	}
}

var _ a2a.Executor = (*Executor)(nil)
