// Package local supplies the default answer for queries no backend
// claims. The stock handler describes what the registered backends can
// do, generated from the live registry snapshot rather than hard-coded
// text, so newly discovered capabilities show up without code changes.
package local

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentrelay/agentrelay/registry"
	"github.com/agentrelay/agentrelay/types"
)

// Handler produces output for locally handled queries. Produce follows
// the same chunk contract as a backend session: lazy, finite, exactly
// one final chunk on success.
type Handler interface {
	Produce(ctx context.Context, query string) (types.ChunkStream, error)
}

// Snapshotter is the part of the registry the capability handler reads.
type Snapshotter interface {
	Snapshot() []registry.Descriptor
}

// CapabilityHandler answers with a listing of the currently discovered
// backends and their skills, one chunk per backend so callers see
// incremental delivery on the local path too.
type CapabilityHandler struct {
	snapshots Snapshotter
}

// NewCapabilityHandler creates a CapabilityHandler over reg.
func NewCapabilityHandler(reg Snapshotter) *CapabilityHandler {
	return &CapabilityHandler{snapshots: reg}
}

// Produce implements Handler.
func (h *CapabilityHandler) Produce(_ context.Context, _ string) (types.ChunkStream, error) {
	snapshot := h.snapshots.Snapshot()

	if len(snapshot) == 0 {
		return types.NewSliceStream([]types.Chunk{
			{Content: "No specialized backends are available right now. Please try again later."},
			{Final: true},
		}), nil
	}

	chunks := make([]types.Chunk, 0, len(snapshot)+2)
	chunks = append(chunks, types.Chunk{Content: "I can delegate your question to these specialized services:\n"})
	for _, d := range snapshot {
		chunks = append(chunks, types.Chunk{Content: describeBackend(d)})
	}
	chunks = append(chunks, types.Chunk{Final: true})
	return types.NewSliceStream(chunks), nil
}

func describeBackend(d registry.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n- %s", d.DisplayName)
	for _, s := range d.Skills {
		fmt.Fprintf(&b, "\n    %s", s.Name)
		if s.Description != "" {
			fmt.Fprintf(&b, ": %s", s.Description)
		}
		if len(s.Examples) > 0 {
			fmt.Fprintf(&b, " (e.g. %q)", s.Examples[0])
		}
	}
	b.WriteString("\n")
	return b.String()
}

var _ Handler = (*CapabilityHandler)(nil)
