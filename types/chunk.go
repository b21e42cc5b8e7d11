package types

import (
	"context"
	"io"
)

// Chunk is one increment of streamed output. A chunk with Final set is
// the last chunk of its stream; its Content may be empty. Exactly one
// final chunk terminates every successful stream.
type Chunk struct {
	Content string `json:"content"`
	Final   bool   `json:"final"`
}

// ChunkStream is a lazily-pulled, finite, non-restartable sequence of
// chunks. Next blocks until a chunk is available, the stream ends, or
// ctx is done. After the final chunk (or any error) the stream is
// exhausted; a fresh stream must be opened to retry.
//
// Next returns io.EOF once the sequence is fully consumed. Any other
// error terminates the stream and carries the failure classification.
type ChunkStream interface {
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

// sliceStream serves a fixed set of chunks. Used by local handlers and
// by the non-streaming delegation fallback.
type sliceStream struct {
	chunks []Chunk
	pos    int
}

// NewSliceStream returns a ChunkStream over the given chunks. The
// caller is responsible for ensuring the last chunk is final.
func NewSliceStream(chunks []Chunk) ChunkStream {
	return &sliceStream{chunks: chunks}
}

func (s *sliceStream) Next(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if s.pos >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *sliceStream) Close() error {
	s.pos = len(s.chunks)
	return nil
}
