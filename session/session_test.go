package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/a2a"
	"github.com/agentrelay/agentrelay/registry"
	"github.com/agentrelay/agentrelay/types"
)

func newFactory(t *testing.T) *Factory {
	t.Helper()
	cfg := a2a.DefaultClientConfig()
	cfg.Timeout = 2 * time.Second
	cfg.InactivityTimeout = 2 * time.Second
	cfg.DiscoveryRetryDelay = 10 * time.Millisecond
	return NewFactory(a2a.NewClient(cfg), nil)
}

// streamingBackend serves the given events on the streaming endpoint.
func streamingBackend(t *testing.T, events []a2a.Event) registry.Descriptor {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, a2a.StreamPath, r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			data, err := json.Marshal(ev)
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}))
	t.Cleanup(server.Close)
	return registry.Descriptor{ID: "backend", BaseURL: server.URL, SupportsStreaming: true}
}

func drain(t *testing.T, src types.ChunkStream) ([]types.Chunk, error) {
	t.Helper()
	var out []types.Chunk
	for {
		c, err := src.Next(t.Context())
		if err != nil {
			return out, err
		}
		out = append(out, c)
		if c.Final {
			return out, nil
		}
	}
}

func TestFactoryOpenStreaming(t *testing.T) {
	t.Run("chunks pass through, completed synthesizes the final chunk", func(t *testing.T) {
		desc := streamingBackend(t, []a2a.Event{
			{Kind: a2a.EventStatus, State: a2a.StateWorking},
			{Kind: a2a.EventChunk, Content: "first"},
			{Kind: a2a.EventChunk, Content: "second"},
			{Kind: a2a.EventStatus, State: a2a.StateCompleted, Final: true},
		})

		src, err := newFactory(t).Open(t.Context(), desc, "ctx-1", "task-1", "query")
		require.NoError(t, err)
		defer src.Close()

		chunks, err := drain(t, src)
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		assert.Equal(t, "first", chunks[0].Content)
		assert.Equal(t, "second", chunks[1].Content)
		assert.True(t, chunks[2].Final)
		assert.Empty(t, chunks[2].Content)

		// Exhausted after the final chunk.
		_, err = src.Next(t.Context())
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("failed terminal state surfaces a backend abort", func(t *testing.T) {
		desc := streamingBackend(t, []a2a.Event{
			{Kind: a2a.EventChunk, Content: "partial"},
			{Kind: a2a.EventStatus, State: a2a.StateFailed, Final: true, Error: "index corrupted"},
		})

		src, err := newFactory(t).Open(t.Context(), desc, "ctx-1", "task-1", "query")
		require.NoError(t, err)
		defer src.Close()

		chunks, err := drain(t, src)
		require.Error(t, err)
		assert.Len(t, chunks, 1)
		assert.Equal(t, types.KindBackendAbort, types.KindOf(err))
		assert.Contains(t, err.Error(), "index corrupted")
	})

	t.Run("canceled terminal state is marked as remote cancellation", func(t *testing.T) {
		desc := streamingBackend(t, []a2a.Event{
			{Kind: a2a.EventStatus, State: a2a.StateCanceled, Final: true},
		})

		src, err := newFactory(t).Open(t.Context(), desc, "ctx-1", "task-1", "query")
		require.NoError(t, err)
		defer src.Close()

		_, err = drain(t, src)
		require.Error(t, err)
		assert.Equal(t, types.KindBackendAbort, types.KindOf(err))
		assert.ErrorIs(t, err, ErrRemoteCanceled)
	})

	t.Run("truncated stream is a protocol error", func(t *testing.T) {
		desc := streamingBackend(t, []a2a.Event{
			{Kind: a2a.EventChunk, Content: "partial"},
		})

		src, err := newFactory(t).Open(t.Context(), desc, "ctx-1", "task-1", "query")
		require.NoError(t, err)
		defer src.Close()

		_, err = drain(t, src)
		require.Error(t, err)
		assert.Equal(t, types.KindProtocolError, types.KindOf(err))
	})

	t.Run("unreachable backend fails to open with connect failed", func(t *testing.T) {
		desc := registry.Descriptor{ID: "dead", BaseURL: "http://127.0.0.1:1", SupportsStreaming: true}

		_, err := newFactory(t).Open(t.Context(), desc, "ctx-1", "task-1", "query")
		require.Error(t, err)
		assert.Equal(t, types.KindConnectFailed, types.KindOf(err))
	})

	t.Run("inactivity mid-stream is a timeout", func(t *testing.T) {
		release := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-release
		}))
		t.Cleanup(server.Close)
		t.Cleanup(func() { close(release) })
		desc := registry.Descriptor{ID: "slow", BaseURL: server.URL, SupportsStreaming: true}

		cfg := a2a.DefaultClientConfig()
		cfg.InactivityTimeout = 50 * time.Millisecond
		f := NewFactory(a2a.NewClient(cfg), nil)

		src, err := f.Open(t.Context(), desc, "ctx-1", "task-1", "query")
		require.NoError(t, err)
		defer src.Close()

		_, err = src.Next(t.Context())
		require.Error(t, err)
		assert.Equal(t, types.KindTimeout, types.KindOf(err))
	})
}

// Caller cancellation between a chunk delivery and the next pull must
// surface as the context error, never as a protocol fault, so the task
// ends canceled rather than failed. Repeated to cover the race between
// the reader noticing the torn-down transport and the next pull.
func TestCallerCancelMidStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		data, err := json.Marshal(a2a.Event{Kind: a2a.EventChunk, Content: "partial"})
		require.NoError(t, err)
		fmt.Fprintf(w, "data: %s\n\n", data)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)
	desc := registry.Descriptor{ID: "hanging", BaseURL: server.URL, SupportsStreaming: true}

	f := newFactory(t)
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(t.Context())

		src, err := f.Open(ctx, desc, "ctx-1", fmt.Sprintf("task-%d", i), "query")
		require.NoError(t, err)

		chunk, err := src.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, "partial", chunk.Content)

		cancel()
		time.Sleep(time.Millisecond)

		_, err = src.Next(ctx)
		require.Error(t, err, "run %d", i)
		assert.ErrorIs(t, err, context.Canceled, "run %d", i)
		assert.NotEqual(t, types.KindProtocolError, types.KindOf(err), "run %d", i)
		src.Close()
	}
}

func TestFactoryOpenPlain(t *testing.T) {
	plainBackend := func(t *testing.T, resp a2a.InvokeResponse) registry.Descriptor {
		t.Helper()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, a2a.InvokePath, r.URL.Path)
			json.NewEncoder(w).Encode(resp)
		}))
		t.Cleanup(server.Close)
		return registry.Descriptor{ID: "plain", BaseURL: server.URL, SupportsStreaming: false}
	}

	t.Run("adapts a plain response to content plus final chunk", func(t *testing.T) {
		desc := plainBackend(t, a2a.InvokeResponse{Content: "whole answer", State: a2a.StateCompleted})

		src, err := newFactory(t).Open(t.Context(), desc, "ctx-1", "task-1", "query")
		require.NoError(t, err)
		defer src.Close()

		chunks, err := drain(t, src)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "whole answer", chunks[0].Content)
		assert.False(t, chunks[0].Final)
		assert.True(t, chunks[1].Final)
	})

	t.Run("failed plain response aborts", func(t *testing.T) {
		desc := plainBackend(t, a2a.InvokeResponse{State: a2a.StateFailed, Error: "boom"})

		_, err := newFactory(t).Open(t.Context(), desc, "ctx-1", "task-1", "query")
		require.Error(t, err)
		assert.Equal(t, types.KindBackendAbort, types.KindOf(err))
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("canceled plain response is a remote cancellation", func(t *testing.T) {
		desc := plainBackend(t, a2a.InvokeResponse{State: a2a.StateCanceled})

		_, err := newFactory(t).Open(t.Context(), desc, "ctx-1", "task-1", "query")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRemoteCanceled)
	})
}

func TestClassifyOpen(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorKind
	}{
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), types.KindTimeout},
		{"unavailable", fmt.Errorf("wrap: %w", a2a.ErrRemoteUnavailable), types.KindConnectFailed},
		{"invalid event", fmt.Errorf("wrap: %w", a2a.ErrInvalidEvent), types.KindProtocolError},
		{"invalid card", fmt.Errorf("wrap: %w", a2a.ErrInvalidCard), types.KindProtocolError},
		{"unknown", errors.New("weird"), types.KindConnectFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, types.KindOf(classifyOpen(tt.err)))
		})
	}
}
