// Package session opens per-delegation streaming calls to backends and
// adapts the wire event sequence to the ChunkStream contract.
//
// A session belongs to exactly one task: it is never shared, never
// restarted, and never retried here. Failures are classified into the
// delegation error taxonomy and reported to the caller, who owns any
// retry policy.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/agentrelay/agentrelay/a2a"
	"github.com/agentrelay/agentrelay/registry"
	"github.com/agentrelay/agentrelay/types"
)

// ErrRemoteCanceled marks a stream terminated because the backend
// reported a canceled terminal state. The relay engine maps it to a
// canceled task rather than a failed one.
var ErrRemoteCanceled = errors.New("session: backend reported canceled")

// Opener opens a stream of chunks for one delegated query.
type Opener interface {
	Open(ctx context.Context, desc registry.Descriptor, contextID, taskID, query string) (types.ChunkStream, error)
}

// Factory opens sessions through an a2a.Client.
type Factory struct {
	client *a2a.Client
	logger *zap.Logger
}

// NewFactory creates a session Factory.
func NewFactory(client *a2a.Client, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		client: client,
		logger: logger.With(zap.String("component", "session")),
	}
}

// Open initiates a streaming call to the backend described by desc,
// carrying the query and its correlation pair. The returned stream is
// lazily pulled, finite and non-restartable. Backends whose card does
// not declare streaming support are invoked through the plain endpoint
// and adapted to a single final chunk.
func (f *Factory) Open(ctx context.Context, desc registry.Descriptor, contextID, taskID, query string) (types.ChunkStream, error) {
	req := &a2a.InvokeRequest{
		ContextID: contextID,
		TaskID:    taskID,
		Query:     query,
	}

	if !desc.SupportsStreaming {
		return f.openPlain(ctx, desc, req)
	}

	es, err := f.client.Stream(ctx, desc.BaseURL, req)
	if err != nil {
		return nil, classifyOpen(err)
	}

	f.logger.Debug("session opened",
		zap.String("backend_id", desc.ID),
		zap.String("task_id", taskID),
	)
	return &stream{es: es, backendID: desc.ID}, nil
}

func (f *Factory) openPlain(ctx context.Context, desc registry.Descriptor, req *a2a.InvokeRequest) (types.ChunkStream, error) {
	resp, err := f.client.Invoke(ctx, desc.BaseURL, req)
	if err != nil {
		return nil, classifyOpen(err)
	}
	switch resp.State {
	case a2a.StateCompleted, "":
		return types.NewSliceStream([]types.Chunk{
			{Content: resp.Content, Final: false},
			{Final: true},
		}), nil
	case a2a.StateCanceled:
		return nil, types.NewError(types.KindBackendAbort, "backend reported canceled").WithCause(ErrRemoteCanceled)
	default:
		return nil, types.NewError(types.KindBackendAbort,
			fmt.Sprintf("backend reported %s: %s", resp.State, resp.Error))
	}
}

// stream adapts one a2a event sequence to the ChunkStream contract:
// chunk events pass through, non-final status updates are skipped, and
// the terminal status event either synthesizes the final chunk
// (completed) or surfaces a classified error (failed, canceled).
type stream struct {
	es        *a2a.EventStream
	backendID string
	done      bool
}

func (s *stream) Next(ctx context.Context) (types.Chunk, error) {
	if s.done {
		return types.Chunk{}, io.EOF
	}

	for {
		ev, err := s.es.Next(ctx)
		if err != nil {
			s.done = true
			if err == io.EOF && ctx.Err() == nil {
				// Terminal status was already consumed.
				return types.Chunk{}, io.EOF
			}
			return types.Chunk{}, classifyPull(ctx, err)
		}

		switch ev.Kind {
		case a2a.EventChunk:
			return types.Chunk{Content: ev.Content, Final: false}, nil
		case a2a.EventStatus:
			if !ev.Final {
				continue
			}
			s.done = true
			switch ev.State {
			case a2a.StateCompleted:
				return types.Chunk{Final: true}, nil
			case a2a.StateCanceled:
				return types.Chunk{}, types.NewError(types.KindBackendAbort,
					"backend reported canceled").WithCause(ErrRemoteCanceled)
			default:
				msg := ev.Error
				if msg == "" {
					msg = fmt.Sprintf("backend reported %s", ev.State)
				}
				return types.Chunk{}, types.NewError(types.KindBackendAbort, msg)
			}
		}
	}
}

func (s *stream) Close() error {
	s.done = true
	return s.es.Close()
}

// classifyOpen maps an open-time failure into the taxonomy.
func classifyOpen(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.KindTimeout, "backend did not respond in time").WithCause(err)
	case errors.Is(err, a2a.ErrRemoteUnavailable):
		return types.NewError(types.KindConnectFailed, "backend unreachable").WithCause(err)
	case errors.Is(err, a2a.ErrInvalidEvent), errors.Is(err, a2a.ErrInvalidCard):
		return types.NewError(types.KindProtocolError, "malformed backend response").WithCause(err)
	default:
		return types.NewError(types.KindConnectFailed, "failed to open backend session").WithCause(err)
	}
}

// classifyPull maps a mid-stream failure into the taxonomy. Caller
// cancellation passes through untouched so the relay engine can tell it
// apart from backend faults.
func classifyPull(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		// Cancellation wins over whatever the transport surfaced while
		// the stream was being torn down.
		return ctx.Err()
	case errors.Is(err, a2a.ErrInactivity):
		return types.NewError(types.KindTimeout, "no output within inactivity window").WithCause(err)
	case errors.Is(err, a2a.ErrInvalidEvent):
		return types.NewError(types.KindProtocolError, "malformed stream event").WithCause(err)
	case errors.Is(err, a2a.ErrRemoteUnavailable):
		return types.NewError(types.KindConnectFailed, "backend connection lost").WithCause(err)
	default:
		return types.NewError(types.KindProtocolError, "stream failed").WithCause(err)
	}
}

var _ Opener = (*Factory)(nil)
var _ types.ChunkStream = (*stream)(nil)
