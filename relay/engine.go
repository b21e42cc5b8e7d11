// Package relay implements the orchestration loop: it accepts inbound
// queries, routes each one to a backend or the local handler, pumps the
// chosen source's chunks to the caller in order, and drives the task
// lifecycle through the tracker.
//
// The engine never retries a failed delegation and never silently falls
// back from a backend to the local handler; a delegation failure is a
// terminal failure for that task. Fallback, if wanted, is the caller's
// policy.
package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentrelay/agentrelay/internal/metrics"
	"github.com/agentrelay/agentrelay/local"
	"github.com/agentrelay/agentrelay/registry"
	"github.com/agentrelay/agentrelay/routing"
	"github.com/agentrelay/agentrelay/session"
	"github.com/agentrelay/agentrelay/tasks"
	"github.com/agentrelay/agentrelay/types"
)

// Handling paths, used for logging and metrics labels.
const (
	pathLocal     = "local"
	pathDelegated = "delegated"
)

// Config holds configuration for the relay engine.
type Config struct {
	// ChannelCapacity is the caller output channel's buffer. The
	// default of 1 keeps at most one chunk in flight per task, which is
	// the backpressure point: the engine pulls no further chunks from a
	// session than the caller's channel can absorb.
	ChannelCapacity int
	// DiscoverOnFirstUse triggers capability discovery for registered
	// backends that have no descriptor yet when a query arrives.
	DiscoverOnFirstUse bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ChannelCapacity:    1,
		DiscoverOnFirstUse: true,
	}
}

// Directory is the registry surface the engine consumes.
type Directory interface {
	Snapshot() []registry.Descriptor
	Get(id string) (registry.Descriptor, error)
	EnsureDiscovered(ctx context.Context)
}

// Recorder receives the final snapshot of every task that reaches a
// terminal state. Implemented by the journal; a nil recorder disables
// recording.
type Recorder interface {
	Record(t tasks.Task)
}

// Delivery is the caller-visible result of one submitted query: the
// task id and the ordered chunk stream. The channel is closed exactly
// once, on the task's terminal transition. After it is closed, State
// and Err report the outcome; Err is non-nil only for failed tasks.
type Delivery struct {
	TaskID string

	chunks chan types.Chunk

	mu    sync.Mutex
	state tasks.State
	err   error
}

// Chunks returns the ordered output channel. Chunks from no other task
// are ever delivered on it.
func (d *Delivery) Chunks() <-chan types.Chunk {
	return d.chunks
}

// State returns the terminal state. Valid after Chunks is closed.
func (d *Delivery) State() tasks.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err returns the terminal error, nil for completed and canceled
// tasks. Valid after Chunks is closed.
func (d *Delivery) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Delivery) setOutcome(state tasks.State, err error) {
	d.mu.Lock()
	d.state = state
	d.err = err
	d.mu.Unlock()
}

// Options bundles the engine's collaborators.
type Options struct {
	Tracker  *tasks.Tracker
	Registry Directory
	Matcher  routing.Matcher
	Sessions session.Opener
	Local    local.Handler
	// Metrics is optional.
	Metrics *metrics.Collector
	// Recorder is optional.
	Recorder Recorder
	Logger   *zap.Logger
	Config   *Config
}

// Engine is the orchestration core's entry point. Each submitted query
// runs as its own goroutine; the engine's only shared mutable state is
// the in-flight cancellation index.
type Engine struct {
	config   *Config
	tracker  *tasks.Tracker
	registry Directory
	matcher  routing.Matcher
	sessions session.Opener
	local    local.Handler
	metrics  *metrics.Collector
	recorder Recorder
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// NewEngine creates an Engine from opts.
func NewEngine(opts Options) (*Engine, error) {
	switch {
	case opts.Tracker == nil:
		return nil, errors.New("relay: tracker is required")
	case opts.Registry == nil:
		return nil, errors.New("relay: registry is required")
	case opts.Matcher == nil:
		return nil, errors.New("relay: matcher is required")
	case opts.Sessions == nil:
		return nil, errors.New("relay: session opener is required")
	case opts.Local == nil:
		return nil, errors.New("relay: local handler is required")
	}
	if opts.Config == nil {
		opts.Config = DefaultConfig()
	}
	if opts.Config.ChannelCapacity < 1 {
		opts.Config.ChannelCapacity = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Engine{
		config:   opts.Config,
		tracker:  opts.Tracker,
		registry: opts.Registry,
		matcher:  opts.Matcher,
		sessions: opts.Sessions,
		local:    opts.Local,
		metrics:  opts.Metrics,
		recorder: opts.Recorder,
		logger:   opts.Logger.With(zap.String("component", "relay_engine")),
		inflight: make(map[string]context.CancelFunc),
	}, nil
}

// Submit accepts one inbound query. It creates and routes the task,
// starts its pump goroutine, and returns immediately; output arrives on
// the returned Delivery. ctx governs the whole task: when the caller's
// context ends, the task is canceled.
//
// An empty contextID starts a fresh context group.
func (e *Engine) Submit(ctx context.Context, contextID, query string) (*Delivery, error) {
	if contextID == "" {
		contextID = uuid.NewString()
	}

	taskID := e.tracker.Create(contextID)
	if err := e.tracker.Transition(taskID, tasks.StateSubmitted, nil); err != nil {
		return nil, err
	}

	d := &Delivery{
		TaskID: taskID,
		chunks: make(chan types.Chunk, e.config.ChannelCapacity),
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.inflight[taskID] = cancel
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.RecordTaskStart()
	}

	e.logger.Info("query submitted",
		zap.String("task_id", taskID),
		zap.String("context_id", contextID),
	)

	go e.pump(pumpCtx, d, contextID, query)
	return d, nil
}

// Cancel cancels an in-flight task. The task transitions to canceled
// exactly once, no further chunks are delivered, and the caller's
// channel closes without an error. Cancelling a task that already
// reached a terminal state is a no-op; an unknown id is an error.
func (e *Engine) Cancel(taskID string) error {
	if _, err := e.tracker.Get(taskID); err != nil {
		return err
	}

	// Win or lose the terminal race atomically before stopping the
	// pump: exactly one terminal transition ever succeeds.
	if err := e.tracker.Transition(taskID, tasks.StateCanceled, nil); err != nil {
		if errors.Is(err, tasks.ErrInvalidTransition) {
			return nil
		}
		return err
	}

	e.mu.Lock()
	cancel, ok := e.inflight[taskID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	e.logger.Info("task canceled", zap.String("task_id", taskID))
	return nil
}

// Task returns a read-only snapshot of a task.
func (e *Engine) Task(taskID string) (tasks.Task, error) {
	return e.tracker.Get(taskID)
}

// pump is the per-task orchestration loop. It owns the task from the
// routing decision to the terminal transition and is the only writer of
// the delivery channel. Discovery and matching run here, off the Submit
// path, so a slow backend's card fetch never delays submission.
func (e *Engine) pump(ctx context.Context, d *Delivery, contextID, query string) {
	started := time.Now()
	taskID := d.TaskID

	if e.config.DiscoverOnFirstUse {
		e.registry.EnsureDiscovered(ctx)
	}
	decision := e.matcher.Match(query, e.registry.Snapshot())

	path := pathLocal
	if !decision.Local() {
		path = pathDelegated
	}
	e.logger.Debug("query routed",
		zap.String("task_id", taskID),
		zap.String("backend_id", decision.BackendID),
		zap.Bool("local", decision.Local()),
	)

	src, err := e.openSource(ctx, d, decision, contextID, query)
	if err != nil {
		e.terminate(ctx, d, path, started, err)
		return
	}
	defer src.Close()

	streaming := false
	for {
		chunk, err := src.Next(ctx)
		if err != nil {
			if err == io.EOF {
				err = types.NewError(types.KindProtocolError, "stream ended without final chunk")
			}
			e.terminate(ctx, d, path, started, err)
			return
		}

		if !streaming {
			if trErr := e.tracker.Transition(taskID, tasks.StateStreaming, nil); trErr != nil {
				// Lost the terminal race with a concurrent cancel.
				e.settle(d, path, started)
				return
			}
			streaming = true
		}

		// The backpressure point: block until the caller drains the
		// channel or the task is canceled. No chunk is pulled from the
		// source beyond what the caller can absorb.
		select {
		case d.chunks <- chunk:
			if e.metrics != nil {
				e.metrics.RecordChunk()
			}
		case <-ctx.Done():
			e.terminate(ctx, d, path, started, ctx.Err())
			return
		}

		if chunk.Final {
			e.terminate(ctx, d, path, started, nil)
			return
		}
	}
}

// openSource transitions the task to working and opens the chunk
// source: a backend session on the delegate path, the local handler
// otherwise.
func (e *Engine) openSource(ctx context.Context, d *Delivery, decision routing.Decision, contextID, query string) (types.ChunkStream, error) {
	taskID := d.TaskID

	if decision.Local() {
		if err := e.tracker.Transition(taskID, tasks.StateWorking, nil); err != nil {
			return nil, err
		}
		src, err := e.local.Produce(ctx, query)
		if err != nil {
			return nil, types.NewError(types.KindLocalHandler, "local handler failed").WithCause(err)
		}
		return src, nil
	}

	if err := e.tracker.AssignBackend(taskID, decision.BackendID); err != nil {
		return nil, err
	}
	desc, err := e.registry.Get(decision.BackendID)
	if err != nil {
		return nil, types.NewError(types.KindDiscoveryFailed, "backend descriptor unavailable").WithCause(err)
	}
	if err := e.tracker.Transition(taskID, tasks.StateWorking, nil); err != nil {
		return nil, err
	}
	return e.sessions.Open(ctx, desc, contextID, taskID, query)
}

// terminate drives the task to its terminal state, publishes the
// outcome on the delivery, and closes the channel. cause semantics:
// nil means completed; a context or caller cancellation means
// canceled; anything else means failed with that error surfaced to
// exactly this task's caller.
func (e *Engine) terminate(ctx context.Context, d *Delivery, path string, started time.Time, cause error) {
	taskID := d.TaskID

	state := tasks.StateCompleted
	var surfaced error
	switch {
	case cause == nil:
	case isCancellation(ctx, cause):
		state = tasks.StateCanceled
	default:
		state = tasks.StateFailed
		surfaced = cause
	}

	if err := e.tracker.Transition(taskID, state, surfaced); err != nil {
		if !errors.Is(err, tasks.ErrInvalidTransition) {
			e.logger.Error("terminal transition failed",
				zap.String("task_id", taskID),
				zap.Error(err),
			)
		}
		// A concurrent cancel won the terminal race; its outcome stands.
		e.settle(d, path, started)
		return
	}

	if state == tasks.StateFailed {
		e.logger.Warn("task failed",
			zap.String("task_id", taskID),
			zap.String("kind", string(types.KindOf(surfaced))),
			zap.Error(surfaced),
		)
		if e.metrics != nil {
			e.metrics.RecordSessionFailure(string(types.KindOf(surfaced)))
		}
	}

	d.setOutcome(state, surfaced)
	e.finish(d, path, started, state)
}

// settle is the lost-race path: another goroutine already performed
// the terminal transition (always a cancel). The delivery adopts the
// tracker's recorded outcome.
func (e *Engine) settle(d *Delivery, path string, started time.Time) {
	state := tasks.StateCanceled
	if snap, err := e.tracker.Get(d.TaskID); err == nil && snap.State.Terminal() {
		state = snap.State
	}
	d.setOutcome(state, nil)
	e.finish(d, path, started, state)
}

// finish closes the delivery channel and releases per-task resources.
// Runs exactly once per task, always on the pump goroutine.
func (e *Engine) finish(d *Delivery, path string, started time.Time, state tasks.State) {
	close(d.chunks)

	e.mu.Lock()
	delete(e.inflight, d.TaskID)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordTaskEnd(string(state), path, time.Since(started))
	}
	if e.recorder != nil {
		if snap, err := e.tracker.Get(d.TaskID); err == nil {
			e.recorder.Record(snap)
		}
	}
	e.logger.Info("task finished",
		zap.String("task_id", d.TaskID),
		zap.String("state", string(state)),
		zap.String("path", path),
		zap.Duration("duration", time.Since(started)),
	)
}

// isCancellation reports whether cause reflects a caller cancellation
// rather than a source failure.
func isCancellation(ctx context.Context, cause error) bool {
	if errors.Is(cause, session.ErrRemoteCanceled) {
		return true
	}
	if ctx.Err() != nil && (errors.Is(cause, context.Canceled) || errors.Is(cause, ctx.Err())) {
		return true
	}
	return false
}
