// Package tasks tracks the lifecycle of every in-flight unit of work,
// locally handled or delegated. The tracker is the exclusive owner of
// task state: transitions are atomic and monotonic, exactly one
// terminal transition succeeds per task, and callers only ever see
// read-only snapshots.
package tasks

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is one step of the task lifecycle. Transitions are monotonic
// along the order below; completed, failed and canceled are terminal.
type State string

const (
	StateCreated   State = "created"
	StateSubmitted State = "submitted"
	StateWorking   State = "working"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// rank orders the non-terminal states; terminal states share one rank
// so a task can move to any of them from any non-terminal state, but
// never from one terminal state to another.
var rank = map[State]int{
	StateCreated:   0,
	StateSubmitted: 1,
	StateWorking:   2,
	StateStreaming: 3,
	StateCompleted: 4,
	StateFailed:    4,
	StateCanceled:  4,
}

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	}
	return false
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	_, ok := rank[s]
	return ok
}

var (
	// ErrNotFound indicates the task id is not tracked.
	ErrNotFound = errors.New("tasks: task not found")
	// ErrInvalidTransition indicates a move against the monotonic state
	// ordering, including any transition out of a terminal state. This
	// is a programming-error-level fault and is never swallowed.
	ErrInvalidTransition = errors.New("tasks: invalid transition")
)

// Task is a read-only snapshot of one tracked unit of work.
type Task struct {
	ID        string    `json:"id"`
	ContextID string    `json:"context_id"`
	State     State     `json:"state"`
	// BackendID is empty for locally handled tasks.
	BackendID  string     `json:"backend_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	TerminalAt *time.Time `json:"terminal_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

type task struct {
	mu sync.Mutex
	t  Task
}

// Tracker maintains all in-flight tasks keyed by task id. Safe for
// concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	tasks map[string]*task

	logger *zap.Logger
	clock  func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		tasks:  make(map[string]*task),
		logger: logger.With(zap.String("component", "task_tracker")),
		clock:  time.Now,
	}
}

// Create allocates a new task in state created and returns its id.
// Each call produces a globally unique id.
func (tr *Tracker) Create(contextID string) string {
	id := uuid.NewString()
	t := &task{t: Task{
		ID:        id,
		ContextID: contextID,
		State:     StateCreated,
		CreatedAt: tr.clock(),
	}}

	tr.mu.Lock()
	tr.tasks[id] = t
	tr.mu.Unlock()

	tr.logger.Debug("task created",
		zap.String("task_id", id),
		zap.String("context_id", contextID),
	)
	return id
}

// AssignBackend records the backend chosen for the task. Only permitted
// before the task starts working; delegation targets never change
// mid-flight.
func (tr *Tracker) AssignBackend(taskID, backendID string) error {
	t, err := tr.lookup(taskID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if rank[t.t.State] > rank[StateSubmitted] {
		return fmt.Errorf("%w: cannot assign backend in state %s", ErrInvalidTransition, t.t.State)
	}
	t.t.BackendID = backendID
	return nil
}

// Transition moves the task to newState. The move is validated against
// the monotonic ordering and applied atomically: of two concurrent
// conflicting attempts exactly one succeeds, the other receives
// ErrInvalidTransition. terr is recorded on the task for failed and
// canceled transitions and may be nil.
func (tr *Tracker) Transition(taskID string, newState State, terr error) error {
	t, err := tr.lookup(taskID)
	if err != nil {
		return err
	}
	if !newState.Valid() {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, newState)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.t.State
	if cur.Terminal() {
		return fmt.Errorf("%w: task %s already terminal in %s", ErrInvalidTransition, taskID, cur)
	}
	if rank[newState] <= rank[cur] && newState != StateStreaming {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, newState)
	}
	if newState == StateStreaming && cur != StateWorking && cur != StateStreaming {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, newState)
	}

	t.t.State = newState
	if terr != nil {
		t.t.LastError = terr.Error()
	}
	if newState.Terminal() {
		now := tr.clock()
		t.t.TerminalAt = &now
	}

	tr.logger.Debug("task transition",
		zap.String("task_id", taskID),
		zap.String("from", string(cur)),
		zap.String("to", string(newState)),
	)
	return nil
}

// Get returns a read-only snapshot of the task.
func (tr *Tracker) Get(taskID string) (Task, error) {
	t, err := tr.lookup(taskID)
	if err != nil {
		return Task{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.t
	if t.t.TerminalAt != nil {
		at := *t.t.TerminalAt
		snap.TerminalAt = &at
	}
	return snap, nil
}

func (tr *Tracker) lookup(taskID string) (*task, error) {
	tr.mu.RLock()
	t, ok := tr.tasks[taskID]
	tr.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return t, nil
}
