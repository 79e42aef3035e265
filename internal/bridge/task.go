package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// TaskFunc is the body of a background task. It must return once ctx is
// cancelled.
type TaskFunc func(ctx context.Context) error

// State is the lifecycle state of a task.
type State int32

const (
	// StateRunning means the task body is executing.
	StateRunning State = iota
	// StateCancelling means cancellation was requested but the body has
	// not returned yet.
	StateCancelling
	// StateDone means the body returned nil.
	StateDone
	// StateCancelled means the body returned after cancellation.
	StateCancelled
	// StateFailed means the body returned an error or panicked.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s >= StateDone
}

// Task is a handle to a named background task.
type Task struct {
	id      string
	name    string
	started time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	state atomic.Int32

	mu       sync.Mutex
	err      error
	finished time.Time
}

func newTask(parent context.Context, id, name string) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		id:      id,
		name:    name,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// ID returns the unique id of this task instance.
func (t *Task) ID() string { return t.id }

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// State returns the current state.
func (t *Task) State() State { return State(t.state.Load()) }

// Done returns a channel closed once the task body has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the terminal error, or nil while running or on a clean exit.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the task has finished or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Info returns a snapshot of the task.
func (t *Task) Info() TaskInfo {
	t.mu.Lock()
	finished := t.finished
	t.mu.Unlock()
	return TaskInfo{
		ID:       t.id,
		Name:     t.name,
		State:    t.State(),
		Started:  t.started,
		Finished: finished,
	}
}

func (t *Task) requestCancel() {
	t.state.CompareAndSwap(int32(StateRunning), int32(StateCancelling))
	t.cancel()
}

// settle records the outcome and reports the final state. Waiters are
// released separately by release.
func (t *Task) settle(err error) State {
	cancelled := t.ctx.Err() != nil
	t.cancel()

	var state State
	switch {
	case err == nil && cancelled:
		state = StateCancelled
	case err == nil:
		state = StateDone
	case cancelled && errors.Is(err, context.Canceled):
		state = StateCancelled
		err = nil
	default:
		state = StateFailed
	}

	t.mu.Lock()
	t.err = err
	t.finished = time.Now()
	t.mu.Unlock()

	t.state.Store(int32(state))
	return state
}

func (t *Task) release() {
	close(t.done)
}

// TaskInfo is a point-in-time description of a task.
type TaskInfo struct {
	ID       string
	Name     string
	State    State
	Started  time.Time
	Finished time.Time
}
