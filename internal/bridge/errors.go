package bridge

import "errors"

// Runtime errors.
var (
	// ErrAlreadyRunning indicates Start was called on a running runtime.
	ErrAlreadyRunning = errors.New("runtime already running")

	// ErrNotRunning indicates the runtime has not been started.
	ErrNotRunning = errors.New("runtime not running")

	// ErrShutdown indicates the runtime is shutting down or stopped.
	ErrShutdown = errors.New("runtime shut down")

	// ErrTaskExists indicates a live task already uses the requested name.
	ErrTaskExists = errors.New("task already exists")

	// ErrTaskNotFound indicates no live task has the requested name.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskPanicked wraps the value recovered from a panicking task.
	ErrTaskPanicked = errors.New("task panicked")

	// ErrNilTask indicates Dispatch was given a nil function.
	ErrNilTask = errors.New("nil task function")

	// ErrHostClosed indicates the host executor no longer accepts work.
	ErrHostClosed = errors.New("host executor closed")

	// ErrHostPanicked wraps the value recovered from a panicking host call.
	ErrHostPanicked = errors.New("host call panicked")
)
