package collab

import (
	"errors"
	"fmt"
)

// Session errors.
var (
	// ErrNotConnected indicates a command that needs a connected client.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected indicates Connect on a connected session.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrInProgress indicates the same command is already running.
	ErrInProgress = errors.New("operation already in progress")

	// ErrWorkspaceNotJoined indicates an unknown or departed workspace.
	ErrWorkspaceNotJoined = errors.New("workspace not joined")

	// ErrWorkspaceJoined indicates the workspace is already installed.
	ErrWorkspaceJoined = errors.New("workspace already joined")

	// ErrWorkspaceLeaving indicates the workspace is being torn down.
	ErrWorkspaceLeaving = errors.New("workspace is being left")

	// ErrWindowClosed indicates the target window is gone.
	ErrWindowClosed = errors.New("window closed")

	// ErrBufferNotFound indicates the buffer does not exist remotely.
	ErrBufferNotFound = errors.New("buffer not found")

	// ErrBufferNotAttached indicates the buffer is not installed locally.
	ErrBufferNotAttached = errors.New("buffer not attached")

	// ErrInvalidBufferName indicates a buffer id that cannot back a file.
	ErrInvalidBufferName = errors.New("invalid buffer name")
)

// OperationError represents a failed session command.
type OperationError struct {
	Op     string // Command name (e.g., "connect", "attach")
	Target string // Workspace, buffer or host the command acted on
	Err    error  // Underlying error
}

// NewOperationError creates a new OperationError.
func NewOperationError(op, target string, err error) *OperationError {
	return &OperationError{Op: op, Target: target, Err: err}
}

func (e *OperationError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Op
	if e.Target != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.Target)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is implements errors.Is for OperationError.
// Matches both the wrapper itself and the wrapped error.
func (e *OperationError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*OperationError); ok {
		return e == t
	}
	return errors.Is(e.Err, target)
}
