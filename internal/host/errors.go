package host

import "errors"

// Errors returned by host operations.
var (
	// ErrLoopClosed indicates the loop no longer accepts work.
	ErrLoopClosed = errors.New("host loop closed")

	// ErrLoopRunning indicates the loop is already running.
	ErrLoopRunning = errors.New("host loop already running")

	// ErrViewClosed indicates an operation on a closed view.
	ErrViewClosed = errors.New("view closed")

	// ErrWindowClosed indicates an operation on a closed window.
	ErrWindowClosed = errors.New("window closed")

	// ErrInvalidRange indicates a range outside the view text or with end
	// before start.
	ErrInvalidRange = errors.New("invalid range")

	// ErrStaleToken indicates a change token older than the retained
	// revision log, or newer than the view.
	ErrStaleToken = errors.New("stale change token")
)
