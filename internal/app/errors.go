package app

import (
	"errors"
	"fmt"
)

// Application errors.
var (
	// ErrAlreadyRunning indicates Run on a running application.
	ErrAlreadyRunning = errors.New("application already running")

	// ErrUnsupportedHost indicates a server the in-process service cannot
	// stand in for.
	ErrUnsupportedHost = errors.New("unsupported server host")

	// ErrNoPeers indicates a peer count below one.
	ErrNoPeers = errors.New("at least one peer is required")

	// ErrNotConverged indicates the peers did not reach the server text in
	// time.
	ErrNotConverged = errors.New("peers did not converge")
)

// InitError represents a component that failed to start.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init %s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
