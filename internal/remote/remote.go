// Package remote defines the collaboration service as the session sees it.
//
// Every call may block and takes a context. Controllers deliver remote
// events through Recv, which returns once an event is available, the
// context is done, or the controller is closed.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/keystorm-collab/internal/delta"
)

// Errors returned by service implementations.
var (
	// ErrClosed indicates a closed client or controller.
	ErrClosed = errors.New("remote closed")

	// ErrNotFound indicates an unknown workspace or buffer.
	ErrNotFound = errors.New("remote entity not found")

	// ErrExists indicates the entity already exists.
	ErrExists = errors.New("remote entity already exists")

	// ErrUnauthorized indicates rejected credentials.
	ErrUnauthorized = errors.New("unauthorized")
)

// Config holds connection parameters.
type Config struct {
	Host     string
	Username string
	Password string
}

// Dialer opens client connections.
type Dialer interface {
	Connect(ctx context.Context, cfg Config) (Client, error)
}

// Client is a connected session with the service.
type Client interface {
	// User returns the id the service assigned to this client.
	User() string
	JoinWorkspace(ctx context.Context, id string) (Workspace, error)
	LeaveWorkspace(ctx context.Context, id string) error
	ListWorkspaces(ctx context.Context) ([]string, error)
	// CreateWorkspace creates a workspace owned by this user.
	CreateWorkspace(ctx context.Context, id string) error
	// DeleteWorkspace deletes a workspace, closing it for every member.
	DeleteWorkspace(ctx context.Context, id string) error
	// InviteToWorkspace lets user join a workspace owned by this user.
	InviteToWorkspace(ctx context.Context, id, user string) error
	// Logs returns the stream of service log lines for this client.
	Logs() LogStream
	Close() error
}

// LogStream yields service log lines.
type LogStream interface {
	Listen(ctx context.Context) (string, error)
}

// Workspace is a joined workspace.
type Workspace interface {
	ID() string
	Attach(ctx context.Context, path string) (BufferController, error)
	Detach(ctx context.Context, path string) error
	Create(ctx context.Context, path string) error
	Delete(ctx context.Context, path string) error
	FetchBuffers(ctx context.Context) ([]string, error)
	Cursor() CursorController
}

// BufferController streams changes of one attached buffer.
type BufferController interface {
	Path() string
	// Content returns the current text of the buffer.
	Content(ctx context.Context) (string, error)
	// Send submits a local change and returns once the service has
	// acknowledged it.
	Send(ctx context.Context, d delta.Delta) error
	// Recv returns the next change made by another participant.
	Recv(ctx context.Context) (delta.Delta, error)
}

// CursorController streams cursor positions within a workspace.
type CursorController interface {
	Send(ctx context.Context, ev CursorEvent) error
	Recv(ctx context.Context) (CursorEvent, error)
}

// Position is a 0-indexed row and byte column.
type Position struct {
	Row int
	Col int
}

// CursorEvent is a participant's cursor in a buffer.
type CursorEvent struct {
	Buffer string
	User   string
	Start  Position
	End    Position
}

// String returns a compact representation for logs.
func (ev CursorEvent) String() string {
	return fmt.Sprintf("%s@%s %d:%d-%d:%d", ev.User, ev.Buffer, ev.Start.Row, ev.Start.Col, ev.End.Row, ev.End.Col)
}
