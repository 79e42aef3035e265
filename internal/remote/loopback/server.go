// Package loopback is an in-process collaboration service.
//
// It keeps the authoritative text of every buffer, applies deltas in the
// order they arrive and forwards each one to the other participants
// attached to the same buffer. It does not merge concurrent edits: a
// participant whose delta was computed against stale text gets its change
// applied as-is, clamped to the text.
package loopback

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/keystorm-collab/internal/delta"
	"github.com/dshills/keystorm-collab/internal/logging"
	"github.com/dshills/keystorm-collab/internal/remote"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithLatency delays every acknowledgement by d.
func WithLatency(d time.Duration) Option {
	return func(s *Server) {
		s.latency = d
	}
}

// WithPassword requires clients to present password.
func WithPassword(password string) Option {
	return func(s *Server) {
		s.password = password
	}
}

// Server is the shared service state. It implements remote.Dialer.
type Server struct {
	log      *logging.Logger
	latency  time.Duration
	password string

	mu         sync.Mutex
	workspaces map[string]*workspaceState
	clients    map[string]*client
	faults     map[string][]error

	concurrentSends atomic.Int64
}

type workspaceState struct {
	id      string
	buffers map[string]*bufferState
	members map[string]*workspace

	// owner is empty for workspaces created through the Server, which
	// anyone may join.
	owner   string
	invited map[string]struct{}
}

func newWorkspaceState(id, owner string) *workspaceState {
	return &workspaceState{
		id:      id,
		buffers: make(map[string]*bufferState),
		members: make(map[string]*workspace),
		owner:   owner,
		invited: make(map[string]struct{}),
	}
}

// mayJoin reports whether user can join the workspace.
func (w *workspaceState) mayJoin(user string) bool {
	if w.owner == "" || w.owner == user {
		return true
	}
	_, ok := w.invited[user]
	return ok
}

type bufferState struct {
	path        string
	text        string
	history     []delta.Delta
	controllers map[*bufferController]struct{}
}

// NewServer creates an empty server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		log:        logging.Discard(),
		workspaces: make(map[string]*workspaceState),
		clients:    make(map[string]*client),
		faults:     make(map[string][]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateWorkspace adds an empty workspace. Creating an existing one is a
// no-op.
func (s *Server) CreateWorkspace(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[id]; !ok {
		s.workspaces[id] = newWorkspaceState(id, "")
	}
}

// CreateBuffer adds a buffer with initial content, creating the workspace
// if needed.
func (s *Server) CreateBuffer(ws, path, content string) error {
	s.CreateWorkspace(ws)
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.workspaces[ws]
	if _, ok := w.buffers[path]; ok {
		return fmt.Errorf("%w: buffer %s/%s", remote.ErrExists, ws, path)
	}
	w.buffers[path] = newBufferState(path, content)
	return nil
}

func newBufferState(path, content string) *bufferState {
	return &bufferState{
		path:        path,
		text:        content,
		controllers: make(map[*bufferController]struct{}),
	}
}

// BufferText returns the authoritative text of a buffer.
func (s *Server) BufferText(ws, path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.bufferLocked(ws, path)
	if err != nil {
		return "", false
	}
	return b.text, true
}

// History returns every delta applied to a buffer in arrival order.
func (s *Server) History(ws, path string) []delta.Delta {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.bufferLocked(ws, path)
	if err != nil {
		return nil
	}
	return append([]delta.Delta(nil), b.history...)
}

// ConcurrentSends returns how many times a controller sent while its
// previous send was still unacknowledged.
func (s *Server) ConcurrentSends() int64 {
	return s.concurrentSends.Load()
}

// Members returns the users that joined a workspace, sorted.
func (s *Server) Members(ws string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workspaces[ws]
	if !ok {
		return nil
	}
	users := make([]string, 0, len(w.members))
	for u := range w.members {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// FailNext makes the next call of op fail with err. Ops are connect, join,
// leave, list, create-workspace, delete-workspace, invite, attach, detach,
// create, delete, fetch, send and cursor.
func (s *Server) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

func (s *Server) faultLocked(op string) error {
	errs := s.faults[op]
	if len(errs) == 0 {
		return nil
	}
	err := errs[0]
	if len(errs) == 1 {
		delete(s.faults, op)
	} else {
		s.faults[op] = errs[1:]
	}
	return err
}

func (s *Server) fault(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faultLocked(op)
}

func (s *Server) bufferLocked(ws, path string) (*bufferState, error) {
	w, ok := s.workspaces[ws]
	if !ok {
		return nil, fmt.Errorf("%w: workspace %s", remote.ErrNotFound, ws)
	}
	b, ok := w.buffers[path]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %s/%s", remote.ErrNotFound, ws, path)
	}
	return b, nil
}

// broadcastLocked sends a log line to every client that joined ws.
func (s *Server) broadcastLocked(ws, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	s.log.Debug("%s", line)
	w, ok := s.workspaces[ws]
	if !ok {
		return
	}
	for _, member := range w.members {
		member.client.logs.push(line)
	}
}

func (s *Server) sleep(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect opens a client. An empty username gets a generated one.
func (s *Server) Connect(ctx context.Context, cfg remote.Config) (remote.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.fault("connect"); err != nil {
		return nil, err
	}
	if s.password != "" && cfg.Password != s.password {
		return nil, fmt.Errorf("%w: bad password for %q", remote.ErrUnauthorized, cfg.Username)
	}

	user := cfg.Username
	if user == "" {
		user = "user-" + uuid.NewString()[:8]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.clients[user]; taken {
		user = user + "-" + uuid.NewString()[:8]
	}
	c := &client{
		server: s,
		user:   user,
		logs:   newMailbox[string](),
		joined: make(map[string]*workspace),
	}
	s.clients[user] = c
	c.logs.push(fmt.Sprintf("connected to %s as %s", cfg.Host, user))
	return c, nil
}

var _ remote.Dialer = (*Server)(nil)
