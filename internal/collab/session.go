package collab

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dshills/keystorm-collab/internal/bridge"
	"github.com/dshills/keystorm-collab/internal/host"
	"github.com/dshills/keystorm-collab/internal/logging"
	"github.com/dshills/keystorm-collab/internal/presence"
	"github.com/dshills/keystorm-collab/internal/registry"
	"github.com/dshills/keystorm-collab/internal/remote"
)

const (
	// DefaultOutboundQueue is the per-buffer outbound queue capacity.
	DefaultOutboundQueue = 64

	// TempPrefix prefixes every workspace temp root.
	TempPrefix = "collab_"
)

// Task names.
const loggerTask = "collab-logger"

func cursorTask(ws registry.WorkspaceID) string { return "cursor-ctl:" + string(ws) }

func recvTask(key registry.BufferKey) string { return "buffer-ctl:" + key.String() }

func sendTask(key registry.BufferKey) string { return "buffer-send:" + key.String() }

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithWaitForAck makes local edits block until the service acknowledges
// them. Enabled by default.
func WithWaitForAck(wait bool) Option {
	return func(s *Session) {
		s.waitForAck = wait
	}
}

// WithAutoCreate makes Attach create missing buffers.
func WithAutoCreate(create bool) Option {
	return func(s *Session) {
		s.autoCreate = create
	}
}

// WithTempDir sets the parent directory of workspace temp roots.
func WithTempDir(dir string) Option {
	return func(s *Session) {
		s.tempDir = dir
	}
}

// WithOutboundQueue sets the per-buffer outbound queue capacity.
func WithOutboundQueue(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.outboundQueue = n
		}
	}
}

// WithPalette sets the presence palette.
func WithPalette(p []presence.Color) Option {
	return func(s *Session) {
		s.palette = p
	}
}

// Session is the collaboration state of one editor.
type Session struct {
	editor   *host.Editor
	dialer   remote.Dialer
	rt       *bridge.Runtime
	reg      *registry.Registry
	presence *presence.Renderer
	log      *logging.Logger

	waitForAck    bool
	autoCreate    bool
	tempDir       string
	outboundQueue int
	palette       []presence.Color

	// Host thread only.
	client        remote.Client
	disconnecting *bridge.Future[struct{}]
	workspaces    map[registry.WorkspaceID]*Workspace
	windowHooks   map[host.WindowID]func()
}

// NewSession creates a session for editor and starts its runtime.
func NewSession(editor *host.Editor, dialer remote.Dialer, opts ...Option) (*Session, error) {
	s := &Session{
		editor:        editor,
		dialer:        dialer,
		reg:           registry.New(),
		log:           logging.Discard(),
		waitForAck:    true,
		outboundQueue: DefaultOutboundQueue,
		workspaces:    make(map[registry.WorkspaceID]*Workspace),
		windowHooks:   make(map[host.WindowID]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("collab")
	if s.palette == nil {
		s.palette = presence.DefaultPalette()
	}
	s.presence = presence.NewRenderer(s.palette, s.log)

	s.rt = bridge.NewRuntime(editor.Loop(), bridge.WithLogger(s.log))
	if err := s.rt.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// Editor returns the host editor.
func (s *Session) Editor() *host.Editor { return s.editor }

// Runtime returns the task runtime.
func (s *Session) Runtime() *bridge.Runtime { return s.rt }

// Registry returns the identity registry.
func (s *Session) Registry() *registry.Registry { return s.reg }

// Presence returns the cursor renderer.
func (s *Session) Presence() *presence.Renderer { return s.presence }

// Connected reports whether a client is connected and not disconnecting.
func (s *Session) Connected() bool {
	return s.client != nil && s.disconnecting == nil
}

// User returns the id of the connected user.
func (s *Session) User() string {
	if s.client == nil {
		return ""
	}
	return s.client.User()
}

// Workspace returns a joined workspace.
func (s *Session) Workspace(id string) (*Workspace, bool) {
	w, ok := s.workspaces[registry.WorkspaceID(id)]
	return w, ok
}

// Workspaces returns the joined workspaces sorted by id.
func (s *Session) Workspaces() []*Workspace {
	out := make([]*Workspace, 0, len(s.workspaces))
	for _, w := range s.workspaces {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Buffer returns an attached buffer.
func (s *Session) Buffer(ws, buf string) (*Buffer, bool) {
	w, ok := s.Workspace(ws)
	if !ok {
		return nil, false
	}
	b, ok := w.buffers[buf]
	return b, ok
}

// BufferForView returns the buffer shown in v.
func (s *Session) BufferForView(v host.ViewID) (*Buffer, bool) {
	key, ok := s.reg.BufferFor(v)
	if !ok {
		return nil, false
	}
	return s.Buffer(string(key.Workspace), key.Buffer)
}

func (s *Session) lookup(key registry.BufferKey) *Buffer {
	b, _ := s.Buffer(string(key.Workspace), key.Buffer)
	return b
}

// Connect opens a client and resolves with the user id assigned by the
// service.
func (s *Session) Connect(cfg remote.Config) *bridge.Future[string] {
	if s.client != nil {
		return reject[string](s, "connect", cfg.Host, ErrAlreadyConnected)
	}
	return command(s, "connect", cfg.Host, "connect",
		func(ctx context.Context) (remote.Client, error) {
			return s.dialer.Connect(ctx, cfg)
		},
		func(c remote.Client) (string, error) {
			s.client = c
			s.startLogger(c)
			s.editor.StatusMessage(fmt.Sprintf("connected to %s as %s", cfg.Host, c.User()))
			return c.User(), nil
		})
}

func (s *Session) startLogger(c remote.Client) {
	logs := c.Logs()
	log := s.log.WithComponent("remote")
	_, err := s.rt.Dispatch(loggerTask, func(ctx context.Context) error {
		for {
			line, err := logs.Listen(ctx)
			if err != nil {
				return s.streamEnded(ctx, loggerTask, err)
			}
			log.Debug("%s", line)
		}
	})
	if err != nil {
		s.log.Warn("could not start log listener: %v", err)
	}
}

// Disconnect leaves every workspace and closes the client.
func (s *Session) Disconnect() *bridge.Future[struct{}] {
	if s.client == nil {
		return reject[struct{}](s, "disconnect", "", ErrNotConnected)
	}
	if s.disconnecting != nil {
		return s.disconnecting
	}

	var leaving []*bridge.Future[struct{}]
	for _, w := range s.Workspaces() {
		leaving = append(leaving, s.LeaveWorkspace(string(w.id)))
	}

	c := s.client
	s.disconnecting = command(s, "disconnect", c.User(), "disconnect",
		func(ctx context.Context) (closeResult, error) {
			// Leave failures have been reported already.
			_, _ = bridge.All(leaving...).Wait(ctx)
			s.stopTask(loggerTask)
			return closeResult{err: c.Close()}, nil
		},
		func(r closeResult) (struct{}, error) {
			s.client = nil
			s.disconnecting = nil
			s.editor.StatusMessage("disconnected")
			return struct{}{}, r.err
		})
	return s.disconnecting
}

type closeResult struct {
	err error
}

// ListWorkspaces resolves with the workspaces known to the service.
func (s *Session) ListWorkspaces() *bridge.Future[[]string] {
	if !s.Connected() {
		return reject[[]string](s, "list workspaces", "", ErrNotConnected)
	}
	c := s.client
	return command(s, "list workspaces", "", "",
		c.ListWorkspaces,
		func(ids []string) ([]string, error) { return ids, nil })
}

// Close disconnects if needed and stops the runtime, waiting for every
// task to return. It must not be called on the host thread.
func (s *Session) Close(ctx context.Context) error {
	pending, err := bridge.OnHost(s.rt, func() (*bridge.Future[struct{}], error) {
		if s.client == nil {
			return bridge.Resolved(struct{}{}), nil
		}
		return s.Disconnect(), nil
	}).Wait(ctx)
	if err == nil {
		_, err = pending.Wait(ctx)
	}
	if shutdownErr := s.rt.Shutdown(true); shutdownErr != nil && !errors.Is(shutdownErr, bridge.ErrShutdown) {
		err = errors.Join(err, shutdownErr)
	}
	return err
}

// command runs call in a task and then finish on the host thread. An
// empty name gives the task a generated one; a named command already in
// flight fails with ErrInProgress. Failures are reported to the user once
// and reject the returned future; a cancelled command rejects quietly.
func command[R, T any](s *Session, op, target, name string, call func(context.Context) (R, error), finish func(R) (T, error)) *bridge.Future[T] {
	f := bridge.NewFuture[T]()
	_, err := s.rt.Dispatch(name, func(ctx context.Context) error {
		r, err := call(ctx)
		if err != nil {
			f.Reject(s.settle(ctx, op, target, err))
			return nil
		}
		v, err := bridge.OnHost(s.rt, func() (T, error) {
			return finish(r)
		}).Wait(context.WithoutCancel(ctx))
		if err != nil {
			f.Reject(s.settle(ctx, op, target, err))
			return nil
		}
		f.Resolve(v)
		return nil
	})
	if err != nil {
		if errors.Is(err, bridge.ErrTaskExists) {
			err = ErrInProgress
		}
		f.Reject(s.fail(op, target, err))
	}
	return f
}

func reject[T any](s *Session, op, target string, err error) *bridge.Future[T] {
	return bridge.Failed[T](s.fail(op, target, err))
}

// settle maps the failure of a command task. Cancellation is control
// flow: it is logged at debug level and never shown to the user.
func (s *Session) settle(ctx context.Context, op, target string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		opErr := wrapOp(op, target, err)
		s.log.Debug("%v", opErr)
		return opErr
	}
	return s.fail(op, target, err)
}

func wrapOp(op, target string, err error) *OperationError {
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		opErr = NewOperationError(op, target, err)
	}
	return opErr
}

// fail wraps err and shows it to the user. Safe from any goroutine.
func (s *Session) fail(op, target string, err error) error {
	opErr := wrapOp(op, target, err)
	s.log.Error("%v", opErr)
	msg := opErr.Error()
	s.editor.Loop().Post(func() { s.editor.ErrorMessage(msg) })
	return opErr
}

// streamEnded maps the error that ended a consumer loop to the task
// result: cancellation stays cancellation and a closed stream is a
// normal end.
func (s *Session) streamEnded(ctx context.Context, task string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, remote.ErrClosed) {
		s.log.WithField("task", task).Debug("stream closed")
		return nil
	}
	return err
}

// checkRegistry verifies the registry after a mutation. An inconsistency
// is logged and otherwise left alone.
func (s *Session) checkRegistry(after string) {
	if err := s.reg.Check(); err != nil {
		s.log.Warn("registry check after %s: %v", after, err)
	}
}

// stopTask cancels the named task and waits for it to return. A task that
// has already finished counts as stopped.
func (s *Session) stopTask(name string) {
	_, err := s.rt.Cancel(name).Wait(context.Background())
	if err != nil && !errors.Is(err, bridge.ErrTaskNotFound) {
		s.log.WithField("task", name).Warn("cancel failed: %v", err)
	}
}

// abandon runs a best-effort remote cleanup in the background.
func (s *Session) abandon(op, target string, fn func(context.Context) error) {
	_, err := s.rt.Dispatch("", func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			s.log.Warn("%s %s: %v", op, target, err)
		}
		return nil
	})
	if err != nil {
		s.log.Warn("%s %s: %v", op, target, err)
	}
}
