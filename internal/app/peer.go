package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dshills/keystorm-collab/internal/bridge"
	"github.com/dshills/keystorm-collab/internal/collab"
	"github.com/dshills/keystorm-collab/internal/delta"
	"github.com/dshills/keystorm-collab/internal/host"
	"github.com/dshills/keystorm-collab/internal/logging"
	"github.com/dshills/keystorm-collab/internal/plugin/api"
	"github.com/dshills/keystorm-collab/internal/presence"
	"github.com/dshills/keystorm-collab/internal/remote"
)

// DefaultCommandTimeout bounds every blocking peer call.
const DefaultCommandTimeout = 10 * time.Second

// Peer is one simulated editor: its own host loop, editor, window and
// collaboration session. Its methods block and must not be called on the
// peer's host thread.
type Peer struct {
	name    string
	log     *logging.Logger
	loop    *host.Loop
	editor  *host.Editor
	session *collab.Session
	window  *host.Window

	ctx     context.Context
	timeout time.Duration
	started atomic.Bool
}

var _ api.CollabProvider = (*Peer)(nil)

// NewPeer creates a peer dialing through dialer. The host loop is not
// started until Start.
func NewPeer(name string, dialer remote.Dialer, log *logging.Logger, opts ...collab.Option) (*Peer, error) {
	if log == nil {
		log = logging.Discard()
	}
	log = log.WithField("peer", name)

	loop := host.NewLoop(log)
	editor := host.NewEditor(loop, log)
	opts = append(opts, collab.WithLogger(log))
	session, err := collab.NewSession(editor, dialer, opts...)
	if err != nil {
		return nil, &InitError{Component: "session " + name, Err: err}
	}

	return &Peer{
		name:    name,
		log:     log,
		loop:    loop,
		editor:  editor,
		session: session,
		ctx:     context.Background(),
		timeout: DefaultCommandTimeout,
	}, nil
}

// Name returns the peer name.
func (p *Peer) Name() string { return p.name }

// Session returns the peer's session. Its methods must run on the peer's
// host thread.
func (p *Peer) Session() *collab.Session { return p.session }

// Editor returns the peer's host editor.
func (p *Peer) Editor() *host.Editor { return p.editor }

// Bind makes later calls give up when ctx is done. It must be called before
// the peer is shared.
func (p *Peer) Bind(ctx context.Context) {
	p.ctx = ctx
}

// Start runs the host loop and opens the window workspaces are joined in.
func (p *Peer) Start() error {
	if err := p.loop.Start(); err != nil {
		return &InitError{Component: "host loop " + p.name, Err: err}
	}
	p.started.Store(true)
	return p.loop.Call(func() {
		p.window = p.editor.NewWindow()
	})
}

// Close disconnects, stops the session runtime and then the host loop.
func (p *Peer) Close(ctx context.Context) error {
	if !p.started.Load() {
		_ = p.session.Runtime().Shutdown(false)
		p.loop.Stop()
		return nil
	}
	err := p.session.Close(ctx)
	p.loop.Stop()
	return err
}

func (p *Peer) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(p.ctx, p.timeout)
}

// call runs fn on the host thread and waits for its result.
func call[T any](p *Peer, fn func() (T, error)) (T, error) {
	ctx, cancel := p.context()
	defer cancel()
	return bridge.OnHost(p.session.Runtime(), fn).Wait(ctx)
}

// await issues a session command on the host thread and waits for it to
// complete.
func await[T any](p *Peer, issue func() *bridge.Future[T]) (T, error) {
	ctx, cancel := p.context()
	defer cancel()

	fut, err := bridge.OnHost(p.session.Runtime(), func() (*bridge.Future[T], error) {
		return issue(), nil
	}).Wait(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return fut.Wait(ctx)
}

func done(_ struct{}, err error) error { return err }

// Connect connects the session.
func (p *Peer) Connect(hostname, user, password string) (string, error) {
	cfg := remote.Config{Host: hostname, Username: user, Password: password}
	return await(p, func() *bridge.Future[string] { return p.session.Connect(cfg) })
}

// Disconnect leaves everything and disconnects.
func (p *Peer) Disconnect() error {
	return done(await(p, p.session.Disconnect))
}

// Connected reports whether the session is connected.
func (p *Peer) Connected() bool {
	ok, _ := call(p, func() (bool, error) { return p.session.Connected(), nil })
	return ok
}

// User returns the connected user id.
func (p *Peer) User() string {
	user, _ := call(p, func() (string, error) { return p.session.User(), nil })
	return user
}

// ListWorkspaces lists the workspaces of the service.
func (p *Peer) ListWorkspaces() ([]string, error) {
	return await(p, p.session.ListWorkspaces)
}

// Join joins ws in the peer window.
func (p *Peer) Join(ws string) error {
	_, err := await(p, func() *bridge.Future[*collab.Workspace] {
		return p.session.JoinWorkspace(ws, p.window.ID())
	})
	return err
}

// Leave leaves ws.
func (p *Peer) Leave(ws string) error {
	return done(await(p, func() *bridge.Future[struct{}] { return p.session.LeaveWorkspace(ws) }))
}

// CreateWorkspace creates a workspace owned by the peer user.
func (p *Peer) CreateWorkspace(ws string) error {
	return done(await(p, func() *bridge.Future[struct{}] { return p.session.CreateWorkspace(ws) }))
}

// DeleteWorkspace leaves ws if joined and deletes it.
func (p *Peer) DeleteWorkspace(ws string) error {
	return done(await(p, func() *bridge.Future[struct{}] { return p.session.DeleteWorkspace(ws) }))
}

// Invite lets user join ws.
func (p *Peer) Invite(ws, user string) error {
	return done(await(p, func() *bridge.Future[struct{}] { return p.session.InviteToWorkspace(ws, user) }))
}

// Joined returns the joined workspaces.
func (p *Peer) Joined() []string {
	ids, _ := call(p, func() ([]string, error) {
		var ids []string
		for _, w := range p.session.Workspaces() {
			ids = append(ids, w.ID())
		}
		return ids, nil
	})
	return ids
}

// ListBuffers lists the buffers of a joined workspace.
func (p *Peer) ListBuffers(ws string) ([]string, error) {
	return await(p, func() *bridge.Future[[]string] { return p.session.ListBuffers(ws) })
}

// Create creates a remote buffer.
func (p *Peer) Create(ws, buf string) error {
	return done(await(p, func() *bridge.Future[struct{}] { return p.session.CreateBuffer(ws, buf) }))
}

// Delete deletes a remote buffer.
func (p *Peer) Delete(ws, buf string) error {
	return done(await(p, func() *bridge.Future[struct{}] { return p.session.DeleteBuffer(ws, buf) }))
}

// Attach attaches a buffer.
func (p *Peer) Attach(ws, buf string) error {
	_, err := await(p, func() *bridge.Future[*collab.Buffer] { return p.session.Attach(ws, buf) })
	return err
}

// Detach detaches a buffer.
func (p *Peer) Detach(ws, buf string) error {
	return done(await(p, func() *bridge.Future[struct{}] { return p.session.Detach(ws, buf) }))
}

// Attached returns the attached buffers of ws.
func (p *Peer) Attached(ws string) []string {
	ids, _ := call(p, func() ([]string, error) {
		w, ok := p.session.Workspace(ws)
		if !ok {
			return nil, nil
		}
		return w.Buffers(), nil
	})
	return ids
}

// withView runs fn on the host thread with the view of an attached buffer.
func withView[T any](p *Peer, ws, buf string, fn func(*host.View) (T, error)) (T, error) {
	return call(p, func() (T, error) {
		b, ok := p.session.Buffer(ws, buf)
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: %s/%s", collab.ErrBufferNotAttached, ws, buf)
		}
		return fn(b.View())
	})
}

// Text returns the local text of an attached buffer.
func (p *Peer) Text(ws, buf string) (string, error) {
	return withView(p, ws, buf, func(v *host.View) (string, error) {
		return v.Text(), nil
	})
}

// Edit replaces [start, end) of an attached buffer as a local user edit.
func (p *Peer) Edit(ws, buf string, start, end int, text string) error {
	_, err := withView(p, ws, buf, func(v *host.View) (struct{}, error) {
		return struct{}{}, v.Edit(delta.SubEdit{Start: start, End: end, Text: text})
	})
	return err
}

// Append inserts text at the end of an attached buffer and returns the
// offset it was inserted at.
func (p *Peer) Append(ws, buf, text string) (int, error) {
	return withView(p, ws, buf, func(v *host.View) (int, error) {
		at := v.Len()
		return at, v.Edit(delta.SubEdit{Start: at, End: at, Text: text})
	})
}

// Select sets the local selection, which is shared as the user's cursor.
func (p *Peer) Select(ws, buf string, start, end int) error {
	_, err := withView(p, ws, buf, func(v *host.View) (struct{}, error) {
		return struct{}{}, v.SetSelections(host.Span{Begin: start, End: end})
	})
	return err
}

// Color returns the presence color name of user.
func (p *Peer) Color(user string) string {
	return p.session.Presence().ColorOf(user).Name
}

// SetPalette swaps the presence palette.
func (p *Peer) SetPalette(palette []presence.Color) error {
	return p.session.Presence().SetPalette(palette)
}

// Stats returns the sync counters of an attached buffer.
func (p *Peer) Stats(ws, buf string) (BufferStats, error) {
	return call(p, func() (BufferStats, error) {
		b, ok := p.session.Buffer(ws, buf)
		if !ok {
			return BufferStats{}, fmt.Errorf("%w: %s/%s", collab.ErrBufferNotAttached, ws, buf)
		}
		return BufferStats{
			Sent:     b.Sent(),
			Received: b.Received(),
			Dropped:  b.Dropped(),
		}, nil
	})
}

// BufferStats are the sync counters of one attached buffer.
type BufferStats struct {
	Sent     int64
	Received int64
	Dropped  int64
}
