package collab

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/dshills/keystorm-collab/internal/bridge"
	"github.com/dshills/keystorm-collab/internal/host"
	"github.com/dshills/keystorm-collab/internal/registry"
	"github.com/dshills/keystorm-collab/internal/remote"
)

// Workspace is a joined remote workspace installed in a host window.
type Workspace struct {
	id     registry.WorkspaceID
	window host.WindowID
	root   string
	handle remote.Workspace
	cursor remote.CursorController

	buffers   map[string]*Buffer
	attaching map[string]*bridge.Future[*Buffer]
	leaving   *bridge.Future[struct{}]
}

// ID returns the workspace id.
func (w *Workspace) ID() string { return string(w.id) }

// Window returns the window the workspace is installed in.
func (w *Workspace) Window() host.WindowID { return w.window }

// Root returns the temp directory backing the workspace buffers.
func (w *Workspace) Root() string { return w.root }

// Leaving reports whether the workspace is being torn down.
func (w *Workspace) Leaving() bool { return w.leaving != nil }

// Buffers returns the attached buffer ids sorted.
func (w *Workspace) Buffers() []string {
	ids := make([]string, 0, len(w.buffers))
	for id := range w.buffers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (w *Workspace) sortedBuffers() []*Buffer {
	out := make([]*Buffer, 0, len(w.buffers))
	for _, id := range w.Buffers() {
		out = append(out, w.buffers[id])
	}
	return out
}

// JoinWorkspace joins the remote workspace id and installs it in window.
func (s *Session) JoinWorkspace(id string, window host.WindowID) *bridge.Future[*Workspace] {
	if !s.Connected() {
		return reject[*Workspace](s, "join", id, ErrNotConnected)
	}
	if _, ok := s.workspaces[registry.WorkspaceID(id)]; ok {
		return reject[*Workspace](s, "join", id, ErrWorkspaceJoined)
	}
	if win, ok := s.editor.Window(window); !ok || win.IsClosed() {
		return reject[*Workspace](s, "join", id, ErrWindowClosed)
	}

	c := s.client
	return command(s, "join", id, "join:"+id,
		func(ctx context.Context) (remote.Workspace, error) {
			return c.JoinWorkspace(ctx, id)
		},
		func(handle remote.Workspace) (*Workspace, error) {
			w, err := s.installWorkspace(handle, window)
			if err != nil {
				s.abandon("leave", id, func(ctx context.Context) error {
					return c.LeaveWorkspace(ctx, id)
				})
				return nil, err
			}
			return w, nil
		})
}

func (s *Session) installWorkspace(handle remote.Workspace, window host.WindowID) (*Workspace, error) {
	id := registry.WorkspaceID(handle.ID())
	if _, ok := s.workspaces[id]; ok {
		return nil, ErrWorkspaceJoined
	}
	win, ok := s.editor.Window(window)
	if !ok || win.IsClosed() {
		return nil, ErrWindowClosed
	}

	root, err := os.MkdirTemp(s.tempDir, TempPrefix)
	if err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	w := &Workspace{
		id:      id,
		window:  window,
		root:    root,
		handle:  handle,
		cursor:  handle.Cursor(),
		buffers:   make(map[string]*Buffer),
		attaching: make(map[string]*bridge.Future[*Buffer]),
	}
	if _, err := s.rt.Dispatch(cursorTask(id), s.cursorLoop(w)); err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}

	s.workspaces[id] = w
	s.reg.Windows.Put(id, window)
	s.checkRegistry("join " + string(id))
	s.hookWindow(win)
	s.log.WithField("workspace", id).Debug("workspace installed at %s", root)
	s.editor.StatusMessage(fmt.Sprintf("joined workspace %s", id))
	return w, nil
}

// hookWindow leaves every workspace of win when the window closes.
func (s *Session) hookWindow(win *host.Window) {
	if _, ok := s.windowHooks[win.ID()]; ok {
		return
	}
	s.windowHooks[win.ID()] = win.OnClose(func(win *host.Window) {
		for _, id := range s.reg.WorkspacesIn(win.ID()) {
			s.LeaveWorkspace(string(id))
		}
	})
}

func (s *Session) cursorLoop(w *Workspace) bridge.TaskFunc {
	name := cursorTask(w.id)
	return func(ctx context.Context) error {
		for {
			ev, err := w.cursor.Recv(ctx)
			if err != nil {
				return s.streamEnded(ctx, name, err)
			}
			bridge.Post(s.rt, func() error {
				s.drawCursor(w.id, ev)
				return nil
			})
		}
	}
}

// drawCursor renders a remote cursor. Events for buffers that are not
// shown locally are dropped.
func (s *Session) drawCursor(ws registry.WorkspaceID, ev remote.CursorEvent) {
	key := registry.BufferKey{Workspace: ws, Buffer: ev.Buffer}
	id, ok := s.reg.ViewFor(key)
	if !ok {
		return
	}
	v, ok := s.editor.FindView(id)
	if !ok {
		return
	}
	s.presence.Draw(v, ev)
}

// LeaveWorkspace detaches every buffer of the workspace, removes it from
// the host and leaves it remotely. Leaving a workspace that is already
// being left returns the pending result.
func (s *Session) LeaveWorkspace(id string) *bridge.Future[struct{}] {
	w, ok := s.workspaces[registry.WorkspaceID(id)]
	if !ok {
		return reject[struct{}](s, "leave", id, ErrWorkspaceNotJoined)
	}
	if w.leaving != nil {
		return w.leaving
	}

	var detaching []*bridge.Future[struct{}]
	for _, b := range w.sortedBuffers() {
		detaching = append(detaching, s.detach(b, true))
	}

	c := s.client
	w.leaving = command(s, "leave", id, "leave:"+id,
		func(ctx context.Context) (struct{}, error) {
			// Detach failures have been reported already.
			_, _ = bridge.All(detaching...).Wait(ctx)
			s.stopTask(cursorTask(w.id))
			if _, err := bridge.Post(s.rt, func() error {
				s.uninstallWorkspace(w)
				return nil
			}).Wait(context.WithoutCancel(ctx)); err != nil {
				return struct{}{}, err
			}
			if c == nil {
				return struct{}{}, nil
			}
			return struct{}{}, c.LeaveWorkspace(ctx, id)
		},
		func(struct{}) (struct{}, error) {
			s.editor.StatusMessage(fmt.Sprintf("left workspace %s", id))
			return struct{}{}, nil
		})
	return w.leaving
}

// CreateWorkspace creates a remote workspace owned by the user without
// joining it.
func (s *Session) CreateWorkspace(id string) *bridge.Future[struct{}] {
	if !s.Connected() {
		return reject[struct{}](s, "create workspace", id, ErrNotConnected)
	}
	c := s.client
	return command(s, "create workspace", id, "create-workspace:"+id,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.CreateWorkspace(ctx, id)
		},
		func(struct{}) (struct{}, error) {
			s.editor.StatusMessage(fmt.Sprintf("created workspace %s", id))
			return struct{}{}, nil
		})
}

// DeleteWorkspace leaves the workspace if it is joined and deletes it
// remotely once the local side is gone.
func (s *Session) DeleteWorkspace(id string) *bridge.Future[struct{}] {
	if !s.Connected() {
		return reject[struct{}](s, "delete workspace", id, ErrNotConnected)
	}
	left := bridge.Resolved(struct{}{})
	if _, ok := s.workspaces[registry.WorkspaceID(id)]; ok {
		left = s.LeaveWorkspace(id)
	}
	c := s.client
	return command(s, "delete workspace", id, "delete-workspace:"+id,
		func(ctx context.Context) (struct{}, error) {
			// Leave failures have been reported already.
			_, _ = left.Wait(ctx)
			return struct{}{}, c.DeleteWorkspace(ctx, id)
		},
		func(struct{}) (struct{}, error) {
			s.editor.StatusMessage(fmt.Sprintf("deleted workspace %s", id))
			return struct{}{}, nil
		})
}

// InviteToWorkspace lets user join a workspace owned by the session user.
func (s *Session) InviteToWorkspace(id, user string) *bridge.Future[struct{}] {
	if !s.Connected() {
		return reject[struct{}](s, "invite", id, ErrNotConnected)
	}
	c := s.client
	return command(s, "invite", id, "",
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.InviteToWorkspace(ctx, id, user)
		},
		func(struct{}) (struct{}, error) {
			s.editor.StatusMessage(fmt.Sprintf("invited %s to %s", user, id))
			return struct{}{}, nil
		})
}

func (s *Session) uninstallWorkspace(w *Workspace) {
	for _, b := range w.sortedBuffers() {
		s.uninstallBuffer(b)
	}
	s.reg.Windows.Remove(w.id)
	s.reg.Buffers.RemoveValue(w.id)
	delete(s.workspaces, w.id)
	s.checkRegistry("leave " + string(w.id))

	if len(s.reg.WorkspacesIn(w.window)) == 0 {
		if unhook, ok := s.windowHooks[w.window]; ok {
			unhook()
			delete(s.windowHooks, w.window)
		}
	}

	if err := os.RemoveAll(w.root); err != nil {
		s.log.Warn("removing %s: %v", w.root, err)
	}
	s.log.WithField("workspace", w.id).Debug("workspace uninstalled")
}

func (s *Session) joined(id string) (*Workspace, error) {
	if !s.Connected() {
		return nil, ErrNotConnected
	}
	w, ok := s.workspaces[registry.WorkspaceID(id)]
	if !ok {
		return nil, ErrWorkspaceNotJoined
	}
	if w.leaving != nil {
		return nil, ErrWorkspaceLeaving
	}
	return w, nil
}

// ListBuffers resolves with the buffers of a joined workspace.
func (s *Session) ListBuffers(ws string) *bridge.Future[[]string] {
	w, err := s.joined(ws)
	if err != nil {
		return reject[[]string](s, "list buffers", ws, err)
	}
	return command(s, "list buffers", ws, "",
		w.handle.FetchBuffers,
		func(ids []string) ([]string, error) { return ids, nil })
}

// CreateBuffer creates an empty remote buffer without attaching it.
func (s *Session) CreateBuffer(ws, buf string) *bridge.Future[struct{}] {
	key := registry.BufferKey{Workspace: registry.WorkspaceID(ws), Buffer: buf}
	w, err := s.joined(ws)
	if err != nil {
		return reject[struct{}](s, "create", key.String(), err)
	}
	return command(s, "create", key.String(), "create:"+key.String(),
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, w.handle.Create(ctx, buf)
		},
		func(struct{}) (struct{}, error) {
			s.editor.StatusMessage(fmt.Sprintf("created buffer %s", key))
			return struct{}{}, nil
		})
}

// DeleteBuffer detaches the buffer if it is attached and deletes it
// remotely.
func (s *Session) DeleteBuffer(ws, buf string) *bridge.Future[struct{}] {
	key := registry.BufferKey{Workspace: registry.WorkspaceID(ws), Buffer: buf}
	w, err := s.joined(ws)
	if err != nil {
		return reject[struct{}](s, "delete", key.String(), err)
	}

	detached := bridge.Resolved(struct{}{})
	if b, ok := w.buffers[buf]; ok {
		detached = s.detach(b, true)
	}
	return command(s, "delete", key.String(), "delete:"+key.String(),
		func(ctx context.Context) (struct{}, error) {
			_, _ = detached.Wait(ctx)
			return struct{}{}, w.handle.Delete(ctx, buf)
		},
		func(struct{}) (struct{}, error) {
			s.editor.StatusMessage(fmt.Sprintf("deleted buffer %s", key))
			return struct{}{}, nil
		})
}
