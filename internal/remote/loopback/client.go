package loopback

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/dshills/keystorm-collab/internal/delta"
	"github.com/dshills/keystorm-collab/internal/remote"
)

type client struct {
	server *Server
	user   string
	logs   *mailbox[string]
	closed atomic.Bool

	// joined is guarded by server.mu.
	joined map[string]*workspace
}

func (c *client) User() string { return c.user }

func (c *client) Logs() remote.LogStream { return logStream{c.logs} }

func (c *client) check(ctx context.Context, op string) error {
	if c.closed.Load() {
		return remote.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.server.fault(op)
}

func (c *client) JoinWorkspace(ctx context.Context, id string) (remote.Workspace, error) {
	if err := c.check(ctx, "join"); err != nil {
		return nil, err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("%w: workspace %s", remote.ErrNotFound, id)
	}
	if !state.mayJoin(c.user) {
		return nil, fmt.Errorf("%w: %s is not invited to %s", remote.ErrUnauthorized, c.user, id)
	}
	if w, ok := c.joined[id]; ok {
		return w, nil
	}
	w := &workspace{
		client:   c,
		state:    state,
		cursor:   &cursorController{mail: newMailbox[remote.CursorEvent]()},
		attached: make(map[string]*bufferController),
	}
	w.cursor.ws = w
	c.joined[id] = w
	state.members[c.user] = w
	s.broadcastLocked(id, "%s joined workspace %s", c.user, id)
	return w, nil
}

func (c *client) LeaveWorkspace(ctx context.Context, id string) error {
	if err := c.check(ctx, "leave"); err != nil {
		return err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := c.joined[id]
	if !ok {
		return fmt.Errorf("%w: not in workspace %s", remote.ErrNotFound, id)
	}
	c.leaveLocked(w)
	s.broadcastLocked(id, "%s left workspace %s", c.user, id)
	return nil
}

func (c *client) leaveLocked(w *workspace) {
	for path, bc := range w.attached {
		bc.closeLocked()
		delete(w.attached, path)
	}
	w.cursor.mail.close()
	delete(w.state.members, c.user)
	delete(c.joined, w.state.id)
}

func (c *client) ListWorkspaces(ctx context.Context) ([]string, error) {
	if err := c.check(ctx, "list"); err != nil {
		return nil, err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.workspaces))
	for id := range s.workspaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *client) CreateWorkspace(ctx context.Context, id string) error {
	if err := c.check(ctx, "create-workspace"); err != nil {
		return err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workspaces[id]; ok {
		return fmt.Errorf("%w: workspace %s", remote.ErrExists, id)
	}
	s.workspaces[id] = newWorkspaceState(id, c.user)
	s.log.Debug("%s created workspace %s", c.user, id)
	return nil
}

// ownedLocked returns workspace id if c may manage it.
func (c *client) ownedLocked(id string) (*workspaceState, error) {
	state, ok := c.server.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("%w: workspace %s", remote.ErrNotFound, id)
	}
	if state.owner != "" && state.owner != c.user {
		return nil, fmt.Errorf("%w: %s does not own %s", remote.ErrUnauthorized, c.user, id)
	}
	return state, nil
}

func (c *client) DeleteWorkspace(ctx context.Context, id string) error {
	if err := c.check(ctx, "delete-workspace"); err != nil {
		return err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := c.ownedLocked(id)
	if err != nil {
		return err
	}
	s.broadcastLocked(id, "%s deleted workspace %s", c.user, id)
	for _, member := range state.members {
		member.client.leaveLocked(member)
	}
	delete(s.workspaces, id)
	return nil
}

func (c *client) InviteToWorkspace(ctx context.Context, id, user string) error {
	if err := c.check(ctx, "invite"); err != nil {
		return err
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := c.ownedLocked(id)
	if err != nil {
		return err
	}
	state.invited[user] = struct{}{}
	s.broadcastLocked(id, "%s invited %s to %s", c.user, user, id)
	return nil
}

func (c *client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range c.joined {
		c.leaveLocked(w)
		s.broadcastLocked(w.state.id, "%s disconnected", c.user)
	}
	delete(s.clients, c.user)
	c.logs.close()
	return nil
}

type logStream struct {
	mail *mailbox[string]
}

func (l logStream) Listen(ctx context.Context) (string, error) {
	return l.mail.recv(ctx)
}

type workspace struct {
	client *client
	state  *workspaceState
	cursor *cursorController

	// attached is guarded by server.mu.
	attached map[string]*bufferController
}

func (w *workspace) ID() string { return w.state.id }

func (w *workspace) Cursor() remote.CursorController { return w.cursor }

func (w *workspace) Attach(ctx context.Context, path string) (remote.BufferController, error) {
	if err := w.client.check(ctx, "attach"); err != nil {
		return nil, err
	}
	s := w.client.server
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bufferLocked(w.state.id, path)
	if err != nil {
		return nil, err
	}
	if bc, ok := w.attached[path]; ok {
		return bc, nil
	}
	bc := &bufferController{
		ws:     w,
		buffer: b,
		mail:   newMailbox[delta.Delta](),
	}
	b.controllers[bc] = struct{}{}
	w.attached[path] = bc
	s.broadcastLocked(w.state.id, "%s attached %s", w.client.user, path)
	return bc, nil
}

func (w *workspace) Detach(ctx context.Context, path string) error {
	if err := w.client.check(ctx, "detach"); err != nil {
		return err
	}
	s := w.client.server
	s.mu.Lock()
	defer s.mu.Unlock()

	bc, ok := w.attached[path]
	if !ok {
		return fmt.Errorf("%w: %s not attached", remote.ErrNotFound, path)
	}
	bc.closeLocked()
	delete(w.attached, path)
	return nil
}

func (w *workspace) Create(ctx context.Context, path string) error {
	if err := w.client.check(ctx, "create"); err != nil {
		return err
	}
	s := w.client.server
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := w.state.buffers[path]; ok {
		return fmt.Errorf("%w: buffer %s/%s", remote.ErrExists, w.state.id, path)
	}
	w.state.buffers[path] = newBufferState(path, "")
	s.broadcastLocked(w.state.id, "%s created %s", w.client.user, path)
	return nil
}

func (w *workspace) Delete(ctx context.Context, path string) error {
	if err := w.client.check(ctx, "delete"); err != nil {
		return err
	}
	s := w.client.server
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bufferLocked(w.state.id, path)
	if err != nil {
		return err
	}
	for bc := range b.controllers {
		bc.closeLocked()
		delete(bc.ws.attached, path)
	}
	delete(w.state.buffers, path)
	s.broadcastLocked(w.state.id, "%s deleted %s", w.client.user, path)
	return nil
}

func (w *workspace) FetchBuffers(ctx context.Context) ([]string, error) {
	if err := w.client.check(ctx, "fetch"); err != nil {
		return nil, err
	}
	s := w.client.server
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(w.state.buffers))
	for p := range w.state.buffers {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

type bufferController struct {
	ws       *workspace
	buffer   *bufferState
	mail     *mailbox[delta.Delta]
	inflight atomic.Bool
}

func (bc *bufferController) Path() string { return bc.buffer.path }

func (bc *bufferController) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if bc.mail.isClosed() {
		return "", remote.ErrClosed
	}
	s := bc.ws.client.server
	s.mu.Lock()
	defer s.mu.Unlock()
	return bc.buffer.text, nil
}

func (bc *bufferController) Send(ctx context.Context, d delta.Delta) error {
	s := bc.ws.client.server
	if !bc.inflight.CompareAndSwap(false, true) {
		s.concurrentSends.Add(1)
	}
	defer bc.inflight.Store(false)

	if bc.mail.isClosed() {
		return remote.ErrClosed
	}
	if err := bc.ws.client.check(ctx, "send"); err != nil {
		return err
	}

	s.mu.Lock()
	b := bc.buffer
	d.Start = clampInt(d.Start, 0, len(b.text))
	d.End = clampInt(d.End, d.Start, len(b.text))
	b.text = b.text[:d.Start] + d.Text + b.text[d.End:]
	b.history = append(b.history, d)
	for other := range b.controllers {
		if other != bc {
			other.mail.push(d)
		}
	}
	s.mu.Unlock()

	return s.sleep(ctx)
}

func (bc *bufferController) Recv(ctx context.Context) (delta.Delta, error) {
	return bc.mail.recv(ctx)
}

func (bc *bufferController) closeLocked() {
	bc.mail.close()
	delete(bc.buffer.controllers, bc)
}

type cursorController struct {
	ws   *workspace
	mail *mailbox[remote.CursorEvent]
}

func (cc *cursorController) Send(ctx context.Context, ev remote.CursorEvent) error {
	if cc.mail.isClosed() {
		return remote.ErrClosed
	}
	if err := cc.ws.client.check(ctx, "cursor"); err != nil {
		return err
	}
	ev.User = cc.ws.client.user

	s := cc.ws.client.server
	s.mu.Lock()
	defer s.mu.Unlock()
	for user, member := range cc.ws.state.members {
		if user != ev.User {
			member.cursor.mail.push(ev)
		}
	}
	return nil
}

func (cc *cursorController) Recv(ctx context.Context) (remote.CursorEvent, error) {
	return cc.mail.recv(ctx)
}

func clampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
