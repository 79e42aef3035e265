package collab

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/dshills/keystorm-collab/internal/bridge"
	"github.com/dshills/keystorm-collab/internal/delta"
	"github.com/dshills/keystorm-collab/internal/host"
	"github.com/dshills/keystorm-collab/internal/registry"
	"github.com/dshills/keystorm-collab/internal/remote"
)

// BufferSetting holds "<workspace>/<buffer>" on every collaborative view.
const BufferSetting = "collab.buffer"

// Buffer is a remote buffer attached to a host view.
type Buffer struct {
	key  registry.BufferKey
	ws   *Workspace
	ctl  remote.BufferController
	view *host.View
	path string

	queue  chan outbound
	sender *bridge.Task

	unsubscribe []func()
	teardown    *bridge.Future[struct{}]
	removed     bool

	sent     atomic.Int64
	received atomic.Int64
	dropped  atomic.Int64
}

type outbound struct {
	d   delta.Delta
	ack chan error
}

// Key returns the buffer identity.
func (b *Buffer) Key() registry.BufferKey { return b.key }

// View returns the host view showing the buffer.
func (b *Buffer) View() *host.View { return b.view }

// Path returns the temp file backing the view.
func (b *Buffer) Path() string { return b.path }

// Sent returns the number of acknowledged outbound deltas.
func (b *Buffer) Sent() int64 { return b.sent.Load() }

// Received returns the number of applied inbound deltas.
func (b *Buffer) Received() int64 { return b.received.Load() }

// Dropped returns the number of suppressed echo notifications.
func (b *Buffer) Dropped() int64 { return b.dropped.Load() }

// Detaching reports whether the buffer is being torn down.
func (b *Buffer) Detaching() bool { return b.teardown != nil }

type attachResult struct {
	ctl     remote.BufferController
	content string
}

// Attach attaches a remote buffer and shows it in a new view of the
// workspace window. A missing buffer is created when auto-create is on.
// Attaching an attached buffer resolves with it and attaching one that is
// still being attached returns the pending result.
func (s *Session) Attach(ws, buf string) *bridge.Future[*Buffer] {
	key := registry.BufferKey{Workspace: registry.WorkspaceID(ws), Buffer: buf}
	w, err := s.joined(ws)
	if err != nil {
		return reject[*Buffer](s, "attach", key.String(), err)
	}
	if b, ok := w.buffers[buf]; ok && b.teardown == nil {
		return bridge.Resolved(b)
	}
	if pending, ok := w.attaching[buf]; ok {
		// A failed attempt may be retried.
		if _, err, done := pending.Result(); !done || err == nil {
			return pending
		}
	}
	path, err := bufferFile(w.root, buf)
	if err != nil {
		return reject[*Buffer](s, "attach", key.String(), err)
	}

	f := s.attach(w, key, path)
	w.attaching[buf] = f
	f.OnDone(s.rt.Host(), func(*Buffer, error) {
		if w.attaching[buf] == f {
			delete(w.attaching, buf)
		}
	})
	return f
}

func (s *Session) attach(w *Workspace, key registry.BufferKey, path string) *bridge.Future[*Buffer] {
	buf := key.Buffer
	autoCreate := s.autoCreate
	return command(s, "attach", key.String(), "attach:"+key.String(),
		func(ctx context.Context) (attachResult, error) {
			ctl, err := w.handle.Attach(ctx, buf)
			if errors.Is(err, remote.ErrNotFound) {
				if !autoCreate {
					return attachResult{}, fmt.Errorf("%w: %s", ErrBufferNotFound, key)
				}
				if err := w.handle.Create(ctx, buf); err != nil && !errors.Is(err, remote.ErrExists) {
					return attachResult{}, err
				}
				ctl, err = w.handle.Attach(ctx, buf)
			}
			if err != nil {
				return attachResult{}, err
			}
			content, err := ctl.Content(ctx)
			if err != nil {
				_ = w.handle.Detach(ctx, buf)
				return attachResult{}, err
			}
			return attachResult{ctl: ctl, content: content}, nil
		},
		func(r attachResult) (*Buffer, error) {
			b, err := s.installBuffer(w, key, path, r)
			if err != nil {
				s.abandon("detach", key.String(), func(ctx context.Context) error {
					return w.handle.Detach(ctx, buf)
				})
				return nil, err
			}
			return b, nil
		})
}

// bufferFile returns the temp file of buf under root. Buffer ids may
// contain slashes but must stay inside root.
func bufferFile(root, buf string) (string, error) {
	if buf == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBufferName)
	}
	p := filepath.Join(root, filepath.FromSlash(buf))
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidBufferName, buf)
	}
	return p, nil
}

func (s *Session) installBuffer(w *Workspace, key registry.BufferKey, path string, r attachResult) (*Buffer, error) {
	if s.workspaces[w.id] != w || w.leaving != nil {
		return nil, ErrWorkspaceLeaving
	}
	if b, ok := w.buffers[key.Buffer]; ok {
		if b.teardown == nil {
			return b, nil
		}
		return nil, fmt.Errorf("%w: %s is detaching", ErrInProgress, key)
	}
	win, ok := s.editor.Window(w.window)
	if !ok || win.IsClosed() {
		return nil, ErrWindowClosed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating buffer file: %w", err)
	}
	if err := os.WriteFile(path, []byte(r.content), 0o600); err != nil {
		return nil, fmt.Errorf("creating buffer file: %w", err)
	}

	v, err := win.NewView()
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	v.SetName(key.Buffer)
	v.SetScratch(true)
	v.SetTarget(path)
	v.Settings().Set(BufferSetting, key.String())
	// Populate before any listener is attached so the initial content is
	// not sent back.
	if r.content != "" {
		if err := v.Insert(0, r.content); err != nil {
			v.Close()
			_ = os.Remove(path)
			return nil, err
		}
	}

	b := &Buffer{
		key:   key,
		ws:    w,
		ctl:   r.ctl,
		view:  v,
		path:  path,
		queue: make(chan outbound, s.outboundQueue),
	}

	sender, err := s.rt.Dispatch(sendTask(key), s.sendLoop(b))
	if err != nil {
		v.Close()
		_ = os.Remove(path)
		return nil, err
	}
	b.sender = sender
	if _, err := s.rt.Dispatch(recvTask(key), s.recvLoop(b)); err != nil {
		s.rt.Cancel(sendTask(key))
		v.Close()
		_ = os.Remove(path)
		return nil, err
	}

	w.buffers[key.Buffer] = b
	s.reg.Bind(key, v.ID())
	s.checkRegistry("attach " + key.String())
	b.unsubscribe = append(b.unsubscribe,
		v.Subscribe(s.onLocalChange(b)),
		v.OnSelectionModified(s.onSelection(b)),
		v.OnClose(func(*host.View) {
			s.Detach(string(key.Workspace), key.Buffer)
		}),
	)

	s.log.WithField("buffer", key).Debug("buffer installed in view %d", v.ID())
	s.editor.StatusMessage(fmt.Sprintf("attached %s", key))
	return b, nil
}

// Detach stops syncing the buffer, closes its view and detaches it
// remotely. Detaching a buffer that is already detaching returns the
// pending result.
func (s *Session) Detach(ws, buf string) *bridge.Future[struct{}] {
	key := registry.BufferKey{Workspace: registry.WorkspaceID(ws), Buffer: buf}
	b, ok := s.Buffer(ws, buf)
	if !ok {
		return reject[struct{}](s, "detach", key.String(), ErrBufferNotAttached)
	}
	return s.detach(b, true)
}

// detach tears b down: its tasks are cancelled and awaited first, then the
// host side is removed on the host thread, then the remote side.
func (s *Session) detach(b *Buffer, remoteDetach bool) *bridge.Future[struct{}] {
	if b.teardown != nil {
		return b.teardown
	}
	key := b.key
	handle := b.ws.handle
	b.teardown = command(s, "detach", key.String(), "detach:"+key.String(),
		func(ctx context.Context) (struct{}, error) {
			s.stopTask(recvTask(key))
			s.stopTask(sendTask(key))
			if _, err := bridge.Post(s.rt, func() error {
				s.uninstallBuffer(b)
				return nil
			}).Wait(context.WithoutCancel(ctx)); err != nil {
				return struct{}{}, err
			}
			if !remoteDetach {
				return struct{}{}, nil
			}
			err := handle.Detach(ctx, key.Buffer)
			if errors.Is(err, remote.ErrNotFound) || errors.Is(err, remote.ErrClosed) {
				err = nil
			}
			return struct{}{}, err
		},
		func(struct{}) (struct{}, error) {
			s.editor.StatusMessage(fmt.Sprintf("detached %s", key))
			return struct{}{}, nil
		})
	return b.teardown
}

// uninstallBuffer removes the host side of b. Its tasks must have
// returned.
func (s *Session) uninstallBuffer(b *Buffer) {
	if b.removed {
		return
	}
	b.removed = true

	for _, unsubscribe := range b.unsubscribe {
		unsubscribe()
	}
	b.unsubscribe = nil

	if b.ws.buffers[b.key.Buffer] == b {
		delete(b.ws.buffers, b.key.Buffer)
	}
	s.reg.Unbind(b.key)
	s.checkRegistry("detach " + b.key.String())
	s.presence.Clear(b.view)
	b.view.Close()

	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("removing %s: %v", b.path, err)
	}
	s.log.WithField("buffer", b.key).Debug("buffer uninstalled")
}

// onLocalChange forwards user edits to the sender task.
func (s *Session) onLocalChange(b *Buffer) host.ChangeListener {
	return func(v *host.View, batch delta.ChangeBatch) {
		if Consume(v) {
			b.dropped.Add(1)
			return
		}
		d, err := delta.Coalesce(batch, v)
		if err != nil {
			s.log.WithField("buffer", b.key).Error("coalescing change: %v", err)
			return
		}
		if d.IsEmpty() {
			return
		}
		s.enqueue(b, d)
	}
}

// enqueue hands d to the sender. With wait-for-ack it also waits until
// the service has acknowledged it.
func (s *Session) enqueue(b *Buffer, d delta.Delta) {
	item := outbound{d: d, ack: make(chan error, 1)}
	select {
	case b.queue <- item:
	case <-b.sender.Done():
		s.log.WithField("buffer", b.key).Warn("sender stopped, dropping %s", d)
		return
	}
	if !s.waitForAck {
		return
	}
	select {
	case <-item.ack:
	case <-b.sender.Done():
	}
}

func (s *Session) sendLoop(b *Buffer) bridge.TaskFunc {
	log := s.log.WithField("buffer", b.key)
	return func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case item := <-b.queue:
				err := b.ctl.Send(ctx, item.d)
				if err == nil {
					b.sent.Add(1)
				}
				item.ack <- err
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					s.fail("send", b.key.String(), err)
					continue
				}
				log.Debug("sent %s", item.d)
			}
		}
	}
}

func (s *Session) recvLoop(b *Buffer) bridge.TaskFunc {
	name := recvTask(b.key)
	log := s.log.WithField("buffer", b.key)
	return func(ctx context.Context) error {
		for {
			d, err := b.ctl.Recv(ctx)
			if err != nil {
				return s.streamEnded(ctx, name, err)
			}
			if d.IsEmpty() {
				log.Debug("skipping empty change")
				continue
			}
			token := b.view.ChangeID()
			_, err = bridge.Post(s.rt, func() error {
				return s.applyRemote(b, d, token)
			}).Wait(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				log.Warn("%v", err)
			}
		}
	}
}

// applyRemote applies an inbound delta computed against the revision
// named by token. It runs on the host thread.
func (s *Session) applyRemote(b *Buffer, d delta.Delta, token host.ChangeToken) error {
	if s.lookup(b.key) != b || b.removed || !s.reg.Installed(b.key) {
		s.log.WithField("buffer", b.key).Warn("change arrived for a buffer that is not installed, dropping %s", d)
		return nil
	}
	v := b.view
	if v.IsClosed() {
		return nil
	}

	Arm(v)
	err := v.Replace(d.Start, d.End, d.Text, token)
	// A failed apply produces no notification to consume the flag.
	if Armed(v) {
		Reset(v)
	}
	if err != nil {
		return fmt.Errorf("applying %s to %s: %w", d, b.key, err)
	}
	b.received.Add(1)
	return nil
}

// onSelection sends the primary selection as the local cursor.
func (s *Session) onSelection(b *Buffer) host.ViewListener {
	return func(v *host.View) {
		sels := v.Selections()
		if len(sels) == 0 {
			return
		}
		sel := sels[0].Normalized()
		start, end := v.RowCol(sel.Begin), v.RowCol(sel.End)
		ev := remote.CursorEvent{
			Buffer: b.key.Buffer,
			User:   s.User(),
			Start:  remote.Position{Row: start.Row, Col: start.Col},
			End:    remote.Position{Row: end.Row, Col: end.Col},
		}
		cursor := b.ws.cursor
		log := s.log.WithField("buffer", b.key)
		_, err := s.rt.Dispatch("", func(ctx context.Context) error {
			if err := cursor.Send(ctx, ev); err != nil {
				log.Debug("cursor send failed: %v", err)
			}
			return nil
		})
		if err != nil {
			log.Debug("cursor send not scheduled: %v", err)
		}
	}
}
