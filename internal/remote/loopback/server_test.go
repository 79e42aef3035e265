package loopback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dshills/keystorm-collab/internal/delta"
	"github.com/dshills/keystorm-collab/internal/remote"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func connect(t *testing.T, s *Server, user string) remote.Client {
	t.Helper()
	c, err := s.Connect(testCtx(t), remote.Config{Host: "loopback", Username: user})
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", user, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func attach(t *testing.T, c remote.Client, ws, path string) (remote.Workspace, remote.BufferController) {
	t.Helper()
	w, err := c.JoinWorkspace(testCtx(t), ws)
	if err != nil {
		t.Fatalf("JoinWorkspace() error = %v", err)
	}
	bc, err := w.Attach(testCtx(t), path)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	return w, bc
}

func TestServer_SendFansOut(t *testing.T) {
	s := NewServer()
	if err := s.CreateBuffer("ws", "a.txt", "hello world"); err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}

	_, alice := attach(t, connect(t, s, "alice"), "ws", "a.txt")
	_, bob := attach(t, connect(t, s, "bob"), "ws", "a.txt")

	d := delta.Delta{Start: 0, End: 5, Text: "HELLO"}
	if err := alice.Send(testCtx(t), d); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	got, err := bob.Recv(testCtx(t))
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if got != d {
		t.Errorf("Recv() = %v, want %v", got, d)
	}
	if text, _ := s.BufferText("ws", "a.txt"); text != "HELLO world" {
		t.Errorf("BufferText() = %q", text)
	}

	// The sender does not receive its own change.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := alice.Recv(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("sender Recv() error = %v, want DeadlineExceeded", err)
	}
}

func TestServer_Content(t *testing.T) {
	s := NewServer()
	_ = s.CreateBuffer("ws", "a.txt", "abc")
	_, bc := attach(t, connect(t, s, "alice"), "ws", "a.txt")

	text, err := bc.Content(testCtx(t))
	if err != nil || text != "abc" {
		t.Errorf("Content() = %q, %v", text, err)
	}
}

func TestServer_JoinUnknownWorkspace(t *testing.T) {
	s := NewServer()
	c := connect(t, s, "alice")
	if _, err := c.JoinWorkspace(testCtx(t), "nope"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("JoinWorkspace() error = %v, want ErrNotFound", err)
	}
}

func TestServer_CreateDeleteFetch(t *testing.T) {
	s := NewServer()
	s.CreateWorkspace("ws")
	w, err := connect(t, s, "alice").JoinWorkspace(testCtx(t), "ws")
	if err != nil {
		t.Fatalf("JoinWorkspace() error = %v", err)
	}

	if err := w.Create(testCtx(t), "b.txt"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := w.Create(testCtx(t), "a.txt"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := w.Create(testCtx(t), "a.txt"); !errors.Is(err, remote.ErrExists) {
		t.Errorf("duplicate Create() error = %v, want ErrExists", err)
	}

	paths, err := w.FetchBuffers(testCtx(t))
	if err != nil {
		t.Fatalf("FetchBuffers() error = %v", err)
	}
	if strings.Join(paths, ",") != "a.txt,b.txt" {
		t.Errorf("FetchBuffers() = %v", paths)
	}

	bc, _ := w.Attach(testCtx(t), "a.txt")
	if err := w.Delete(testCtx(t), "a.txt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := bc.Recv(testCtx(t)); !errors.Is(err, remote.ErrClosed) {
		t.Errorf("Recv() on deleted buffer error = %v, want ErrClosed", err)
	}
	if err := w.Delete(testCtx(t), "a.txt"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestServer_WorkspaceOwnership(t *testing.T) {
	s := NewServer()
	alice := connect(t, s, "alice")
	bob := connect(t, s, "bob")
	ctx := testCtx(t)

	if err := alice.CreateWorkspace(ctx, "team"); err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	if err := bob.CreateWorkspace(ctx, "team"); !errors.Is(err, remote.ErrExists) {
		t.Errorf("duplicate CreateWorkspace() error = %v, want ErrExists", err)
	}
	ids, err := bob.ListWorkspaces(ctx)
	if err != nil || strings.Join(ids, ",") != "team" {
		t.Errorf("ListWorkspaces() = %v, %v", ids, err)
	}

	if _, err := bob.JoinWorkspace(ctx, "team"); !errors.Is(err, remote.ErrUnauthorized) {
		t.Errorf("uninvited JoinWorkspace() error = %v, want ErrUnauthorized", err)
	}
	if err := bob.InviteToWorkspace(ctx, "team", "bob"); !errors.Is(err, remote.ErrUnauthorized) {
		t.Errorf("InviteToWorkspace() by non-owner error = %v, want ErrUnauthorized", err)
	}
	if err := alice.InviteToWorkspace(ctx, "nope", "bob"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("InviteToWorkspace(unknown) error = %v, want ErrNotFound", err)
	}
	if err := alice.InviteToWorkspace(ctx, "team", "bob"); err != nil {
		t.Fatalf("InviteToWorkspace() error = %v", err)
	}
	if _, err := bob.JoinWorkspace(ctx, "team"); err != nil {
		t.Fatalf("invited JoinWorkspace() error = %v", err)
	}
	if err := bob.DeleteWorkspace(ctx, "team"); !errors.Is(err, remote.ErrUnauthorized) {
		t.Errorf("DeleteWorkspace() by non-owner error = %v, want ErrUnauthorized", err)
	}
}

func TestServer_DeleteWorkspaceClosesMembers(t *testing.T) {
	s := NewServer()
	if err := s.CreateBuffer("ws", "a.txt", "abc"); err != nil {
		t.Fatal(err)
	}
	alice := connect(t, s, "alice")
	w, bc := attach(t, connect(t, s, "bob"), "ws", "a.txt")

	if err := alice.DeleteWorkspace(testCtx(t), "ws"); err != nil {
		t.Fatalf("DeleteWorkspace() error = %v", err)
	}
	if _, err := bc.Recv(testCtx(t)); !errors.Is(err, remote.ErrClosed) {
		t.Errorf("buffer Recv() error = %v, want ErrClosed", err)
	}
	if _, err := w.Cursor().Recv(testCtx(t)); !errors.Is(err, remote.ErrClosed) {
		t.Errorf("cursor Recv() error = %v, want ErrClosed", err)
	}
	if _, ok := s.BufferText("ws", "a.txt"); ok {
		t.Error("buffer survived its workspace")
	}
	if err := alice.DeleteWorkspace(testCtx(t), "ws"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("second DeleteWorkspace() error = %v, want ErrNotFound", err)
	}
}

func TestServer_CursorFanOut(t *testing.T) {
	s := NewServer()
	s.CreateWorkspace("ws")
	wa, _ := connect(t, s, "alice").JoinWorkspace(testCtx(t), "ws")
	wb, _ := connect(t, s, "bob").JoinWorkspace(testCtx(t), "ws")

	ev := remote.CursorEvent{Buffer: "a.txt", Start: remote.Position{Row: 1, Col: 2}, End: remote.Position{Row: 1, Col: 4}}
	if err := wa.Cursor().Send(testCtx(t), ev); err != nil {
		t.Fatalf("Cursor().Send() error = %v", err)
	}

	got, err := wb.Cursor().Recv(testCtx(t))
	if err != nil {
		t.Fatalf("Cursor().Recv() error = %v", err)
	}
	if got.User != "alice" || got.Start != ev.Start || got.End != ev.End {
		t.Errorf("Recv() = %v", got)
	}
}

func TestServer_LeaveClosesControllers(t *testing.T) {
	s := NewServer()
	_ = s.CreateBuffer("ws", "a.txt", "")
	c := connect(t, s, "alice")
	w, bc := attach(t, c, "ws", "a.txt")

	if err := c.LeaveWorkspace(testCtx(t), "ws"); err != nil {
		t.Fatalf("LeaveWorkspace() error = %v", err)
	}
	if _, err := bc.Recv(testCtx(t)); !errors.Is(err, remote.ErrClosed) {
		t.Errorf("buffer Recv() error = %v, want ErrClosed", err)
	}
	if _, err := w.Cursor().Recv(testCtx(t)); !errors.Is(err, remote.ErrClosed) {
		t.Errorf("cursor Recv() error = %v, want ErrClosed", err)
	}
	if len(s.Members("ws")) != 0 {
		t.Errorf("Members() = %v after leave", s.Members("ws"))
	}
}

func TestServer_FailNext(t *testing.T) {
	s := NewServer()
	boom := errors.New("connection refused")
	s.FailNext("connect", boom)

	if _, err := s.Connect(testCtx(t), remote.Config{Username: "a"}); !errors.Is(err, boom) {
		t.Errorf("Connect() error = %v, want injected error", err)
	}
	if _, err := s.Connect(testCtx(t), remote.Config{Username: "a"}); err != nil {
		t.Errorf("second Connect() error = %v", err)
	}
}

func TestServer_Password(t *testing.T) {
	s := NewServer(WithPassword("secret"))
	if _, err := s.Connect(testCtx(t), remote.Config{Username: "a", Password: "bad"}); !errors.Is(err, remote.ErrUnauthorized) {
		t.Errorf("Connect() error = %v, want ErrUnauthorized", err)
	}
}

func TestServer_UniqueUsers(t *testing.T) {
	s := NewServer()
	a := connect(t, s, "")
	b := connect(t, s, "")
	if a.User() == "" || a.User() == b.User() {
		t.Errorf("users %q and %q", a.User(), b.User())
	}
	c := connect(t, s, "dup")
	d := connect(t, s, "dup")
	if c.User() == d.User() {
		t.Error("duplicate usernames were not disambiguated")
	}
}

func TestServer_Logs(t *testing.T) {
	s := NewServer()
	s.CreateWorkspace("ws")
	c := connect(t, s, "alice")

	line, err := c.Logs().Listen(testCtx(t))
	if err != nil || !strings.Contains(line, "alice") {
		t.Errorf("first log line = %q, %v", line, err)
	}

	if _, err := c.JoinWorkspace(testCtx(t), "ws"); err != nil {
		t.Fatalf("JoinWorkspace() error = %v", err)
	}
	line, err = c.Logs().Listen(testCtx(t))
	if err != nil || !strings.Contains(line, "joined workspace ws") {
		t.Errorf("join log line = %q, %v", line, err)
	}

	_ = c.Close()
	if _, err := c.Logs().Listen(testCtx(t)); !errors.Is(err, remote.ErrClosed) {
		t.Errorf("Listen() after Close error = %v, want ErrClosed", err)
	}
}

func TestServer_ConcurrentSendsDetected(t *testing.T) {
	s := NewServer(WithLatency(30 * time.Millisecond))
	_ = s.CreateBuffer("ws", "a.txt", "")
	_, bc := attach(t, connect(t, s, "alice"), "ws", "a.txt")

	ctx := testCtx(t)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = bc.Send(ctx, delta.Delta{Text: "x"})
		}()
	}
	wg.Wait()

	if s.ConcurrentSends() == 0 {
		t.Error("overlapping sends were not detected")
	}
}

func TestMailbox_DrainsBeforeClosed(t *testing.T) {
	m := newMailbox[int]()
	m.push(1)
	m.push(2)
	m.close()

	for _, want := range []int{1, 2} {
		got, err := m.recv(testCtx(t))
		if err != nil || got != want {
			t.Errorf("recv() = %d, %v, want %d", got, err, want)
		}
	}
	if _, err := m.recv(testCtx(t)); !errors.Is(err, remote.ErrClosed) {
		t.Errorf("recv() error = %v, want ErrClosed", err)
	}
	if m.push(3) {
		t.Error("push() after close = true")
	}
}
