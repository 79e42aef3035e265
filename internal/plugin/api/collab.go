package api

import (
	"time"

	lua "github.com/yuin/gopher-lua"
)

// CollabProvider is the blocking view of a collaboration session used by
// scripts. Offsets are 0-based byte offsets.
type CollabProvider interface {
	Connect(host, user, password string) (string, error)
	Disconnect() error
	Connected() bool
	User() string

	// ListWorkspaces returns the workspaces known to the service.
	ListWorkspaces() ([]string, error)
	Join(ws string) error
	Leave(ws string) error
	// Joined returns the locally joined workspaces.
	Joined() []string
	CreateWorkspace(ws string) error
	// DeleteWorkspace leaves ws if it is joined, then deletes it.
	DeleteWorkspace(ws string) error
	Invite(ws, user string) error

	// ListBuffers returns the buffers of a joined workspace.
	ListBuffers(ws string) ([]string, error)
	Create(ws, buf string) error
	Delete(ws, buf string) error
	Attach(ws, buf string) error
	Detach(ws, buf string) error
	// Attached returns the buffers of ws shown locally.
	Attached(ws string) []string

	Text(ws, buf string) (string, error)
	Edit(ws, buf string, start, end int, text string) error
	Select(ws, buf string, start, end int) error

	// Color returns the presence color name of user.
	Color(user string) string
}

// CollabModule implements the ks.collab API module.
type CollabModule struct {
	provider CollabProvider
}

// NewCollabModule creates a new collab module.
func NewCollabModule(p CollabProvider) *CollabModule {
	return &CollabModule{provider: p}
}

// Name returns the module name.
func (m *CollabModule) Name() string {
	return "collab"
}

// Register registers the module into the Lua state.
func (m *CollabModule) Register(L *lua.LState) error {
	mod := L.NewTable()

	L.SetField(mod, "connect", L.NewFunction(m.connect))
	L.SetField(mod, "disconnect", L.NewFunction(m.disconnect))
	L.SetField(mod, "connected", L.NewFunction(m.connected))
	L.SetField(mod, "user", L.NewFunction(m.user))

	L.SetField(mod, "workspaces", L.NewFunction(m.workspaces))
	L.SetField(mod, "join", L.NewFunction(m.join))
	L.SetField(mod, "leave", L.NewFunction(m.leave))
	L.SetField(mod, "joined", L.NewFunction(m.joined))
	L.SetField(mod, "create_workspace", L.NewFunction(m.createWorkspace))
	L.SetField(mod, "delete_workspace", L.NewFunction(m.deleteWorkspace))
	L.SetField(mod, "invite", L.NewFunction(m.invite))

	L.SetField(mod, "buffers", L.NewFunction(m.buffers))
	L.SetField(mod, "create", L.NewFunction(m.create))
	L.SetField(mod, "delete", L.NewFunction(m.delete))
	L.SetField(mod, "attach", L.NewFunction(m.attach))
	L.SetField(mod, "detach", L.NewFunction(m.detach))
	L.SetField(mod, "attached", L.NewFunction(m.attached))

	L.SetField(mod, "text", L.NewFunction(m.text))
	L.SetField(mod, "edit", L.NewFunction(m.edit))
	L.SetField(mod, "insert", L.NewFunction(m.insert))
	L.SetField(mod, "select", L.NewFunction(m.sel))
	L.SetField(mod, "color", L.NewFunction(m.color))
	L.SetField(mod, "sleep", L.NewFunction(m.sleep))

	L.SetGlobal("_ks_collab", mod)
	return nil
}

func stringList(L *lua.LState, items []string) *lua.LTable {
	tbl := L.CreateTable(len(items), 0)
	for i, s := range items {
		tbl.RawSetInt(i+1, lua.LString(s))
	}
	return tbl
}

// connect(host, user [, password]) -> user
// Connects and returns the user id assigned by the service.
func (m *CollabModule) connect(L *lua.LState) int {
	host := L.CheckString(1)
	user := L.OptString(2, "")
	password := L.OptString(3, "")

	id, err := m.provider.Connect(host, user, password)
	if err != nil {
		L.RaiseError("connect: %v", err)
		return 0
	}
	L.Push(lua.LString(id))
	return 1
}

// disconnect()
func (m *CollabModule) disconnect(L *lua.LState) int {
	if err := m.provider.Disconnect(); err != nil {
		L.RaiseError("disconnect: %v", err)
	}
	return 0
}

// connected() -> bool
func (m *CollabModule) connected(L *lua.LState) int {
	L.Push(lua.LBool(m.provider.Connected()))
	return 1
}

// user() -> string
// Returns the connected user id, or "".
func (m *CollabModule) user(L *lua.LState) int {
	L.Push(lua.LString(m.provider.User()))
	return 1
}

// workspaces() -> {ids}
func (m *CollabModule) workspaces(L *lua.LState) int {
	ids, err := m.provider.ListWorkspaces()
	if err != nil {
		L.RaiseError("workspaces: %v", err)
		return 0
	}
	L.Push(stringList(L, ids))
	return 1
}

// join(ws)
func (m *CollabModule) join(L *lua.LState) int {
	ws := L.CheckString(1)
	if err := m.provider.Join(ws); err != nil {
		L.RaiseError("join: %v", err)
	}
	return 0
}

// leave(ws)
func (m *CollabModule) leave(L *lua.LState) int {
	ws := L.CheckString(1)
	if err := m.provider.Leave(ws); err != nil {
		L.RaiseError("leave: %v", err)
	}
	return 0
}

// joined() -> {ids}
func (m *CollabModule) joined(L *lua.LState) int {
	L.Push(stringList(L, m.provider.Joined()))
	return 1
}

// create_workspace(ws)
func (m *CollabModule) createWorkspace(L *lua.LState) int {
	ws := L.CheckString(1)
	if err := m.provider.CreateWorkspace(ws); err != nil {
		L.RaiseError("create_workspace: %v", err)
	}
	return 0
}

// delete_workspace(ws)
// Leaves the workspace first when it is joined.
func (m *CollabModule) deleteWorkspace(L *lua.LState) int {
	ws := L.CheckString(1)
	if err := m.provider.DeleteWorkspace(ws); err != nil {
		L.RaiseError("delete_workspace: %v", err)
	}
	return 0
}

// invite(ws, user)
func (m *CollabModule) invite(L *lua.LState) int {
	ws, user := L.CheckString(1), L.CheckString(2)
	if user == "" {
		L.ArgError(2, "user must not be empty")
		return 0
	}
	if err := m.provider.Invite(ws, user); err != nil {
		L.RaiseError("invite: %v", err)
	}
	return 0
}

// buffers(ws) -> {ids}
func (m *CollabModule) buffers(L *lua.LState) int {
	ws := L.CheckString(1)
	ids, err := m.provider.ListBuffers(ws)
	if err != nil {
		L.RaiseError("buffers: %v", err)
		return 0
	}
	L.Push(stringList(L, ids))
	return 1
}

// create(ws, buf)
func (m *CollabModule) create(L *lua.LState) int {
	ws, buf := L.CheckString(1), L.CheckString(2)
	if err := m.provider.Create(ws, buf); err != nil {
		L.RaiseError("create: %v", err)
	}
	return 0
}

// delete(ws, buf)
func (m *CollabModule) delete(L *lua.LState) int {
	ws, buf := L.CheckString(1), L.CheckString(2)
	if err := m.provider.Delete(ws, buf); err != nil {
		L.RaiseError("delete: %v", err)
	}
	return 0
}

// attach(ws, buf)
func (m *CollabModule) attach(L *lua.LState) int {
	ws, buf := L.CheckString(1), L.CheckString(2)
	if err := m.provider.Attach(ws, buf); err != nil {
		L.RaiseError("attach: %v", err)
	}
	return 0
}

// detach(ws, buf)
func (m *CollabModule) detach(L *lua.LState) int {
	ws, buf := L.CheckString(1), L.CheckString(2)
	if err := m.provider.Detach(ws, buf); err != nil {
		L.RaiseError("detach: %v", err)
	}
	return 0
}

// attached(ws) -> {ids}
func (m *CollabModule) attached(L *lua.LState) int {
	ws := L.CheckString(1)
	L.Push(stringList(L, m.provider.Attached(ws)))
	return 1
}

// text(ws, buf) -> string
func (m *CollabModule) text(L *lua.LState) int {
	ws, buf := L.CheckString(1), L.CheckString(2)
	text, err := m.provider.Text(ws, buf)
	if err != nil {
		L.RaiseError("text: %v", err)
		return 0
	}
	L.Push(lua.LString(text))
	return 1
}

// edit(ws, buf, start, end, text)
// Replaces [start, end) with text.
func (m *CollabModule) edit(L *lua.LState) int {
	ws, buf := L.CheckString(1), L.CheckString(2)
	start := L.CheckInt(3)
	end := L.CheckInt(4)
	text := L.CheckString(5)

	if start < 0 {
		L.ArgError(3, "start must be non-negative")
		return 0
	}
	if end < start {
		L.ArgError(4, "end must be >= start")
		return 0
	}
	if err := m.provider.Edit(ws, buf, start, end, text); err != nil {
		L.RaiseError("edit: %v", err)
	}
	return 0
}

// insert(ws, buf, offset, text)
func (m *CollabModule) insert(L *lua.LState) int {
	ws, buf := L.CheckString(1), L.CheckString(2)
	offset := L.CheckInt(3)
	text := L.CheckString(4)

	if offset < 0 {
		L.ArgError(3, "offset must be non-negative")
		return 0
	}
	if err := m.provider.Edit(ws, buf, offset, offset, text); err != nil {
		L.RaiseError("insert: %v", err)
	}
	return 0
}

// select(ws, buf, start [, end])
// Moves the local cursor, which is shared with the other participants.
func (m *CollabModule) sel(L *lua.LState) int {
	ws, buf := L.CheckString(1), L.CheckString(2)
	start := L.CheckInt(3)
	end := L.OptInt(4, start)

	if start < 0 || end < 0 {
		L.ArgError(3, "offsets must be non-negative")
		return 0
	}
	if err := m.provider.Select(ws, buf, start, end); err != nil {
		L.RaiseError("select: %v", err)
	}
	return 0
}

// color(user) -> string
func (m *CollabModule) color(L *lua.LState) int {
	L.Push(lua.LString(m.provider.Color(L.CheckString(1))))
	return 1
}

// sleep(ms)
// Pauses the script, giving remote changes time to arrive. Returns early
// when the script is cancelled.
func (m *CollabModule) sleep(L *lua.LState) int {
	ms := L.CheckInt(1)
	if ms < 0 {
		L.ArgError(1, "duration must be non-negative")
		return 0
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	var done <-chan struct{}
	if ctx := L.Context(); ctx != nil {
		done = ctx.Done()
	}
	select {
	case <-timer.C:
	case <-done:
	}
	return 0
}
