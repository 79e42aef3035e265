package lua

import (
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// safeModules are the built-in modules require may return.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// Sandbox restricts what scripts can reach.
type Sandbox struct {
	L *lua.LState

	preloaded map[string]bool
}

// NewSandbox creates a sandbox for L.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{
		L:         L,
		preloaded: make(map[string]bool),
	}
}

// Install removes the loaders that could reach the filesystem and replaces
// require with a whitelisting version.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installSafeRequire()
}

// installSafeRequire clears package.path and package.cpath and only lets
// require return safe built-ins and modules added with Preload.
func (s *Sandbox) installSafeRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	original := s.L.GetGlobal("require")
	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !safeModules[name] && !s.preloaded[name] {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(original)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}

// Preload makes mod available to require under name.
func (s *Sandbox) Preload(name string, mod *lua.LTable) {
	s.preloaded[name] = true
	s.L.PreloadModule(name, func(L *lua.LState) int {
		L.Push(mod)
		return 1
	})
}

// Modules returns the names require accepts, sorted.
func (s *Sandbox) Modules() []string {
	names := make([]string, 0, len(safeModules)+len(s.preloaded))
	for name := range safeModules {
		names = append(names, name)
	}
	for name := range s.preloaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RedirectPrint replaces print so each call hands one tab-joined line to fn.
func (s *Sandbox) RedirectPrint(fn func(line string)) {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		fn(strings.Join(parts, "\t"))
		return 0
	}))
}
