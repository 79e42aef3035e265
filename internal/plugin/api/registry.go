package api

import (
	"fmt"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Version is reported to scripts as ks.version.
const Version = "1.0.0"

// Module is a Lua API module.
type Module interface {
	// Name returns the module name (e.g., "collab").
	Name() string

	// Register registers the module functions into the Lua state under
	// the _ks_<name> global.
	Register(L *lua.LState) error
}

// Preloader makes a table available to require.
type Preloader interface {
	Preload(name string, mod *lua.LTable)
}

// Registry manages API modules and their registration.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates a new API registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]Module),
	}
}

// Register adds a module to the registry.
func (r *Registry) Register(mod Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[mod.Name()]; exists {
		return fmt.Errorf("module %q already registered", mod.Name())
	}
	r.modules[mod.Name()] = mod
	return nil
}

// Get returns a module by name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mod, ok := r.modules[name]
	return mod, ok
}

// List returns the registered module names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InjectAll registers every module into L and preloads the aggregate ks
// module, so scripts can use: local ks = require("ks").
func (r *Registry) InjectAll(L *lua.LState, p Preloader) error {
	names := r.List()

	r.mu.RLock()
	defer r.mu.RUnlock()

	ks := L.NewTable()
	for _, name := range names {
		if err := r.modules[name].Register(L); err != nil {
			return fmt.Errorf("failed to register module %q: %w", name, err)
		}

		global := "_ks_" + name
		if val := L.GetGlobal(global); val != lua.LNil {
			L.SetField(ks, name, val)
			L.SetGlobal(global, lua.LNil)
		}
	}

	L.SetField(ks, "version", lua.LString(Version))
	p.Preload("ks", ks)
	return nil
}
