package registry

import (
	"fmt"
	"sort"

	"github.com/dshills/keystorm-collab/internal/host"
)

// WorkspaceID names a remote workspace.
type WorkspaceID string

// BufferKey names a remote buffer inside a workspace.
type BufferKey struct {
	Workspace WorkspaceID
	Buffer    string
}

// String returns "<workspace>/<buffer>".
func (k BufferKey) String() string {
	return fmt.Sprintf("%s/%s", k.Workspace, k.Buffer)
}

// Registry relates remote entities to host objects.
type Registry struct {
	// Buffers maps each installed buffer to its workspace.
	Buffers *BiMap[BufferKey, WorkspaceID]

	// Windows maps each joined workspace to the window showing it.
	Windows *BiMap[WorkspaceID, host.WindowID]

	// Views maps each collaborative view to its buffer.
	Views *BiMap[host.ViewID, BufferKey]
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		Buffers: NewBiMap[BufferKey, WorkspaceID](),
		Windows: NewBiMap[WorkspaceID, host.WindowID](),
		Views:   NewBiMap[host.ViewID, BufferKey](),
	}
}

// ViewFor returns the view showing key.
func (r *Registry) ViewFor(key BufferKey) (host.ViewID, bool) {
	views := r.Views.Inverse(key)
	if len(views) == 0 {
		return 0, false
	}
	sort.Slice(views, func(i, j int) bool { return views[i] < views[j] })
	return views[0], true
}

// BufferFor returns the buffer shown in a view.
func (r *Registry) BufferFor(view host.ViewID) (BufferKey, bool) {
	return r.Views.Forward(view)
}

// BuffersOf returns the installed buffers of a workspace sorted by name.
func (r *Registry) BuffersOf(ws WorkspaceID) []BufferKey {
	keys := r.Buffers.Inverse(ws)
	sort.Slice(keys, func(i, j int) bool { return keys[i].Buffer < keys[j].Buffer })
	return keys
}

// WorkspacesIn returns the workspaces installed in a window sorted by id.
func (r *Registry) WorkspacesIn(window host.WindowID) []WorkspaceID {
	ids := r.Windows.Inverse(window)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Installed reports whether key is attached to a view.
func (r *Registry) Installed(key BufferKey) bool {
	return r.Buffers.HasKey(key) && r.Views.HasValue(key)
}

// Bind records a buffer shown in a view.
func (r *Registry) Bind(key BufferKey, view host.ViewID) {
	r.Buffers.Put(key, key.Workspace)
	r.Views.Put(view, key)
}

// Unbind forgets a buffer and every view showing it.
func (r *Registry) Unbind(key BufferKey) []host.ViewID {
	r.Buffers.Remove(key)
	return r.Views.RemoveValue(key)
}

// Check verifies every map and that the maps agree with each other: an
// installed buffer belongs to a joined workspace and is shown in a view,
// and every view shows an installed buffer.
func (r *Registry) Check() error {
	if err := r.Buffers.Check(); err != nil {
		return fmt.Errorf("buffers: %w", err)
	}
	if err := r.Windows.Check(); err != nil {
		return fmt.Errorf("windows: %w", err)
	}
	if err := r.Views.Check(); err != nil {
		return fmt.Errorf("views: %w", err)
	}
	for _, key := range r.Buffers.Keys() {
		if ws, _ := r.Buffers.Forward(key); ws != key.Workspace {
			return fmt.Errorf("%w: buffer %s filed under workspace %s", ErrInconsistent, key, ws)
		}
		if !r.Windows.HasKey(key.Workspace) {
			return fmt.Errorf("%w: buffer %s in a workspace that is not joined", ErrInconsistent, key)
		}
		if !r.Views.HasValue(key) {
			return fmt.Errorf("%w: buffer %s has no view", ErrInconsistent, key)
		}
	}
	for _, view := range r.Views.Keys() {
		if key, _ := r.Views.Forward(view); !r.Buffers.HasKey(key) {
			return fmt.Errorf("%w: view %d shows %s which is not installed", ErrInconsistent, view, key)
		}
	}
	return nil
}

// Clear empties every map.
func (r *Registry) Clear() {
	r.Buffers.Clear()
	r.Windows.Clear()
	r.Views.Clear()
}
