package registry

import (
	"errors"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/dshills/keystorm-collab/internal/host"
)

func sortedStrings(s []string) []string {
	sort.Strings(s)
	return s
}

func TestBiMap_PutMovesKey(t *testing.T) {
	m := NewBiMap[string, int]()
	m.Put("a", 1)
	m.Put("b", 1)
	m.Put("a", 2)

	if v, _ := m.Forward("a"); v != 2 {
		t.Errorf("Forward(a) = %d, want 2", v)
	}
	if got := m.Inverse(1); len(got) != 1 || got[0] != "b" {
		t.Errorf("Inverse(1) = %v, want [b]", got)
	}
	if got := m.Inverse(2); len(got) != 1 || got[0] != "a" {
		t.Errorf("Inverse(2) = %v, want [a]", got)
	}
	if err := m.Check(); err != nil {
		t.Error(err)
	}
}

func TestBiMap_RemoveLastKeyDropsValue(t *testing.T) {
	m := NewBiMap[string, int]()
	m.Put("a", 1)

	v, ok := m.Remove("a")
	if !ok || v != 1 {
		t.Errorf("Remove(a) = %d, %v", v, ok)
	}
	if m.HasValue(1) {
		t.Error("value 1 still present after its last key was removed")
	}
	if _, ok := m.Remove("a"); ok {
		t.Error("second Remove(a) reported success")
	}
}

func TestBiMap_RemoveValue(t *testing.T) {
	m := NewBiMap[string, int]()
	m.Put("a", 1)
	m.Put("b", 1)
	m.Put("c", 2)

	removed := sortedStrings(m.RemoveValue(1))
	if len(removed) != 2 || removed[0] != "a" || removed[1] != "b" {
		t.Errorf("RemoveValue(1) = %v", removed)
	}
	if m.Len() != 1 || m.HasKey("a") {
		t.Errorf("Len() = %d after RemoveValue", m.Len())
	}
	if err := m.Check(); err != nil {
		t.Error(err)
	}
}

func TestBiMap_InverseIsCopy(t *testing.T) {
	m := NewBiMap[string, int]()
	m.Put("a", 1)

	keys := m.Inverse(1)
	keys[0] = "mutated"
	if !m.HasKey("a") || m.HasKey("mutated") {
		t.Error("mutating Inverse() result changed the map")
	}
}

func TestBiMap_RandomOperationsStayConsistent(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	m := NewBiMap[int, int]()
	model := make(map[int]int)

	for i := 0; i < 5000; i++ {
		k, v := r.IntN(20), r.IntN(5)
		switch r.IntN(4) {
		case 0, 1:
			m.Put(k, v)
			model[k] = v
		case 2:
			m.Remove(k)
			delete(model, k)
		case 3:
			m.RemoveValue(v)
			for mk, mv := range model {
				if mv == v {
					delete(model, mk)
				}
			}
		}

		if err := m.Check(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if m.Len() != len(model) {
			t.Fatalf("step %d: Len() = %d, model has %d", i, m.Len(), len(model))
		}
		for mk, mv := range model {
			if got, ok := m.Forward(mk); !ok || got != mv {
				t.Fatalf("step %d: Forward(%d) = %d, %v, want %d", i, mk, got, ok, mv)
			}
		}
	}
}

func TestBiMap_Clear(t *testing.T) {
	m := NewBiMap[string, int]()
	m.Put("a", 1)
	m.Clear()
	if m.Len() != 0 || len(m.Values()) != 0 {
		t.Error("Clear() left entries")
	}
}

func TestRegistry_BindUnbind(t *testing.T) {
	r := New()
	a := BufferKey{Workspace: "ws", Buffer: "a.go"}
	b := BufferKey{Workspace: "ws", Buffer: "b.go"}

	r.Windows.Put("ws", host.WindowID(1))
	r.Bind(b, host.ViewID(11))
	r.Bind(a, host.ViewID(10))

	if got := r.BuffersOf("ws"); len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("BuffersOf(ws) = %v", got)
	}
	if v, ok := r.ViewFor(a); !ok || v != 10 {
		t.Errorf("ViewFor(a) = %d, %v", v, ok)
	}
	if k, ok := r.BufferFor(11); !ok || k != b {
		t.Errorf("BufferFor(11) = %v, %v", k, ok)
	}
	if !r.Installed(a) {
		t.Error("Installed(a) = false")
	}
	if got := r.WorkspacesIn(1); len(got) != 1 || got[0] != "ws" {
		t.Errorf("WorkspacesIn(1) = %v", got)
	}

	views := r.Unbind(a)
	if len(views) != 1 || views[0] != 10 {
		t.Errorf("Unbind(a) = %v", views)
	}
	if r.Installed(a) {
		t.Error("Installed(a) after Unbind")
	}
	if _, ok := r.ViewFor(a); ok {
		t.Error("ViewFor(a) after Unbind")
	}
	if err := r.Check(); err != nil {
		t.Error(err)
	}

	r.Clear()
	if r.Buffers.Len()+r.Windows.Len()+r.Views.Len() != 0 {
		t.Error("Clear() left entries")
	}
}

func TestRegistry_CheckAcrossMaps(t *testing.T) {
	key := BufferKey{Workspace: "ws", Buffer: "a.go"}

	tests := []struct {
		name    string
		setup   func(r *Registry)
		wantErr bool
	}{
		{
			name: "consistent",
			setup: func(r *Registry) {
				r.Windows.Put("ws", 1)
				r.Bind(key, 10)
			},
		},
		{
			name:    "workspace not joined",
			setup:   func(r *Registry) { r.Bind(key, 10) },
			wantErr: true,
		},
		{
			name: "buffer without view",
			setup: func(r *Registry) {
				r.Windows.Put("ws", 1)
				r.Buffers.Put(key, "ws")
			},
			wantErr: true,
		},
		{
			name: "view of a removed buffer",
			setup: func(r *Registry) {
				r.Windows.Put("ws", 1)
				r.Bind(key, 10)
				r.Buffers.Remove(key)
			},
			wantErr: true,
		},
		{
			name: "buffer filed under another workspace",
			setup: func(r *Registry) {
				r.Windows.Put("ws", 1)
				r.Windows.Put("other", 1)
				r.Bind(key, 10)
				r.Buffers.Put(key, "other")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			tt.setup(r)
			err := r.Check()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInconsistent) {
				t.Errorf("Check() error = %v, want ErrInconsistent", err)
			}
		})
	}
}

func TestBufferKey_String(t *testing.T) {
	k := BufferKey{Workspace: "ws", Buffer: "main.go"}
	if k.String() != "ws/main.go" {
		t.Errorf("String() = %q", k.String())
	}
}
