// Package registry tracks which remote buffers, workspaces, windows and
// views belong together.
//
// The maps are owned by the host thread and are not safe for concurrent
// use. Background work that needs to change them posts to the host first.
package registry

import (
	"errors"
	"fmt"
)

// ErrInconsistent is returned by Check when the forward and inverse sides of
// a BiMap disagree.
var ErrInconsistent = errors.New("registry inconsistent")

// BiMap is a many-to-one map from keys to values that also indexes, for
// every value, the set of keys mapping to it.
//
// For every key k and value v: Forward(k) == v exactly when k is in
// Inverse(v). A value is present only while at least one key maps to it.
type BiMap[K, V comparable] struct {
	forward map[K]V
	inverse map[V]map[K]struct{}
}

// NewBiMap creates an empty BiMap.
func NewBiMap[K, V comparable]() *BiMap[K, V] {
	return &BiMap[K, V]{
		forward: make(map[K]V),
		inverse: make(map[V]map[K]struct{}),
	}
}

// Put maps k to v, moving k out of the inverse set of its previous value.
func (m *BiMap[K, V]) Put(k K, v V) {
	if old, ok := m.forward[k]; ok {
		if old == v {
			return
		}
		m.unlink(k, old)
	}
	m.forward[k] = v
	keys, ok := m.inverse[v]
	if !ok {
		keys = make(map[K]struct{})
		m.inverse[v] = keys
	}
	keys[k] = struct{}{}
}

// Remove deletes k and returns the value it mapped to.
func (m *BiMap[K, V]) Remove(k K) (V, bool) {
	v, ok := m.forward[k]
	if !ok {
		return v, false
	}
	delete(m.forward, k)
	m.unlink(k, v)
	return v, true
}

// RemoveValue deletes v and every key mapping to it. It returns the removed
// keys.
func (m *BiMap[K, V]) RemoveValue(v V) []K {
	keys := m.Inverse(v)
	for _, k := range keys {
		delete(m.forward, k)
	}
	delete(m.inverse, v)
	return keys
}

func (m *BiMap[K, V]) unlink(k K, v V) {
	keys := m.inverse[v]
	delete(keys, k)
	if len(keys) == 0 {
		delete(m.inverse, v)
	}
}

// Forward returns the value k maps to.
func (m *BiMap[K, V]) Forward(k K) (V, bool) {
	v, ok := m.forward[k]
	return v, ok
}

// Inverse returns the keys mapping to v. The slice is a copy.
func (m *BiMap[K, V]) Inverse(v V) []K {
	keys := m.inverse[v]
	out := make([]K, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out
}

// HasKey reports whether k is mapped.
func (m *BiMap[K, V]) HasKey(k K) bool {
	_, ok := m.forward[k]
	return ok
}

// HasValue reports whether any key maps to v.
func (m *BiMap[K, V]) HasValue(v V) bool {
	_, ok := m.inverse[v]
	return ok
}

// Keys returns every key.
func (m *BiMap[K, V]) Keys() []K {
	out := make([]K, 0, len(m.forward))
	for k := range m.forward {
		out = append(out, k)
	}
	return out
}

// Values returns every distinct value.
func (m *BiMap[K, V]) Values() []V {
	out := make([]V, 0, len(m.inverse))
	for v := range m.inverse {
		out = append(out, v)
	}
	return out
}

// Len returns the number of keys.
func (m *BiMap[K, V]) Len() int {
	return len(m.forward)
}

// Clear removes everything.
func (m *BiMap[K, V]) Clear() {
	m.forward = make(map[K]V)
	m.inverse = make(map[V]map[K]struct{})
}

// Check verifies that both sides agree.
func (m *BiMap[K, V]) Check() error {
	count := 0
	for v, keys := range m.inverse {
		if len(keys) == 0 {
			return fmt.Errorf("%w: value %v has no keys", ErrInconsistent, v)
		}
		for k := range keys {
			got, ok := m.forward[k]
			if !ok || got != v {
				return fmt.Errorf("%w: key %v listed under %v but maps to %v", ErrInconsistent, k, v, got)
			}
			count++
		}
	}
	if count != len(m.forward) {
		return fmt.Errorf("%w: %d keys, %d inverse entries", ErrInconsistent, len(m.forward), count)
	}
	return nil
}
