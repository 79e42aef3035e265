package host

import (
	"sort"
	"sync"
)

// Settings is a key-value store attached to a window or view.
type Settings struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewSettings creates an empty settings store.
func NewSettings() *Settings {
	return &Settings{values: make(map[string]any)}
}

// Get returns the value for key.
func (s *Settings) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key.
func (s *Settings) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Erase removes key.
func (s *Settings) Erase(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Has reports whether key is set.
func (s *Settings) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Bool returns the value for key if it is a bool, else false.
func (s *Settings) Bool(key string) bool {
	v, _ := s.Get(key)
	b, _ := v.(bool)
	return b
}

// String returns the value for key if it is a string, else "".
func (s *Settings) String(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// Keys returns the set keys in sorted order.
func (s *Settings) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
