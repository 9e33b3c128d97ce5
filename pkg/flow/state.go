package flow

import (
	"fmt"
	"sync"
)

// State is the conversation state threaded through a flow: a thread-safe
// key-value store.
type State struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewState creates a State seeded with a copy of vars.
func NewState(vars map[string]any) *State {
	data := make(map[string]any, len(vars))
	for k, v := range vars {
		data[k] = v
	}
	return &State{data: data}
}

// Set stores a value under key.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Get retrieves a value by key.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// GetString retrieves a value formatted as a string, or "" if not found.
func (s *State) GetString(key string) string {
	v, ok := s.Get(key)
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// Snapshot returns a shallow copy of all key-value pairs.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Merge copies all key-value pairs from src into the state (last-write-wins).
func (s *State) Merge(src map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range src {
		s.data[k] = v
	}
}

// Copy returns an independent State initialised from a snapshot.
func (s *State) Copy() *State {
	return &State{data: s.Snapshot()}
}
