package denoise

import (
	"sync"
	"sync/atomic"
)

// ConfigStore holds the current suppression parameters and a revision counter
// shared by every instance spawned from one Effect. Readers detect changes by
// comparing their applied revision with Revision().
type ConfigStore struct {
	mu       sync.Mutex
	params   SuppressionParams
	revision atomic.Uint64
}

// NewConfigStore creates a store seeded with sanitized params at revision 0.
func NewConfigStore(params SuppressionParams) *ConfigStore {
	return &ConfigStore{params: params.Sanitize()}
}

// Write sanitizes params, replaces the snapshot and returns the new revision.
// The revision increments even when the values are unchanged.
func (s *ConfigStore) Write(params SuppressionParams) uint64 {
	clean := params.Sanitize()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = clean
	return s.revision.Add(1)
}

// Update applies fn to a copy of the current params and writes the result.
func (s *ConfigStore) Update(fn func(*SuppressionParams)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.params
	fn(&next)
	s.params = next.Sanitize()
	return s.revision.Add(1)
}

// Read returns a consistent snapshot of params and revision.
func (s *ConfigStore) Read() (SuppressionParams, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params, s.revision.Load()
}

// Revision returns the current revision without taking the lock.
func (s *ConfigStore) Revision() uint64 {
	return s.revision.Load()
}
