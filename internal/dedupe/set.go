// ABOUTME: Thread-safe grow-only set for deduplicating work item identities.
// ABOUTME: Used by the queues to prevent duplicate processing under redelivery.

package dedupe

import "sync"

// Set tracks seen item identities. Membership only grows: there is no
// expiry and no eviction, because a processed item must never run again
// no matter how often the change feed redelivers it.
type Set struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// New creates an empty seen-set.
func New() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Check returns true if the key has been seen.
func (s *Set) Check(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[key]
	return ok
}

// CheckAndMark atomically checks if a key has been seen and marks it if not.
// Returns true if the key was already seen (duplicate), false if it's new
// and now marked. This prevents TOCTOU races that could occur with separate
// Check/Mark calls while a handler is in flight.
func (s *Set) CheckAndMark(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return true
	}
	s.seen[key] = struct{}{}
	return false
}

// Mark records that a key has been seen.
func (s *Set) Mark(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[key] = struct{}{}
}

// Len returns the number of seen keys.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
