package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/permitwatch/internal/permit"
)

// SeenStore keeps notification windows in a map guarded by one mutex.
type SeenStore struct {
	mu      sync.Mutex
	entries map[string]permit.SeenEntry
}

// NewSeenStore constructs a SeenStore.
func NewSeenStore() *SeenStore {
	return &SeenStore{entries: make(map[string]permit.SeenEntry)}
}

// Claim opens a window for identityKey unless a live one exists.
func (s *SeenStore) Claim(_ context.Context, identityKey string, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[identityKey]; ok && !entry.Expired(now) {
		return false, nil
	}
	s.entries[identityKey] = permit.SeenEntry{IdentityKey: identityKey, ExpiresAt: now.Add(ttl)}
	return true, nil
}

// Extend pushes a live window out to now+ttl.
func (s *SeenStore) Extend(_ context.Context, identityKey string, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[identityKey]
	if !ok || entry.Expired(now) {
		return nil
	}
	if expires := now.Add(ttl); expires.After(entry.ExpiresAt) {
		entry.ExpiresAt = expires
		s.entries[identityKey] = entry
	}
	return nil
}

// PurgeExpired drops windows that no longer suppress anything.
func (s *SeenStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored windows, live or not.
func (s *SeenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
