package auth

import (
	"sync"
	"time"
)

// RevocationStore holds revoked token identifiers until they would have
// expired anyway. The control plane pushes revocations, the authenticator
// consults the store before any cache.
type RevocationStore struct {
	now func() time.Time

	mu      sync.RWMutex
	revoked map[string]time.Time
}

// NewRevocationStore returns an empty store.
func NewRevocationStore() *RevocationStore {
	return &RevocationStore{
		now:     time.Now,
		revoked: map[string]time.Time{},
	}
}

// Revoke marks a token identifier revoked until expiry.
func (s *RevocationStore) Revoke(tokenID string, expiry time.Time) {
	s.mu.Lock()
	s.revoked[tokenID] = expiry
	s.mu.Unlock()
}

// IsRevoked reports whether a token identifier is revoked. Entries past
// their expiry are dropped lazily.
func (s *RevocationStore) IsRevoked(tokenID string) bool {
	s.mu.RLock()
	expiry, ok := s.revoked[tokenID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if s.now().After(expiry) {
		s.mu.Lock()
		delete(s.revoked, tokenID)
		s.mu.Unlock()
		return false
	}
	return true
}
