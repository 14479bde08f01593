// Package auth provides ephemeral bearer-token issuance and validation in
// front of a static fallback key, and the gate that protected endpoints run
// requests through.
package auth

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// TokenStore holds issued tokens and their absolute expiry. Expired tokens
// are removed lazily, on the first validation at or after their expiry;
// tokens never revisited stay until the process exits.
type TokenStore struct {
	mu        sync.Mutex
	tokens    map[string]time.Time
	staticKey string
	ttl       time.Duration
	now       Clock
}

// NewTokenStore creates a store issuing tokens valid for ttl. staticKey is
// accepted forever; an empty staticKey disables the fallback.
func NewTokenStore(staticKey string, ttl time.Duration) *TokenStore {
	return NewTokenStoreWithClock(staticKey, ttl, time.Now)
}

// NewTokenStoreWithClock creates a store that reads time from clock.
func NewTokenStoreWithClock(staticKey string, ttl time.Duration, clock Clock) *TokenStore {
	return &TokenStore{
		mu:        sync.Mutex{},
		tokens:    make(map[string]time.Time),
		staticKey: staticKey,
		ttl:       ttl,
		now:       clock,
	}
}

// Issue creates a new random token and records its expiry.
func (s *TokenStore) Issue() string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token] = s.now().Add(s.ttl)

	return token
}

// Validate reports whether candidate is the static key or an unexpired
// token. An expired token is removed as a side effect.
func (s *TokenStore) Validate(candidate string) bool {
	if s.IsStaticKey(candidate) {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, found := s.tokens[candidate]
	if !found {
		return false
	}

	if s.now().Before(expiry) {
		return true
	}

	delete(s.tokens, candidate)

	return false
}

// Len returns the number of tracked tokens, expired ones included.
func (s *TokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.tokens)
}

// TTL returns the lifetime given to issued tokens.
func (s *TokenStore) TTL() time.Duration {
	return s.ttl
}

// IsStaticKey reports whether candidate is the configured static key.
func (s *TokenStore) IsStaticKey(candidate string) bool {
	return s.staticKey != "" && candidate == s.staticKey
}
