package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in-process behind a mutex. It is the fallback
// when Redis is down and the default for single-instance deployments.
type MemoryStore struct {
	mu  sync.Mutex
	m   map[string]*Session
	ttl time.Duration
}

// NewMemoryStore creates a store with the given TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{m: make(map[string]*Session), ttl: ttl}
}

func (s *MemoryStore) Get(_ context.Context, shopID, phone string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(shopID, phone)
	sess, ok := s.m[key]
	if !ok {
		return nil, nil
	}
	if sess.Expired(s.ttl) {
		delete(s.m, key)
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) Put(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.m[storeKey(sess.ShopID, sess.Phone)] = &cp
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, shopID, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, storeKey(shopID, phone))
	return nil
}

// Cleanup drops expired sessions and returns how many were removed.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, sess := range s.m {
		if sess.Expired(s.ttl) {
			delete(s.m, key)
			removed++
		}
	}
	return removed
}
