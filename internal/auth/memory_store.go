package auth

import (
	"sync"
	"time"
)

// MemorySessionStore keeps sessions in process memory. It is the default
// store and suits single-instance deployments and tests.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore returns an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]SessionRecord)}
}

func (s *MemorySessionStore) Save(token, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[hashSessionToken(token)] = SessionRecord{UserID: userID, ExpiresAt: expiresAt}
	return nil
}

func (s *MemorySessionStore) Get(token string) (SessionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.sessions[hashSessionToken(token)]
	return record, ok, nil
}

func (s *MemorySessionStore) Delete(token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := hashSessionToken(token)
	_, ok := s.sessions[key]
	if ok {
		delete(s.sessions, key)
	}
	return ok, nil
}

func (s *MemorySessionStore) PurgeExpired(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, record := range s.sessions {
		if !now.Before(record.ExpiresAt) {
			delete(s.sessions, key)
		}
	}
	return nil
}
