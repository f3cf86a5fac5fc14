// Package auth issues and validates the bearer tokens handed out by the
// connect endpoint. Tokens are opaque random strings with an absolute
// expiry; validation never extends a session's lifetime.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// DefaultSessionTTL is how long an issued token stays valid.
const DefaultSessionTTL = 24 * time.Hour

const defaultTokenLength = 32

// ErrInvalidSession is returned when a token is unknown, revoked, or past
// its expiry.
var ErrInvalidSession = errors.New("invalid session token")

// SessionRecord is the stored state for one issued token.
type SessionRecord struct {
	UserID    string
	ExpiresAt time.Time
}

// SessionStore persists issued sessions. Implementations must key records
// by a digest of the token so the raw secret never reaches durable storage.
type SessionStore interface {
	Save(token, userID string, expiresAt time.Time) error
	Get(token string) (SessionRecord, bool, error)
	// Delete removes a session and reports whether the token was known.
	Delete(token string) (bool, error)
	PurgeExpired(now time.Time) error
}

// SessionManager issues, validates, and revokes bearer tokens.
type SessionManager struct {
	store        SessionStore
	ttl          time.Duration
	tokenLength  int
	tokenFactory func(int) (string, error)
	now          func() time.Time
}

// SessionOption customises a SessionManager.
type SessionOption func(*SessionManager)

// WithStore directs the manager at a specific session store.
func WithStore(store SessionStore) SessionOption {
	return func(m *SessionManager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithTokenLength sets the number of random bytes in each token.
func WithTokenLength(length int) SessionOption {
	return func(m *SessionManager) {
		if length > 0 {
			m.tokenLength = length
		}
	}
}

// NewSessionManager builds a manager with the given token lifetime. A zero
// or negative ttl falls back to DefaultSessionTTL.
func NewSessionManager(ttl time.Duration, opts ...SessionOption) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	manager := &SessionManager{
		store:        NewMemorySessionStore(),
		ttl:          ttl,
		tokenLength:  defaultTokenLength,
		tokenFactory: generateToken,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager
}

// Create issues a fresh token for the user and persists it with an
// absolute expiry.
func (m *SessionManager) Create(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id required")
	}
	token, err := m.tokenFactory(m.tokenLength)
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	expiresAt := m.now().Add(m.ttl)
	if err := m.store.Save(token, userID, expiresAt); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return token, nil
}

// Validate resolves a token to its user. Expired and unknown tokens are
// indistinguishable to the caller.
func (m *SessionManager) Validate(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidSession
	}
	record, ok, err := m.store.Get(token)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return "", ErrInvalidSession
	}
	if !m.now().Before(record.ExpiresAt) {
		return "", ErrInvalidSession
	}
	return record.UserID, nil
}

// Revoke deletes a session and reports whether the token was active. A
// token past its expiry is dropped but reported as unknown, matching
// what Validate would have said about it.
func (m *SessionManager) Revoke(token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	record, ok, err := m.store.Get(token)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return false, nil
	}
	if !m.now().Before(record.ExpiresAt) {
		if _, err := m.store.Delete(token); err != nil {
			return false, fmt.Errorf("delete session: %w", err)
		}
		return false, nil
	}
	return m.store.Delete(token)
}

// PurgeExpired drops every session whose expiry has passed.
func (m *SessionManager) PurgeExpired() error {
	return m.store.PurgeExpired(m.now())
}

// Ping reports whether the backing store is reachable. Stores without a
// health check are assumed healthy.
func (m *SessionManager) Ping(ctx context.Context) error {
	if pinger, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func generateToken(length int) (string, error) {
	if length <= 0 {
		length = defaultTokenLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
