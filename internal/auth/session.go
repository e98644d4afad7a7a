package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/specstream/specstream/internal/logger"
)

// Validator checks whether a session handle is valid. The real-time
// layer only needs the owning user and a yes/no answer; issuing and
// refreshing sessions belongs to the auth collaborator behind this
// interface.
type Validator interface {
	Validate(sessionID string) (userID int64, ok bool)
}

// Session is an issued auth session
type Session struct {
	SessionID    string
	UserID       int64
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastAccessAt time.Time
}

// Expired reports whether the session is past its expiry
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// Service is an in-memory session service with TTL-based expiry
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewService creates a session service with the given session lifetime
func NewService(ttl time.Duration) *Service {
	return &Service{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// Create issues a new session for a user
func (s *Service) Create(userID int64) *Session {
	now := time.Now()
	sess := &Session{
		SessionID:    "sess_" + uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		LastAccessAt: now,
	}

	s.mu.Lock()
	s.sessions[sess.SessionID] = sess
	s.mu.Unlock()

	logger.Debug("Session created: %s (user: %d)", sess.SessionID, userID)
	return sess
}

// Validate reports whether sessionID names a live session. Access
// refreshes the session's last-access timestamp.
func (s *Service) Validate(sessionID string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, false
	}
	if sess.Expired() {
		delete(s.sessions, sessionID)
		return 0, false
	}

	sess.LastAccessAt = time.Now()
	return sess.UserID, true
}

// Revoke deletes a session. Revoking an unknown session is a no-op.
func (s *Service) Revoke(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// PruneExpired removes expired sessions and returns the count removed
func (s *Service) PruneExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.Expired() {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of live sessions
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
