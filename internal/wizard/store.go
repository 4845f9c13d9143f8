package wizard

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultIdleTimeout is how long a session may sit without activity before it
// is treated as absent. Expiry is a resource policy, not a correctness rule:
// an expired session simply behaves as no session on next use.
const DefaultIdleTimeout = 30 * time.Minute

// SessionStore maps a user identity to at most one active session.
// Get returns (nil, nil) when no live session exists for the user.
type SessionStore interface {
	Get(ctx context.Context, userID string) (*Session, error)
	Put(ctx context.Context, session *Session) error
	Delete(ctx context.Context, userID string) error
}

// MemoryStore is the in-process SessionStore. A single mutex serializes all
// access, which also serializes concurrent events for the same user; sessions
// of different users are independent so no finer-grained locking is needed.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	now         func() time.Time
}

// NewMemoryStore creates an in-memory session store with the given idle
// timeout. A non-positive timeout falls back to DefaultIdleTimeout.
func NewMemoryStore(idleTimeout time.Duration) *MemoryStore {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// Get returns the live session for a user, expiring it lazily if idle.
func (m *MemoryStore) Get(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[userID]
	if !ok {
		return nil, nil
	}
	if m.expired(sess) {
		delete(m.sessions, userID)
		slog.Debug("MemoryStore expired idle session", "userID", userID, "intent", sess.Intent)
		return nil, nil
	}
	cp := *sess
	cp.Collected = copyCollected(sess.Collected)
	return &cp, nil
}

// Put stores or overwrites the session for its user.
func (m *MemoryStore) Put(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *session
	cp.Collected = copyCollected(session.Collected)
	m.sessions[session.UserID] = &cp
	return nil
}

// Delete removes the session for a user. Deleting an absent session is a no-op.
func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

// Sweep removes every idle-expired session and returns how many were dropped.
// Intended to be driven by the scheduler; lazy expiry in Get already keeps
// correctness without it.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for userID, sess := range m.sessions {
		if m.expired(sess) {
			delete(m.sessions, userID)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("MemoryStore swept expired sessions", "removed", removed)
	}
	return removed
}

// Len returns the number of live (possibly expired but unswept) sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MemoryStore) expired(sess *Session) bool {
	return m.now().Sub(sess.LastActivityAt) > m.idleTimeout
}

func copyCollected(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
