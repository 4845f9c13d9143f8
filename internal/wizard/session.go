package wizard

import "time"

// Session is the mutable, per-user record of one in-flight guided flow.
// Cursor indexes the next step to collect; a cursor equal to the number of
// template steps is the terminal confirming state.
type Session struct {
	UserID         string            `json:"user_id"`
	Intent         Intent            `json:"intent"`
	Cursor         int               `json:"cursor"`
	Collected      map[string]string `json:"collected"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
}

// NewSession creates a session positioned at the first step of the template.
func NewSession(userID string, intent Intent, now time.Time) *Session {
	return &Session{
		UserID:         userID,
		Intent:         intent,
		Cursor:         0,
		Collected:      make(map[string]string),
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Confirming reports whether the session has collected every step of the
// template and is waiting for a confirm/edit/cancel action.
func (s *Session) Confirming(t Template) bool {
	return s.Cursor >= len(t.Steps)
}

// Touch records user activity for idle-expiry purposes.
func (s *Session) Touch(now time.Time) {
	s.LastActivityAt = now
}
