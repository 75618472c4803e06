package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session owns exactly one ReportState for the lifetime of a user's form
// session.
type Session struct {
	ID        uuid.UUID    // Unique identifier
	State     *ReportState // Report being edited
	CreatedAt time.Time    // When the session was started
	UpdatedAt time.Time    // When the report was last changed
}

// NewSession creates a session with a default report in the given language.
func NewSession(language string, now time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		State:     NewReportState(language, now),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	if s.State != nil {
		c.State = s.State.Clone()
	}
	return &c
}

// IsExpired returns true if the session has been idle longer than ttl.
// A non-positive ttl never expires.
func (s *Session) IsExpired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.UpdatedAt) > ttl
}
