// Package repository persists report sessions.
//
// Three SessionStore implementations exist: an in-process MemoryStore and a
// SQLStore backed by SQLite or Postgres. Each session is stored as its JSON
// snapshot, so every backend round-trips exactly what a backup would.
package repository

import (
	"context"
	"time"

	"github.com/DukeRupert/eightd/internal/domain"
	"github.com/google/uuid"
)

// SessionStore stores report sessions. Implementations must be safe for
// concurrent use and must never hand out state shared with the store:
// callers receive copies and write back with Update.
type SessionStore interface {
	// Create inserts a new session.
	Create(ctx context.Context, sess *domain.Session) error

	// Get returns the session with the given ID, or an ENOTFOUND error.
	Get(ctx context.Context, id uuid.UUID) (*domain.Session, error)

	// Update replaces the stored state of an existing session.
	Update(ctx context.Context, sess *domain.Session) error

	// Delete removes a session.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteExpired removes every session last updated before cutoff and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

func notFound(op string, id uuid.UUID) error {
	return domain.NotFound(op, "report session", id.String())
}
