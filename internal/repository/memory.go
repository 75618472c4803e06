package repository

import (
	"context"
	"sync"
	"time"

	"github.com/DukeRupert/eightd/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore keeps sessions in process memory. Sessions are lost on
// restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*domain.Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*domain.Session),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sess.ID]; exists {
		return domain.Errorf(domain.ECONFLICT, "session.create", "report session %q already exists", sess.ID)
	}
	m.sessions[sess.ID] = sess.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, notFound("session.get", id)
	}
	return sess.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sess.ID]; !ok {
		return notFound("session.update", sess.ID)
	}
	m.sessions[sess.ID] = sess.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return notFound("session.delete", id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, sess := range m.sessions {
		if sess.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
