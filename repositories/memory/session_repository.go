// Package memory holds in-process store implementations for single-instance
// deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/upb/navigator-auth/models"
	"github.com/upb/navigator-auth/repositories"
)

type entry struct {
	record    *models.SessionRecord
	expiresAt time.Time
}

// SessionRepository keeps sessions in a map. Expired entries are dropped on
// access.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]entry
	now      func() time.Time
}

// NewSessionRepository creates an empty in-memory session store
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]entry),
		now:      time.Now,
	}
}

var _ repositories.SessionStore = (*SessionRepository)(nil)

// Save stores a deep copy of record
func (r *SessionRepository) Save(_ context.Context, record *models.SessionRecord, ttl time.Duration) error {
	e := entry{record: record.Clone()}
	if ttl > 0 {
		e.expiresAt = r.now().Add(ttl)
	}
	r.mu.Lock()
	r.sessions[record.ID] = e
	r.mu.Unlock()
	return nil
}

// Get returns a deep copy of the stored record. Callers may modify it freely.
func (r *SessionRepository) Get(_ context.Context, id string) (*models.SessionRecord, error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if !e.expiresAt.IsZero() && !r.now().Before(e.expiresAt) {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		return nil, repositories.ErrNotFound
	}
	return e.record.Clone(), nil
}

// Delete removes a record
func (r *SessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

// Ping always succeeds
func (r *SessionRepository) Ping(context.Context) error {
	return nil
}
