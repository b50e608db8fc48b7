package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/upb/navigator-auth/models"
)

// ErrNotFound is returned when a lookup matches nothing
var ErrNotFound = errors.New("not found")

// APIKeyRepository is the key-lookup store used by the tenant token backend
type APIKeyRepository interface {
	// FindActive returns the key named (name, partner) that is enabled, not
	// revoked and lists tenant among its programs. ErrNotFound when no row
	// matches.
	FindActive(ctx context.Context, name, partner, tenant string) (*models.APIKeyRecord, error)
}

// SessionStore persists established sessions
type SessionStore interface {
	// Save stores the record, replacing any previous value for its ID
	Save(ctx context.Context, record *models.SessionRecord, ttl time.Duration) error

	// Get loads a record. ErrNotFound when absent or expired.
	Get(ctx context.Context, id string) (*models.SessionRecord, error)

	// Delete removes a record; deleting a missing record is not an error
	Delete(ctx context.Context, id string) error

	// Ping checks the backing store
	Ping(ctx context.Context) error
}
