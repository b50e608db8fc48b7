package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/upb/navigator-auth/models"
	"github.com/upb/navigator-auth/repositories"
)

const findActiveKeyQuery = `
	SELECT name, partner, enabled, revoked, grants, programs
	FROM auth.partner_keys
	WHERE name = $1 AND partner = $2
	AND enabled = TRUE AND revoked = FALSE AND $3 = ANY(programs)
`

// APIKeyRepository implements repositories.APIKeyRepository on auth.partner_keys
type APIKeyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *DB, logger *zap.Logger) repositories.APIKeyRepository {
	return &APIKeyRepository{
		db:     db,
		logger: logger,
	}
}

// FindActive retrieves the usable key for (name, partner, tenant)
func (r *APIKeyRepository) FindActive(ctx context.Context, name, partner, tenant string) (*models.APIKeyRecord, error) {
	rec := &models.APIKeyRecord{}
	err := r.db.QueryRowContext(ctx, findActiveKeyQuery, name, partner, tenant).Scan(
		&rec.Name,
		&rec.Partner,
		&rec.Enabled,
		&rec.Revoked,
		pq.Array(&rec.Grants),
		pq.Array(&rec.Programs),
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find api key: %w", err)
	}

	r.logger.Debug("api key found",
		zap.String("name", rec.Name),
		zap.String("partner", rec.Partner),
		zap.String("tenant", tenant))
	return rec, nil
}
