package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/navigator-auth/models"
	"github.com/upb/navigator-auth/repositories"
)

// SessionRepository stores session records as JSON strings with a TTL
type SessionRepository struct {
	client    goredis.UniversalClient
	keyPrefix string
	logger    *zap.Logger
}

// NewClient connects to the Redis instance described by url
// (redis://[:password@]host:port/db).
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewSessionRepository creates a session store on client
func NewSessionRepository(client goredis.UniversalClient, keyPrefix string, logger *zap.Logger) repositories.SessionStore {
	return &SessionRepository{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

func (r *SessionRepository) key(id string) string {
	return r.keyPrefix + id
}

// Save stores the record. A ttl of 0 means no expiration.
func (r *SessionRepository) Save(ctx context.Context, record *models.SessionRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(record.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	r.logger.Debug("session saved", zap.String("session_id", record.ID), zap.Duration("ttl", ttl))
	return nil
}

// Get loads a session record
func (r *SessionRepository) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var record models.SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &record, nil
}

// Delete removes a session record
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Ping checks the connection
func (r *SessionRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
