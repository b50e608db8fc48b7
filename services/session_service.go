package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/navigator-auth/authn"
	"github.com/upb/navigator-auth/models"
	"github.com/upb/navigator-auth/repositories"
	"github.com/upb/navigator-auth/tokens"
)

// SessionService establishes sessions after a successful login and resolves
// the session tokens it issues
type SessionService struct {
	store     repositories.SessionStore
	issuer    *tokens.Issuer
	validator *tokens.Validator
	ttl       time.Duration
	logger    *zap.Logger
}

// NewSessionService creates a new session service
func NewSessionService(store repositories.SessionStore, issuer *tokens.Issuer, ttl time.Duration, logger *zap.Logger) *SessionService {
	return &SessionService{
		store:     store,
		issuer:    issuer,
		validator: tokens.NewValidator(),
		ttl:       ttl,
		logger:    logger,
	}
}

// Issuer returns the "iss" value of session tokens
func (s *SessionService) Issuer() string {
	return s.issuer.Name()
}

// Establish stores identity under a fresh session id and returns a signed
// session token referencing it
func (s *SessionService) Establish(ctx context.Context, identity *models.Identity) (string, error) {
	sid := uuid.NewString()
	identity.SessionKey = sid

	record := &models.SessionRecord{
		ID:          sid,
		Identity:    identity,
		AccessToken: identity.AccessToken,
	}
	if err := s.store.Save(ctx, record, s.ttl); err != nil {
		return "", authn.Wrap(authn.KindSessionCreationFailed, err)
	}

	claims := map[string]any{
		"sid":     sid,
		"sub":     identity.UserID,
		"backend": identity.Backend,
	}
	if identity.Tenant != "" {
		claims["tenant"] = identity.Tenant
	}
	if len(identity.Groups) > 0 {
		claims["groups"] = identity.Groups
	}

	token, err := s.issuer.Issue(claims)
	if err != nil {
		_ = s.store.Delete(ctx, sid)
		return "", authn.Wrap(authn.KindSessionCreationFailed, err)
	}

	s.logger.Info("session established",
		zap.String("session_id", sid),
		zap.String("user_id", identity.UserID),
		zap.String("backend", identity.Backend))
	return token, nil
}

// Load verifies a session token and returns the stored identity with the
// token claims
func (s *SessionService) Load(ctx context.Context, token string) (*models.Identity, map[string]any, error) {
	claims, err := s.validator.Verify(token, s.issuer.Key(), tokens.VerifyOptions{
		Issuer:     s.issuer.Name(),
		Algorithms: []string{s.issuer.Algorithm()},
	})
	if err != nil {
		return nil, nil, err
	}

	sid, _ := claims["sid"].(string)
	if sid == "" {
		return nil, nil, authn.New(authn.KindInvalidCredentials, "invalid credentials", errors.New("session token has no sid"))
	}

	record, err := s.store.Get(ctx, sid)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, authn.New(authn.KindInvalidCredentials, "session expired or revoked", err)
		}
		return nil, nil, authn.Wrap(authn.KindUpstreamUnavailable, fmt.Errorf("load session: %w", err))
	}
	if record.Identity == nil {
		return nil, nil, authn.New(authn.KindInvalidCredentials, "invalid credentials", errors.New("session has no identity"))
	}

	identity := record.Identity.Clone()
	identity.SessionKey = sid
	identity.AccessToken = record.AccessToken
	return identity, claims, nil
}

// Revoke deletes a session
func (s *SessionService) Revoke(ctx context.Context, sid string) error {
	if err := s.store.Delete(ctx, sid); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.logger.Info("session revoked", zap.String("session_id", sid))
	return nil
}
