package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/upb/navigator-auth/models"
	"github.com/upb/navigator-auth/tokens"
)

// SessionLoader resolves session tokens
type SessionLoader interface {
	Issuer() string
	Load(ctx context.Context, token string) (*models.Identity, map[string]any, error)
}

// SessionAuthenticator accepts the bearer tokens handed out after an OIDC
// login. Requests whose token was not issued by the session service are
// left to other authenticators.
type SessionAuthenticator struct {
	scheme   string
	sessions SessionLoader
}

// NewSessionAuthenticator creates a new session authenticator
func NewSessionAuthenticator(scheme string, sessions SessionLoader) *SessionAuthenticator {
	if scheme == "" {
		scheme = "Bearer"
	}
	return &SessionAuthenticator{scheme: scheme, sessions: sessions}
}

// Name implements RequestAuthenticator
func (a *SessionAuthenticator) Name() string {
	return "session"
}

// AuthenticateRequest implements RequestAuthenticator
func (a *SessionAuthenticator) AuthenticateRequest(r *http.Request) (*models.AuthResult, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	cred, err := ParseCredential(header, a.scheme)
	if err != nil || cred.HasTenant() || strings.Count(cred.Token, ".") != 2 {
		return nil, nil
	}

	// routing only; Load verifies the signature
	unverified, err := tokens.UnverifiedClaims(cred.Token)
	if err != nil {
		return nil, nil
	}
	if iss, _ := unverified["iss"].(string); iss != a.sessions.Issuer() {
		return nil, nil
	}

	identity, claims, err := a.sessions.Load(r.Context(), cred.Token)
	if err != nil {
		return nil, err
	}
	return &models.AuthResult{Identity: identity, Claims: claims}, nil
}
