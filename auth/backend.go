// Package auth implements the authentication backends: the ADFS OIDC login
// flow, tenant API tokens, and the session tokens issued after a login.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/upb/navigator-auth/authn"
	"github.com/upb/navigator-auth/models"
)

// Backend is an authentication method selected by configuration
type Backend interface {
	Name() string
	// Configure registers the backend's routes (login, callback, logout)
	Configure(r chi.Router)
	OnStartup(ctx context.Context) error
	OnCleanup(ctx context.Context) error
}

// RequestAuthenticator resolves the credential carried by a request.
// It returns (nil, nil) when the request carries no credential it handles.
type RequestAuthenticator interface {
	Name() string
	AuthenticateRequest(r *http.Request) (*models.AuthResult, error)
}

// ParseCredential splits an Authorization header value of the form
// "<scheme> <tenant>:<token>" or "<scheme> <token>". Without a ":" the whole
// credential is the token and the tenant is left empty.
func ParseCredential(header, scheme string) (models.CompositeCredential, error) {
	header = strings.TrimLeft(header, " \t")
	if header == "" {
		return models.CompositeCredential{}, authn.ErrMissingCredential
	}

	gotScheme, credential, ok := strings.Cut(header, " ")
	if !ok {
		return models.CompositeCredential{}, authn.New(authn.KindInvalidHeader,
			"invalid authorization header", nil)
	}
	if !strings.EqualFold(gotScheme, scheme) {
		return models.CompositeCredential{}, authn.New(authn.KindInvalidScheme,
			"invalid authorization scheme", nil)
	}

	credential = strings.TrimSpace(credential)
	if credential == "" {
		return models.CompositeCredential{}, authn.ErrMissingCredential
	}

	cred := models.CompositeCredential{Scheme: gotScheme, Token: credential}
	if tenant, token, found := strings.Cut(credential, ":"); found {
		cred.Tenant = tenant
		cred.Token = token
	}
	return cred, nil
}
