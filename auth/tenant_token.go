package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/navigator-auth/authn"
	"github.com/upb/navigator-auth/config"
	"github.com/upb/navigator-auth/models"
	"github.com/upb/navigator-auth/repositories"
	"github.com/upb/navigator-auth/tokens"
	"github.com/upb/navigator-auth/utils"
)

// TokenLoginPath is where the token backend answers credential exchanges
const TokenLoginPath = "/auth/token"

// TenantTokenAuthenticator authenticates "<scheme> <tenant>:<jwt>" headers
// against the partner key table
type TenantTokenAuthenticator struct {
	cfg       config.TokenAuthConfig
	keys      repositories.APIKeyRepository
	validator *tokens.Validator
	issuer    *tokens.Issuer
	logger    *zap.Logger
}

// NewTenantTokenAuthenticator creates the token backend. The issuer signs
// both the tokens it accepts and the ones it re-issues.
func NewTenantTokenAuthenticator(cfg config.TokenAuthConfig, keys repositories.APIKeyRepository, issuer *tokens.Issuer, logger *zap.Logger) *TenantTokenAuthenticator {
	return &TenantTokenAuthenticator{
		cfg:       cfg,
		keys:      keys,
		validator: tokens.NewValidator(),
		issuer:    issuer,
		logger:    logger,
	}
}

// Name implements Backend
func (a *TenantTokenAuthenticator) Name() string {
	return config.BackendToken
}

// Configure registers the credential exchange route
func (a *TenantTokenAuthenticator) Configure(r chi.Router) {
	r.Post(TokenLoginPath, a.HandleLogin)
}

// OnStartup implements Backend
func (a *TenantTokenAuthenticator) OnStartup(context.Context) error {
	return nil
}

// OnCleanup implements Backend
func (a *TenantTokenAuthenticator) OnCleanup(context.Context) error {
	return nil
}

// Authenticate validates the header credential and re-issues a token for
// the matching key. The returned Token is "<tenant>:<jwt>".
func (a *TenantTokenAuthenticator) Authenticate(ctx context.Context, header string) (*models.AuthResult, error) {
	result, err := a.Verify(ctx, header)
	if err != nil {
		return nil, err
	}
	if err := a.Reissue(result); err != nil {
		return nil, err
	}
	return result, nil
}

// Verify validates the header credential and resolves its key record. No
// token is issued; result.Token is left empty.
func (a *TenantTokenAuthenticator) Verify(ctx context.Context, header string) (*models.AuthResult, error) {
	cred, err := ParseCredential(header, a.cfg.Scheme)
	if err != nil {
		return nil, err
	}
	tenant := cred.Tenant
	if tenant == "" {
		tenant = a.cfg.DefaultTenant
	}

	opts := tokens.VerifyOptions{
		Algorithms: []string{a.issuer.Algorithm()},
		Leeway:     a.cfg.Leeway,
	}
	if a.cfg.VerifyIssuer {
		opts.Issuer = a.issuer.Name()
	}
	payload, err := a.validator.Verify(cred.Token, a.issuer.Key(), opts)
	if err != nil {
		return nil, err
	}

	name, _ := payload["name"].(string)
	partner, _ := payload["partner"].(string)
	if name == "" || partner == "" {
		return nil, authn.New(authn.KindInvalidCredentials, "invalid credentials",
			errors.New("token payload lacks name or partner"))
	}

	record, err := a.keys.FindActive(ctx, name, partner, tenant)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			a.logger.Error("partner key lookup failed",
				zap.String("partner", partner),
				zap.String("tenant", tenant),
				zap.Error(err))
		}
		return nil, authn.New(authn.KindInvalidCredentials, "invalid credentials", err)
	}
	if !record.UsableFor(tenant) {
		return nil, authn.New(authn.KindInvalidCredentials, "invalid credentials",
			errors.New("partner key not usable for tenant"))
	}

	identity := &models.Identity{
		UserID:   record.Name,
		Username: record.Name,
		Tenant:   tenant,
		Partner:  record.Partner,
		Programs: record.Programs,
		Grants:   record.Grants,
		Issuer:   a.issuer.Name(),
		Backend:  config.BackendToken,
	}

	return &models.AuthResult{
		Identity: identity,
		Claims:   payload,
	}, nil
}

// Reissue signs a fresh token embedding the verified identity and stores
// the composite "<tenant>:<jwt>" credential in result.Token
func (a *TenantTokenAuthenticator) Reissue(result *models.AuthResult) error {
	id := result.Identity
	issued, err := a.issuer.Issue(map[string]any{
		"name":     id.UserID,
		"partner":  id.Partner,
		"issuer":   a.issuer.Name(),
		"programs": id.Programs,
		"grants":   id.Grants,
		"tenant":   id.Tenant,
		"id":       id.UserID,
		"user_id":  id.UserID,
	})
	if err != nil {
		return authn.Wrap(authn.KindInternal, err)
	}
	result.Token = id.Tenant + ":" + issued
	return nil
}

// AuthenticateRequest implements RequestAuthenticator
func (a *TenantTokenAuthenticator) AuthenticateRequest(r *http.Request) (*models.AuthResult, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	return a.Verify(r.Context(), header)
}

// HandleLogin exchanges a valid credential for a fresh one and returns it
// with the identity fields
func (a *TenantTokenAuthenticator) HandleLogin(w http.ResponseWriter, r *http.Request) {
	result, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		a.logger.Warn("token login rejected",
			zap.String("kind", string(authn.KindOf(err))),
			zap.Error(err))
		_ = utils.WriteAuthError(w, err)
		return
	}

	body, err := loginResponse(result)
	if err != nil {
		_ = utils.WriteInternalServerError(w, "")
		return
	}
	_ = utils.WriteJSON(w, http.StatusOK, body)
}

func loginResponse(result *models.AuthResult) (map[string]any, error) {
	b, err := json.Marshal(result.Identity)
	if err != nil {
		return nil, err
	}
	body := map[string]any{}
	if err := json.Unmarshal(b, &body); err != nil {
		return nil, err
	}
	body["token"] = result.Token
	return body, nil
}
