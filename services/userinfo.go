package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/upb/navigator-auth/config"
)

// UserInfoClient calls the provider's userinfo endpoint with a bearer token
type UserInfoClient struct {
	provider   *oidc.Provider
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger
}

// NewUserInfoClient returns nil when the provider has no userinfo endpoint
func NewUserInfoClient(cfg config.ProviderConfig, httpClient *http.Client, timeout time.Duration, logger *zap.Logger) *UserInfoClient {
	if cfg.UserInfoURL == "" {
		return nil
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	// Endpoints come from configuration; go-oidc discovery would reject
	// ADFS, whose advertised issuer differs from the discovery host.
	provider := (&oidc.ProviderConfig{
		IssuerURL:   cfg.Issuer,
		AuthURL:     cfg.AuthorizeURL,
		TokenURL:    cfg.TokenURL,
		UserInfoURL: cfg.UserInfoURL,
	}).NewProvider(oidc.ClientContext(context.Background(), httpClient))

	return &UserInfoClient{
		provider:   provider,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
	}
}

// Fetch returns the userinfo claims for accessToken
func (c *UserInfoClient) Fetch(ctx context.Context, accessToken string) (map[string]any, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx = oidc.ClientContext(ctx, c.httpClient)

	info, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}

	claims := map[string]any{}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	c.logger.Debug("userinfo fetched", zap.Int("claims", len(claims)))
	return claims, nil
}
