// Package services holds the collaborators the authentication backends call
// out to: the identity provider's token and userinfo endpoints, and the
// session store.
package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/upb/navigator-auth/authn"
	"github.com/upb/navigator-auth/config"
	"github.com/upb/navigator-auth/models"
)

// TokenExchanger builds authorize URLs and exchanges authorization codes at
// the provider's token endpoint
type TokenExchanger struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
	timeout    time.Duration
}

// NewTokenExchanger creates a new token exchanger. Every exchange is bounded
// by timeout.
func NewTokenExchanger(cfg config.ProviderConfig, httpClient *http.Client, timeout time.Duration) *TokenExchanger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TokenExchanger{
		cfg:        cfg,
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// oauthConfig returns a per-call config; the redirect URI depends on the
// inbound request.
func (e *TokenExchanger) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     e.cfg.ClientID,
		ClientSecret: e.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   e.cfg.AuthorizeURL,
			TokenURL:  e.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      e.cfg.Scopes,
	}
}

// AuthCodeURL returns the provider authorize URL carrying client_id,
// response_type=code, redirect_uri, resource, response_mode=query, state and
// scope.
func (e *TokenExchanger) AuthCodeURL(state, redirectURI string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_mode", "query"),
	}
	if resource := e.resource(); resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", resource))
	}
	return e.oauthConfig(redirectURI).AuthCodeURL(state, opts...)
}

// ExchangeCode redeems an authorization code. A response the provider
// rejects yields KindTokenExchangeRejected; transport failures and timeouts
// yield KindUpstreamUnavailable.
func (e *TokenExchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (*models.TokenExchangeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)

	opts := []oauth2.AuthCodeOption{}
	if len(e.cfg.Scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(e.cfg.Scopes, " ")))
	}
	if resource := e.resource(); resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", resource))
	}

	tok, err := e.oauthConfig(redirectURI).Exchange(ctx, code, opts...)
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	result := &models.TokenExchangeResult{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Raw: map[string]any{
			"access_token": tok.AccessToken,
			"token_type":   tok.TokenType,
		},
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		result.IDToken = idToken
		result.Raw["id_token"] = idToken
	}
	if !tok.Expiry.IsZero() {
		result.Raw["expires_at"] = tok.Expiry.Unix()
	}
	return result, nil
}

func (e *TokenExchanger) resource() string {
	if e.cfg.Resource != "" {
		return e.cfg.Resource
	}
	return e.cfg.Audience
}

func classifyExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
			return authn.Wrap(authn.KindUpstreamUnavailable, err)
		}
		return authn.Wrap(authn.KindTokenExchangeRejected, err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return authn.Wrap(authn.KindUpstreamUnavailable, err)
	}

	// 2xx bodies without an access token, or carrying an "error" field
	return authn.Wrap(authn.KindTokenExchangeRejected, err)
}
