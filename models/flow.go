package models

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// AuthorizationState binds a pending login to its post-login redirect target.
// Its wire form is the URL-safe base64 encoding of the target, optionally
// followed by "." and a nonce when the login is bound to a browser cookie.
type AuthorizationState struct {
	RedirectTarget string
	Nonce          string
}

// Encode returns the value sent as the OAuth2 state parameter
func (s AuthorizationState) Encode() string {
	encoded := base64.URLEncoding.EncodeToString([]byte(s.RedirectTarget))
	if s.Nonce != "" {
		encoded += "." + s.Nonce
	}
	return encoded
}

// DecodeAuthorizationState parses a state value produced by Encode
func DecodeAuthorizationState(state string) (AuthorizationState, error) {
	target, nonce, _ := strings.Cut(state, ".")
	raw, err := base64.URLEncoding.DecodeString(target)
	if err != nil {
		// tolerate providers that strip padding
		raw, err = base64.RawURLEncoding.DecodeString(target)
		if err != nil {
			return AuthorizationState{}, fmt.Errorf("decode state: %w", err)
		}
	}
	return AuthorizationState{RedirectTarget: string(raw), Nonce: nonce}, nil
}

// TokenExchangeResult is the outcome of an authorization code exchange
type TokenExchangeResult struct {
	AccessToken string
	TokenType   string
	IDToken     string
	Raw         map[string]any
}

// AuthResult is what a successful authenticator hands to the request
// pipeline. Token is set when the authenticator issued a new credential.
type AuthResult struct {
	Identity *Identity
	Claims   map[string]any
	Token    string
}
