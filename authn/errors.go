// Package authn defines the authentication failure taxonomy shared by the
// token validators, the OIDC flow controller and the request interceptor.
package authn

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a category of authentication failure
type Kind string

const (
	KindInvalidHeader         Kind = "invalid_header"
	KindInvalidScheme         Kind = "invalid_scheme"
	KindMissingCredential     Kind = "missing_credential"
	KindMalformedToken        Kind = "malformed_token"
	KindSignatureInvalid      Kind = "signature_invalid"
	KindExpired               Kind = "expired"
	KindNotYetValid           Kind = "not_yet_valid"
	KindAudienceMismatch      Kind = "audience_mismatch"
	KindIssuerMismatch        Kind = "issuer_mismatch"
	KindIdentityIncomplete    Kind = "identity_incomplete"
	KindKeyDiscovery          Kind = "key_discovery_error"
	KindTokenExchangeRejected Kind = "token_exchange_rejected"
	KindProviderDenied        Kind = "provider_denied"
	KindInvalidCallback       Kind = "invalid_callback"
	KindUpstreamUnavailable   Kind = "upstream_unavailable"
	KindSessionCreationFailed Kind = "session_creation_failed"
	KindInvalidCredentials    Kind = "invalid_credentials"
	KindInternal              Kind = "internal"
)

// HTTPStatus returns the response status used when a request is rejected
// with this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidHeader, KindInvalidScheme, KindInvalidCallback:
		return http.StatusBadRequest
	case KindMissingCredential, KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindMalformedToken, KindSignatureInvalid, KindExpired, KindNotYetValid,
		KindAudienceMismatch, KindIssuerMismatch, KindIdentityIncomplete,
		KindProviderDenied, KindTokenExchangeRejected:
		return http.StatusForbidden
	case KindKeyDiscovery, KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified authentication failure.
// Message is safe to show to clients; Err carries upstream detail for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// PublicMessage returns the client-facing message, never the wrapped cause.
func (e *Error) PublicMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// New creates a new classified error
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrap classifies err under kind, keeping the sentinel message for the kind.
func Wrap(kind Kind, err error) *Error {
	msg := string(kind)
	if s, ok := sentinels[kind]; ok {
		msg = s.Message
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf classifies any error. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Sentinels for errors.Is comparisons
var (
	ErrInvalidHeader         = New(KindInvalidHeader, "invalid authorization header", nil)
	ErrInvalidScheme         = New(KindInvalidScheme, "invalid authorization scheme", nil)
	ErrMissingCredential     = New(KindMissingCredential, "missing credentials", nil)
	ErrMalformedToken        = New(KindMalformedToken, "malformed token", nil)
	ErrSignatureInvalid      = New(KindSignatureInvalid, "invalid token signature", nil)
	ErrExpired               = New(KindExpired, "token expired", nil)
	ErrNotYetValid           = New(KindNotYetValid, "token not yet valid", nil)
	ErrAudienceMismatch      = New(KindAudienceMismatch, "token audience mismatch", nil)
	ErrIssuerMismatch        = New(KindIssuerMismatch, "token issuer mismatch", nil)
	ErrIdentityIncomplete    = New(KindIdentityIncomplete, "identity is missing required claims", nil)
	ErrKeyDiscovery          = New(KindKeyDiscovery, "unable to resolve signing keys", nil)
	ErrTokenExchangeRejected = New(KindTokenExchangeRejected, "token exchange rejected by provider", nil)
	ErrProviderDenied        = New(KindProviderDenied, "identity provider denied authentication", nil)
	ErrInvalidCallback       = New(KindInvalidCallback, "invalid callback response", nil)
	ErrUpstreamUnavailable   = New(KindUpstreamUnavailable, "identity provider unavailable", nil)
	ErrSessionCreationFailed = New(KindSessionCreationFailed, "unable to create session", nil)
	ErrInvalidCredentials    = New(KindInvalidCredentials, "invalid credentials", nil)
)

var sentinels = map[Kind]*Error{
	KindInvalidHeader:         ErrInvalidHeader,
	KindInvalidScheme:         ErrInvalidScheme,
	KindMissingCredential:     ErrMissingCredential,
	KindMalformedToken:        ErrMalformedToken,
	KindSignatureInvalid:      ErrSignatureInvalid,
	KindExpired:               ErrExpired,
	KindNotYetValid:           ErrNotYetValid,
	KindAudienceMismatch:      ErrAudienceMismatch,
	KindIssuerMismatch:        ErrIssuerMismatch,
	KindIdentityIncomplete:    ErrIdentityIncomplete,
	KindKeyDiscovery:          ErrKeyDiscovery,
	KindTokenExchangeRejected: ErrTokenExchangeRejected,
	KindProviderDenied:        ErrProviderDenied,
	KindInvalidCallback:       ErrInvalidCallback,
	KindUpstreamUnavailable:   ErrUpstreamUnavailable,
	KindSessionCreationFailed: ErrSessionCreationFailed,
	KindInvalidCredentials:    ErrInvalidCredentials,
}
