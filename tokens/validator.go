// Package tokens verifies and issues the JWTs used by the authentication
// backends.
package tokens

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/upb/navigator-auth/authn"
)

// RSAAlgorithms is the allow-list for identity provider access tokens
var RSAAlgorithms = []string{"RS256", "RS384", "RS512"}

// VerifyOptions controls claim validation for a single verification
type VerifyOptions struct {
	// Issuer is enforced when non-empty
	Issuer string
	// Audience is enforced when non-empty
	Audience string
	// Algorithms is the accepted "alg" allow-list; it must not be empty
	Algorithms []string
	// Leeway is the clock skew tolerance applied to exp, nbf and iat
	Leeway time.Duration
}

// Validator verifies signed JWTs and classifies every failure
type Validator struct {
	now func() time.Time
}

// NewValidator creates a new validator using the wall clock
func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// Verify checks, in order: algorithm allow-list, signature, exp/nbf, iat,
// audience and issuer. The returned claims are only populated on success.
func (v *Validator) Verify(token string, key any, opts VerifyOptions) (jwt.MapClaims, error) {
	if token == "" {
		return nil, authn.New(authn.KindMalformedToken, "empty token", nil)
	}
	if len(opts.Algorithms) == 0 {
		return nil, authn.New(authn.KindInternal, "no algorithms configured", nil)
	}
	if key == nil {
		return nil, authn.Wrap(authn.KindKeyDiscovery, errors.New("no verification key"))
	}

	// Reject disallowed algorithms before touching the key so "none" and
	// HMAC/RSA confusion never reach signature verification.
	alg, err := algorithmOf(token)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(opts.Algorithms, alg) {
		return nil, authn.Wrap(authn.KindSignatureInvalid, fmt.Errorf("algorithm %q not allowed", alg))
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(opts.Algorithms),
		jwt.WithLeeway(opts.Leeway),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.NewParser(parserOpts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid {
		return nil, authn.Wrap(authn.KindSignatureInvalid, errors.New("token not valid"))
	}
	return claims, nil
}

// KeyID returns the "kid" header of a token without verifying it
func KeyID(token string) (string, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", authn.Wrap(authn.KindMalformedToken, err)
	}
	kid, _ := parsed.Header["kid"].(string)
	if kid == "" {
		return "", authn.New(authn.KindMalformedToken, "token header has no key id", nil)
	}
	return kid, nil
}

// UnverifiedClaims decodes the payload without any verification. The result
// must only be used for routing decisions, never for identity.
func UnverifiedClaims(token string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, authn.Wrap(authn.KindMalformedToken, err)
	}
	return claims, nil
}

func algorithmOf(token string) (string, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", authn.Wrap(authn.KindMalformedToken, err)
	}
	alg, _ := parsed.Header["alg"].(string)
	if alg == "" {
		return "", authn.New(authn.KindMalformedToken, "token header has no algorithm", nil)
	}
	return alg, nil
}

// classify maps golang-jwt errors onto the taxonomy. When several claims
// fail at once the first in validation order wins.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return authn.Wrap(authn.KindMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return authn.Wrap(authn.KindSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return authn.Wrap(authn.KindExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return authn.Wrap(authn.KindNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return authn.Wrap(authn.KindAudienceMismatch, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return authn.Wrap(authn.KindIssuerMismatch, err)
	default:
		return authn.Wrap(authn.KindMalformedToken, err)
	}
}
