package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer signs HMAC tokens with a shared secret
type Issuer struct {
	secret []byte
	method jwt.SigningMethod
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. algorithm must be one of HS256, HS384, HS512.
func NewIssuer(secret, algorithm, issuer string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported token algorithm %q", algorithm)
	}
	return &Issuer{
		secret: []byte(secret),
		method: method,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue signs claims, adding iss, iat, exp and jti. Caller supplied values
// for those names are overwritten.
func (i *Issuer) Issue(claims map[string]any) (string, error) {
	now := i.now()
	mc := jwt.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	mc["iat"] = now.Unix()
	mc["jti"] = uuid.NewString()
	if i.issuer != "" {
		mc["iss"] = i.issuer
	}
	if i.ttl > 0 {
		mc["exp"] = now.Add(i.ttl).Unix()
	}
	signed, err := jwt.NewWithClaims(i.method, mc).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Key returns the verification key for tokens issued by i
func (i *Issuer) Key() []byte {
	return i.secret
}

// Algorithm returns the signing algorithm name
func (i *Issuer) Algorithm() string {
	return i.method.Alg()
}

// Name returns the "iss" value placed in issued tokens
func (i *Issuer) Name() string {
	return i.issuer
}
