// Package middleware holds the HTTP middleware of the gateway: request IDs
// and the authentication interceptor pipeline.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/upb/navigator-auth/authn"
	"github.com/upb/navigator-auth/models"
	"github.com/upb/navigator-auth/observability"
	"github.com/upb/navigator-auth/utils"
)

// Authenticator resolves the credential carried by a request. It returns
// (nil, nil) when the request carries nothing it handles.
type Authenticator interface {
	Name() string
	AuthenticateRequest(r *http.Request) (*models.AuthResult, error)
}

// Outcome is the per-request authentication slot shared by every
// interceptor in a chain. It is written at most once.
type Outcome struct {
	mu      sync.RWMutex
	backend string
	result  *models.AuthResult
}

// Authenticated reports whether an interceptor accepted the request
func (o *Outcome) Authenticated() bool {
	if o == nil {
		return false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.result != nil
}

// Backend returns the authenticator that accepted the request
func (o *Outcome) Backend() string {
	if o == nil {
		return ""
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.backend
}

// Identity returns the accepted identity, or nil
func (o *Outcome) Identity() *models.Identity {
	if o == nil {
		return nil
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.result == nil {
		return nil
	}
	return o.result.Identity
}

func (o *Outcome) set(backend string, result *models.AuthResult) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.result != nil {
		return false
	}
	o.backend = backend
	o.result = result
	return true
}

// OutcomeFrom returns the request's authentication slot, or nil when no
// interceptor has run
func OutcomeFrom(ctx context.Context) *Outcome {
	outcome, _ := ctx.Value(outcomeKey).(*Outcome)
	return outcome
}

func ensureOutcome(r *http.Request) (*Outcome, *http.Request) {
	if outcome := OutcomeFrom(r.Context()); outcome != nil {
		return outcome, r
	}
	outcome := &Outcome{}
	return outcome, r.WithContext(context.WithValue(r.Context(), outcomeKey, outcome))
}

// Interceptor runs an ordered list of authenticators in front of a handler
type Interceptor struct {
	authenticators []Authenticator
	exclude        []string
	metrics        *observability.Metrics
	logger         *zap.Logger
}

// NewInterceptor creates a new interceptor. Paths in exclude, and anything
// below them, bypass authentication.
func NewInterceptor(authenticators []Authenticator, exclude []string, metrics *observability.Metrics, logger *zap.Logger) *Interceptor {
	return &Interceptor{
		authenticators: authenticators,
		exclude:        exclude,
		metrics:        metrics,
		logger:         logger,
	}
}

// Handler wraps next. Requests already authenticated upstream and requests
// without an Authorization header pass through untouched; a failed
// authentication is answered here and never reaches next.
func (i *Interceptor) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if i.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		outcome, r := ensureOutcome(r)
		if outcome.Authenticated() || r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}

		requestID := GetRequestIDFromContext(r.Context())
		for _, a := range i.authenticators {
			result, err := a.AuthenticateRequest(r)
			if err != nil {
				kind := authn.KindOf(err)
				i.metrics.ObserveAuthentication(a.Name(), string(kind))
				i.logger.Warn("authentication rejected",
					zap.String("request_id", requestID),
					zap.String("backend", a.Name()),
					zap.String("kind", string(kind)),
					zap.Error(err))
				_ = utils.WriteAuthError(w, err)
				return
			}
			if result == nil || result.Identity == nil {
				continue
			}

			outcome.set(a.Name(), result)
			i.metrics.ObserveAuthentication(a.Name(), observability.OutcomeSuccess)
			i.logger.Debug("authentication successful",
				zap.String("request_id", requestID),
				zap.String("backend", a.Name()),
				zap.String("user_id", result.Identity.UserID))

			next.ServeHTTP(w, r.WithContext(withAuthResult(r.Context(), result)))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (i *Interceptor) excluded(path string) bool {
	for _, p := range i.exclude {
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

// RequireAuth rejects requests no interceptor authenticated
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !OutcomeFrom(r.Context()).Authenticated() {
			_ = utils.WriteAuthError(w, authn.ErrMissingCredential)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects authenticated identities that hold none of roles as a
// group or a grant. With no roles it only requires authentication.
func RequireRole(logger *zap.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity := IdentityFrom(ctx)
			if identity == nil {
				_ = utils.WriteAuthError(w, authn.ErrMissingCredential)
				return
			}
			if len(roles) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range roles {
				if identity.HasGroup(role) || identity.HasGrant(role) {
					next.ServeHTTP(w, r)
					return
				}
			}

			logger.Warn("insufficient permissions",
				zap.String("request_id", GetRequestIDFromContext(ctx)),
				zap.String("user_id", identity.UserID),
				zap.Strings("required_roles", roles))
			_ = utils.WriteForbidden(w, "Insufficient permissions")
		})
	}
}
