package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/upb/navigator-auth/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// IdentityKey is the context key for the authenticated identity
	IdentityKey contextKey = "identity"

	// ClaimsKey is the context key for verified token claims
	ClaimsKey contextKey = "claims"

	// TenantKey is the context key for the tenant of the credential
	TenantKey contextKey = "tenant"

	// GrantsKey is the context key for partner key grants
	GrantsKey contextKey = "grants"

	// PartnerKey is the context key for the partner of the credential
	PartnerKey contextKey = "partner"

	outcomeKey contextKey = "auth_outcome"
)

// RequestIDHeader carries the request ID in and out
const RequestIDHeader = "X-Request-ID"

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID reuses the inbound X-Request-ID or generates one
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

// IdentityFrom retrieves the authenticated identity from context
func IdentityFrom(ctx context.Context) *models.Identity {
	if val := ctx.Value(IdentityKey); val != nil {
		if identity, ok := val.(*models.Identity); ok {
			return identity
		}
	}
	return nil
}

// WithIdentity adds the identity to the context
func WithIdentity(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// ClaimsFrom retrieves verified claims from context
func ClaimsFrom(ctx context.Context) map[string]any {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(map[string]any); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds verified claims to the context
func WithClaims(ctx context.Context, claims map[string]any) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// TenantFrom retrieves the tenant from context
func TenantFrom(ctx context.Context) string {
	tenant, _ := ctx.Value(TenantKey).(string)
	return tenant
}

// GrantsFrom retrieves the grants from context
func GrantsFrom(ctx context.Context) []string {
	grants, _ := ctx.Value(GrantsKey).([]string)
	return grants
}

// PartnerFrom retrieves the partner from context
func PartnerFrom(ctx context.Context) string {
	partner, _ := ctx.Value(PartnerKey).(string)
	return partner
}

// withAuthResult attaches everything an authenticator resolved
func withAuthResult(ctx context.Context, result *models.AuthResult) context.Context {
	ctx = WithIdentity(ctx, result.Identity)
	if result.Claims != nil {
		ctx = WithClaims(ctx, result.Claims)
	}
	id := result.Identity
	if id == nil {
		return ctx
	}
	if id.Tenant != "" {
		ctx = context.WithValue(ctx, TenantKey, id.Tenant)
	}
	if id.Partner != "" {
		ctx = context.WithValue(ctx, PartnerKey, id.Partner)
	}
	if len(id.Grants) > 0 {
		ctx = context.WithValue(ctx, GrantsKey, id.Grants)
	}
	return ctx
}
