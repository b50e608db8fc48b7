package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/navigator-auth/middleware"
	"github.com/upb/navigator-auth/utils"
)

// SessionRevoker deletes established sessions
type SessionRevoker interface {
	Revoke(ctx context.Context, sid string) error
}

// IdentityHandler serves the caller's own identity and session
type IdentityHandler struct {
	sessions SessionRevoker
	logger   *zap.Logger
}

// NewIdentityHandler creates a new IdentityHandler. sessions may be nil when
// no login backend is enabled.
func NewIdentityHandler(sessions SessionRevoker, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// MeResponse is the body of GET /api/v1/me
type MeResponse struct {
	Backend  string   `json:"backend"`
	UserID   string   `json:"user_id"`
	Email    string   `json:"email,omitempty"`
	Name     string   `json:"name,omitempty"`
	Tenant   string   `json:"tenant,omitempty"`
	Partner  string   `json:"partner,omitempty"`
	Groups   []string `json:"groups,omitempty"`
	Grants   []string `json:"grants,omitempty"`
	Programs []string `json:"programs,omitempty"`
	Issuer   string   `json:"issuer,omitempty"`
}

// HandleMe handles GET /api/v1/me
func (h *IdentityHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := middleware.IdentityFrom(ctx)
	if identity == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	_ = utils.WriteOK(w, MeResponse{
		Backend:  middleware.OutcomeFrom(ctx).Backend(),
		UserID:   identity.UserID,
		Email:    identity.Email,
		Name:     identity.DisplayName,
		Tenant:   identity.Tenant,
		Partner:  identity.Partner,
		Groups:   identity.Groups,
		Grants:   identity.Grants,
		Programs: identity.Programs,
		Issuer:   identity.Issuer,
	})
}

// HandleRevokeSession handles DELETE /api/v1/session
func (h *IdentityHandler) HandleRevokeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	identity := middleware.IdentityFrom(ctx)
	if identity == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}
	if h.sessions == nil || identity.SessionKey == "" {
		_ = utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse{
			Error:   "no_session",
			Message: "credential is not bound to a session",
		})
		return
	}

	if err := h.sessions.Revoke(ctx, identity.SessionKey); err != nil {
		h.logger.Error("session revoke failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
