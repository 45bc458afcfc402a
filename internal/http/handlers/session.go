package handlers

import (
	"errors"
	"net/http"

	"github.com/zooz/otpauth/internal/auth"
	"github.com/zooz/otpauth/internal/identity"
	"github.com/zooz/otpauth/internal/middleware"
	"go.uber.org/zap"
)

// SessionHandler handles token refresh and the current user endpoint
type SessionHandler struct {
	svc AuthService
	log *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(svc AuthService, log *zap.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, log: log}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// HandleRefresh handles POST /auth/refresh
func (h *SessionHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "refresh_token required", CodeBadRequest)
		return
	}

	session, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrBadRequest):
			respondWithError(w, http.StatusBadRequest, "refresh_token required", CodeBadRequest)
		case errors.Is(err, identity.ErrRefreshTokenReuseDetected):
			respondWithError(w, http.StatusUnauthorized, "refresh_token_reuse_detected", CodeUnauthorized)
		default:
			respondWithError(w, http.StatusUnauthorized, "invalid or expired refresh token", CodeUnauthorized)
		}
		return
	}

	if err := respondWithJSON(w, http.StatusOK, session); err != nil {
		h.log.Warn("failed to encode refresh response", zap.Error(err))
	}
}

// HandleMe handles GET /me (protected). Returns the authenticated user.
func (h *SessionHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized", CodeUnauthorized)
		return
	}

	if err := respondWithJSON(w, http.StatusOK, user); err != nil {
		h.log.Warn("failed to encode /me response", zap.Error(err))
	}
}
