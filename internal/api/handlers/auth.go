package handlers

import (
	"errors"
	"net/http"

	"github.com/2rtk/ntripcaster/internal/api/auth"
	"github.com/2rtk/ntripcaster/internal/api/middleware"
	"github.com/2rtk/ntripcaster/internal/logger"
	"github.com/2rtk/ntripcaster/pkg/store"
)

// AuthHandler handles admin authentication endpoints.
type AuthHandler struct {
	store      *store.Store
	jwtService *auth.JWTService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(st *store.Store, jwtService *auth.JWTService) *AuthHandler {
	return &AuthHandler{store: st, jwtService: jwtService}
}

// LoginRequest is the request body for POST /api/v1/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ChangePasswordRequest is the request body for POST /api/v1/auth/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// MeResponse is the response body for GET /api/v1/auth/me.
type MeResponse struct {
	Username string `json:"username"`
}

// Login handles POST /api/v1/auth/login.
// Verifies admin credentials and issues a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Username == "" || req.Password == "" {
		BadRequest(w, "Username and password are required")
		return
	}

	admin, err := h.store.VerifyAdmin(r.Context(), req.Username, req.Password)
	if err != nil {
		// Same response for unknown admin and bad password.
		logger.Info("admin login refused", "username", req.Username)
		Unauthorized(w, "Invalid credentials")
		return
	}

	token, err := h.jwtService.IssueToken(admin.Username)
	if err != nil {
		InternalServerError(w, "Failed to issue token")
		return
	}

	logger.Info("admin login", "username", admin.Username)
	WriteJSONOK(w, token)
}

// Me handles GET /api/v1/auth/me.
// Returns the authenticated admin's identity.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Not authenticated")
		return
	}
	WriteJSONOK(w, MeResponse{Username: claims.Username})
}

// ChangePassword handles POST /api/v1/auth/password.
// Changes the authenticated admin's own password after re-verifying
// the current one.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Not authenticated")
		return
	}

	var req ChangePasswordRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.NewPassword == "" {
		BadRequest(w, "New password is required")
		return
	}

	if _, err := h.store.VerifyAdmin(r.Context(), claims.Username, req.CurrentPassword); err != nil {
		Unauthorized(w, "Current password is incorrect")
		return
	}

	if err := h.store.SetAdminPassword(r.Context(), claims.Username, req.NewPassword); err != nil {
		if errors.Is(err, store.ErrAdminNotFound) {
			NotFound(w, "Admin not found")
			return
		}
		InternalServerError(w, "Failed to change password")
		return
	}

	logger.Info("admin password changed", "username", claims.Username)
	WriteNoContent(w)
}
