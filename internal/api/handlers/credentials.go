package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2rtk/ntripcaster/internal/logger"
	"github.com/2rtk/ntripcaster/pkg/store"
)

// CredentialHandler handles user and mount credential CRUD. Passwords
// and secrets never appear in responses.
type CredentialHandler struct {
	store *store.Store
}

// NewCredentialHandler creates a new CredentialHandler.
func NewCredentialHandler(st *store.Store) *CredentialHandler {
	return &CredentialHandler{store: st}
}

// CreateUserRequest is the request body for POST /api/v1/credentials/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ResetPasswordRequest is the request body for
// POST /api/v1/credentials/users/{username}/password.
type ResetPasswordRequest struct {
	Password string `json:"password"`
}

// UserResponse is the response body for user endpoints.
type UserResponse struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateMountRequest is the request body for POST /api/v1/credentials/mounts.
type CreateMountRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
	Owner  string `json:"owner,omitempty"`
}

// UpdateMountRequest is the request body for PUT /api/v1/credentials/mounts/{name}.
// A nil field is left unchanged; an empty Owner clears the binding.
type UpdateMountRequest struct {
	Secret *string `json:"secret,omitempty"`
	Owner  *string `json:"owner,omitempty"`
}

// MountCredentialResponse is the response body for mount credential
// endpoints.
type MountCredentialResponse struct {
	Name      string    `json:"name"`
	Owner     string    `json:"owner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateUser handles POST /api/v1/credentials/users.
func (h *CredentialHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Username == "" || req.Password == "" {
		BadRequest(w, "Username and password are required")
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			Conflict(w, "User already exists")
			return
		}
		InternalServerError(w, "Failed to create user")
		return
	}

	logger.Info("user created", "username", user.Username)
	WriteJSONCreated(w, userToResponse(user))
}

// ListUsers handles GET /api/v1/credentials/users.
func (h *CredentialHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		InternalServerError(w, "Failed to list users")
		return
	}

	response := make([]UserResponse, len(users))
	for i, u := range users {
		response[i] = userToResponse(u)
	}
	WriteJSONOK(w, response)
}

// ResetUserPassword handles POST /api/v1/credentials/users/{username}/password.
func (h *CredentialHandler) ResetUserPassword(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	var req ResetPasswordRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Password == "" {
		BadRequest(w, "Password is required")
		return
	}

	if err := h.store.UpdateUserPassword(r.Context(), username, req.Password); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			NotFound(w, "User not found")
			return
		}
		InternalServerError(w, "Failed to update password")
		return
	}

	logger.Info("user password reset", "username", username)
	WriteNoContent(w)
}

// DeleteUser handles DELETE /api/v1/credentials/users/{username}.
func (h *CredentialHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	if err := h.store.DeleteUser(r.Context(), username); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			NotFound(w, "User not found")
			return
		}
		InternalServerError(w, "Failed to delete user")
		return
	}

	logger.Info("user deleted", "username", username)
	WriteNoContent(w)
}

// CreateMount handles POST /api/v1/credentials/mounts.
func (h *CredentialHandler) CreateMount(w http.ResponseWriter, r *http.Request) {
	var req CreateMountRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.Name == "" || req.Secret == "" {
		BadRequest(w, "Mount name and secret are required")
		return
	}

	var ownerID *uint
	if req.Owner != "" {
		owner, err := h.store.GetUser(r.Context(), req.Owner)
		if err != nil {
			BadRequest(w, "Owner user does not exist")
			return
		}
		ownerID = &owner.ID
	}

	mount, err := h.store.CreateMount(r.Context(), req.Name, req.Secret, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateMount) {
			Conflict(w, "Mount already exists")
			return
		}
		InternalServerError(w, "Failed to create mount")
		return
	}

	logger.Info("mount credential created", logger.Mount(mount.Name))
	WriteJSONCreated(w, h.mountToResponse(r, mount))
}

// ListMounts handles GET /api/v1/credentials/mounts.
func (h *CredentialHandler) ListMounts(w http.ResponseWriter, r *http.Request) {
	mounts, err := h.store.ListMounts(r.Context())
	if err != nil {
		InternalServerError(w, "Failed to list mounts")
		return
	}

	response := make([]MountCredentialResponse, len(mounts))
	for i, m := range mounts {
		response[i] = h.mountToResponse(r, m)
	}
	WriteJSONOK(w, response)
}

// UpdateMount handles PUT /api/v1/credentials/mounts/{name}.
func (h *CredentialHandler) UpdateMount(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req UpdateMountRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	var ownerID *uint
	clearOwner := false
	if req.Owner != nil {
		if *req.Owner == "" {
			clearOwner = true
		} else {
			owner, err := h.store.GetUser(r.Context(), *req.Owner)
			if err != nil {
				BadRequest(w, "Owner user does not exist")
				return
			}
			ownerID = &owner.ID
		}
	}

	if err := h.store.UpdateMount(r.Context(), name, req.Secret, ownerID, clearOwner); err != nil {
		if errors.Is(err, store.ErrMountNotFound) {
			NotFound(w, "Mount not found")
			return
		}
		InternalServerError(w, "Failed to update mount")
		return
	}

	mount, err := h.store.GetMount(r.Context(), name)
	if err != nil {
		InternalServerError(w, "Failed to load mount")
		return
	}

	logger.Info("mount credential updated", logger.Mount(name))
	WriteJSONOK(w, h.mountToResponse(r, mount))
}

// DeleteMount handles DELETE /api/v1/credentials/mounts/{name}.
// Removing the credential does not disconnect a live producer; use the
// mount kick endpoint for that.
func (h *CredentialHandler) DeleteMount(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.store.DeleteMount(r.Context(), name); err != nil {
		if errors.Is(err, store.ErrMountNotFound) {
			NotFound(w, "Mount not found")
			return
		}
		InternalServerError(w, "Failed to delete mount")
		return
	}

	logger.Info("mount credential deleted", logger.Mount(name))
	WriteNoContent(w)
}

func userToResponse(u *store.User) UserResponse {
	return UserResponse{
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (h *CredentialHandler) mountToResponse(r *http.Request, m *store.Mount) MountCredentialResponse {
	response := MountCredentialResponse{
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.OwnerID != nil {
		// Resolve lazily; the owner join is not preloaded.
		if owner, err := h.store.GetUserByID(r.Context(), *m.OwnerID); err == nil {
			response.Owner = owner.Username
		}
	}
	return response
}
