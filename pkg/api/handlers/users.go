package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kraklabs/usenetsync/pkg/account"
	"github.com/kraklabs/usenetsync/pkg/api/middleware"
	"github.com/kraklabs/usenetsync/pkg/storage"
)

// UserHandler handles local-account management endpoints.
type UserHandler struct {
	engine storage.Engine
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(engine storage.Engine) *UserHandler {
	return &UserHandler{engine: engine}
}

// CreateUserRequest is the request body for POST /api/v1/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// ChangePasswordRequest is the request body for password change endpoints.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password,omitempty"`
	NewPassword     string `json:"new_password"`
}

// Create handles POST /api/v1/users.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Username == "" {
		BadRequest(w, "Username is required")
		return
	}
	if req.Password == "" {
		BadRequest(w, "Password is required")
		return
	}

	hash, err := account.HashPassword(req.Password)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	user := storage.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
	}
	if err := h.engine.Insert(r.Context(), &user); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "duplicate") {
			Conflict(w, "User already exists")
			return
		}
		InternalServerError(w, "Failed to create user")
		return
	}

	WriteJSONCreated(w, userToResponse(user))
}

// List handles GET /api/v1/users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	var users []storage.User
	if err := h.engine.FetchAll(r.Context(), &users, "SELECT * FROM users ORDER BY username ASC"); err != nil {
		InternalServerError(w, "Failed to list users")
		return
	}

	response := make([]UserResponse, len(users))
	for i, u := range users {
		response[i] = userToResponse(u)
	}
	WriteJSONOK(w, response)
}

// Get handles GET /api/v1/users/{username}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		BadRequest(w, "Username is required")
		return
	}
	user, ok := fetchUserByUsername(r.Context(), w, h.engine, username)
	if !ok {
		return
	}
	WriteJSONOK(w, userToResponse(user))
}

// Delete handles DELETE /api/v1/users/{username}.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		BadRequest(w, "Username is required")
		return
	}
	user, ok := fetchUserByUsername(r.Context(), w, h.engine, username)
	if !ok {
		return
	}
	if err := h.engine.Delete(r.Context(), &user); err != nil {
		InternalServerError(w, "Failed to delete user")
		return
	}
	WriteNoContent(w)
}

// ResetPassword handles POST /api/v1/users/{username}/password.
func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		BadRequest(w, "Username is required")
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

	user, ok := fetchUserByUsername(r.Context(), w, h.engine, username)
	if !ok {
		return
	}

	hash, err := account.HashPassword(req.NewPassword)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	user.PasswordHash = hash
	if err := h.engine.Update(r.Context(), &user); err != nil {
		InternalServerError(w, "Failed to update user")
		return
	}
	WriteNoContent(w)
}

// ChangeOwnPassword handles POST /api/v1/users/me/password.
func (h *UserHandler) ChangeOwnPassword(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
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
	if req.CurrentPassword == "" {
		BadRequest(w, "Current password is required")
		return
	}

	user, ok := fetchUserOrUnauthorized(r.Context(), w, h.engine, claims.Username)
	if !ok {
		return
	}
	if !account.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		Unauthorized(w, "Current password is incorrect")
		return
	}

	hash, err := account.HashPassword(req.NewPassword)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	user.PasswordHash = hash
	if err := h.engine.Update(r.Context(), &user); err != nil {
		InternalServerError(w, "Failed to update user")
		return
	}
	WriteNoContent(w)
}
