package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kraklabs/usenetsync/pkg/storage"
)

// decodeJSONBody decodes a JSON request body into v. Returns true if
// successful, false if decoding fails (a 400 response is written already).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// fetchUserByUsername looks up a storage.User by username, writing a 404 if
// none is found and a 500 on any other storage error.
func fetchUserByUsername(ctx context.Context, w http.ResponseWriter, engine storage.Engine, username string) (storage.User, bool) {
	var users []storage.User
	if err := engine.FetchAll(ctx, &users, "SELECT * FROM users WHERE username = ?", username); err != nil {
		InternalServerError(w, "Failed to look up user")
		return storage.User{}, false
	}
	if len(users) != 1 {
		NotFound(w, "User not found")
		return storage.User{}, false
	}
	return users[0], true
}

// fetchUserOrUnauthorized is like fetchUserByUsername but treats a missing
// user as 401, the right response for auth-related endpoints where user
// absence means the caller's credentials no longer refer to anyone.
func fetchUserOrUnauthorized(ctx context.Context, w http.ResponseWriter, engine storage.Engine, username string) (storage.User, bool) {
	var users []storage.User
	if err := engine.FetchAll(ctx, &users, "SELECT * FROM users WHERE username = ?", username); err != nil {
		InternalServerError(w, "Failed to look up user")
		return storage.User{}, false
	}
	if len(users) != 1 {
		Unauthorized(w, "User no longer exists")
		return storage.User{}, false
	}
	return users[0], true
}
