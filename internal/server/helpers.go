package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chartflow/chartflow/internal/auth"
	"github.com/chartflow/chartflow/internal/store"
	"github.com/chartflow/chartflow/pkg/models"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Best effort; the client may be gone.
		return
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"detail": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// currentUser resolves the authenticated user, or nil when auth is
// disabled.
func currentUser(r *http.Request) *models.User {
	user, _ := auth.UserFromContext(r.Context())
	return user
}

// requireAdmin rejects non-admin callers when auth is enabled.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	user := currentUser(r)
	if user != nil && !user.Admin {
		writeError(w, http.StatusForbidden, "admin required")
		return false
	}
	return true
}

// storeStatus maps store errors to HTTP statuses.
func storeStatus(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// sanitizeUser strips credential material from API responses.
func sanitizeUser(u *models.User) models.User {
	out := *u
	out.PasswordHash = ""
	out.Salt = ""
	return out
}
