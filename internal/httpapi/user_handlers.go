package httpapi

import (
	"net/http"
	"strings"

	"github.com/arun-gopi/rcm-backend/internal/audit"
	"github.com/arun-gopi/rcm-backend/internal/auth"
)

type updateProfileRequest struct {
	DisplayName string `json:"display_name"`
}

type setRoleRequest struct {
	Role string `json:"role"`
}

// publicUser is the reduced projection returned for other users' profiles.
type publicUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

func toPublic(u auth.User) publicUser {
	return publicUser{ID: u.ID, DisplayName: u.DisplayName, Role: string(u.Role)}
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		user, ok := a.requireUser(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, user)

	case http.MethodPatch:
		user, ok := a.requireUser(w, r)
		if !ok {
			return
		}
		var req updateProfileRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		name := strings.TrimSpace(req.DisplayName)
		if name == "" || len(name) > 255 {
			writeError(w, r, http.StatusBadRequest, "display_name must be 1-255 characters")
			return
		}
		updated, err := a.store.UpdateProfile(r.Context(), user.ID, auth.ProfileUpdate{
			Email:       user.Email,
			DisplayName: name,
		})
		if err != nil {
			handleStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	users, err := a.store.List(r.Context())
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		a.getUser(w, r, userID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		a.deactivateUser(w, r, userID)
	case len(parts) == 2 && parts[1] == "role":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.setUserRole(w, r, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, userID string) {
	if _, ok := a.requireUser(w, r); !ok {
		return
	}
	user, err := a.store.FindByID(r.Context(), userID)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPublic(user))
}

func (a *API) setUserRole(w http.ResponseWriter, r *http.Request, userID string) {
	admin, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}
	var req setRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role := auth.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if !role.Valid() {
		writeError(w, r, http.StatusBadRequest, "role must be standard or admin")
		return
	}
	if userID == admin.ID {
		writeError(w, r, http.StatusBadRequest, "cannot change your own role")
		return
	}
	user, err := a.store.SetRole(r.Context(), userID, role)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(auth.ContextWithUser(r.Context(), admin), "user.role_changed", map[string]any{
		"user_id": user.ID,
		"role":    string(user.Role),
	})
	writeJSON(w, http.StatusOK, user)
}

func (a *API) deactivateUser(w http.ResponseWriter, r *http.Request, userID string) {
	admin, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}
	if userID == admin.ID {
		writeError(w, r, http.StatusBadRequest, "cannot deactivate your own account")
		return
	}
	user, err := a.store.Deactivate(r.Context(), userID)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	_ = audit.LogEvent(auth.ContextWithUser(r.Context(), admin), "user.deactivated", map[string]any{
		"user_id": user.ID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "deactivated",
		"user_id": user.ID,
	})
}
