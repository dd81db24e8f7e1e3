package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/isdelr/safeback/internal/auth"
	"github.com/isdelr/safeback/internal/services"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// errorStatus maps service errors to an HTTP status and a stable error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrLockContention):
		return http.StatusConflict, "lock_contention"
	case errors.Is(err, services.ErrInvalidConfirmation):
		return http.StatusUnprocessableEntity, "invalid_confirmation"
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, services.ErrStorageFailure):
		return http.StatusBadGateway, "storage_failure"
	case errors.Is(err, services.ErrProviderFailure):
		return http.StatusInternalServerError, "provider_failure"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if code == "internal" {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		msg = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: "invalid_input"})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// currentUser returns the authenticated user's id.
func currentUser(r *http.Request) (string, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return "", false
	}
	return claims.UserID, true
}

// requireWorkspaceAdmin resolves the caller and checks they administer workspaceID.
// It writes the error response itself and returns false on failure.
func requireWorkspaceAdmin(w http.ResponseWriter, r *http.Request, members services.MemberServiceProvider, workspaceID string) (string, bool) {
	if workspaceID == "" {
		badRequest(w, "workspace_id is required")
		return "", false
	}
	userID, ok := currentUser(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "not authenticated", Code: "unauthorized"})
		return "", false
	}
	if err := members.RequireAdmin(r.Context(), workspaceID, userID); err != nil {
		writeError(w, r, err)
		return "", false
	}
	return userID, true
}
