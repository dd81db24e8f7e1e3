package handlers

import (
	"net/http"

	"github.com/isdelr/safeback/internal/services"
)

// RestoreHandler handles the preview/confirm restore flow.
type RestoreHandler struct {
	restores services.RestoreServiceProvider
}

// NewRestoreHandler creates a new RestoreHandler.
func NewRestoreHandler(restores services.RestoreServiceProvider) *RestoreHandler {
	return &RestoreHandler{restores: restores}
}

// PreviewPayload is the expected JSON body for previewing a restore.
type PreviewPayload struct {
	SnapshotID string `json:"snapshot_id"`
}

// RestorePayload is the expected JSON body for performing a restore.
type RestorePayload struct {
	SnapshotID        string `json:"snapshot_id"`
	ConfirmationToken string `json:"confirmation_token"`
}

// Preview handles the request to preview a restore and obtain a confirmation token.
func (h *RestoreHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var payload PreviewPayload
	if err := decodeJSON(w, r, &payload); err != nil || payload.SnapshotID == "" {
		badRequest(w, "snapshot_id is required")
		return
	}
	userID, ok := currentUser(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "not authenticated", Code: "unauthorized"})
		return
	}

	preview, err := h.restores.Preview(r.Context(), payload.SnapshotID, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// Restore handles the request to restore a snapshot using a confirmation token.
func (h *RestoreHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var payload RestorePayload
	if err := decodeJSON(w, r, &payload); err != nil || payload.SnapshotID == "" || payload.ConfirmationToken == "" {
		badRequest(w, "snapshot_id and confirmation_token are required")
		return
	}
	userID, ok := currentUser(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "not authenticated", Code: "unauthorized"})
		return
	}

	result, err := h.restores.Restore(r.Context(), payload.SnapshotID, payload.ConfirmationToken, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
