package handlers

import (
	"net/http"

	"github.com/isdelr/safeback/internal/models"
	"github.com/isdelr/safeback/internal/services"
)

// SettingsHandler exposes per-workspace backup settings.
type SettingsHandler struct {
	settings services.SettingsServiceProvider
	members  services.MemberServiceProvider
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(settings services.SettingsServiceProvider, members services.MemberServiceProvider) *SettingsHandler {
	return &SettingsHandler{settings: settings, members: members}
}

// Get handles the request to read a workspace's backup settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace_id")
	if _, ok := requireWorkspaceAdmin(w, r, h.members, workspaceID); !ok {
		return
	}

	settings, err := h.settings.Get(r.Context(), workspaceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// Put handles the request to replace a workspace's backup settings.
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var payload models.BackupSettings
	if err := decodeJSON(w, r, &payload); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	if _, ok := requireWorkspaceAdmin(w, r, h.members, payload.WorkspaceID); !ok {
		return
	}

	saved, err := h.settings.Upsert(r.Context(), payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
