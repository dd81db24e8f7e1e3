package handlers

import (
	"net/http"
	"strconv"

	"github.com/isdelr/safeback/internal/services"
)

// AuditHandler handles HTTP requests for the snapshot audit log.
type AuditHandler struct {
	audit   services.AuditServiceProvider
	members services.MemberServiceProvider
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(audit services.AuditServiceProvider, members services.MemberServiceProvider) *AuditHandler {
	return &AuditHandler{audit: audit, members: members}
}

// List handles the request to get a workspace's recent audit entries.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace_id")
	if _, ok := requireWorkspaceAdmin(w, r, h.members, workspaceID); !ok {
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50 // Default limit
	}

	entries, err := h.audit.List(r.Context(), workspaceID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
