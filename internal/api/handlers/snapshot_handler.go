package handlers

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isdelr/safeback/internal/auth"
	"github.com/isdelr/safeback/internal/models"
	"github.com/isdelr/safeback/internal/provider"
	"github.com/isdelr/safeback/internal/services"
)

// SnapshotHandler handles HTTP requests related to snapshots.
type SnapshotHandler struct {
	snapshots services.SnapshotServiceProvider
	members   services.MemberServiceProvider
	registry  *provider.Registry
}

// NewSnapshotHandler creates a new SnapshotHandler.
func NewSnapshotHandler(snapshots services.SnapshotServiceProvider, members services.MemberServiceProvider, registry *provider.Registry) *SnapshotHandler {
	return &SnapshotHandler{snapshots: snapshots, members: members, registry: registry}
}

// CapturePayload is the expected JSON body for taking a snapshot.
type CapturePayload struct {
	WorkspaceID string  `json:"workspace_id"`
	Reason      *string `json:"reason,omitempty"`
	// SnapshotType is only honored for maintenance callers, e.g. "pre_upgrade".
	SnapshotType models.SnapshotType `json:"snapshot_type,omitempty"`
}

// CaptureResponse is returned after a successful capture.
type CaptureResponse struct {
	SnapshotID     string              `json:"snapshot_id"`
	SnapshotType   models.SnapshotType `json:"snapshot_type"`
	CreatedAt      time.Time           `json:"created_at"`
	OmittedDomains []string            `json:"omitted_domains"`
}

// Capture handles the request to take a snapshot of a workspace.
func (h *SnapshotHandler) Capture(w http.ResponseWriter, r *http.Request) {
	var payload CapturePayload
	if err := decodeJSON(w, r, &payload); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	if payload.WorkspaceID == "" {
		badRequest(w, "workspace_id is required")
		return
	}

	req := services.CaptureRequest{
		WorkspaceID: payload.WorkspaceID,
		Type:        models.SnapshotManual,
		Reason:      payload.Reason,
	}

	if auth.IsMaintenance(r.Context()) {
		actor, err := h.members.ResolveAdmin(r.Context(), payload.WorkspaceID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		req.Actor = actor
		if payload.SnapshotType != "" {
			if payload.SnapshotType == models.SnapshotPreRestore {
				badRequest(w, "pre_restore snapshots are taken by restores only")
				return
			}
			req.Type = payload.SnapshotType
		}
	} else {
		userID, ok := requireWorkspaceAdmin(w, r, h.members, payload.WorkspaceID)
		if !ok {
			return
		}
		req.Actor = userID
	}

	snap, err := h.snapshots.Capture(r.Context(), req)
	if err != nil {
		log.Warn().Err(err).Str("workspace_id", payload.WorkspaceID).Msg("Snapshot capture request failed")
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, CaptureResponse{
		SnapshotID:     snap.ID,
		SnapshotType:   snap.Type,
		CreatedAt:      snap.CreatedAt,
		OmittedDomains: snap.OmittedDomains,
	})
}

// List handles the request to list a workspace's snapshots.
func (h *SnapshotHandler) List(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace_id")
	if _, ok := requireWorkspaceAdmin(w, r, h.members, workspaceID); !ok {
		return
	}

	snaps, err := h.snapshots.ListSnapshots(r.Context(), workspaceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// Providers handles the request to describe the registered data domains.
func (h *SnapshotHandler) Providers(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace_id")
	if _, ok := requireWorkspaceAdmin(w, r, h.members, workspaceID); !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.registry.Describe())
}
