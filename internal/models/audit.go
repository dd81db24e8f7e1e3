package models

import "time"

// Audit actions written by the snapshot engine.
const (
	AuditSnapshotCaptured      = "snapshot.captured"
	AuditSnapshotCaptureFailed = "snapshot.capture_failed"
	AuditSnapshotPreview       = "snapshot.preview"
	AuditSnapshotRestored      = "snapshot.restored"
	AuditSnapshotRestoreFailed = "snapshot.restore_failed"
	AuditSnapshotPruned        = "snapshot.pruned"
)

// AuditEntry is one append-only record of a snapshot lifecycle event.
type AuditEntry struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	ActorUserID string         `json:"actor_user_id"`
	Action      string         `json:"action"`
	EntityType  string         `json:"entity_type"` // e.g. "workspace_snapshot"
	EntityID    string         `json:"entity_id"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
}
