package models

import "time"

// PreviewSummary compares live data with what a restore would write back.
type PreviewSummary struct {
	WillReplace map[string]int `json:"will_replace"`
	WillRestore map[string]int `json:"will_restore"`
}

// RestorePreview is returned to an admin before a restore. The token must be echoed
// back to perform the restore.
type RestorePreview struct {
	ConfirmationToken string         `json:"confirmation_token"`
	Summary           PreviewSummary `json:"summary"`
	SnapshotID        string         `json:"snapshot_id"`
	SnapshotCreatedAt time.Time      `json:"snapshot_created_at"`
	SnapshotType      SnapshotType   `json:"snapshot_type"`
	SnapshotReason    *string        `json:"snapshot_reason,omitempty"`
	OmittedDomains    []string       `json:"omitted_domains"`
	ExpiresInSeconds  int            `json:"expires_in_seconds"`
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	Success              bool           `json:"success"`
	EntitiesRestored     int            `json:"entities_restored"`
	PreRestoreSnapshotID string         `json:"pre_restore_snapshot_id"`
	Domains              map[string]int `json:"domains"`
}
