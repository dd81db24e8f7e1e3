package models

import "time"

// Backup cadences.
const (
	CadenceDaily  = "daily"
	CadenceWeekly = "weekly"
)

// BackupSettings is the per-workspace backup policy.
type BackupSettings struct {
	WorkspaceID    string    `json:"workspace_id"`
	IsEnabled      bool      `json:"is_enabled"`
	Cadence        string    `json:"cadence"`
	RetainCount    int       `json:"retain_count"`
	StoreInStorage bool      `json:"store_in_storage"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
	// LastScheduledAt is when the scheduler last captured this workspace. Retention
	// never touches it, so pruned scheduled snapshots do not make a workspace due.
	LastScheduledAt *time.Time `json:"last_scheduled_at,omitempty"`
}
