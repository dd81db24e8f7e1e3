package models

import (
	"time"

	"github.com/isdelr/safeback/internal/provider"
)

// SnapshotType records why a snapshot was taken.
type SnapshotType string

const (
	SnapshotManual     SnapshotType = "manual"
	SnapshotScheduled  SnapshotType = "scheduled"
	SnapshotPreRestore SnapshotType = "pre_restore"
	SnapshotPreUpgrade SnapshotType = "pre_upgrade"
)

// Valid reports whether t is one of the known snapshot types.
func (t SnapshotType) Valid() bool {
	switch t {
	case SnapshotManual, SnapshotScheduled, SnapshotPreRestore, SnapshotPreUpgrade:
		return true
	}
	return false
}

// Snapshot is a captured, point-in-time copy of a workspace's business data.
type Snapshot struct {
	ID             string       `json:"id"`
	WorkspaceID    string       `json:"workspace_id"`
	CreatedAt      time.Time    `json:"created_at"`
	CreatedBy      string       `json:"created_by"`
	Type           SnapshotType `json:"snapshot_type"`
	Reason         *string      `json:"reason,omitempty"`
	StoragePath    *string      `json:"storage_path,omitempty"`
	SizeBytes      *int64       `json:"size_bytes,omitempty"`
	Checksum       *string      `json:"checksum,omitempty"`
	OmittedDomains []string     `json:"omitted_domains"`
	Payload        []byte       `json:"-"` // Inline document, nil once externalized
}

// Externalized reports whether the payload lives in blob storage.
func (s Snapshot) Externalized() bool {
	return s.StoragePath != nil
}

// DocumentVersion is the current snapshot document format.
const DocumentVersion = 1

// SnapshotDocument is the serialized payload of a snapshot.
type SnapshotDocument struct {
	Version     int                       `json:"version"`
	WorkspaceID string                    `json:"workspace_id"`
	CapturedAt  time.Time                 `json:"captured_at"`
	Domains     map[string]provider.Slice `json:"domains"`
	Omitted     []OmittedDomain           `json:"omitted"`
}

// OmittedDomain is a non-critical domain that failed to capture.
type OmittedDomain struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}
