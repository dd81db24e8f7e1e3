package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/isdelr/safeback/internal/metrics"
	"github.com/isdelr/safeback/internal/models"
	"github.com/isdelr/safeback/internal/storage"
)

// RetentionResult summarizes one retention pass.
type RetentionResult struct {
	Kept       int      `json:"kept"`
	Deleted    []string `json:"deleted"`
	BlobErrors int      `json:"blob_errors"`
}

// RetentionService keeps the newest snapshots of a workspace and deletes the rest.
type RetentionService struct {
	db    *sql.DB
	store storage.Adapter
	audit AuditServiceProvider
}

// NewRetentionService creates a new RetentionService. store may be nil when no
// snapshot was ever externalized.
func NewRetentionService(db *sql.DB, store storage.Adapter, audit AuditServiceProvider) *RetentionService {
	return &RetentionService{db: db, store: store, audit: audit}
}

type retentionCandidate struct {
	id          string
	storagePath sql.NullString
	snapType    string
}

// Enforce keeps the retainCount newest snapshots of the workspace. Snapshot type does
// not matter; pre_restore snapshots age out like any other. Failures on individual
// snapshots are logged and the pass continues.
func (s *RetentionService) Enforce(ctx context.Context, workspaceID string, retainCount int) (RetentionResult, error) {
	if retainCount < 1 {
		retainCount = 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, storage_path, snapshot_type FROM workspace_snapshots
		WHERE workspace_id = ? ORDER BY created_at DESC, id DESC`, workspaceID)
	if err != nil {
		return RetentionResult{}, fmt.Errorf("listing snapshots for retention: %w", err)
	}
	var all []retentionCandidate
	for rows.Next() {
		var c retentionCandidate
		if err := rows.Scan(&c.id, &c.storagePath, &c.snapType); err != nil {
			rows.Close()
			return RetentionResult{}, fmt.Errorf("scanning snapshot for retention: %w", err)
		}
		all = append(all, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return RetentionResult{}, fmt.Errorf("listing snapshots for retention: %w", err)
	}

	result := RetentionResult{Deleted: []string{}}
	if len(all) <= retainCount {
		result.Kept = len(all)
		return result, nil
	}
	result.Kept = retainCount

	for _, c := range all[retainCount:] {
		if c.storagePath.Valid && s.store != nil {
			if err := s.store.Delete(ctx, c.storagePath.String); err != nil {
				result.BlobErrors++
				metrics.RetentionBlobErrors.Inc()
				log.Warn().Err(err).
					Str("workspace_id", workspaceID).
					Str("snapshot_id", c.id).
					Str("storage_path", c.storagePath.String).
					Msg("failed to delete snapshot blob during retention")
			}
		}

		if _, err := s.db.ExecContext(ctx, "DELETE FROM workspace_snapshots WHERE id = ?", c.id); err != nil {
			log.Error().Err(err).Str("workspace_id", workspaceID).Str("snapshot_id", c.id).Msg("failed to delete snapshot during retention")
			continue
		}
		result.Deleted = append(result.Deleted, c.id)
		metrics.SnapshotsPruned.Inc()

		if s.audit != nil {
			s.audit.Log(ctx, models.AuditEntry{
				WorkspaceID: workspaceID,
				ActorUserID: "system",
				Action:      models.AuditSnapshotPruned,
				EntityType:  EntitySnapshot,
				EntityID:    c.id,
				Metadata: map[string]any{
					"snapshot_type": c.snapType,
					"retain_count":  retainCount,
				},
			})
		}
	}

	log.Info().
		Str("workspace_id", workspaceID).
		Int("kept", result.Kept).
		Int("deleted", len(result.Deleted)).
		Int("blob_errors", result.BlobErrors).
		Msg("retention enforced")
	return result, nil
}
