package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/isdelr/safeback/internal/database"
	"github.com/isdelr/safeback/internal/models"
	"github.com/isdelr/safeback/internal/websocket"
)

// EntitySnapshot is the audit entity type of snapshot records.
const EntitySnapshot = "workspace_snapshot"

// Broadcaster pushes audit entries to live subscribers of a workspace.
type Broadcaster interface {
	BroadcastTo(workspaceID string, message []byte)
}

// AuditServiceProvider defines the interface for audit services.
type AuditServiceProvider interface {
	Log(ctx context.Context, entry models.AuditEntry)
	List(ctx context.Context, workspaceID string, limit int) ([]models.AuditEntry, error)
}

// AuditService appends snapshot lifecycle records to the audit log.
type AuditService struct {
	db  *sql.DB
	hub Broadcaster
	now func() time.Time
}

// NewAuditService creates a new AuditService. hub may be nil.
func NewAuditService(db *sql.DB, hub Broadcaster) *AuditService {
	return &AuditService{db: db, hub: hub, now: time.Now}
}

// Log records entry. Failures are logged and never returned, so auditing cannot fail
// the operation being audited.
func (s *AuditService) Log(ctx context.Context, entry models.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		log.Error().Err(err).Str("action", entry.Action).Msg("failed to encode audit metadata")
		metadata = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, workspace_id, actor_user_id, action, entity_type, entity_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.WorkspaceID, entry.ActorUserID, entry.Action, entry.EntityType, entry.EntityID,
		string(metadata), database.FormatTime(entry.CreatedAt))
	if err != nil {
		log.Error().Err(err).
			Str("workspace_id", entry.WorkspaceID).
			Str("action", entry.Action).
			Str("entity_id", entry.EntityID).
			Msg("failed to write audit entry")
		return
	}

	if s.hub != nil {
		msg, err := json.Marshal(websocket.Message{Action: websocket.ActionAuditCreated, Payload: entry})
		if err != nil {
			log.Error().Err(err).Msg("failed to encode audit broadcast")
			return
		}
		s.hub.BroadcastTo(entry.WorkspaceID, msg)
	}
}

// List returns the most recent audit entries of a workspace, newest first.
func (s *AuditService) List(ctx context.Context, workspaceID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workspace_id, actor_user_id, action, entity_type, entity_id, metadata, created_at
		FROM audit_log WHERE workspace_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var (
			entry     models.AuditEntry
			metadata  string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.WorkspaceID, &entry.ActorUserID, &entry.Action,
			&entry.EntityType, &entry.EntityID, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("decoding audit metadata for %s: %w", entry.ID, err)
		}
		if entry.CreatedAt, err = database.ParseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing audit timestamp for %s: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
