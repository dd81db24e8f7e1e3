package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/isdelr/safeback/internal/database"
	"github.com/isdelr/safeback/internal/lock"
	"github.com/isdelr/safeback/internal/metrics"
	"github.com/isdelr/safeback/internal/models"
	"github.com/isdelr/safeback/internal/provider"
	"github.com/isdelr/safeback/internal/storage"
)

// CaptureRequest describes a snapshot to take.
type CaptureRequest struct {
	WorkspaceID string
	Actor       string
	Type        models.SnapshotType
	Reason      *string
}

// SnapshotServiceProvider defines the interface for snapshot services.
type SnapshotServiceProvider interface {
	Capture(ctx context.Context, req CaptureRequest) (models.Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (models.Snapshot, error)
	ListSnapshots(ctx context.Context, workspaceID string) ([]models.Snapshot, error)
	LoadDocument(ctx context.Context, snap models.Snapshot) (models.SnapshotDocument, error)
	LastSnapshotAt(ctx context.Context, workspaceID string, snapType models.SnapshotType) (time.Time, bool, error)
}

// SnapshotService captures workspace data into snapshots and reads them back.
type SnapshotService struct {
	db        *sql.DB
	registry  *provider.Registry
	store     storage.Adapter
	locker    lock.Locker
	settings  SettingsServiceProvider
	members   MemberServiceProvider
	retention *RetentionService
	audit     AuditServiceProvider
	now       func() time.Time
}

// NewSnapshotService creates a new SnapshotService. store may be nil, in which case
// every snapshot stays inline regardless of settings.
func NewSnapshotService(
	db *sql.DB,
	registry *provider.Registry,
	store storage.Adapter,
	locker lock.Locker,
	settings SettingsServiceProvider,
	members MemberServiceProvider,
	retention *RetentionService,
	audit AuditServiceProvider,
) *SnapshotService {
	return &SnapshotService{
		db:        db,
		registry:  registry,
		store:     store,
		locker:    locker,
		settings:  settings,
		members:   members,
		retention: retention,
		audit:     audit,
		now:       time.Now,
	}
}

// Capture takes a snapshot of the workspace while holding its lock. The caller is
// responsible for checking that req.Actor may do so.
func (s *SnapshotService) Capture(ctx context.Context, req CaptureRequest) (models.Snapshot, error) {
	if !req.Type.Valid() {
		return models.Snapshot{}, fmt.Errorf("%w: unknown snapshot type %q", ErrInvalidInput, req.Type)
	}
	if req.WorkspaceID == "" || req.Actor == "" {
		return models.Snapshot{}, fmt.Errorf("%w: workspace and actor are required", ErrInvalidInput)
	}
	exists, err := s.members.WorkspaceExists(ctx, req.WorkspaceID)
	if err != nil {
		return models.Snapshot{}, err
	}
	if !exists {
		return models.Snapshot{}, fmt.Errorf("workspace %s: %w", req.WorkspaceID, ErrNotFound)
	}

	var snap models.Snapshot
	err = lock.WithLock(ctx, s.locker, req.WorkspaceID, func(ctx context.Context) error {
		var err error
		snap, err = s.captureLocked(ctx, req)
		return err
	})
	if errors.Is(err, lock.ErrHeld) {
		metrics.SnapshotCaptures.WithLabelValues(string(req.Type), metrics.OutcomeContention).Inc()
	}
	return snap, err
}

// captureLocked does the work of Capture. The workspace lock must be held.
func (s *SnapshotService) captureLocked(ctx context.Context, req CaptureRequest) (models.Snapshot, error) {
	start := s.now()
	settings, err := s.settings.Get(ctx, req.WorkspaceID)
	if err != nil {
		return models.Snapshot{}, err
	}

	doc, err := s.collect(ctx, req.WorkspaceID, start)
	if err != nil {
		metrics.SnapshotCaptures.WithLabelValues(string(req.Type), metrics.OutcomeFailure).Inc()
		log.Error().Err(err).Str("workspace_id", req.WorkspaceID).Str("snapshot_type", string(req.Type)).Msg("snapshot capture failed")
		s.audit.Log(ctx, models.AuditEntry{
			WorkspaceID: req.WorkspaceID,
			ActorUserID: req.Actor,
			Action:      models.AuditSnapshotCaptureFailed,
			EntityType:  EntitySnapshot,
			EntityID:    req.WorkspaceID,
			Metadata: map[string]any{
				"snapshot_type": req.Type,
				"reason":        req.Reason,
				"error":         err.Error(),
			},
		})
		return models.Snapshot{}, err
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("encoding snapshot document: %w", err)
	}

	snap := models.Snapshot{
		ID:             ulid.MustNew(ulid.Timestamp(start), ulid.DefaultEntropy()).String(),
		WorkspaceID:    req.WorkspaceID,
		CreatedAt:      start.UTC(),
		CreatedBy:      req.Actor,
		Type:           req.Type,
		Reason:         req.Reason,
		OmittedDomains: lo.Map(doc.Omitted, func(o models.OmittedDomain, _ int) string { return o.Name }),
		Payload:        payload,
	}
	omitted, _ := json.Marshal(snap.OmittedDomains)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workspace_snapshots (id, workspace_id, created_at, created_by, snapshot_type, reason, payload, omitted_domains)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.WorkspaceID, database.FormatTime(snap.CreatedAt), snap.CreatedBy, string(snap.Type),
		snap.Reason, string(payload), string(omitted))
	if err != nil {
		metrics.SnapshotCaptures.WithLabelValues(string(req.Type), metrics.OutcomeFailure).Inc()
		return models.Snapshot{}, fmt.Errorf("inserting snapshot: %w", err)
	}

	if settings.StoreInStorage && s.store != nil {
		s.externalize(ctx, &snap, payload)
	}

	if s.retention != nil {
		if _, err := s.retention.Enforce(ctx, req.WorkspaceID, settings.RetainCount); err != nil {
			log.Error().Err(err).Str("workspace_id", req.WorkspaceID).Msg("retention failed after capture")
		}
	}

	size := len(payload)
	metrics.SnapshotCaptures.WithLabelValues(string(req.Type), metrics.OutcomeSuccess).Inc()
	metrics.SnapshotCaptureDuration.WithLabelValues(string(req.Type)).Observe(time.Since(start).Seconds())
	metrics.SnapshotSizeBytes.Observe(float64(size))

	s.audit.Log(ctx, models.AuditEntry{
		WorkspaceID: req.WorkspaceID,
		ActorUserID: req.Actor,
		Action:      models.AuditSnapshotCaptured,
		EntityType:  EntitySnapshot,
		EntityID:    snap.ID,
		Metadata: map[string]any{
			"snapshot_type":   snap.Type,
			"reason":          snap.Reason,
			"omitted_domains": snap.OmittedDomains,
			"size_bytes":      size,
			"checksum":        snap.Checksum,
			"externalized":    snap.Externalized(),
		},
	})

	log.Info().
		Str("workspace_id", snap.WorkspaceID).
		Str("snapshot_id", snap.ID).
		Str("snapshot_type", string(snap.Type)).
		Strs("omitted_domains", snap.OmittedDomains).
		Int("size_bytes", size).
		Msg("snapshot captured")
	return snap, nil
}

// collect reads every provider inside one read transaction so the document reflects a
// single point in time.
func (s *SnapshotService) collect(ctx context.Context, workspaceID string, capturedAt time.Time) (models.SnapshotDocument, error) {
	doc := models.SnapshotDocument{
		Version:     models.DocumentVersion,
		WorkspaceID: workspaceID,
		CapturedAt:  capturedAt.UTC(),
		Domains:     make(map[string]provider.Slice),
		Omitted:     []models.OmittedDomain{},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return doc, fmt.Errorf("starting capture transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range s.registry.Providers() {
		desc := p.Describe()
		slice, err := p.Capture(ctx, tx, workspaceID)
		if err == nil {
			doc.Domains[desc.Name] = slice
			continue
		}
		if ctx.Err() != nil {
			return doc, ctx.Err()
		}
		if desc.Critical {
			return doc, &ProviderError{Provider: desc.Name, Err: err}
		}
		log.Warn().Err(err).Str("workspace_id", workspaceID).Str("provider", desc.Name).Msg("non-critical provider failed, domain omitted from snapshot")
		metrics.OmittedDomains.WithLabelValues(desc.Name).Inc()
		doc.Omitted = append(doc.Omitted, models.OmittedDomain{Name: desc.Name, Error: err.Error()})
	}
	return doc, nil
}

// externalize moves the payload to blob storage. On failure the snapshot stays inline.
func (s *SnapshotService) externalize(ctx context.Context, snap *models.Snapshot, payload []byte) {
	obj, err := s.store.Put(ctx, snap.WorkspaceID, snap.ID, payload)
	if err != nil {
		log.Warn().Err(err).Str("workspace_id", snap.WorkspaceID).Str("snapshot_id", snap.ID).Msg("failed to externalize snapshot, keeping it inline")
		return
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE workspace_snapshots SET storage_path = ?, size_bytes = ?, checksum = ?, payload = NULL
		WHERE id = ? AND storage_path IS NULL`,
		obj.Path, obj.SizeBytes, obj.Checksum, snap.ID)
	if err == nil {
		var n int64
		if n, err = res.RowsAffected(); err == nil && n == 0 {
			err = errors.New("snapshot already externalized")
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("snapshot_id", snap.ID).Msg("failed to attach storage metadata, keeping snapshot inline")
		if delErr := s.store.Delete(ctx, obj.Path); delErr != nil {
			log.Warn().Err(delErr).Str("storage_path", obj.Path).Msg("failed to remove unattached snapshot blob")
		}
		return
	}

	snap.StoragePath = &obj.Path
	snap.SizeBytes = &obj.SizeBytes
	snap.Checksum = &obj.Checksum
	snap.Payload = nil
}

const snapshotColumns = `id, workspace_id, created_at, created_by, snapshot_type, reason,
	payload, storage_path, size_bytes, checksum, omitted_domains`

func scanSnapshot(row scanner, withPayload bool) (models.Snapshot, error) {
	var (
		snap      models.Snapshot
		createdAt string
		snapType  string
		reason    sql.NullString
		payload   sql.NullString
		path      sql.NullString
		size      sql.NullInt64
		checksum  sql.NullString
		omitted   string
	)
	if err := row.Scan(&snap.ID, &snap.WorkspaceID, &createdAt, &snap.CreatedBy, &snapType, &reason,
		&payload, &path, &size, &checksum, &omitted); err != nil {
		return models.Snapshot{}, err
	}

	var err error
	if snap.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return models.Snapshot{}, fmt.Errorf("parsing snapshot timestamp: %w", err)
	}
	snap.Type = models.SnapshotType(snapType)
	if reason.Valid {
		snap.Reason = &reason.String
	}
	if withPayload && payload.Valid {
		snap.Payload = []byte(payload.String)
	}
	if path.Valid {
		snap.StoragePath = &path.String
	}
	if size.Valid {
		snap.SizeBytes = &size.Int64
	}
	if checksum.Valid {
		snap.Checksum = &checksum.String
	}
	if err := json.Unmarshal([]byte(omitted), &snap.OmittedDomains); err != nil {
		return models.Snapshot{}, fmt.Errorf("decoding omitted domains: %w", err)
	}
	if snap.OmittedDomains == nil {
		snap.OmittedDomains = []string{}
	}
	return snap, nil
}

// GetSnapshot returns a snapshot with its inline payload, if any.
func (s *SnapshotService) GetSnapshot(ctx context.Context, id string) (models.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+snapshotColumns+" FROM workspace_snapshots WHERE id = ?", id)
	snap, err := scanSnapshot(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Snapshot{}, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("reading snapshot %s: %w", id, err)
	}
	return snap, nil
}

// ListSnapshots returns the workspace's snapshots, newest first, without payloads.
func (s *SnapshotService) ListSnapshots(ctx context.Context, workspaceID string) ([]models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+snapshotColumns+" FROM workspace_snapshots WHERE workspace_id = ? ORDER BY created_at DESC, id DESC",
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []models.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// LastSnapshotAt returns when the newest snapshot of the given type was taken.
func (s *SnapshotService) LastSnapshotAt(ctx context.Context, workspaceID string, snapType models.SnapshotType) (time.Time, bool, error) {
	var createdAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(created_at) FROM workspace_snapshots WHERE workspace_id = ? AND snapshot_type = ?",
		workspaceID, string(snapType)).Scan(&createdAt)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading last snapshot time: %w", err)
	}
	if !createdAt.Valid {
		return time.Time{}, false, nil
	}
	t, err := database.ParseTime(createdAt.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing last snapshot time: %w", err)
	}
	return t, true, nil
}

// LoadDocument returns the decoded document of snap, reading and verifying the blob
// when the payload was externalized.
func (s *SnapshotService) LoadDocument(ctx context.Context, snap models.Snapshot) (models.SnapshotDocument, error) {
	data := snap.Payload
	if snap.Externalized() {
		if s.store == nil {
			return models.SnapshotDocument{}, fmt.Errorf("%w: snapshot %s is externalized but no storage is configured", ErrStorageFailure, snap.ID)
		}
		var err error
		data, err = s.store.Get(ctx, *snap.StoragePath)
		if err != nil {
			return models.SnapshotDocument{}, fmt.Errorf("%w: reading snapshot %s: %v", ErrStorageFailure, snap.ID, err)
		}
		if snap.Checksum == nil {
			return models.SnapshotDocument{}, fmt.Errorf("%w: snapshot %s has no checksum", ErrStorageFailure, snap.ID)
		}
		if err := storage.Verify(data, *snap.Checksum); err != nil {
			return models.SnapshotDocument{}, fmt.Errorf("%w: snapshot %s: %v", ErrStorageFailure, snap.ID, err)
		}
	}
	if len(data) == 0 {
		return models.SnapshotDocument{}, fmt.Errorf("%w: snapshot %s has no payload", ErrStorageFailure, snap.ID)
	}

	var doc models.SnapshotDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return models.SnapshotDocument{}, fmt.Errorf("%w: decoding snapshot %s: %v", ErrStorageFailure, snap.ID, err)
	}
	if doc.Version != models.DocumentVersion {
		return models.SnapshotDocument{}, fmt.Errorf("%w: snapshot %s has unsupported version %d", ErrStorageFailure, snap.ID, doc.Version)
	}
	if doc.Domains == nil {
		doc.Domains = map[string]provider.Slice{}
	}
	return doc, nil
}
