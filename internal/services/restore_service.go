package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isdelr/safeback/internal/lock"
	"github.com/isdelr/safeback/internal/metrics"
	"github.com/isdelr/safeback/internal/models"
	"github.com/isdelr/safeback/internal/provider"
)

// RestoreServiceProvider defines the interface for restore services.
type RestoreServiceProvider interface {
	Preview(ctx context.Context, snapshotID, actor string) (models.RestorePreview, error)
	Restore(ctx context.Context, snapshotID, token, actor string) (models.RestoreResult, error)
}

// RestoreService implements the two-step preview/confirm restore protocol.
type RestoreService struct {
	db            *sql.DB
	registry      *provider.Registry
	snapshots     *SnapshotService
	locker        lock.Locker
	members       MemberServiceProvider
	confirmations *ConfirmationStore
	audit         AuditServiceProvider
}

// NewRestoreService creates a new RestoreService.
func NewRestoreService(
	db *sql.DB,
	registry *provider.Registry,
	snapshots *SnapshotService,
	locker lock.Locker,
	members MemberServiceProvider,
	confirmations *ConfirmationStore,
	audit AuditServiceProvider,
) *RestoreService {
	return &RestoreService{
		db:            db,
		registry:      registry,
		snapshots:     snapshots,
		locker:        locker,
		members:       members,
		confirmations: confirmations,
		audit:         audit,
	}
}

// Preview reports what restoring the snapshot would replace and issues the
// confirmation token needed to do it. Nothing is modified.
func (s *RestoreService) Preview(ctx context.Context, snapshotID, actor string) (models.RestorePreview, error) {
	snap, err := s.snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return models.RestorePreview{}, err
	}
	if err := s.members.RequireAdmin(ctx, snap.WorkspaceID, actor); err != nil {
		return models.RestorePreview{}, err
	}
	doc, err := s.snapshots.LoadDocument(ctx, snap)
	if err != nil {
		return models.RestorePreview{}, err
	}

	summary := models.PreviewSummary{
		WillReplace: make(map[string]int),
		WillRestore: make(map[string]int),
	}
	for _, p := range s.registry.Providers() {
		name := p.Describe().Name
		n, err := p.Count(ctx, s.db, snap.WorkspaceID)
		if err != nil {
			return models.RestorePreview{}, &ProviderError{Provider: name, Err: err}
		}
		summary.WillReplace[name] = n
	}
	for name, slice := range doc.Domains {
		summary.WillRestore[name] = slice.Len()
	}

	token, _, err := s.confirmations.Issue(ctx, Confirmation{
		WorkspaceID: snap.WorkspaceID,
		SnapshotID:  snap.ID,
		ActorUserID: actor,
	})
	if err != nil {
		return models.RestorePreview{}, err
	}

	s.audit.Log(ctx, models.AuditEntry{
		WorkspaceID: snap.WorkspaceID,
		ActorUserID: actor,
		Action:      models.AuditSnapshotPreview,
		EntityType:  EntitySnapshot,
		EntityID:    snap.ID,
		Metadata: map[string]any{
			"will_replace": summary.WillReplace,
			"will_restore": summary.WillRestore,
		},
	})

	return models.RestorePreview{
		ConfirmationToken: token,
		Summary:           summary,
		SnapshotID:        snap.ID,
		SnapshotCreatedAt: snap.CreatedAt,
		SnapshotType:      snap.Type,
		SnapshotReason:    snap.Reason,
		OmittedDomains:    snap.OmittedDomains,
		ExpiresInSeconds:  int(s.confirmations.TTL().Seconds()),
	}, nil
}

// Restore replaces the workspace's current data with the snapshot's. A pre_restore
// snapshot is captured first so the restore itself can be undone.
func (s *RestoreService) Restore(ctx context.Context, snapshotID, token, actor string) (models.RestoreResult, error) {
	start := time.Now()
	snap, err := s.snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return models.RestoreResult{}, err
	}
	if err := s.members.RequireAdmin(ctx, snap.WorkspaceID, actor); err != nil {
		return models.RestoreResult{}, err
	}

	conf := Confirmation{WorkspaceID: snap.WorkspaceID, SnapshotID: snap.ID, ActorUserID: actor}
	if err := s.confirmations.Peek(ctx, token, conf); err != nil {
		return models.RestoreResult{}, err
	}
	doc, err := s.snapshots.LoadDocument(ctx, snap)
	if err != nil {
		metrics.Restores.WithLabelValues(metrics.OutcomeFailure).Inc()
		return models.RestoreResult{}, err
	}

	var result models.RestoreResult
	err = lock.WithLock(ctx, s.locker, snap.WorkspaceID, func(ctx context.Context) error {
		// The token may have expired while waiting; check again before writing anything.
		if err := s.confirmations.Peek(ctx, token, conf); err != nil {
			return err
		}

		reason := fmt.Sprintf("automatic snapshot before restoring %s", snap.ID)
		pre, err := s.snapshots.captureLocked(ctx, CaptureRequest{
			WorkspaceID: snap.WorkspaceID,
			Actor:       actor,
			Type:        models.SnapshotPreRestore,
			Reason:      &reason,
		})
		if err != nil {
			return fmt.Errorf("capturing pre-restore snapshot: %w", err)
		}
		result.PreRestoreSnapshotID = pre.ID

		// From here on the token is spent, whether or not the restore succeeds.
		if err := s.confirmations.Consume(ctx, token, conf); err != nil {
			return err
		}

		domains, total, err := s.apply(ctx, snap.WorkspaceID, doc)
		if err != nil {
			return err
		}
		result.Success = true
		result.EntitiesRestored = total
		result.Domains = domains
		return nil
	})

	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			metrics.Restores.WithLabelValues(metrics.OutcomeContention).Inc()
			return models.RestoreResult{}, err
		}
		if result.PreRestoreSnapshotID == "" && errors.Is(err, ErrInvalidConfirmation) {
			return models.RestoreResult{}, err
		}
		metrics.Restores.WithLabelValues(metrics.OutcomeFailure).Inc()
		log.Error().Err(err).Str("workspace_id", snap.WorkspaceID).Str("snapshot_id", snap.ID).Msg("restore failed")
		s.audit.Log(ctx, models.AuditEntry{
			WorkspaceID: snap.WorkspaceID,
			ActorUserID: actor,
			Action:      models.AuditSnapshotRestoreFailed,
			EntityType:  EntitySnapshot,
			EntityID:    snap.ID,
			Metadata: map[string]any{
				"error":                   err.Error(),
				"pre_restore_snapshot_id": result.PreRestoreSnapshotID,
			},
		})
		return models.RestoreResult{}, err
	}

	metrics.Restores.WithLabelValues(metrics.OutcomeSuccess).Inc()
	metrics.RestoreDuration.Observe(time.Since(start).Seconds())
	s.audit.Log(ctx, models.AuditEntry{
		WorkspaceID: snap.WorkspaceID,
		ActorUserID: actor,
		Action:      models.AuditSnapshotRestored,
		EntityType:  EntitySnapshot,
		EntityID:    snap.ID,
		Metadata: map[string]any{
			"target_snapshot_id":      snap.ID,
			"pre_restore_snapshot_id": result.PreRestoreSnapshotID,
			"entities_restored":       result.EntitiesRestored,
			"domains":                 result.Domains,
		},
	})
	log.Info().
		Str("workspace_id", snap.WorkspaceID).
		Str("snapshot_id", snap.ID).
		Str("pre_restore_snapshot_id", result.PreRestoreSnapshotID).
		Int("entities_restored", result.EntitiesRestored).
		Msg("snapshot restored")
	return result, nil
}

// apply writes every domain present in doc inside one transaction. Domains the
// snapshot does not contain are left as they are.
func (s *RestoreService) apply(ctx context.Context, workspaceID string, doc models.SnapshotDocument) (map[string]int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("starting restore transaction: %w", err)
	}
	defer tx.Rollback()

	domains := make(map[string]int)
	total := 0
	for _, p := range s.registry.Providers() {
		name := p.Describe().Name
		slice, ok := doc.Domains[name]
		if !ok {
			continue
		}
		n, err := p.Restore(ctx, tx, workspaceID, slice)
		if err != nil {
			return nil, 0, &ProviderError{Provider: name, Err: err}
		}
		domains[name] = n
		total += n
	}
	for name := range doc.Domains {
		if _, ok := s.registry.Get(name); !ok {
			log.Warn().Str("workspace_id", workspaceID).Str("provider", name).Msg("snapshot contains a domain with no registered provider, skipping")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("committing restore: %w", err)
	}
	return domains, total, nil
}
