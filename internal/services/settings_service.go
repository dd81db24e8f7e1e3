package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/isdelr/safeback/internal/database"
	"github.com/isdelr/safeback/internal/models"
)

var cadenceSpecs = map[string]string{
	models.CadenceDaily:  "@daily",
	models.CadenceWeekly: "@weekly",
}

// CadenceSchedule returns the cron schedule for a backup cadence.
func CadenceSchedule(cadence string) (cron.Schedule, error) {
	spec, ok := cadenceSpecs[cadence]
	if !ok {
		return nil, fmt.Errorf("%w: unknown cadence %q", ErrInvalidInput, cadence)
	}
	return cron.ParseStandard(spec)
}

// SettingsServiceProvider defines the interface for backup settings services.
type SettingsServiceProvider interface {
	Get(ctx context.Context, workspaceID string) (models.BackupSettings, error)
	ListEnabled(ctx context.Context) ([]models.BackupSettings, error)
	Upsert(ctx context.Context, settings models.BackupSettings) (models.BackupSettings, error)
	MarkScheduled(ctx context.Context, workspaceID string, at time.Time) error
}

// SettingsService reads and writes per-workspace backup settings.
type SettingsService struct {
	db            *sql.DB
	defaultRetain int
	now           func() time.Time
}

// NewSettingsService creates a new SettingsService. defaultRetain applies to
// workspaces that never saved settings.
func NewSettingsService(db *sql.DB, defaultRetain int) *SettingsService {
	if defaultRetain < 1 {
		defaultRetain = 7
	}
	return &SettingsService{db: db, defaultRetain: defaultRetain, now: time.Now}
}

func (s *SettingsService) defaults(workspaceID string) models.BackupSettings {
	return models.BackupSettings{
		WorkspaceID: workspaceID,
		Cadence:     models.CadenceDaily,
		RetainCount: s.defaultRetain,
	}
}

// Get returns the settings of a workspace, or the defaults when none were saved.
func (s *SettingsService) Get(ctx context.Context, workspaceID string) (models.BackupSettings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+settingsColumns+`
		FROM backup_settings WHERE workspace_id = ?`, workspaceID)
	settings, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return s.defaults(workspaceID), nil
	}
	if err != nil {
		return models.BackupSettings{}, fmt.Errorf("reading backup settings for %s: %w", workspaceID, err)
	}
	return settings, nil
}

// ListEnabled returns the settings of every workspace with scheduled backups on.
func (s *SettingsService) ListEnabled(ctx context.Context) ([]models.BackupSettings, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+settingsColumns+`
		FROM backup_settings WHERE is_enabled = 1 ORDER BY workspace_id`)
	if err != nil {
		return nil, fmt.Errorf("querying enabled backup settings: %w", err)
	}
	defer rows.Close()

	var out []models.BackupSettings
	for rows.Next() {
		settings, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning backup settings: %w", err)
		}
		out = append(out, settings)
	}
	return out, rows.Err()
}

// Upsert validates and saves settings.
func (s *SettingsService) Upsert(ctx context.Context, settings models.BackupSettings) (models.BackupSettings, error) {
	if settings.WorkspaceID == "" {
		return models.BackupSettings{}, fmt.Errorf("%w: workspace_id is required", ErrInvalidInput)
	}
	if settings.Cadence == "" {
		settings.Cadence = models.CadenceDaily
	}
	if _, err := CadenceSchedule(settings.Cadence); err != nil {
		return models.BackupSettings{}, err
	}
	if settings.RetainCount < 1 {
		return models.BackupSettings{}, fmt.Errorf("%w: retain_count must be at least 1", ErrInvalidInput)
	}
	settings.UpdatedAt = s.now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backup_settings (workspace_id, is_enabled, cadence, retain_count, store_in_storage, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace_id) DO UPDATE SET
			is_enabled = excluded.is_enabled,
			cadence = excluded.cadence,
			retain_count = excluded.retain_count,
			store_in_storage = excluded.store_in_storage,
			updated_at = excluded.updated_at`,
		settings.WorkspaceID, settings.IsEnabled, settings.Cadence, settings.RetainCount,
		settings.StoreInStorage, database.FormatTime(settings.UpdatedAt))
	if err != nil {
		return models.BackupSettings{}, fmt.Errorf("saving backup settings for %s: %w", settings.WorkspaceID, err)
	}

	// last_scheduled_at belongs to the scheduler; report the stored value.
	settings.LastScheduledAt = nil
	var last sql.NullString
	err = s.db.QueryRowContext(ctx, "SELECT last_scheduled_at FROM backup_settings WHERE workspace_id = ?", settings.WorkspaceID).Scan(&last)
	if err != nil {
		return models.BackupSettings{}, fmt.Errorf("reading backup settings for %s: %w", settings.WorkspaceID, err)
	}
	if last.Valid {
		t, err := database.ParseTime(last.String)
		if err != nil {
			return models.BackupSettings{}, err
		}
		settings.LastScheduledAt = &t
	}
	return settings, nil
}

// MarkScheduled records that the scheduler captured workspaceID at the given time.
func (s *SettingsService) MarkScheduled(ctx context.Context, workspaceID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE backup_settings SET last_scheduled_at = ? WHERE workspace_id = ?",
		database.FormatTime(at), workspaceID)
	if err != nil {
		return fmt.Errorf("recording scheduled run for %s: %w", workspaceID, err)
	}
	return nil
}

const settingsColumns = "workspace_id, is_enabled, cadence, retain_count, store_in_storage, updated_at, last_scheduled_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanSettings(row scanner) (models.BackupSettings, error) {
	var (
		settings      models.BackupSettings
		updatedAt     string
		lastScheduled sql.NullString
	)
	if err := row.Scan(&settings.WorkspaceID, &settings.IsEnabled, &settings.Cadence,
		&settings.RetainCount, &settings.StoreInStorage, &updatedAt, &lastScheduled); err != nil {
		return models.BackupSettings{}, err
	}
	var err error
	if settings.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return models.BackupSettings{}, err
	}
	if lastScheduled.Valid {
		t, err := database.ParseTime(lastScheduled.String)
		if err != nil {
			return models.BackupSettings{}, err
		}
		settings.LastScheduledAt = &t
	}
	return settings, nil
}
