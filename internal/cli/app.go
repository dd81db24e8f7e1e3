package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/isdelr/safeback/internal/config"
	"github.com/isdelr/safeback/internal/database"
	"github.com/isdelr/safeback/internal/lock"
	"github.com/isdelr/safeback/internal/monitoring"
	"github.com/isdelr/safeback/internal/provider"
	"github.com/isdelr/safeback/internal/services"
	"github.com/isdelr/safeback/internal/storage"
	"github.com/isdelr/safeback/internal/websocket"
)

// app holds every long-lived component built from the configuration.
type app struct {
	db            *sql.DB
	registry      *provider.Registry
	store         storage.Adapter
	locker        lock.Locker
	hub           *websocket.Hub
	members       *services.MemberService
	settings      *services.SettingsService
	audit         *services.AuditService
	retention     *services.RetentionService
	snapshots     *services.SnapshotService
	confirmations *services.ConfirmationStore
	restores      *services.RestoreService
	scheduler     *monitoring.Scheduler

	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db)

	if err := database.Migrate(db); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	a.registry = provider.NewRegistry()
	if err := provider.RegisterDefaults(a.registry); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register snapshot providers: %w", err)
	}

	if a.store, err = newStore(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	if a.locker, err = a.newLocker(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	// Set up WebSocket Hub. Only serve runs it; other commands never broadcast to clients.
	a.hub = websocket.NewHub()

	// Set up services
	a.members = services.NewMemberService(db)
	a.settings = services.NewSettingsService(db, cfg.DefaultRetainCount)
	a.audit = services.NewAuditService(db, a.hub)
	a.retention = services.NewRetentionService(db, a.store, a.audit)
	a.snapshots = services.NewSnapshotService(db, a.registry, a.store, a.locker, a.settings, a.members, a.retention, a.audit)
	a.confirmations = services.NewConfirmationStore(db, cfg.ConfirmationTTL)
	a.restores = services.NewRestoreService(db, a.registry, a.snapshots, a.locker, a.members, a.confirmations, a.audit)
	a.scheduler = monitoring.NewScheduler(a.settings, a.snapshots, a.members, a.confirmations,
		cfg.SchedulerInterval, cfg.SchedulerConcurrency)

	log.Info().
		Str("storage_backend", cfg.StorageBackend).
		Str("lock_backend", cfg.LockBackend).
		Int("providers", len(a.registry.Providers())).
		Msg("Services initialized")
	return a, nil
}

func newStore(ctx context.Context, cfg *config.Config) (storage.Adapter, error) {
	switch cfg.StorageBackend {
	case "s3":
		store, err := storage.NewS3Storage(ctx, storage.S3Options{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Prefix:    cfg.S3Prefix,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 storage: %w", err)
		}
		return store, nil
	default:
		store, err := storage.NewLocalStorage(cfg.BackupPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		return store, nil
	}
}

func (a *app) newLocker(ctx context.Context, cfg *config.Config) (lock.Locker, error) {
	switch cfg.LockBackend {
	case "redis":
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, client)
		return lock.NewRedisLocker(client, cfg.LockMaxHold), nil
	case "memory":
		log.Warn().Msg("Using in-process workspace locks; run a single instance only")
		return lock.NewMemoryLocker(), nil
	default:
		return lock.NewSQLLocker(a.db, cfg.LockMaxHold), nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	a.closers = nil
}
