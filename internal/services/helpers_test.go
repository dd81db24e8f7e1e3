package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/isdelr/safeback/internal/database"
	"github.com/isdelr/safeback/internal/lock"
	"github.com/isdelr/safeback/internal/models"
	"github.com/isdelr/safeback/internal/provider"
	"github.com/isdelr/safeback/internal/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	db            *sql.DB
	registry      *provider.Registry
	store         storage.Adapter
	locker        *lock.MemoryLocker
	clock         *fakeClock
	members       *MemberService
	settings      *SettingsService
	audit         *AuditService
	retention     *RetentionService
	snapshots     *SnapshotService
	confirmations *ConfirmationStore
	restores      *RestoreService
}

type envOption func(*envConfig)

type envConfig struct {
	providers []provider.Provider
	store     storage.Adapter
}

// withProviders replaces the default provider set.
func withProviders(ps ...provider.Provider) envOption {
	return func(c *envConfig) { c.providers = ps }
}

func withStore(s storage.Adapter) envOption {
	return func(c *envConfig) { c.store = s }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(filepath.Join(dir, "safeback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))

	var cfg envConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	registry := provider.NewRegistry()
	if cfg.providers == nil {
		require.NoError(t, provider.RegisterDefaults(registry))
	} else {
		for _, p := range cfg.providers {
			require.NoError(t, registry.Register(p))
		}
	}

	store := cfg.store
	if store == nil {
		local, err := storage.NewLocalStorage(filepath.Join(dir, "blobs"))
		require.NoError(t, err)
		store = local
	}

	clock := &fakeClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	env := &testEnv{
		db:       db,
		registry: registry,
		store:    store,
		locker:   lock.NewMemoryLocker(),
		clock:    clock,
	}
	env.members = NewMemberService(db)
	env.members.now = clock.Now
	env.settings = NewSettingsService(db, 7)
	env.settings.now = clock.Now
	env.audit = NewAuditService(db, nil)
	env.audit.now = clock.Now
	env.retention = NewRetentionService(db, store, env.audit)
	env.snapshots = NewSnapshotService(db, registry, store, env.locker, env.settings, env.members, env.retention, env.audit)
	env.snapshots.now = clock.Now
	env.confirmations = NewConfirmationStore(db, 600*time.Second)
	env.confirmations.now = clock.Now
	env.restores = NewRestoreService(db, registry, env.snapshots, env.locker, env.members, env.confirmations, env.audit)
	return env
}

// seedWorkspace creates a workspace with an owner, an admin and a plain member.
func (e *testEnv) seedWorkspace(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := e.members.CreateWorkspace(ctx, id, "Workspace "+id)
	require.NoError(t, err)
	for user, role := range map[string]string{
		"owner-1":  models.RoleOwner,
		"admin-1":  models.RoleAdmin,
		"member-1": models.RoleMember,
	} {
		_, err := e.members.AddMember(ctx, id, user, role)
		require.NoError(t, err)
	}
}

func (e *testEnv) exec(t *testing.T, query string, args ...any) {
	t.Helper()
	_, err := e.db.Exec(query, args...)
	require.NoError(t, err)
}

func (e *testEnv) insertTasks(t *testing.T, ws string, from, to int) {
	t.Helper()
	for i := from; i <= to; i++ {
		e.exec(t, `INSERT INTO tasks (id, workspace_id, title, status, created_at) VALUES (?, ?, ?, 'open', '2026-01-01')`,
			fmt.Sprintf("%s-task-%02d", ws, i), ws, fmt.Sprintf("Task %d", i))
	}
}

func (e *testEnv) insertGoals(t *testing.T, ws string, from, to int) {
	t.Helper()
	for i := from; i <= to; i++ {
		e.exec(t, `INSERT INTO goals (id, workspace_id, title, progress, created_at) VALUES (?, ?, ?, ?, '2026-01-01')`,
			fmt.Sprintf("%s-goal-%02d", ws, i), ws, fmt.Sprintf("Goal %d", i), i*10)
	}
}

func (e *testEnv) count(t *testing.T, table, ws string) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE workspace_id = ?", ws).Scan(&n))
	return n
}

func (e *testEnv) auditActions(t *testing.T, ws string) []string {
	t.Helper()
	entries, err := e.audit.List(context.Background(), ws, 500)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

// domainRows captures a domain's live rows through its provider.
func (e *testEnv) domainRows(t *testing.T, name, ws string) []provider.Record {
	t.Helper()
	p, ok := e.registry.Get(name)
	require.True(t, ok, "provider %s not registered", name)
	slice, err := p.Capture(context.Background(), e.db, ws)
	require.NoError(t, err)
	return slice.Rows
}

func (e *testEnv) capture(t *testing.T, ws string) models.Snapshot {
	t.Helper()
	snap, err := e.snapshots.Capture(context.Background(), CaptureRequest{
		WorkspaceID: ws,
		Actor:       "owner-1",
		Type:        models.SnapshotManual,
	})
	require.NoError(t, err)
	return snap
}

func mustTableProvider(t *testing.T, desc provider.Descriptor, table string, columns ...string) *provider.TableProvider {
	t.Helper()
	p, err := provider.NewTableProvider(desc, table, columns...)
	require.NoError(t, err)
	return p
}

var errProviderBroken = errors.New("provider broken")

// brokenProvider fails every capture.
type brokenProvider struct {
	name     string
	critical bool
}

func (p brokenProvider) Describe() provider.Descriptor {
	return provider.Descriptor{Name: p.name, Description: "always fails", Critical: p.critical}
}

func (p brokenProvider) Capture(context.Context, provider.Querier, string) (provider.Slice, error) {
	return provider.Slice{}, errProviderBroken
}

func (p brokenProvider) Count(context.Context, provider.Querier, string) (int, error) {
	return 0, nil
}

func (p brokenProvider) Restore(context.Context, provider.Querier, string, provider.Slice) (int, error) {
	return 0, errProviderBroken
}

// failingRestoreProvider captures normally but cannot restore.
type failingRestoreProvider struct {
	provider.Provider
}

func (p failingRestoreProvider) Restore(context.Context, provider.Querier, string, provider.Slice) (int, error) {
	return 0, errProviderBroken
}

// blockingProvider parks captures of one workspace until released.
type blockingProvider struct {
	workspaceID string
	entered     chan struct{}
	release     chan struct{}
}

func (p *blockingProvider) Describe() provider.Descriptor {
	return provider.Descriptor{Name: "blocking", Critical: true}
}

func (p *blockingProvider) Capture(ctx context.Context, _ provider.Querier, ws string) (provider.Slice, error) {
	if ws == p.workspaceID {
		close(p.entered)
		select {
		case <-p.release:
		case <-ctx.Done():
			return provider.Slice{}, ctx.Err()
		}
	}
	return provider.Slice{Rows: []provider.Record{}}, nil
}

func (p *blockingProvider) Count(context.Context, provider.Querier, string) (int, error) {
	return 0, nil
}

func (p *blockingProvider) Restore(context.Context, provider.Querier, string, provider.Slice) (int, error) {
	return 0, nil
}

// flakyStore wraps a real store and fails the selected operations.
type flakyStore struct {
	storage.Adapter
	failPut    bool
	failDelete bool
}

func (s *flakyStore) Put(ctx context.Context, ws, snap string, data []byte) (storage.Object, error) {
	if s.failPut {
		return storage.Object{}, errors.New("bucket unavailable")
	}
	return s.Adapter.Put(ctx, ws, snap, data)
}

func (s *flakyStore) Delete(ctx context.Context, path string) error {
	if s.failDelete {
		return errors.New("bucket unavailable")
	}
	return s.Adapter.Delete(ctx, path)
}
