package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/lo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdelr/safeback/internal/database"
	"github.com/isdelr/safeback/internal/lock"
	"github.com/isdelr/safeback/internal/models"
	"github.com/isdelr/safeback/internal/provider"
	"github.com/isdelr/safeback/internal/services"
	"github.com/isdelr/safeback/internal/storage"
)

type schedulerEnv struct {
	scheduler *Scheduler
	members   *services.MemberService
	settings  *services.SettingsService
	snapshots *services.SnapshotService
	locker    *lock.MemoryLocker
}

func newSchedulerEnv(t *testing.T) *schedulerEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := database.New(filepath.Join(dir, "safeback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))

	registry := provider.NewRegistry()
	require.NoError(t, provider.RegisterDefaults(registry))
	store, err := storage.NewLocalStorage(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	locker := lock.NewMemoryLocker()
	members := services.NewMemberService(db)
	settings := services.NewSettingsService(db, 7)
	audit := services.NewAuditService(db, nil)
	retention := services.NewRetentionService(db, store, audit)
	snapshots := services.NewSnapshotService(db, registry, store, locker, settings, members, retention, audit)
	confirmations := services.NewConfirmationStore(db, 10*time.Minute)

	return &schedulerEnv{
		scheduler: NewScheduler(settings, snapshots, members, confirmations, time.Minute, 2),
		members:   members,
		settings:  settings,
		snapshots: snapshots,
		locker:    locker,
	}
}

func (e *schedulerEnv) workspace(t *testing.T, id string, enabled bool, cadence string, withAdmin bool) {
	t.Helper()
	ctx := context.Background()
	_, err := e.members.CreateWorkspace(ctx, id, id)
	require.NoError(t, err)
	if withAdmin {
		_, err = e.members.AddMember(ctx, id, id+"-owner", models.RoleOwner)
		require.NoError(t, err)
	}
	_, err = e.settings.Upsert(ctx, models.BackupSettings{WorkspaceID: id, IsEnabled: enabled, Cadence: cadence, RetainCount: 3})
	require.NoError(t, err)
}

func resultsByWorkspace(results []RunResult) map[string]RunResult {
	out := make(map[string]RunResult, len(results))
	for _, r := range results {
		out[r.WorkspaceID] = r
	}
	return out
}

func TestScheduler_CapturesDueWorkspaces(t *testing.T) {
	ctx := context.Background()
	env := newSchedulerEnv(t)
	env.workspace(t, "ws-daily", true, models.CadenceDaily, true)
	env.workspace(t, "ws-weekly", true, models.CadenceWeekly, true)
	env.workspace(t, "ws-off", false, models.CadenceDaily, true)

	results, err := env.scheduler.RunOnce(ctx, false)
	require.NoError(t, err)
	require.Len(t, results, 2)
	byWS := resultsByWorkspace(results)
	for _, ws := range []string{"ws-daily", "ws-weekly"} {
		assert.Empty(t, byWS[ws].Error)
		assert.False(t, byWS[ws].Skipped)
		assert.NotEmpty(t, byWS[ws].SnapshotID)

		snap, err := env.snapshots.GetSnapshot(ctx, byWS[ws].SnapshotID)
		require.NoError(t, err)
		assert.Equal(t, models.SnapshotScheduled, snap.Type)
		assert.Equal(t, ws+"-owner", snap.CreatedBy)
	}

	// Nothing is due right after a pass.
	results, err = env.scheduler.RunOnce(ctx, false)
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Skipped, r.WorkspaceID)
	}

	// Each workspace becomes due exactly when its cadence next fires.
	for _, tc := range []struct {
		workspaceID string
		cadence     string
	}{
		{"ws-daily", models.CadenceDaily},
		{"ws-weekly", models.CadenceWeekly},
	} {
		settings, err := env.settings.Get(ctx, tc.workspaceID)
		require.NoError(t, err)
		require.NotNil(t, settings.LastScheduledAt)
		last := *settings.LastScheduledAt
		schedule, err := services.CadenceSchedule(tc.cadence)
		require.NoError(t, err)
		next := schedule.Next(last)

		env.scheduler.now = func() time.Time { return next.Add(-time.Second) }
		assert.True(t, resultsByWorkspace(mustRun(t, env.scheduler, false))[tc.workspaceID].Skipped, tc.workspaceID)

		env.scheduler.now = func() time.Time { return next }
		r := resultsByWorkspace(mustRun(t, env.scheduler, false))[tc.workspaceID]
		assert.False(t, r.Skipped, tc.workspaceID)
		assert.NotEmpty(t, r.SnapshotID, tc.workspaceID)
	}
}

func TestScheduler_ForceIgnoresCadence(t *testing.T) {
	env := newSchedulerEnv(t)
	env.workspace(t, "ws-1", true, models.CadenceWeekly, true)

	mustRun(t, env.scheduler, false)
	results := mustRun(t, env.scheduler, true)
	require.Len(t, results, 1)
	assert.False(t, results[0].Skipped)
	assert.NotEmpty(t, results[0].SnapshotID)
}

func TestScheduler_FailuresAreIsolated(t *testing.T) {
	ctx := context.Background()
	env := newSchedulerEnv(t)
	env.workspace(t, "ws-ok", true, models.CadenceDaily, true)
	env.workspace(t, "ws-no-admin", true, models.CadenceDaily, false)
	env.workspace(t, "ws-busy", true, models.CadenceDaily, true)

	unlock, err := env.locker.TryLock(ctx, "ws-busy")
	require.NoError(t, err)
	defer unlock()

	byWS := resultsByWorkspace(mustRun(t, env.scheduler, false))
	assert.Empty(t, byWS["ws-ok"].Error)
	assert.NotEmpty(t, byWS["ws-ok"].SnapshotID)
	assert.Contains(t, byWS["ws-no-admin"].Error, "no admin")
	assert.Contains(t, byWS["ws-busy"].Error, lock.ErrHeld.Error())
}

func TestScheduler_PrunedScheduledSnapshotDoesNotMakeWorkspaceDue(t *testing.T) {
	ctx := context.Background()
	env := newSchedulerEnv(t)
	env.workspace(t, "ws-1", true, models.CadenceDaily, true)

	first := mustRun(t, env.scheduler, false)
	require.Len(t, first, 1)
	scheduledID := first[0].SnapshotID
	require.NotEmpty(t, scheduledID)

	// Retention keeps 3, so three manual captures push the scheduled one out.
	var manual []string
	for i := 0; i < 3; i++ {
		snap, err := env.snapshots.Capture(ctx, services.CaptureRequest{
			WorkspaceID: "ws-1", Actor: "ws-1-owner", Type: models.SnapshotManual,
		})
		require.NoError(t, err)
		manual = append(manual, snap.ID)
	}
	_, err := env.snapshots.GetSnapshot(ctx, scheduledID)
	require.ErrorIs(t, err, services.ErrNotFound)

	results := mustRun(t, env.scheduler, false)
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	assert.Empty(t, results[0].SnapshotID)

	snaps, err := env.snapshots.ListSnapshots(ctx, "ws-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, manual, lo.Map(snaps, func(s models.Snapshot, _ int) string { return s.ID }))
}

func TestSettings_UpsertKeepsLastScheduledRun(t *testing.T) {
	ctx := context.Background()
	env := newSchedulerEnv(t)
	env.workspace(t, "ws-1", true, models.CadenceDaily, true)
	mustRun(t, env.scheduler, false)

	before, err := env.settings.Get(ctx, "ws-1")
	require.NoError(t, err)
	require.NotNil(t, before.LastScheduledAt)

	saved, err := env.settings.Upsert(ctx, models.BackupSettings{
		WorkspaceID: "ws-1", IsEnabled: true, Cadence: models.CadenceWeekly, RetainCount: 5,
	})
	require.NoError(t, err)
	require.NotNil(t, saved.LastScheduledAt)
	assert.True(t, before.LastScheduledAt.Equal(*saved.LastScheduledAt))
}

// stuckSnapshots blocks every capture until its context ends.
type stuckSnapshots struct {
	services.SnapshotServiceProvider
	started chan struct{}
}

func (s *stuckSnapshots) Capture(ctx context.Context, _ services.CaptureRequest) (models.Snapshot, error) {
	close(s.started)
	<-ctx.Done()
	return models.Snapshot{}, ctx.Err()
}

func TestScheduler_StopCancelsInFlightPass(t *testing.T) {
	env := newSchedulerEnv(t)
	env.workspace(t, "ws-1", true, models.CadenceDaily, true)

	stuck := &stuckSnapshots{SnapshotServiceProvider: env.snapshots, started: make(chan struct{})}
	s := NewScheduler(env.settings, stuck, env.members, nil, time.Hour, 1)
	go s.Run()

	select {
	case <-stuck.started:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never started a capture")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop waited for the in-flight pass")
	}

	// Stopping twice is harmless.
	s.Stop()
}

func mustRun(t *testing.T, s *Scheduler, force bool) []RunResult {
	t.Helper()
	results, err := s.RunOnce(context.Background(), force)
	require.NoError(t, err)
	return results
}
