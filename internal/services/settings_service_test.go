package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdelr/safeback/internal/models"
)

func TestSettingsService_DefaultsWhenMissing(t *testing.T) {
	env := newTestEnv(t)
	settings, err := env.settings.Get(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, models.BackupSettings{
		WorkspaceID: "ws-1",
		Cadence:     models.CadenceDaily,
		RetainCount: 7,
	}, settings)
}

func TestSettingsService_UpsertAndList(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedWorkspace(t, "ws-1")
	env.seedWorkspace(t, "ws-2")

	saved, err := env.settings.Upsert(ctx, models.BackupSettings{
		WorkspaceID: "ws-1", IsEnabled: true, Cadence: models.CadenceWeekly, RetainCount: 4, StoreInStorage: true,
	})
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now(), saved.UpdatedAt)

	_, err = env.settings.Upsert(ctx, models.BackupSettings{WorkspaceID: "ws-2", RetainCount: 3})
	require.NoError(t, err)

	got, err := env.settings.Get(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, saved, got)

	enabled, err := env.settings.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "ws-1", enabled[0].WorkspaceID)

	// Updating replaces every field.
	env.clock.Advance(time.Minute)
	_, err = env.settings.Upsert(ctx, models.BackupSettings{WorkspaceID: "ws-1", Cadence: models.CadenceDaily, RetainCount: 9})
	require.NoError(t, err)
	got, err = env.settings.Get(ctx, "ws-1")
	require.NoError(t, err)
	assert.False(t, got.IsEnabled)
	assert.False(t, got.StoreInStorage)
	assert.Equal(t, 9, got.RetainCount)
}

func TestSettingsService_Validation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.settings.Upsert(ctx, models.BackupSettings{WorkspaceID: "ws-1", Cadence: "hourly", RetainCount: 3})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.settings.Upsert(ctx, models.BackupSettings{WorkspaceID: "ws-1", Cadence: models.CadenceDaily, RetainCount: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.settings.Upsert(ctx, models.BackupSettings{Cadence: models.CadenceDaily, RetainCount: 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCadenceSchedule(t *testing.T) {
	from := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC) // a Wednesday

	daily, err := CadenceSchedule(models.CadenceDaily)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), daily.Next(from))

	weekly, err := CadenceSchedule(models.CadenceWeekly)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC), weekly.Next(from))

	_, err = CadenceSchedule("monthly")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
