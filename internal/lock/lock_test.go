package lock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdelr/safeback/internal/database"
)

func newSQLLocker(t *testing.T, maxHold time.Duration) *SQLLocker {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "lock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))
	return NewSQLLocker(db, maxHold)
}

func TestKey_Stable(t *testing.T) {
	assert.Equal(t, Key("ws-1"), Key("ws-1"))
	assert.NotEqual(t, Key("ws-1"), Key("ws-2"))
	assert.Equal(t, Name("ws-1"), Name("ws-1"))
	assert.Contains(t, Name("ws-1"), "safeback:lock:")
}

func TestLockers_Contention(t *testing.T) {
	lockers := map[string]Locker{
		"memory": NewMemoryLocker(),
		"sql":    newSQLLocker(t, time.Hour),
	}

	for name, l := range lockers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			unlock, err := l.TryLock(ctx, "ws-1")
			require.NoError(t, err)

			_, err = l.TryLock(ctx, "ws-1")
			assert.ErrorIs(t, err, ErrHeld)

			// Other workspaces are independent.
			other, err := l.TryLock(ctx, "ws-2")
			require.NoError(t, err)
			require.NoError(t, other())

			require.NoError(t, unlock())

			again, err := l.TryLock(ctx, "ws-1")
			require.NoError(t, err)
			require.NoError(t, again())
		})
	}
}

func TestSQLLocker_ReclaimsStaleLock(t *testing.T) {
	ctx := context.Background()
	l := newSQLLocker(t, time.Minute)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return start }
	stale, err := l.TryLock(ctx, "ws-1")
	require.NoError(t, err)

	l.now = func() time.Time { return start.Add(30 * time.Second) }
	_, err = l.TryLock(ctx, "ws-1")
	assert.ErrorIs(t, err, ErrHeld)

	l.now = func() time.Time { return start.Add(2 * time.Minute) }
	fresh, err := l.TryLock(ctx, "ws-1")
	require.NoError(t, err)

	// The stale holder's release must not drop the new holder's row.
	require.NoError(t, stale())
	_, err = l.TryLock(ctx, "ws-1")
	assert.ErrorIs(t, err, ErrHeld)

	require.NoError(t, fresh())
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()
	boom := errors.New("boom")

	err := WithLock(ctx, l, "ws-1", func(ctx context.Context) error {
		_, err := l.TryLock(ctx, "ws-1")
		assert.ErrorIs(t, err, ErrHeld)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	unlock, err := l.TryLock(ctx, "ws-1")
	require.NoError(t, err)
	require.NoError(t, unlock())
}

func TestMemoryLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryLocker().TryLock(ctx, "ws-1")
	assert.ErrorIs(t, err, context.Canceled)
}
