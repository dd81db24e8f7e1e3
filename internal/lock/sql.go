package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/isdelr/safeback/internal/database"
)

// SQLLocker stores locks as rows in the advisory_locks table, so every process sharing
// the database sees the same locks.
type SQLLocker struct {
	db *sql.DB
	// maxHold bounds how long a row may be held before another caller may reclaim it,
	// which covers processes that died while holding a lock.
	maxHold time.Duration
	now     func() time.Time
}

func NewSQLLocker(db *sql.DB, maxHold time.Duration) *SQLLocker {
	return &SQLLocker{db: db, maxHold: maxHold, now: time.Now}
}

func (l *SQLLocker) TryLock(ctx context.Context, workspaceID string) (Unlock, error) {
	key := Key(workspaceID)
	holder := uuid.New().String()
	now := l.now()

	if l.maxHold > 0 {
		if _, err := l.db.ExecContext(ctx,
			"DELETE FROM advisory_locks WHERE lock_key = ? AND acquired_at < ?",
			key, database.FormatTime(now.Add(-l.maxHold))); err != nil {
			return nil, fmt.Errorf("reclaiming stale lock: %w", err)
		}
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO advisory_locks (lock_key, workspace_id, holder, acquired_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (lock_key) DO NOTHING`,
		key, workspaceID, holder, database.FormatTime(now))
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if n == 0 {
		return nil, ErrHeld
	}

	return func() error {
		// The caller's context may already be cancelled; releasing must still happen.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := l.db.ExecContext(ctx, "DELETE FROM advisory_locks WHERE lock_key = ? AND holder = ?", key, holder)
		if err != nil {
			return fmt.Errorf("releasing lock: %w", err)
		}
		return nil
	}, nil
}
