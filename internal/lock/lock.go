// Package lock serializes capture and restore per workspace.
//
// Locks are advisory: they protect nothing by themselves, every writer of workspace
// business data is expected to take one first. Acquisition never waits; a held lock
// is reported with ErrHeld so callers can tell the user to retry later.
package lock

import (
	"context"
	"errors"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/zeebo/xxh3"
)

// ErrHeld is returned when another capture or restore holds the workspace lock.
var ErrHeld = errors.New("operation already in progress for this workspace")

// Unlock releases a lock obtained from TryLock.
type Unlock func() error

// Locker hands out non-reentrant, non-blocking per-workspace locks.
type Locker interface {
	TryLock(ctx context.Context, workspaceID string) (Unlock, error)
}

// Key derives the fixed-width lock key for a workspace. Any process computes the
// same key for the same id.
func Key(workspaceID string) int64 {
	return int64(xxh3.HashString(workspaceID))
}

// Name is the lock key rendered as a string, for backends that key by name.
func Name(workspaceID string) string {
	return "safeback:lock:" + strconv.FormatInt(Key(workspaceID), 10)
}

// WithLock runs fn while holding the workspace lock and always releases it.
func WithLock(ctx context.Context, l Locker, workspaceID string, fn func(ctx context.Context) error) error {
	unlock, err := l.TryLock(ctx, workspaceID)
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(); err != nil {
			log.Warn().Err(err).Str("workspace_id", workspaceID).Msg("failed to release workspace lock")
		}
	}()
	return fn(ctx)
}
