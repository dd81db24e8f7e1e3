package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisLocker uses redsync mutexes so processes that do not share a database still
// agree on workspace locks.
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

// NewRedisLocker builds a RedisLocker. expiry bounds how long a crashed holder can
// keep a workspace locked.
func NewRedisLocker(client *goredislib.Client, expiry time.Duration) *RedisLocker {
	return newRedisLocker(expiry, goredis.NewPool(client))
}

func newRedisLocker(expiry time.Duration, pools ...redsyncredis.Pool) *RedisLocker {
	return &RedisLocker{rs: redsync.New(pools...), expiry: expiry}
}

func (l *RedisLocker) TryLock(ctx context.Context, workspaceID string) (Unlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// One try: LockContext returns at once instead of retrying with a delay.
	mutex := l.rs.NewMutex(Name(workspaceID), redsync.WithExpiry(l.expiry), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			log.Debug().Err(err).Str("workspace_id", workspaceID).Msg("redis lock not acquired")
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("acquiring redis lock: %w", err)
	}

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(ctx); err != nil {
			return fmt.Errorf("releasing redis lock: %w", err)
		} else if !ok {
			return fmt.Errorf("releasing redis lock: lock expired before release")
		}
		return nil
	}, nil
}

// NewRedisClient parses url and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*goredislib.Client, error) {
	opts, err := goredislib.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := goredislib.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}
