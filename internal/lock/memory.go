package lock

import (
	"context"
	"sync"
)

// MemoryLocker keeps locks in process memory. Only suitable for a single node.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[int64]struct{})}
}

func (l *MemoryLocker) TryLock(ctx context.Context, workspaceID string) (Unlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := Key(workspaceID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
