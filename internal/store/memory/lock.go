package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// LockManager is a non-blocking TTL lock with the same contract as the Redis one.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]uint64
	seq   uint64
	now   func() time.Time
	until map[string]time.Time
}

func NewLockManager() *LockManager {
	return &LockManager{
		held:  make(map[string]uint64),
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Acquire returns domain.ErrLockHeld when key is held and not expired.
func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok && l.now().Before(l.until[key]) {
		return nil, domain.ErrLockHeld
	}
	l.seq++
	token := l.seq
	l.held[key] = token
	l.until[key] = l.now().Add(ttl)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] == token {
			delete(l.held, key)
			delete(l.until, key)
		}
	}, nil
}
