package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

type heldLock struct {
	token   string
	expires time.Time
}

// LockManager is an in-process domain.LockManager. Locks expire after their
// TTL so a crashed holder cannot block forever.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]heldLock
	now   func() time.Time
}

// NewLockManager creates an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]heldLock), now: time.Now}
}

// Acquire takes key for ttl. It returns domain.ErrLockHeld if another
// holder owns an unexpired lock.
func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if l, ok := m.locks[key]; ok && now.Before(l.expires) {
		return nil, fmt.Errorf("memory: lock %q: %w", key, domain.ErrLockHeld)
	}
	token := uuid.NewString()
	m.locks[key] = heldLock{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if l, ok := m.locks[key]; ok && l.token == token {
				delete(m.locks, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
