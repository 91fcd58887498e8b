package session

import (
	"context"
	"sync"
	"time"

	"github.com/jun/soapnote/internal/model"
)

// MemoryLocker implements Locker with an in-memory map. It serves single
// process deployments and tests.
type MemoryLocker struct {
	locks       map[string]*model.RunLock
	mu          sync.Mutex
	ttlDuration time.Duration
	now         func() time.Time
}

// NewMemoryLocker creates a MemoryLocker. A non-positive ttl means DefaultTTL.
func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLocker{
		locks:       make(map[string]*model.RunLock),
		ttlDuration: ttl,
		now:         time.Now,
	}
}

func (m *MemoryLocker) AcquireLock(_ context.Context, resource, owner string) (*model.RunLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	if existing, ok := m.locks[resource]; ok {
		if existing.ExpiresAt >= now && existing.Owner != owner {
			return nil, ErrLocked
		}
	}

	lock := &model.RunLock{
		Resource:  resource,
		Owner:     owner,
		ExpiresAt: now + int64(m.ttlDuration.Seconds()),
	}
	m.locks[resource] = lock
	c := *lock
	return &c, nil
}

func (m *MemoryLocker) Heartbeat(_ context.Context, resource, owner string) (*model.RunLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[resource]
	if !ok || existing.Owner != owner {
		return nil, ErrLocked
	}
	existing.ExpiresAt = m.now().Unix() + int64(m.ttlDuration.Seconds())
	c := *existing
	return &c, nil
}

func (m *MemoryLocker) ReleaseLock(_ context.Context, resource, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[resource]
	if !ok || existing.Owner != owner {
		return ErrLocked
	}
	delete(m.locks, resource)
	return nil
}

func (m *MemoryLocker) GetLockStatus(_ context.Context, resource string) (*model.RunLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[resource]
	if !ok || existing.ExpiresAt < m.now().Unix() {
		return nil, nil
	}
	c := *existing
	return &c, nil
}
