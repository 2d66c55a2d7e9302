package runlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jun/invoicescout/internal/model"
)

// MemoryLocker implements Locker in process. It serves local runs and tests.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]model.RunLease
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryLocker creates a MemoryLocker with the default TTL.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: map[string]model.RunLease{}, ttl: DefaultTTL, now: time.Now}
}

func (m *MemoryLocker) Acquire(_ context.Context, key, owner string) (model.RunLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.leases[key]; ok {
		if existing.ExpiresAt >= now.Unix() && existing.Owner != owner {
			return model.RunLease{}, fmt.Errorf("%s: %w", key, ErrHeld)
		}
	}
	lease := model.RunLease{Key: key, Owner: owner, ExpiresAt: expiry(now, m.ttl)}
	m.leases[key] = lease
	return lease, nil
}

func (m *MemoryLocker) Heartbeat(_ context.Context, key, owner string) (model.RunLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[key]
	if !ok || existing.Owner != owner {
		return model.RunLease{}, fmt.Errorf("%s: %w", key, ErrNotOwner)
	}
	existing.ExpiresAt = expiry(m.now(), m.ttl)
	m.leases[key] = existing
	return existing, nil
}

func (m *MemoryLocker) Release(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[key]
	if !ok || existing.Owner != owner {
		return fmt.Errorf("%s: %w", key, ErrNotOwner)
	}
	delete(m.leases, key)
	return nil
}

func (m *MemoryLocker) Status(_ context.Context, key string) (model.RunLease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[key]
	if !ok || existing.ExpiresAt < m.now().Unix() {
		return model.RunLease{}, false, nil
	}
	return existing, true, nil
}
