package cron

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/medisync-labs/medisync-backend/pkg/locks"
)

const defaultCycleTTL = 10 * time.Minute

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// CycleLock serializes worker cycles on a single-attempt lease from the lock
// manager. Contention means another instance is mid-cycle, not an error.
type CycleLock struct {
	manager *locks.Manager
	name    string
	ttl     time.Duration

	mu    sync.Mutex
	lease *locks.Lease
}

// NewCycleLock builds a worker lock named after the cron instance.
func NewCycleLock(manager *locks.Manager, name string, ttl time.Duration) (*CycleLock, error) {
	if manager == nil {
		return nil, errors.New("lock manager required")
	}
	if name == "" {
		return nil, errors.New("lock name is required")
	}
	if ttl <= 0 {
		ttl = defaultCycleTTL
	}
	return &CycleLock{manager: manager, name: name, ttl: ttl}, nil
}

// Acquire takes the worker lease with a single attempt.
func (l *CycleLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lease, ok, err := l.manager.AcquireOnce(ctx, l.manager.WorkerKey(l.name), l.ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	l.lease = lease
	return true, nil
}

// Release frees the lease if this instance still owns it.
func (l *CycleLock) Release(ctx context.Context) error {
	l.mu.Lock()
	lease := l.lease
	l.lease = nil
	l.mu.Unlock()
	return lease.Release(ctx)
}
