package locks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
)

// Lease TTLs are clamped to this window so a crashed holder can never pin a
// hospital for long, and a slow gateway call cannot outlive its lease by much.
const (
	MinTTL     = 30 * time.Second
	MaxTTL     = 60 * time.Second
	DefaultTTL = 45 * time.Second
)

const (
	lockSegment      = "lock"
	KindRenewal      = "renewal"
	KindVerification = "verification"
	KindWorker       = "worker"
)

var errLockHeld = errors.New("lock held")

// Store defines the redis operations the manager needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	PTTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ScanKeys(ctx context.Context, pattern string, limit int64) ([]string, error)
}

// Manager hands out per-hospital operation leases backed by SETNX + TTL.
type Manager struct {
	store     Store
	namespace string
	ttl       time.Duration
	attempts  int
	baseWait  time.Duration
	logg      *logger.Logger
}

// ManagerParams configures NewManager.
type ManagerParams struct {
	Store           Store
	Namespace       string
	TTL             time.Duration
	AcquireAttempts int
	AcquireBaseWait time.Duration
	Logger          *logger.Logger
}

// NewManager validates the dependencies and clamps the lease TTL.
func NewManager(params ManagerParams) (*Manager, error) {
	if params.Store == nil {
		return nil, errors.New("locks: store is required")
	}
	if params.Logger == nil {
		return nil, errors.New("locks: logger is required")
	}
	namespace := strings.TrimSpace(params.Namespace)
	if namespace == "" {
		return nil, errors.New("locks: namespace is required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl < MinTTL {
		ttl = MinTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}
	attempts := params.AcquireAttempts
	if attempts <= 0 {
		attempts = 3
	}
	baseWait := params.AcquireBaseWait
	if baseWait <= 0 {
		baseWait = 150 * time.Millisecond
	}
	return &Manager{
		store:     params.Store,
		namespace: namespace,
		ttl:       ttl,
		attempts:  attempts,
		baseWait:  baseWait,
		logg:      params.Logger,
	}, nil
}

// RenewalKey returns the lease key serializing renewal creation for a hospital.
func (m *Manager) RenewalKey(hospitalID uuid.UUID) string {
	return m.buildKey(KindRenewal, hospitalID.String())
}

// VerificationKey returns the lease key serializing payment verification for a hospital.
func (m *Manager) VerificationKey(hospitalID uuid.UUID) string {
	return m.buildKey(KindVerification, hospitalID.String())
}

// WorkerKey returns the lease key for worker-level exclusivity.
func (m *Manager) WorkerKey(name string) string {
	return m.buildKey(KindWorker, name)
}

func (m *Manager) buildKey(kind, id string) string {
	return fmt.Sprintf("%s:%s:%s:%s", m.namespace, lockSegment, kind, id)
}

// Pattern matches every lock key the manager owns.
func (m *Manager) Pattern() string {
	return fmt.Sprintf("%s:%s:*", m.namespace, lockSegment)
}

// TTL reports the clamped lease duration.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Acquire takes the lease or fails with CodeLockContention after a short
// bounded backoff. It never waits indefinitely.
func (m *Manager) Acquire(ctx context.Context, key string) (*Lease, error) {
	token := uuid.NewString()

	backoff := retry.WithMaxRetries(uint64(m.attempts-1), retry.NewExponential(m.baseWait))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, setErr := m.store.SetNX(ctx, key, token, m.ttl)
		if setErr != nil {
			return setErr
		}
		if !ok {
			return retry.RetryableError(errLockHeld)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errLockHeld) {
			return nil, pkgerrors.New(pkgerrors.CodeLockContention, fmt.Sprintf("lease %s is held", key))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquiring lease")
	}

	return &Lease{store: m.store, key: key, token: token}, nil
}

// AcquireOnce takes the lease with a single attempt and an explicit TTL. Used
// for worker-cycle exclusivity where contention means "skip this cycle".
func (m *Manager) AcquireOnce(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	token := uuid.NewString()
	ok, err := m.store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{store: m.store, key: key, token: token}, true, nil
}

// RemainingTTL reports how long the lease at key has left. Negative values
// follow the go-redis contract: -1 for no expiry, -2 for a missing key.
func (m *Manager) RemainingTTL(ctx context.Context, key string) (time.Duration, error) {
	return m.store.PTTL(ctx, key)
}

// HeldLock describes one live lease found by SweepOrphans.
type HeldLock struct {
	Key       string
	Remaining time.Duration
	Clamped   bool
}

// SweepOrphans scans the lock keyspace and re-arms an expiry on any lease that
// lost its TTL, so a half-written lock cannot block a hospital forever.
func (m *Manager) SweepOrphans(ctx context.Context, limit int64) ([]HeldLock, error) {
	keys, err := m.store.ScanKeys(ctx, m.Pattern(), limit)
	if err != nil {
		return nil, fmt.Errorf("scanning lock keys: %w", err)
	}

	held := make([]HeldLock, 0, len(keys))
	for _, key := range keys {
		remaining, err := m.store.PTTL(ctx, key)
		if err != nil {
			m.logg.Error(ctx, "lock sweep: reading ttl", err)
			continue
		}
		if remaining == -2 {
			continue
		}
		lock := HeldLock{Key: key, Remaining: remaining}
		if remaining == -1 {
			if _, err := m.store.Expire(ctx, key, m.ttl); err != nil {
				m.logg.Error(ctx, "lock sweep: clamping ttl", err)
				continue
			}
			lock.Clamped = true
			lock.Remaining = m.ttl
		}
		held = append(held, lock)
	}
	return held, nil
}

// Lease is a single acquired lock. Release is best effort: the TTL is the
// authoritative backstop, so a failed release is logged by callers, never
// escalated.
type Lease struct {
	store    Store
	key      string
	token    string
	released bool
}

// Key returns the lease key.
func (l *Lease) Key() string {
	return l.key
}

// Release frees the lease only if this holder still owns it.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.released {
		return nil
	}
	value, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			l.released = true
			return nil
		}
		return fmt.Errorf("read lease owner: %w", err)
	}
	if value != l.token {
		l.released = true
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	l.released = true
	return nil
}
