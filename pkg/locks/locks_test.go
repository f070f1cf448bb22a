package locks

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
)

type fakeStore struct {
	data        map[string]string
	pttl        map[string]time.Duration
	scanKeys    []string
	setNXCalls  int
	denySetNX   int
	expireCalls []string
	delCalls    []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		data: make(map[string]string),
		pttl: make(map[string]time.Duration),
	}
}

func (f *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.setNXCalls++
	if f.denySetNX > 0 {
		f.denySetNX--
		return false, nil
	}
	if _, exists := f.data[key]; exists {
		return false, nil
	}
	f.data[key] = value.(string)
	return true, nil
}

func (f *fakeStore) Get(ctx context.Context, key string) (string, error) {
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		f.delCalls = append(f.delCalls, key)
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) PTTL(ctx context.Context, key string) (time.Duration, error) {
	if ttl, ok := f.pttl[key]; ok {
		return ttl, nil
	}
	return -2, nil
}

func (f *fakeStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.expireCalls = append(f.expireCalls, key)
	f.pttl[key] = ttl
	return true, nil
}

func (f *fakeStore) ScanKeys(ctx context.Context, pattern string, limit int64) ([]string, error) {
	return f.scanKeys, nil
}

func newTestManager(t *testing.T, store Store) *Manager {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})
	manager, err := NewManager(ManagerParams{
		Store:           store,
		Namespace:       "ms",
		TTL:             45 * time.Second,
		AcquireAttempts: 3,
		AcquireBaseWait: time.Millisecond,
		Logger:          logg,
	})
	if err != nil {
		t.Fatalf("manager setup: %v", err)
	}
	return manager
}

func TestAcquireAndRelease(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(t, store)
	ctx := context.Background()

	key := manager.RenewalKey(uuid.New())
	lease, err := manager.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, held := store.data[key]; !held {
		t.Fatalf("expected token written for %s", key)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, held := store.data[key]; held {
		t.Fatalf("expected lease deleted on release")
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("double release should be a no-op, got %v", err)
	}
}

func TestAcquireContentionAfterBoundedRetries(t *testing.T) {
	store := newFakeStore()
	store.data["ms:lock:renewal:busy"] = "someone-else"
	manager := newTestManager(t, store)

	_, err := manager.Acquire(context.Background(), "ms:lock:renewal:busy")
	if err == nil {
		t.Fatal("expected contention error")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeLockContention {
		t.Fatalf("expected lock contention code, got %v", err)
	}
	if store.setNXCalls != 3 {
		t.Fatalf("expected 3 bounded attempts, got %d", store.setNXCalls)
	}
}

func TestAcquireSucceedsAfterTransientContention(t *testing.T) {
	store := newFakeStore()
	store.denySetNX = 1
	manager := newTestManager(t, store)

	lease, err := manager.Acquire(context.Background(), "ms:lock:renewal:briefly-busy")
	if err != nil {
		t.Fatalf("expected acquire to recover, got %v", err)
	}
	if lease == nil {
		t.Fatal("expected lease")
	}
	if store.setNXCalls != 2 {
		t.Fatalf("expected 2 attempts, got %d", store.setNXCalls)
	}
}

func TestNewManagerClampsTTL(t *testing.T) {
	store := newFakeStore()
	logg := logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})

	low, err := NewManager(ManagerParams{Store: store, Namespace: "ms", TTL: 5 * time.Second, Logger: logg})
	if err != nil {
		t.Fatalf("manager setup: %v", err)
	}
	if low.TTL() != MinTTL {
		t.Fatalf("expected ttl clamped up to %v, got %v", MinTTL, low.TTL())
	}

	high, err := NewManager(ManagerParams{Store: store, Namespace: "ms", TTL: 5 * time.Minute, Logger: logg})
	if err != nil {
		t.Fatalf("manager setup: %v", err)
	}
	if high.TTL() != MaxTTL {
		t.Fatalf("expected ttl clamped down to %v, got %v", MaxTTL, high.TTL())
	}
}

func TestReleaseSkipsForeignOwner(t *testing.T) {
	store := newFakeStore()
	manager := newTestManager(t, store)
	ctx := context.Background()

	lease, err := manager.Acquire(ctx, "ms:lock:verification:h1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	store.data["ms:lock:verification:h1"] = "new-owner"

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release with foreign owner should not error: %v", err)
	}
	if store.data["ms:lock:verification:h1"] != "new-owner" {
		t.Fatalf("foreign owner's lease must not be deleted")
	}
	if len(store.delCalls) != 0 {
		t.Fatalf("expected no delete calls, got %v", store.delCalls)
	}
}

func TestAcquireOnceSkipsOnContention(t *testing.T) {
	store := newFakeStore()
	store.data["ms:lock:worker:cron"] = "other"
	manager := newTestManager(t, store)

	lease, ok, err := manager.AcquireOnce(context.Background(), "ms:lock:worker:cron", 10*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || lease != nil {
		t.Fatalf("expected contention to report ok=false without error")
	}
	if store.setNXCalls != 1 {
		t.Fatalf("expected a single attempt, got %d", store.setNXCalls)
	}
}

func TestSweepOrphansClampsMissingTTL(t *testing.T) {
	store := newFakeStore()
	store.scanKeys = []string{
		"ms:lock:renewal:orphan",
		"ms:lock:renewal:healthy",
		"ms:lock:verification:gone",
	}
	store.pttl["ms:lock:renewal:orphan"] = -1
	store.pttl["ms:lock:renewal:healthy"] = 20 * time.Second
	manager := newTestManager(t, store)

	held, err := manager.SweepOrphans(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(held) != 2 {
		t.Fatalf("expected 2 held locks (missing key skipped), got %d", len(held))
	}

	var clamped, healthy *HeldLock
	for i := range held {
		switch held[i].Key {
		case "ms:lock:renewal:orphan":
			clamped = &held[i]
		case "ms:lock:renewal:healthy":
			healthy = &held[i]
		}
	}
	if clamped == nil || !clamped.Clamped {
		t.Fatalf("expected orphan lease to be clamped: %+v", held)
	}
	if clamped.Remaining != manager.TTL() {
		t.Fatalf("clamped lease should carry the manager ttl, got %v", clamped.Remaining)
	}
	if healthy == nil || healthy.Clamped {
		t.Fatalf("healthy lease must not be clamped: %+v", held)
	}
	if len(store.expireCalls) != 1 || store.expireCalls[0] != "ms:lock:renewal:orphan" {
		t.Fatalf("expected exactly the orphan to be expired, got %v", store.expireCalls)
	}
}
