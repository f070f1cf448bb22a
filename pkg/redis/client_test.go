package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	allowed, count, err := client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allowed on first request")
	}
	if count != 1 {
		t.Fatalf("expected counter 1 got %d", count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected expire for first increment")
	}

	allowed, count, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 2 {
		t.Fatalf("unexpected second call state allowed=%v count=%d", allowed, count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expire should not be set again")
	}

	allowed, _, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limit reached")
	}
}

func TestSetNXLifecycle(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	ok, err := client.SetNX(ctx, "ms:lock:renewal:h1", "token-a", time.Minute)
	if err != nil {
		t.Fatalf("setnx failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected first setnx to win")
	}

	ok, err = client.SetNX(ctx, "ms:lock:renewal:h1", "token-b", time.Minute)
	if err != nil {
		t.Fatalf("setnx failed: %v", err)
	}
	if ok {
		t.Fatalf("second setnx should lose while key exists")
	}

	val, err := client.Get(ctx, "ms:lock:renewal:h1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if val != "token-a" {
		t.Fatalf("expected original token, got %q", val)
	}

	if err := client.Del(ctx, "ms:lock:renewal:h1"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, "ms:lock:renewal:h1"); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestScanKeysPagesUntilCursorZero(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	mock.scanPages = [][]string{
		{"ms:lock:renewal:a", "ms:lock:renewal:b"},
		{"ms:lock:verification:c"},
	}
	client := &Client{store: mock}

	keys, err := client.ScanKeys(ctx, "ms:lock:*", 0)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d (%v)", len(keys), keys)
	}

	capped := newMockCmdable()
	capped.scanPages = [][]string{
		{"ms:lock:renewal:a", "ms:lock:renewal:b"},
		{"ms:lock:verification:c"},
	}
	client = &Client{store: capped}
	keys, err = client.ScanKeys(ctx, "ms:lock:*", 2)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("limit should cap results, got %d", len(keys))
	}
}

func TestPTTLPassthrough(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	mock.pttl = 1500 * time.Millisecond
	client := &Client{store: mock}

	ttl, err := client.PTTL(ctx, "ms:lock:renewal:h1")
	if err != nil {
		t.Fatalf("pttl failed: %v", err)
	}
	if ttl != 1500*time.Millisecond {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "ms:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("scope"); got != "ms:rate_limit:scope" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.CacheKey("subscription", "h1"); got != "ms:cache:subscription:h1" {
		t.Fatalf("unexpected cache key %s", got)
	}
	if got := client.Namespace(); got != "ms" {
		t.Fatalf("unexpected namespace %s", got)
	}
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	expireCalls []expireCall
	pttl        time.Duration
	scanPages   [][]string
	scanCalls   int
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) PTTL(ctx context.Context, key string) *redis.DurationCmd {
	return redis.NewDurationResult(m.pttl, nil)
}

func (m *mockCmdable) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	page := []string{}
	if m.scanCalls < len(m.scanPages) {
		page = m.scanPages[m.scanCalls]
	}
	m.scanCalls++
	var next uint64
	if m.scanCalls < len(m.scanPages) {
		next = uint64(m.scanCalls)
	}
	return redis.NewScanCmdResult(page, next, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
