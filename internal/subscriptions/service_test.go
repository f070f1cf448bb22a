package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/medisync-labs/medisync-backend/internal/billing"
	"github.com/medisync-labs/medisync-backend/pkg/db/models"
	"github.com/medisync-labs/medisync-backend/pkg/enums"
	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
	"github.com/medisync-labs/medisync-backend/pkg/pagination"
)

func TestGetCurrentReadsThroughCache(t *testing.T) {
	t.Parallel()

	hospitalID := uuid.New()
	sub := &models.Subscription{
		ID:          uuid.New(),
		HospitalID:  hospitalID,
		DoctorCount: 7,
		Cycle:       enums.BillingCycleMonthly,
		Status:      enums.SubscriptionStatusActive,
		PricePaise:  630000,
		Currency:    enums.CurrencyINR,
		StartsAt:    time.Now().AddDate(0, 0, -10),
		EndsAt:      time.Now().AddDate(0, 0, 20),
	}

	repo := &fakeSubscriptionRepo{current: sub}
	cache := newFakeSubCache()
	svc := newTestService(t, repo, cache)

	got, err := svc.GetCurrent(context.Background(), hospitalID)
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if got.ID != sub.ID {
		t.Fatalf("expected subscription %s, got %s", sub.ID, got.ID)
	}
	if repo.calls != 1 {
		t.Fatalf("expected one repo read, got %d", repo.calls)
	}
	key := cache.CacheKey("subscription", hospitalID.String())
	if _, ok := cache.data[key]; !ok {
		t.Fatalf("expected cache fill under %s", key)
	}

	again, err := svc.GetCurrent(context.Background(), hospitalID)
	if err != nil {
		t.Fatalf("GetCurrent second read: %v", err)
	}
	if again.ID != sub.ID || again.DoctorCount != 7 {
		t.Fatalf("cached read returned wrong row: %+v", again)
	}
	if repo.calls != 1 {
		t.Fatalf("second read should be served from cache, repo calls = %d", repo.calls)
	}
}

func TestGetCurrentMissingSubscription(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &fakeSubscriptionRepo{}, newFakeSubCache())

	_, err := svc.GetCurrent(context.Background(), uuid.New())
	assertCode(t, err, pkgerrors.CodeNotFound)
}

func TestGetCurrentSurvivesCacheOutage(t *testing.T) {
	t.Parallel()

	hospitalID := uuid.New()
	sub := &models.Subscription{ID: uuid.New(), HospitalID: hospitalID, Status: enums.SubscriptionStatusActive}
	repo := &fakeSubscriptionRepo{current: sub}
	cache := newFakeSubCache()
	cache.getErr = errors.New("connection refused")
	cache.setErr = errors.New("connection refused")
	svc := newTestService(t, repo, cache)

	got, err := svc.GetCurrent(context.Background(), hospitalID)
	if err != nil {
		t.Fatalf("GetCurrent with broken cache: %v", err)
	}
	if got.ID != sub.ID {
		t.Fatalf("expected subscription from repo, got %+v", got)
	}
}

func TestGetCurrentDiscardsCorruptCacheEntry(t *testing.T) {
	t.Parallel()

	hospitalID := uuid.New()
	sub := &models.Subscription{ID: uuid.New(), HospitalID: hospitalID, Status: enums.SubscriptionStatusActive}
	repo := &fakeSubscriptionRepo{current: sub}
	cache := newFakeSubCache()
	cache.data[cache.CacheKey("subscription", hospitalID.String())] = "{corrupt"
	svc := newTestService(t, repo, cache)

	got, err := svc.GetCurrent(context.Background(), hospitalID)
	if err != nil {
		t.Fatalf("GetCurrent: %v", err)
	}
	if got.ID != sub.ID {
		t.Fatalf("expected repo row after corrupt entry, got %+v", got)
	}
	if repo.calls != 1 {
		t.Fatalf("expected repo fallback, calls = %d", repo.calls)
	}
}

func TestGetCurrentValidatesHospital(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, &fakeSubscriptionRepo{}, newFakeSubCache())

	_, err := svc.GetCurrent(context.Background(), uuid.Nil)
	assertCode(t, err, pkgerrors.CodeValidation)
}

func newTestService(t *testing.T, repo billing.Repository, cache subscriptionCache) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		BillingRepo: repo,
		Cache:       cache,
		Logger:      logger.New(logger.Options{ServiceName: "test", Level: "error", Output: &bytes.Buffer{}}),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func assertCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected typed error, got %v", err)
	}
	if typed.Code() != code {
		t.Fatalf("expected code %s, got %s (%v)", code, typed.Code(), err)
	}
}

type fakeSubCache struct {
	data   map[string]string
	getErr error
	setErr error
}

func newFakeSubCache() *fakeSubCache {
	return &fakeSubCache{data: map[string]string{}}
}

func (f *fakeSubCache) Get(_ context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redislib.Nil
}

func (f *fakeSubCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	payload, ok := value.(string)
	if !ok {
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		payload = string(raw)
	}
	f.data[key] = payload
	return nil
}

func (f *fakeSubCache) CacheKey(scope, id string) string {
	return fmt.Sprintf("ms:cache:%s:%s", scope, id)
}

type fakeSubscriptionRepo struct {
	current *models.Subscription
	calls   int
}

func (f *fakeSubscriptionRepo) WithTx(tx *gorm.DB) billing.Repository { return f }

func (f *fakeSubscriptionRepo) FindCurrentSubscription(_ context.Context, hospitalID uuid.UUID) (*models.Subscription, error) {
	f.calls++
	if f.current != nil && f.current.HospitalID == hospitalID {
		clone := *f.current
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeSubscriptionRepo) CreateSubscription(context.Context, *models.Subscription) error {
	return errors.New("not implemented")
}

func (f *fakeSubscriptionRepo) UpdateSubscription(context.Context, *models.Subscription) error {
	return errors.New("not implemented")
}

func (f *fakeSubscriptionRepo) FindSubscriptionByID(context.Context, uuid.UUID) (*models.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSubscriptionRepo) CreateAttempt(context.Context, *models.RenewalAttempt) error {
	return errors.New("not implemented")
}

func (f *fakeSubscriptionRepo) UpdateAttempt(context.Context, *models.RenewalAttempt) error {
	return errors.New("not implemented")
}

func (f *fakeSubscriptionRepo) FindAttemptByID(context.Context, uuid.UUID) (*models.RenewalAttempt, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSubscriptionRepo) FindAttemptByOrderID(context.Context, string) (*models.RenewalAttempt, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSubscriptionRepo) FindFreshPendingAttempt(context.Context, uuid.UUID, time.Time) (*models.RenewalAttempt, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSubscriptionRepo) ListStalePendingAttempts(context.Context, time.Time, int) ([]models.RenewalAttempt, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSubscriptionRepo) ListAttempts(context.Context, billing.ListAttemptsQuery) ([]models.RenewalAttempt, *pagination.Cursor, error) {
	return nil, nil, errors.New("not implemented")
}
