package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"

	"github.com/medisync-labs/medisync-backend/internal/billing"
	"github.com/medisync-labs/medisync-backend/pkg/db/models"
	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
)

const (
	cacheScope      = "subscription"
	defaultCacheTTL = 5 * time.Minute
)

// subscriptionCache is the slice of the redis client this service needs. The
// verification flow deletes the same key after activating a renewal, so a
// stale entry never outlives a successful payment.
type subscriptionCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CacheKey(scope, id string) string
}

// Service exposes the tenant-facing subscription read surface.
type Service interface {
	GetCurrent(ctx context.Context, hospitalID uuid.UUID) (*models.Subscription, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	BillingRepo billing.Repository
	Cache       subscriptionCache
	Logger      *logger.Logger
	CacheTTL    time.Duration
}

type service struct {
	billingRepo billing.Repository
	cache       subscriptionCache
	logg        *logger.Logger
	cacheTTL    time.Duration
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &service{
		billingRepo: params.BillingRepo,
		cache:       params.Cache,
		logg:        params.Logger,
		cacheTTL:    ttl,
	}, nil
}

// GetCurrent returns the hospital's subscription, reading through the cache.
// Cache trouble degrades to the database; a payment must never look lost
// because redis hiccuped.
func (s *service) GetCurrent(ctx context.Context, hospitalID uuid.UUID) (*models.Subscription, error) {
	if hospitalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hospital id is required")
	}

	var key string
	if s.cache != nil {
		key = s.cache.CacheKey(cacheScope, hospitalID.String())
		if sub := s.readCached(ctx, key); sub != nil {
			return sub, nil
		}
	}

	sub, err := s.billingRepo.FindCurrentSubscription(ctx, hospitalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for this hospital")
	}

	if s.cache != nil {
		s.writeCached(ctx, key, sub)
	}
	return sub, nil
}

func (s *service) readCached(ctx context.Context, key string) *models.Subscription {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redislib.Nil) {
			s.logg.Warn(ctx, fmt.Sprintf("subscription cache read failed: %v", err))
		}
		return nil
	}
	var sub models.Subscription
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("discarding corrupt subscription cache entry: %v", err))
		return nil
	}
	return &sub
}

func (s *service) writeCached(ctx context.Context, key string, sub *models.Subscription) {
	payload, err := json.Marshal(sub)
	if err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("serializing subscription for cache: %v", err))
		return
	}
	if err := s.cache.Set(ctx, key, string(payload), s.cacheTTL); err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("subscription cache write failed: %v", err))
	}
}
