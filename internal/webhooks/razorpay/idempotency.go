package razorpaywebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medisync-labs/medisync-backend/pkg/redis"
)

const guardScope = "webhook:razorpay"

// defaultGuardTTL outlives the gateway's redelivery window.
const defaultGuardTTL = 7 * 24 * time.Hour

// EventGuard dedupes webhook deliveries on the gateway event id.
type EventGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewEventGuard(store redis.IdempotencyStore, ttl time.Duration) (*EventGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	return &EventGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark reserves the event id. True means an earlier delivery already
// holds the reservation.
func (g *EventGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	key := g.store.IdempotencyKey(guardScope, eventID)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Release drops the reservation so the gateway's redelivery can retry a
// failed handler.
func (g *EventGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	key := g.store.IdempotencyKey(guardScope, eventID)
	return g.store.Del(ctx, key)
}
