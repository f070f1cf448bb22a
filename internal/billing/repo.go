package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medisync-labs/medisync-backend/pkg/db/models"
	"github.com/medisync-labs/medisync-backend/pkg/enums"
	"github.com/medisync-labs/medisync-backend/pkg/pagination"
)

// Repository handles subscription and renewal attempt persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindCurrentSubscription(ctx context.Context, hospitalID uuid.UUID) (*models.Subscription, error)
	CreateAttempt(ctx context.Context, attempt *models.RenewalAttempt) error
	UpdateAttempt(ctx context.Context, attempt *models.RenewalAttempt) error
	FindAttemptByID(ctx context.Context, id uuid.UUID) (*models.RenewalAttempt, error)
	FindAttemptByOrderID(ctx context.Context, gatewayOrderID string) (*models.RenewalAttempt, error)
	FindFreshPendingAttempt(ctx context.Context, subscriptionID uuid.UUID, notBefore time.Time) (*models.RenewalAttempt, error)
	ListStalePendingAttempts(ctx context.Context, cutoff time.Time, limit int) ([]models.RenewalAttempt, error)
	ListAttempts(ctx context.Context, params ListAttemptsQuery) ([]models.RenewalAttempt, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

// ListAttemptsQuery configures renewal history queries.
type ListAttemptsQuery struct {
	HospitalID uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
	Status     *enums.PaymentStatus
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// FindCurrentSubscription returns the hospital's newest subscription row, the
// one renewals operate on.
func (r *repository) FindCurrentSubscription(ctx context.Context, hospitalID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("hospital_id = ?", hospitalID).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) CreateAttempt(ctx context.Context, attempt *models.RenewalAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) UpdateAttempt(ctx context.Context, attempt *models.RenewalAttempt) error {
	return r.db.WithContext(ctx).Save(attempt).Error
}

func (r *repository) FindAttemptByID(ctx context.Context, id uuid.UUID) (*models.RenewalAttempt, error) {
	var attempt models.RenewalAttempt
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&attempt).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) FindAttemptByOrderID(ctx context.Context, gatewayOrderID string) (*models.RenewalAttempt, error) {
	if gatewayOrderID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var attempt models.RenewalAttempt
	if err := r.db.WithContext(ctx).
		Where("gateway_order_id = ?", gatewayOrderID).
		First(&attempt).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

// FindFreshPendingAttempt returns the newest pending attempt that already has
// a gateway order and was created at or after notBefore. Renewal requests
// inside that window reuse the open order instead of creating another.
func (r *repository) FindFreshPendingAttempt(ctx context.Context, subscriptionID uuid.UUID, notBefore time.Time) (*models.RenewalAttempt, error) {
	var attempt models.RenewalAttempt
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Where("payment_status = ?", enums.PaymentStatusPending).
		Where("gateway_order_id IS NOT NULL").
		Where("created_at >= ?", notBefore).
		Order("created_at DESC").
		First(&attempt).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

// ListStalePendingAttempts returns the sweeper's work queue: pending attempts
// older than cutoff, oldest first.
func (r *repository) ListStalePendingAttempts(ctx context.Context, cutoff time.Time, limit int) ([]models.RenewalAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	var attempts []models.RenewalAttempt
	if err := r.db.WithContext(ctx).
		Where("payment_status = ?", enums.PaymentStatusPending).
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&attempts).Error; err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *repository) ListAttempts(ctx context.Context, params ListAttemptsQuery) ([]models.RenewalAttempt, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.RenewalAttempt{}).Where("hospital_id = ?", params.HospitalID)
	if params.Status != nil {
		query = query.Where("payment_status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var attempts []models.RenewalAttempt
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&attempts).Error; err != nil {
		return nil, nil, err
	}

	if len(attempts) > limit {
		next := attempts[limit]
		attempts = attempts[:limit]
		return attempts, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			ID:        next.ID,
		}, nil
	}

	return attempts, nil, nil
}
