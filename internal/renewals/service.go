package renewals

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medisync-labs/medisync-backend/internal/billing"
	"github.com/medisync-labs/medisync-backend/internal/pricing"
	"github.com/medisync-labs/medisync-backend/pkg/db/models"
	"github.com/medisync-labs/medisync-backend/pkg/enums"
	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/locks"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
	"github.com/medisync-labs/medisync-backend/pkg/metrics"
	"github.com/medisync-labs/medisync-backend/pkg/pagination"
	"github.com/medisync-labs/medisync-backend/pkg/razorpay"
)

// defaultFreshWindow bounds how old a pending attempt may be and still be
// handed back instead of creating a duplicate. Kept under the reconciler's
// staleness threshold so a reused attempt is never simultaneously sweepable.
const defaultFreshWindow = 30 * time.Minute

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// doctorRoster answers how many doctors a hospital currently has provisioned.
// Renewals only ever shrink-check against it, never mutate it.
type doctorRoster interface {
	FindHospitalByID(ctx context.Context, id uuid.UUID) (*models.Hospital, error)
	CountActiveDoctors(ctx context.Context, hospitalID uuid.UUID) (int, error)
}

// OrderCreator is the slice of the payment gateway the renewal path depends on.
type OrderCreator interface {
	CreateOrder(ctx context.Context, params razorpay.CreateOrderParams) (*razorpay.Order, error)
}

// Service drives the renewal lifecycle for a hospital.
type Service interface {
	InitiateRenewal(ctx context.Context, input RenewalInput) (*RenewalResult, error)
	PreviewRenewal(ctx context.Context, input RenewalInput) (*pricing.Quote, error)
	GetAttempt(ctx context.Context, hospitalID, attemptID uuid.UUID) (*models.RenewalAttempt, error)
	ListHistory(ctx context.Context, hospitalID uuid.UUID, params HistoryParams) ([]models.RenewalAttempt, *pagination.Cursor, error)
}

// RenewalInput is a request to renew or resize a subscription.
type RenewalInput struct {
	HospitalID  uuid.UUID
	DoctorCount int
	Cycle       enums.BillingCycle
}

// RenewalResult carries the persisted attempt back to the caller. Reused is
// true when a fresh pending attempt already existed and no new order was made.
type RenewalResult struct {
	Attempt *models.RenewalAttempt
	Quote   *pricing.Quote
	Reused  bool
}

// HistoryParams filters the renewal audit trail.
type HistoryParams struct {
	Limit  int
	Cursor string
	Status *enums.PaymentStatus
}

// ServiceParams groups dependencies for the renewal service.
type ServiceParams struct {
	TransactionRunner txRunner
	BillingRepo       billing.Repository
	Roster            doctorRoster
	Locks             *locks.Manager
	Gateway           OrderCreator
	Calculator        *pricing.Calculator
	Metrics           *metrics.PaymentMetrics
	Logger            *logger.Logger
	FreshWindow       time.Duration
}

type service struct {
	tx          txRunner
	billingRepo billing.Repository
	roster      doctorRoster
	locks       *locks.Manager
	gateway     OrderCreator
	calculator  *pricing.Calculator
	metrics     *metrics.PaymentMetrics
	logg        *logger.Logger
	freshWindow time.Duration
}

// NewService builds the renewal service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.Roster == nil {
		return nil, fmt.Errorf("doctor roster required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock manager required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway order client required")
	}
	if params.Calculator == nil {
		return nil, fmt.Errorf("pricing calculator required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	freshWindow := params.FreshWindow
	if freshWindow <= 0 {
		freshWindow = defaultFreshWindow
	}
	return &service{
		tx:          params.TransactionRunner,
		billingRepo: params.BillingRepo,
		roster:      params.Roster,
		locks:       params.Locks,
		gateway:     params.Gateway,
		calculator:  params.Calculator,
		metrics:     params.Metrics,
		logg:        params.Logger,
		freshWindow: freshWindow,
	}, nil
}

// InitiateRenewal runs the renewal state machine under the hospital's lease:
// validate, price, create the gateway order, persist the pending attempt. The
// order is created before the attempt row so a persistence failure leaves an
// order id that reconciliation can chase, never a charge without a trace.
func (s *service) InitiateRenewal(ctx context.Context, input RenewalInput) (*RenewalResult, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	ctx = s.logg.WithHospitalID(ctx, input.HospitalID.String())

	lease, err := s.locks.Acquire(ctx, s.locks.RenewalKey(input.HospitalID))
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(ctx, lease)

	sub, err := s.loadRenewableSubscription(ctx, input)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	existing, err := s.billingRepo.FindFreshPendingAttempt(ctx, sub.ID, now.Add(-s.freshWindow))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "checking pending attempts")
	}
	if existing != nil {
		s.logg.Info(ctx, fmt.Sprintf("reusing pending renewal attempt %s", existing.ID))
		return &RenewalResult{Attempt: existing, Reused: true}, nil
	}

	quote, err := s.calculator.Calculate(quoteInputs(input, sub, now))
	if err != nil {
		return nil, err
	}

	receipt := razorpay.NewReceipt(input.HospitalID, now)
	order, err := s.gateway.CreateOrder(ctx, razorpay.CreateOrderParams{
		AmountPaise: quote.PayablePaise,
		Currency:    quote.Currency.String(),
		Receipt:     receipt,
		Notes: map[string]string{
			"hospital_id":     input.HospitalID.String(),
			"subscription_id": sub.ID.String(),
			"cycle":           input.Cycle.String(),
			"doctor_count":    strconv.Itoa(input.DoctorCount),
		},
	})
	if err != nil {
		return nil, err
	}

	attempt := buildAttempt(input, sub, quote, order, receipt, now)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.billingRepo.WithTx(tx).CreateAttempt(ctx, attempt)
	})
	if err != nil {
		// The gateway order exists but nothing references it. It expires
		// unpaid on the gateway side; log the id so it can be traced.
		s.logg.Error(ctx, fmt.Sprintf("orphaned gateway order %s: attempt not persisted", order.ID), err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persisting renewal attempt")
	}

	s.metrics.IncRenewalAttempt(input.Cycle.String())
	s.logg.Info(ctx, fmt.Sprintf("renewal attempt %s created for order %s", attempt.ID, order.ID))
	return &RenewalResult{Attempt: attempt, Quote: quote, Reused: false}, nil
}

// PreviewRenewal prices a renewal without locking, calling the gateway, or
// persisting anything.
func (s *service) PreviewRenewal(ctx context.Context, input RenewalInput) (*pricing.Quote, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	sub, err := s.loadRenewableSubscription(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.calculator.Calculate(quoteInputs(input, sub, time.Now().UTC()))
}

func (s *service) GetAttempt(ctx context.Context, hospitalID, attemptID uuid.UUID) (*models.RenewalAttempt, error) {
	if hospitalID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hospital id is required")
	}
	attempt, err := s.billingRepo.FindAttemptByID(ctx, attemptID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading renewal attempt")
	}
	if attempt == nil || attempt.HospitalID != hospitalID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "renewal attempt not found")
	}
	return attempt, nil
}

func (s *service) ListHistory(ctx context.Context, hospitalID uuid.UUID, params HistoryParams) ([]models.RenewalAttempt, *pagination.Cursor, error) {
	if hospitalID == uuid.Nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "hospital id is required")
	}
	query := billing.ListAttemptsQuery{
		HospitalID: hospitalID,
		Limit:      pagination.NormalizeLimit(params.Limit),
		Status:     params.Status,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "malformed cursor")
		}
		query.Cursor = cursor
	}
	return s.billingRepo.ListAttempts(ctx, query)
}

// loadRenewableSubscription resolves the hospital, its newest subscription,
// and enforces the doctor-count floor against the provisioned roster.
func (s *service) loadRenewableSubscription(ctx context.Context, input RenewalInput) (*models.Subscription, error) {
	hospital, err := s.roster.FindHospitalByID(ctx, input.HospitalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading hospital")
	}
	if hospital == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "hospital not found")
	}
	if hospital.Status != enums.HospitalStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "hospital is suspended")
	}

	sub, err := s.billingRepo.FindCurrentSubscription(ctx, input.HospitalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no subscription to renew")
	}
	if sub.Status == enums.SubscriptionStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is cancelled")
	}

	provisioned, err := s.roster.CountActiveDoctors(ctx, input.HospitalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "counting provisioned doctors")
	}
	if input.DoctorCount < provisioned {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("doctor count %d is below the %d currently provisioned", input.DoctorCount, provisioned))
	}
	return sub, nil
}

func (s *service) releaseLease(ctx context.Context, lease *locks.Lease) {
	if err := lease.Release(ctx); err != nil {
		s.logg.Error(ctx, fmt.Sprintf("releasing lease %s", lease.Key()), err)
	}
}

func (in RenewalInput) validate() error {
	if in.HospitalID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "hospital id is required")
	}
	if in.DoctorCount < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "doctor count must be at least 1")
	}
	if !in.Cycle.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown billing cycle")
	}
	return nil
}

// quoteInputs maps a renewal request onto the calculator. Proration credit
// only applies while the current term is active and paid for.
func quoteInputs(input RenewalInput, sub *models.Subscription, now time.Time) pricing.Inputs {
	in := pricing.Inputs{
		HospitalID:  input.HospitalID,
		DoctorCount: input.DoctorCount,
		Cycle:       input.Cycle,
		Now:         now,
	}
	if sub.Status == enums.SubscriptionStatusActive {
		in.Current = &pricing.CurrentTerm{
			PricePaise: sub.PricePaise,
			StartsAt:   sub.StartsAt,
			EndsAt:     sub.EndsAt,
		}
	}
	return in
}

func buildAttempt(input RenewalInput, sub *models.Subscription, quote *pricing.Quote, order *razorpay.Order, receipt string, now time.Time) *models.RenewalAttempt {
	orderID := order.ID
	return &models.RenewalAttempt{
		ID:                   uuid.New(),
		SubscriptionID:       sub.ID,
		HospitalID:           input.HospitalID,
		GatewayOrderID:       &orderID,
		Receipt:              receipt,
		DoctorCount:          input.DoctorCount,
		Cycle:                input.Cycle,
		AmountPaise:          quote.PayablePaise,
		BasePaise:            quote.BasePaise,
		DiscountPaise:        quote.VolumeDiscountPaise + quote.YearlyDiscountPaise,
		ProrationCreditPaise: quote.ProrationCreditPaise,
		PlatformFeePaise:     quote.PlatformFeePaise,
		GSTPaise:             quote.GSTPaise,
		Currency:             quote.Currency,
		PaymentStatus:        enums.PaymentStatusPending,
		GatewayResponse:      order.Raw,
		CreatedAt:            now,
	}
}
