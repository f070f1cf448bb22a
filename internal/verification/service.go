package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medisync-labs/medisync-backend/internal/billing"
	"github.com/medisync-labs/medisync-backend/pkg/db/models"
	"github.com/medisync-labs/medisync-backend/pkg/enums"
	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/locks"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
	"github.com/medisync-labs/medisync-backend/pkg/metrics"
	"github.com/medisync-labs/medisync-backend/pkg/razorpay"
)

// Failure counter categories. Every rejected verification increments exactly
// one of these.
const (
	failureSignatureMismatch = "signature_mismatch"
	failureGatewayError      = "gateway_error"
	failureOrderMismatch     = "order_mismatch"
	failureNotCaptured       = "payment_not_captured"
	failureAmountMismatch    = "amount_mismatch"
	failureCapturedLate      = "captured_after_failure"
)

const subscriptionCacheScope = "subscription"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PaymentGateway is the slice of the gateway the verification path depends
// on: authoritative payment state and callback signature checks.
type PaymentGateway interface {
	VerifyPaymentSignature(orderID, paymentID, signature string) bool
	FetchPayment(ctx context.Context, paymentID string) (*razorpay.Payment, error)
}

type notifier interface {
	RenewalReceipt(ctx context.Context, attempt *models.RenewalAttempt)
	AdminReview(ctx context.Context, attempt *models.RenewalAttempt, reason string)
}

// subscriptionCache invalidates cached subscription reads after a commit.
type subscriptionCache interface {
	CacheKey(scope, id string) string
	Del(ctx context.Context, keys ...string) error
}

// Service settles payment callbacks against pending renewal attempts.
type Service interface {
	ConfirmPayment(ctx context.Context, params ConfirmParams) (*Result, error)
	ApplyCapture(ctx context.Context, hospitalID uuid.UUID, orderID string, payment *razorpay.Payment) (*Result, error)
}

// ConfirmParams is an inbound payment callback.
type ConfirmParams struct {
	HospitalID uuid.UUID
	OrderID    string
	PaymentID  string
	Signature  string
}

// Result reports the settled state. AlreadyProcessed means a previous
// callback or the reconciler won the race and no state was touched.
type Result struct {
	Attempt          *models.RenewalAttempt
	Subscription     *models.Subscription
	AlreadyProcessed bool
}

// ServiceParams groups dependencies for the verification service.
type ServiceParams struct {
	TransactionRunner txRunner
	BillingRepo       billing.Repository
	Locks             *locks.Manager
	Gateway           PaymentGateway
	Notifier          notifier
	Cache             subscriptionCache
	Metrics           *metrics.PaymentMetrics
	Logger            *logger.Logger
}

type service struct {
	tx          txRunner
	billingRepo billing.Repository
	locks       *locks.Manager
	gateway     PaymentGateway
	notifier    notifier
	cache       subscriptionCache
	metrics     *metrics.PaymentMetrics
	logg        *logger.Logger
}

// NewService builds the verification service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock manager required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:          params.TransactionRunner,
		billingRepo: params.BillingRepo,
		locks:       params.Locks,
		gateway:     params.Gateway,
		notifier:    params.Notifier,
		cache:       params.Cache,
		metrics:     params.Metrics,
		logg:        params.Logger,
	}, nil
}

// ConfirmPayment settles an inbound callback. The callback body is never
// trusted for payment state: only the signature is taken from it, and the
// authoritative status and amount come from a fresh gateway fetch.
func (s *service) ConfirmPayment(ctx context.Context, params ConfirmParams) (*Result, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	ctx = s.logg.WithHospitalID(ctx, params.HospitalID.String())

	attempt, err := s.loadAttempt(ctx, params.HospitalID, params.OrderID)
	if err != nil {
		return nil, err
	}
	if attempt.PaymentStatus == enums.PaymentStatusSuccess {
		return s.duplicateResult(ctx, attempt), nil
	}

	if !s.gateway.VerifyPaymentSignature(params.OrderID, params.PaymentID, params.Signature) {
		s.metrics.IncVerificationFailure(failureSignatureMismatch)
		err := pkgerrors.New(pkgerrors.CodeSignatureMismatch, "callback signature mismatch")
		s.logg.Error(ctx, fmt.Sprintf("rejecting callback for order %s", params.OrderID), err)
		return nil, err
	}

	payment, err := s.gateway.FetchPayment(ctx, params.PaymentID)
	if err != nil {
		s.metrics.IncVerificationFailure(failureGatewayError)
		return nil, err
	}

	return s.ApplyCapture(ctx, params.HospitalID, params.OrderID, payment)
}

// ApplyCapture transitions a pending attempt to success given an
// authoritative gateway payment. It takes the hospital's verification lease,
// so a callback and the reconciler applying the same order serialize. The
// reconciler calls this directly, having already fetched the payment.
func (s *service) ApplyCapture(ctx context.Context, hospitalID uuid.UUID, orderID string, payment *razorpay.Payment) (*Result, error) {
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment is required")
	}

	lease, err := s.locks.Acquire(ctx, s.locks.VerificationKey(hospitalID))
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(ctx, lease)

	attempt, err := s.loadAttempt(ctx, hospitalID, orderID)
	if err != nil {
		return nil, err
	}
	if attempt.PaymentStatus == enums.PaymentStatusSuccess {
		return s.duplicateResult(ctx, attempt), nil
	}

	if payment.OrderID != "" && payment.OrderID != orderID {
		s.metrics.IncVerificationFailure(failureOrderMismatch)
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("payment %s belongs to order %s, not %s", payment.ID, payment.OrderID, orderID))
	}
	if !payment.Captured() {
		s.metrics.IncVerificationFailure(failureNotCaptured)
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("payment %s is %s, not captured", payment.ID, payment.Status))
	}
	if payment.AmountPaise != attempt.AmountPaise {
		s.metrics.IncVerificationFailure(failureAmountMismatch)
		reason := fmt.Sprintf("gateway reports %d paise for payment %s, attempt computed %d",
			payment.AmountPaise, payment.ID, attempt.AmountPaise)
		if err := s.flagForReview(ctx, attempt, enums.ReviewFlagAmountMismatch, reason); err != nil {
			return nil, err
		}
		s.logg.Error(ctx, "verification amount mismatch", pkgerrors.New(pkgerrors.CodeAmountMismatch, reason))
		return nil, pkgerrors.New(pkgerrors.CodeAmountMismatch, "payment amount does not match the attempt")
	}
	if attempt.PaymentStatus == enums.PaymentStatusFailed {
		// Money was captured after the attempt was timed out. Never resolve
		// this automatically in either direction.
		s.metrics.IncVerificationFailure(failureCapturedLate)
		reason := fmt.Sprintf("payment %s captured after the attempt was marked failed", payment.ID)
		if err := s.flagForReview(ctx, attempt, enums.ReviewFlagCapturedAfterFailure, reason); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeAdminReview, "payment captured after attempt failure")
	}

	result, err := s.transition(ctx, attempt, payment)
	if err != nil {
		return nil, err
	}
	if result.AlreadyProcessed {
		s.metrics.IncVerificationDuplicate()
		return result, nil
	}

	s.postCommit(ctx, result)
	return result, nil
}

// transition atomically flips the attempt to success and re-arms the
// subscription. The attempt is re-read inside the transaction so a competing
// writer that committed first degrades this call to a duplicate success.
func (s *service) transition(ctx context.Context, attempt *models.RenewalAttempt, payment *razorpay.Payment) (*Result, error) {
	now := time.Now().UTC()
	result := &Result{}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)

		fresh, err := repo.FindAttemptByID(ctx, attempt.ID)
		if err != nil {
			return err
		}
		if fresh == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "renewal attempt vanished mid-verification")
		}
		if fresh.PaymentStatus == enums.PaymentStatusSuccess {
			result.Attempt = fresh
			result.AlreadyProcessed = true
			return nil
		}

		sub, err := repo.FindSubscriptionByID(ctx, fresh.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "subscription vanished mid-verification")
		}

		paymentID := payment.ID
		fresh.PaymentStatus = enums.PaymentStatusSuccess
		fresh.GatewayPaymentID = &paymentID
		fresh.VerifiedAt = &now
		// A decline recorded for an earlier payment on this order no longer applies.
		fresh.FailureReason = nil
		if len(payment.Raw) > 0 {
			fresh.GatewayResponse = payment.Raw
		}
		if err := repo.UpdateAttempt(ctx, fresh); err != nil {
			return err
		}

		lapsed := sub.Status != enums.SubscriptionStatusActive || !sub.EndsAt.After(now)
		if lapsed {
			sub.StartsAt = now
		}
		sub.EndsAt = now.AddDate(0, 0, fresh.Cycle.TermDays())
		sub.Status = enums.SubscriptionStatusActive
		sub.DoctorCount = fresh.DoctorCount
		sub.Cycle = fresh.Cycle
		sub.PricePaise = fresh.BasePaise - fresh.DiscountPaise
		sub.Currency = fresh.Currency
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return err
		}

		result.Attempt = fresh
		result.Subscription = sub
		return nil
	})
	if err != nil {
		typed := pkgerrors.As(err)
		if typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "applying verification transition")
	}
	return result, nil
}

// postCommit runs the side effects that must never roll back a settled
// payment: receipt notification, cache invalidation, counters.
func (s *service) postCommit(ctx context.Context, result *Result) {
	if s.notifier != nil {
		s.notifier.RenewalReceipt(ctx, result.Attempt)
	}
	if s.cache != nil {
		key := s.cache.CacheKey(subscriptionCacheScope, result.Attempt.HospitalID.String())
		if err := s.cache.Del(ctx, key); err != nil {
			s.logg.Error(ctx, "invalidating subscription cache", err)
		}
	}
	s.metrics.IncVerificationSuccess()
	s.logg.Info(ctx, fmt.Sprintf("renewal attempt %s verified, subscription extended to %s",
		result.Attempt.ID, result.Subscription.EndsAt.Format(time.RFC3339)))
}

// flagForReview marks the attempt for a human without touching the
// subscription or the attempt's payment status.
func (s *service) flagForReview(ctx context.Context, attempt *models.RenewalAttempt, flag enums.ReviewFlag, reason string) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		fresh, err := repo.FindAttemptByID(ctx, attempt.ID)
		if err != nil {
			return err
		}
		if fresh == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "renewal attempt vanished while flagging")
		}
		fresh.RequiresAdminReview = true
		fresh.ReviewReason = &reason
		fresh.ReviewFlags = appendFlag(fresh.ReviewFlags, flag.String())
		if err := repo.UpdateAttempt(ctx, fresh); err != nil {
			return err
		}
		*attempt = *fresh
		return nil
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flagging attempt for review")
	}
	if s.notifier != nil {
		s.notifier.AdminReview(ctx, attempt, reason)
	}
	return nil
}

func (s *service) loadAttempt(ctx context.Context, hospitalID uuid.UUID, orderID string) (*models.RenewalAttempt, error) {
	attempt, err := s.billingRepo.FindAttemptByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading renewal attempt")
	}
	if attempt == nil || attempt.HospitalID != hospitalID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no renewal attempt for this order")
	}
	return attempt, nil
}

func (s *service) duplicateResult(ctx context.Context, attempt *models.RenewalAttempt) *Result {
	s.metrics.IncVerificationDuplicate()
	s.logg.Info(ctx, fmt.Sprintf("duplicate verification for order %s ignored", stringValue(attempt.GatewayOrderID)))
	return &Result{Attempt: attempt, AlreadyProcessed: true}
}

func (s *service) releaseLease(ctx context.Context, lease *locks.Lease) {
	if err := lease.Release(ctx); err != nil {
		s.logg.Error(ctx, fmt.Sprintf("releasing lease %s", lease.Key()), err)
	}
}

func (p ConfirmParams) validate() error {
	if p.HospitalID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "hospital id is required")
	}
	if p.OrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if p.PaymentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if p.Signature == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "signature is required")
	}
	return nil
}

func appendFlag(flags []string, flag string) []string {
	for _, existing := range flags {
		if existing == flag {
			return flags
		}
	}
	return append(flags, flag)
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
