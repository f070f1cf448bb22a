package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/medisync-labs/medisync-backend/internal/billing"
	"github.com/medisync-labs/medisync-backend/internal/verification"
	"github.com/medisync-labs/medisync-backend/pkg/db/models"
	"github.com/medisync-labs/medisync-backend/pkg/enums"
	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
	"github.com/medisync-labs/medisync-backend/pkg/metrics"
	"github.com/medisync-labs/medisync-backend/pkg/razorpay"
)

const (
	defaultStaleAfter = 30 * time.Minute
	defaultBatchSize  = 100
)

// Reconcile outcome labels. Each swept attempt lands in exactly one.
const (
	outcomeNoPayment   = "no_payment_initiated"
	outcomeCaptured    = "captured"
	outcomeTimedOut    = "timeout_unpaid"
	outcomeAdminReview = "admin_review"
	outcomeSkipped     = "skipped"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gatewayReader interface {
	FetchOrder(ctx context.Context, orderID string) (*razorpay.Order, error)
	FetchPaymentsForOrder(ctx context.Context, orderID string) ([]razorpay.Payment, error)
}

type captureApplier interface {
	ApplyCapture(ctx context.Context, hospitalID uuid.UUID, orderID string, payment *razorpay.Payment) (*verification.Result, error)
}

type renewalNotifier interface {
	RenewalFailed(ctx context.Context, attempt *models.RenewalAttempt, reason enums.FailureReason)
	AdminReview(ctx context.Context, attempt *models.RenewalAttempt, reason string)
}

// ReconcileRenewalsJobParams configures the stale-renewal sweep.
type ReconcileRenewalsJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	BillingRepo billing.Repository
	Gateway     gatewayReader
	Settler     captureApplier
	Notifier    renewalNotifier
	Metrics     *metrics.PaymentMetrics
	StaleAfter  time.Duration
	BatchSize   int
	Now         func() time.Time
}

// NewReconcileRenewalsJob builds the sweep that settles renewal attempts the
// verification callback never reached.
func NewReconcileRenewalsJob(params ReconcileRenewalsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway reader required")
	}
	if params.Settler == nil {
		return nil, fmt.Errorf("capture applier required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &reconcileRenewalsJob{
		logg:        params.Logger,
		db:          params.DB,
		billingRepo: params.BillingRepo,
		gateway:     params.Gateway,
		settler:     params.Settler,
		notifier:    params.Notifier,
		metrics:     params.Metrics,
		staleAfter:  staleAfter,
		batchSize:   batchSize,
		now:         now,
	}, nil
}

type reconcileRenewalsJob struct {
	logg        *logger.Logger
	db          txRunner
	billingRepo billing.Repository
	gateway     gatewayReader
	settler     captureApplier
	notifier    renewalNotifier
	metrics     *metrics.PaymentMetrics
	staleAfter  time.Duration
	batchSize   int
	now         func() time.Time
}

func (j *reconcileRenewalsJob) Name() string { return "reconcile-renewals" }

func (j *reconcileRenewalsJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleAfter)
	attempts, err := j.billingRepo.ListStalePendingAttempts(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list stale pending attempts: %w", err)
	}

	var errs error
	resolved := 0
	for i := range attempts {
		outcome, err := j.reconcileAttempt(ctx, &attempts[i])
		j.metrics.IncReconcileOutcome(outcome)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("attempt %s: %w", attempts[i].ID, err))
			continue
		}
		resolved++
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(attempts),
		"resolved":   resolved,
	})
	j.logg.Info(reportCtx, "renewal reconcile loop complete")
	return errs
}

// reconcileAttempt settles one stale pending attempt and reports its outcome
// label. Gateway state wins every disagreement with the local row.
func (j *reconcileRenewalsJob) reconcileAttempt(ctx context.Context, attempt *models.RenewalAttempt) (string, error) {
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"attempt_id":  attempt.ID,
		"hospital_id": attempt.HospitalID,
	})

	if attempt.GatewayOrderID == nil || *attempt.GatewayOrderID == "" {
		if err := j.failAttempt(logCtx, attempt, enums.FailureReasonNoPaymentInitiated); err != nil {
			return outcomeSkipped, err
		}
		return outcomeNoPayment, nil
	}
	orderID := *attempt.GatewayOrderID

	order, err := j.gateway.FetchOrder(logCtx, orderID)
	if err != nil {
		return j.parkForReview(logCtx, attempt, enums.ReviewFlagGatewayUnavailable,
			fmt.Sprintf("order %s could not be fetched: %v", orderID, err))
	}

	switch order.Status {
	case razorpay.OrderStatusPaid:
		return j.settlePaidOrder(logCtx, attempt, orderID)
	case razorpay.OrderStatusCreated, razorpay.OrderStatusAttempted:
		if err := j.failAttempt(logCtx, attempt, enums.FailureReasonTimeoutUnpaid); err != nil {
			return outcomeSkipped, err
		}
		return outcomeTimedOut, nil
	default:
		return j.parkForReview(logCtx, attempt, enums.ReviewFlagUnknownOrderStatus,
			fmt.Sprintf("order %s has unrecognized status %q", orderID, order.Status))
	}
}

// settlePaidOrder funnels a paid order through the same gates the callback
// path uses, so the sweeper can never activate what verification would reject.
func (j *reconcileRenewalsJob) settlePaidOrder(ctx context.Context, attempt *models.RenewalAttempt, orderID string) (string, error) {
	payments, err := j.gateway.FetchPaymentsForOrder(ctx, orderID)
	if err != nil {
		return j.parkForReview(ctx, attempt, enums.ReviewFlagGatewayUnavailable,
			fmt.Sprintf("payments for order %s could not be fetched: %v", orderID, err))
	}

	captured := capturedPayment(payments)
	if captured == nil {
		return j.parkForReview(ctx, attempt, enums.ReviewFlagMissingCapturedPayment,
			fmt.Sprintf("order %s is paid but no captured payment was returned", orderID))
	}

	result, err := j.settler.ApplyCapture(ctx, attempt.HospitalID, orderID, captured)
	if err != nil {
		typed := pkgerrors.As(err)
		if typed != nil && typed.Code() == pkgerrors.CodeLockContention {
			// A live callback owns the hospital right now; it will settle the
			// attempt itself and the next sweep sees the terminal row.
			j.logg.Info(ctx, "verification lease held; leaving attempt for the callback")
			return outcomeSkipped, nil
		}
		if typed != nil && (typed.Code() == pkgerrors.CodeAmountMismatch || typed.Code() == pkgerrors.CodeAdminReview) {
			// ApplyCapture already parked the attempt for a human.
			return outcomeAdminReview, nil
		}
		return outcomeSkipped, fmt.Errorf("apply capture for order %s: %w", orderID, err)
	}
	if result.AlreadyProcessed {
		j.logg.Info(ctx, "attempt already settled by a competing verifier")
		return outcomeSkipped, nil
	}
	j.logg.Info(ctx, "recovered paid order the callback never confirmed")
	return outcomeCaptured, nil
}

func (j *reconcileRenewalsJob) failAttempt(ctx context.Context, attempt *models.RenewalAttempt, reason enums.FailureReason) error {
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.billingRepo.WithTx(tx)
		fresh, err := repo.FindAttemptByID(ctx, attempt.ID)
		if err != nil {
			return err
		}
		if fresh == nil || fresh.PaymentStatus != enums.PaymentStatusPending {
			return nil
		}
		reasonValue := reason.String()
		fresh.PaymentStatus = enums.PaymentStatusFailed
		fresh.FailureReason = &reasonValue
		if err := repo.UpdateAttempt(ctx, fresh); err != nil {
			return err
		}
		*attempt = *fresh
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail attempt as %s: %w", reason, err)
	}
	if j.notifier != nil {
		j.notifier.RenewalFailed(ctx, attempt, reason)
	}
	j.logg.Info(j.logg.WithField(ctx, "failure_reason", reason.String()), "stale attempt closed")
	return nil
}

// parkForReview flags the attempt for a human. Anomalies are never auto-failed:
// money may have moved even when the gateway cannot tell us cleanly.
func (j *reconcileRenewalsJob) parkForReview(ctx context.Context, attempt *models.RenewalAttempt, flag enums.ReviewFlag, reason string) (string, error) {
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.billingRepo.WithTx(tx)
		fresh, err := repo.FindAttemptByID(ctx, attempt.ID)
		if err != nil {
			return err
		}
		if fresh == nil {
			return nil
		}
		fresh.RequiresAdminReview = true
		fresh.ReviewReason = &reason
		fresh.ReviewFlags = appendReviewFlag(fresh.ReviewFlags, flag.String())
		if err := repo.UpdateAttempt(ctx, fresh); err != nil {
			return err
		}
		*attempt = *fresh
		return nil
	})
	if err != nil {
		return outcomeSkipped, fmt.Errorf("park attempt for review: %w", err)
	}
	if j.notifier != nil {
		j.notifier.AdminReview(ctx, attempt, reason)
	}
	j.logg.Info(j.logg.WithField(ctx, "review_flag", flag.String()), "attempt parked for admin review")
	return outcomeAdminReview, nil
}

func capturedPayment(payments []razorpay.Payment) *razorpay.Payment {
	for i := range payments {
		if payments[i].Captured() {
			return &payments[i]
		}
	}
	return nil
}

func appendReviewFlag(flags []string, flag string) []string {
	for _, existing := range flags {
		if existing == flag {
			return flags
		}
	}
	return append(flags, flag)
}
