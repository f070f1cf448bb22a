package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medisync-labs/medisync-backend/internal/billing"
	"github.com/medisync-labs/medisync-backend/internal/verification"
	"github.com/medisync-labs/medisync-backend/pkg/db/models"
	"github.com/medisync-labs/medisync-backend/pkg/enums"
	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
	"github.com/medisync-labs/medisync-backend/pkg/pagination"
	"github.com/medisync-labs/medisync-backend/pkg/razorpay"
)

func TestReconcileRenewalsJob_failsAttemptWithoutOrder(t *testing.T) {
	helper := createReconcileJobTest(t)
	attempt := helper.addStaleAttempt("")

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	stored := helper.repo.attempts[attempt.ID]
	if stored.PaymentStatus != enums.PaymentStatusFailed {
		t.Fatalf("expected failed attempt, got %s", stored.PaymentStatus)
	}
	if stored.FailureReason == nil || *stored.FailureReason != enums.FailureReasonNoPaymentInitiated.String() {
		t.Fatalf("unexpected failure reason: %v", stored.FailureReason)
	}
	if len(helper.notifier.failures) != 1 || helper.notifier.failures[0] != enums.FailureReasonNoPaymentInitiated {
		t.Fatalf("unexpected failure notifications: %v", helper.notifier.failures)
	}
}

func TestReconcileRenewalsJob_settlesPaidOrder(t *testing.T) {
	helper := createReconcileJobTest(t)
	attempt := helper.addStaleAttempt("order_paid01")
	helper.gateway.orders["order_paid01"] = &razorpay.Order{ID: "order_paid01", Status: razorpay.OrderStatusPaid}
	helper.gateway.payments["order_paid01"] = []razorpay.Payment{
		{ID: "pay_dead01", Status: razorpay.PaymentStatusFailed},
		{ID: "pay_good01", Status: razorpay.PaymentStatusCaptured, AmountPaise: attempt.AmountPaise},
	}

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(helper.settler.calls) != 1 {
		t.Fatalf("expected 1 capture, got %d", len(helper.settler.calls))
	}
	call := helper.settler.calls[0]
	if call.hospitalID != attempt.HospitalID || call.orderID != "order_paid01" || call.paymentID != "pay_good01" {
		t.Fatalf("unexpected capture call: %+v", call)
	}
	if len(helper.notifier.failures) != 0 {
		t.Fatal("settled attempt must not notify failure")
	}
}

func TestReconcileRenewalsJob_timesOutUnpaidOrder(t *testing.T) {
	helper := createReconcileJobTest(t)
	attempt := helper.addStaleAttempt("order_unpaid01")
	helper.gateway.orders["order_unpaid01"] = &razorpay.Order{ID: "order_unpaid01", Status: razorpay.OrderStatusAttempted}

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	stored := helper.repo.attempts[attempt.ID]
	if stored.PaymentStatus != enums.PaymentStatusFailed {
		t.Fatalf("expected failed attempt, got %s", stored.PaymentStatus)
	}
	if stored.FailureReason == nil || *stored.FailureReason != enums.FailureReasonTimeoutUnpaid.String() {
		t.Fatalf("unexpected failure reason: %v", stored.FailureReason)
	}
	if len(helper.settler.calls) != 0 {
		t.Fatal("unpaid order must not reach the settler")
	}
}

func TestReconcileRenewalsJob_parksUnknownOrderStatus(t *testing.T) {
	helper := createReconcileJobTest(t)
	attempt := helper.addStaleAttempt("order_weird01")
	helper.gateway.orders["order_weird01"] = &razorpay.Order{ID: "order_weird01", Status: "under_dispute"}

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	stored := helper.repo.attempts[attempt.ID]
	if !stored.RequiresAdminReview {
		t.Fatal("unknown status must park the attempt for review")
	}
	if !hasReviewFlag(stored.ReviewFlags, enums.ReviewFlagUnknownOrderStatus) {
		t.Fatalf("missing review flag: %v", stored.ReviewFlags)
	}
	if stored.PaymentStatus != enums.PaymentStatusPending {
		t.Fatal("parked attempt must never be auto-failed")
	}
	if len(helper.notifier.reviews) != 1 {
		t.Fatalf("expected 1 review notification, got %d", len(helper.notifier.reviews))
	}
}

func TestReconcileRenewalsJob_parksWhenGatewayUnavailable(t *testing.T) {
	helper := createReconcileJobTest(t)
	attempt := helper.addStaleAttempt("order_dark01")
	helper.gateway.orderErr = pkgerrors.New(pkgerrors.CodeGatewayTimeout, "razorpay fetch_order timed out")

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	stored := helper.repo.attempts[attempt.ID]
	if !stored.RequiresAdminReview {
		t.Fatal("unreachable gateway must park the attempt, not fail it")
	}
	if !hasReviewFlag(stored.ReviewFlags, enums.ReviewFlagGatewayUnavailable) {
		t.Fatalf("missing review flag: %v", stored.ReviewFlags)
	}
	if stored.PaymentStatus != enums.PaymentStatusPending {
		t.Fatal("parked attempt must stay pending")
	}
}

func TestReconcileRenewalsJob_parksPaidOrderMissingCapture(t *testing.T) {
	helper := createReconcileJobTest(t)
	attempt := helper.addStaleAttempt("order_ghost01")
	helper.gateway.orders["order_ghost01"] = &razorpay.Order{ID: "order_ghost01", Status: razorpay.OrderStatusPaid}
	helper.gateway.payments["order_ghost01"] = []razorpay.Payment{
		{ID: "pay_dead02", Status: razorpay.PaymentStatusFailed},
	}

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	stored := helper.repo.attempts[attempt.ID]
	if !hasReviewFlag(stored.ReviewFlags, enums.ReviewFlagMissingCapturedPayment) {
		t.Fatalf("missing review flag: %v", stored.ReviewFlags)
	}
	if len(helper.settler.calls) != 0 {
		t.Fatal("settler must not run without a captured payment")
	}
}

func TestReconcileRenewalsJob_leavesAttemptWhenVerificationLeaseHeld(t *testing.T) {
	helper := createReconcileJobTest(t)
	attempt := helper.addStaleAttempt("order_racing01")
	helper.gateway.orders["order_racing01"] = &razorpay.Order{ID: "order_racing01", Status: razorpay.OrderStatusPaid}
	helper.gateway.payments["order_racing01"] = []razorpay.Payment{
		{ID: "pay_racing01", Status: razorpay.PaymentStatusCaptured, AmountPaise: attempt.AmountPaise},
	}
	helper.settler.err = pkgerrors.New(pkgerrors.CodeLockContention, "lease is held")

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("lease contention is not a sweep failure: %v", err)
	}

	stored := helper.repo.attempts[attempt.ID]
	if stored.PaymentStatus != enums.PaymentStatusPending {
		t.Fatal("contended attempt must be left for the callback")
	}
	if stored.RequiresAdminReview {
		t.Fatal("contended attempt must not be parked")
	}
}

func TestReconcileRenewalsJob_oneBadRowDoesNotStopSweep(t *testing.T) {
	helper := createReconcileJobTest(t)
	broken := helper.addStaleAttempt("")
	helper.repo.updateErrFor[broken.ID] = errors.New("connection reset")
	healthy := helper.addStaleAttempt("")

	err := helper.job.Run(context.Background())
	if err == nil {
		t.Fatal("expected the broken row's error to surface")
	}

	stored := helper.repo.attempts[healthy.ID]
	if stored.PaymentStatus != enums.PaymentStatusFailed {
		t.Fatal("later rows must still be swept after an earlier failure")
	}
}

func hasReviewFlag(flags []string, flag enums.ReviewFlag) bool {
	for _, f := range flags {
		if f == flag.String() {
			return true
		}
	}
	return false
}

type reconcileJobTestHelper struct {
	job      *reconcileRenewalsJob
	repo     *fakeReconcileRepo
	gateway  *fakeGatewayReader
	settler  *fakeSettler
	notifier *fakeRenewalNotifier
}

func (h *reconcileJobTestHelper) addStaleAttempt(orderID string) *models.RenewalAttempt {
	attempt := &models.RenewalAttempt{
		ID:             uuid.New(),
		SubscriptionID: uuid.New(),
		HospitalID:     uuid.New(),
		DoctorCount:    5,
		Cycle:          enums.BillingCycleMonthly,
		AmountPaise:    486210,
		Currency:       enums.CurrencyINR,
		PaymentStatus:  enums.PaymentStatusPending,
		CreatedAt:      time.Now().UTC().Add(-time.Hour),
	}
	if orderID != "" {
		attempt.GatewayOrderID = &orderID
	}
	h.repo.stale = append(h.repo.stale, *attempt)
	h.repo.attempts[attempt.ID] = attempt
	return attempt
}

func createReconcileJobTest(t *testing.T) *reconcileJobTestHelper {
	t.Helper()
	repo := &fakeReconcileRepo{
		attempts:     map[uuid.UUID]*models.RenewalAttempt{},
		updateErrFor: map[uuid.UUID]error{},
	}
	gateway := &fakeGatewayReader{
		orders:   map[string]*razorpay.Order{},
		payments: map[string][]razorpay.Payment{},
	}
	settler := &fakeSettler{}
	notifier := &fakeRenewalNotifier{}
	jobIface, err := NewReconcileRenewalsJob(ReconcileRenewalsJobParams{
		Logger:      logger.New(logger.Options{ServiceName: "test"}),
		DB:          fakeTxRunner{},
		BillingRepo: repo,
		Gateway:     gateway,
		Settler:     settler,
		Notifier:    notifier,
		StaleAfter:  30 * time.Minute,
		BatchSize:   100,
	})
	if err != nil {
		t.Fatalf("NewReconcileRenewalsJob: %v", err)
	}
	job, ok := jobIface.(*reconcileRenewalsJob)
	if !ok {
		t.Fatalf("expected reconcileRenewalsJob, got %T", jobIface)
	}
	return &reconcileJobTestHelper{
		job:      job,
		repo:     repo,
		gateway:  gateway,
		settler:  settler,
		notifier: notifier,
	}
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeGatewayReader struct {
	orders      map[string]*razorpay.Order
	orderErr    error
	payments    map[string][]razorpay.Payment
	paymentsErr error
}

func (f *fakeGatewayReader) FetchOrder(ctx context.Context, orderID string) (*razorpay.Order, error) {
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	order := f.orders[orderID]
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayAPI, "razorpay fetch_order failed")
	}
	return order, nil
}

func (f *fakeGatewayReader) FetchPaymentsForOrder(ctx context.Context, orderID string) ([]razorpay.Payment, error) {
	if f.paymentsErr != nil {
		return nil, f.paymentsErr
	}
	return f.payments[orderID], nil
}

type settlerCall struct {
	hospitalID uuid.UUID
	orderID    string
	paymentID  string
}

type fakeSettler struct {
	calls  []settlerCall
	err    error
	result *verification.Result
}

func (f *fakeSettler) ApplyCapture(ctx context.Context, hospitalID uuid.UUID, orderID string, payment *razorpay.Payment) (*verification.Result, error) {
	f.calls = append(f.calls, settlerCall{hospitalID: hospitalID, orderID: orderID, paymentID: payment.ID})
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &verification.Result{}, nil
}

type fakeRenewalNotifier struct {
	failures []enums.FailureReason
	reviews  []string
}

func (f *fakeRenewalNotifier) RenewalFailed(ctx context.Context, attempt *models.RenewalAttempt, reason enums.FailureReason) {
	f.failures = append(f.failures, reason)
}

func (f *fakeRenewalNotifier) AdminReview(ctx context.Context, attempt *models.RenewalAttempt, reason string) {
	f.reviews = append(f.reviews, reason)
}

type fakeReconcileRepo struct {
	stale        []models.RenewalAttempt
	attempts     map[uuid.UUID]*models.RenewalAttempt
	updateErrFor map[uuid.UUID]error
}

func (f *fakeReconcileRepo) WithTx(tx *gorm.DB) billing.Repository {
	return f
}

func (f *fakeReconcileRepo) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return errors.New("not implemented")
}

func (f *fakeReconcileRepo) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return errors.New("not implemented")
}

func (f *fakeReconcileRepo) FindSubscriptionByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeReconcileRepo) FindCurrentSubscription(ctx context.Context, hospitalID uuid.UUID) (*models.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeReconcileRepo) CreateAttempt(ctx context.Context, attempt *models.RenewalAttempt) error {
	return errors.New("not implemented")
}

func (f *fakeReconcileRepo) UpdateAttempt(ctx context.Context, attempt *models.RenewalAttempt) error {
	if err := f.updateErrFor[attempt.ID]; err != nil {
		return err
	}
	f.attempts[attempt.ID] = attempt
	return nil
}

func (f *fakeReconcileRepo) FindAttemptByID(ctx context.Context, id uuid.UUID) (*models.RenewalAttempt, error) {
	return f.attempts[id], nil
}

func (f *fakeReconcileRepo) FindAttemptByOrderID(ctx context.Context, gatewayOrderID string) (*models.RenewalAttempt, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeReconcileRepo) FindFreshPendingAttempt(ctx context.Context, subscriptionID uuid.UUID, notBefore time.Time) (*models.RenewalAttempt, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeReconcileRepo) ListStalePendingAttempts(ctx context.Context, cutoff time.Time, limit int) ([]models.RenewalAttempt, error) {
	return f.stale, nil
}

func (f *fakeReconcileRepo) ListAttempts(ctx context.Context, params billing.ListAttemptsQuery) ([]models.RenewalAttempt, *pagination.Cursor, error) {
	return nil, nil, errors.New("not implemented")
}
