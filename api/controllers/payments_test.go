package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medisync-labs/medisync-backend/api/middleware"
	"github.com/medisync-labs/medisync-backend/internal/verification"
	"github.com/medisync-labs/medisync-backend/pkg/db/models"
	"github.com/medisync-labs/medisync-backend/pkg/enums"
	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/razorpay"
)

type stubVerificationService struct {
	result *verification.Result
	err    error

	lastParams verification.ConfirmParams
}

func (s *stubVerificationService) ConfirmPayment(ctx context.Context, params verification.ConfirmParams) (*verification.Result, error) {
	s.lastParams = params
	return s.result, s.err
}

func (s *stubVerificationService) ApplyCapture(ctx context.Context, hospitalID uuid.UUID, orderID string, payment *razorpay.Payment) (*verification.Result, error) {
	return s.result, s.err
}

func TestPaymentVerifyActivatesSubscription(t *testing.T) {
	t.Parallel()

	hospitalID := uuid.New()
	attempt := testAttempt(hospitalID, "order_verify")
	attempt.PaymentStatus = enums.PaymentStatusSuccess
	subscription := &models.Subscription{
		ID:          uuid.New(),
		HospitalID:  hospitalID,
		DoctorCount: 12,
		Cycle:       enums.BillingCycleMonthly,
		Status:      enums.SubscriptionStatusActive,
		PricePaise:  attempt.AmountPaise,
		Currency:    enums.CurrencyINR,
		StartsAt:    time.Now().UTC(),
		EndsAt:      time.Now().UTC().AddDate(0, 1, 0),
		AutoRenew:   true,
	}
	service := &stubVerificationService{
		result: &verification.Result{Attempt: attempt, Subscription: subscription},
	}
	handler := PaymentVerify(service, nil)

	body := `{"razorpay_order_id":" order_verify ","razorpay_payment_id":"pay_123","razorpay_signature":"deadbeef"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.WithHospitalID(req.Context(), hospitalID.String()))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}
	if service.lastParams.OrderID != "order_verify" {
		t.Fatalf("expected trimmed order id, got %q", service.lastParams.OrderID)
	}
	if service.lastParams.HospitalID != hospitalID {
		t.Fatalf("expected tenant from context, got %s", service.lastParams.HospitalID)
	}

	var envelope struct {
		Data verifyPaymentResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Attempt.PaymentStatus != string(enums.PaymentStatusSuccess) {
		t.Fatalf("expected settled attempt, got %s", envelope.Data.Attempt.PaymentStatus)
	}
	if envelope.Data.Subscription == nil || envelope.Data.Subscription.Status != string(enums.SubscriptionStatusActive) {
		t.Fatalf("expected active subscription in response: %+v", envelope.Data.Subscription)
	}
}

func TestPaymentVerifyDuplicateOmitsSubscription(t *testing.T) {
	t.Parallel()

	hospitalID := uuid.New()
	attempt := testAttempt(hospitalID, "order_dup")
	attempt.PaymentStatus = enums.PaymentStatusSuccess
	service := &stubVerificationService{
		result: &verification.Result{Attempt: attempt, AlreadyProcessed: true},
	}
	handler := PaymentVerify(service, nil)

	body := `{"razorpay_order_id":"order_dup","razorpay_payment_id":"pay_123","razorpay_signature":"deadbeef"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.WithHospitalID(req.Context(), hospitalID.String()))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, present := envelope.Data["subscription"]; present {
		t.Fatalf("expected subscription omitted on duplicate callback")
	}

	var already bool
	if err := json.Unmarshal(envelope.Data["already_processed"], &already); err != nil || !already {
		t.Fatalf("expected already_processed true, got %s", envelope.Data["already_processed"])
	}
}

func TestPaymentVerifyBadSignature(t *testing.T) {
	t.Parallel()

	service := &stubVerificationService{
		err: pkgerrors.New(pkgerrors.CodeSignatureMismatch, "payment signature verification failed"),
	}
	handler := PaymentVerify(service, nil)

	body := `{"razorpay_order_id":"order_sig","razorpay_payment_id":"pay_123","razorpay_signature":"bad"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.WithHospitalID(req.Context(), uuid.NewString()))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestPaymentVerifyRequiresCallbackFields(t *testing.T) {
	t.Parallel()

	handler := PaymentVerify(&stubVerificationService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify", strings.NewReader(`{"razorpay_order_id":"order_only"}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.WithHospitalID(req.Context(), uuid.NewString()))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
