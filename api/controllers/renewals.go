package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medisync-labs/medisync-backend/api/middleware"
	"github.com/medisync-labs/medisync-backend/api/responses"
	"github.com/medisync-labs/medisync-backend/api/validators"
	"github.com/medisync-labs/medisync-backend/internal/pricing"
	renewalsvc "github.com/medisync-labs/medisync-backend/internal/renewals"
	"github.com/medisync-labs/medisync-backend/pkg/db/models"
	"github.com/medisync-labs/medisync-backend/pkg/enums"
	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
	"github.com/medisync-labs/medisync-backend/pkg/pagination"
)

type renewalRequest struct {
	DoctorCount  int    `json:"doctor_count" validate:"required,min=1"`
	BillingCycle string `json:"billing_cycle" validate:"required,oneof=monthly yearly"`
}

func (r renewalRequest) toInput(hospitalID uuid.UUID) (renewalsvc.RenewalInput, error) {
	cycle, err := enums.ParseBillingCycle(strings.TrimSpace(r.BillingCycle))
	if err != nil {
		return renewalsvc.RenewalInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid billing cycle")
	}
	return renewalsvc.RenewalInput{
		HospitalID:  hospitalID,
		DoctorCount: r.DoctorCount,
		Cycle:       cycle,
	}, nil
}

// RenewalInitiate creates a gateway order and a pending renewal attempt for
// the hospital in context. The response carries everything the dashboard needs
// to open the gateway checkout.
func RenewalInitiate(svc renewalsvc.Service, gatewayKeyID string, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "renewal service unavailable"))
			return
		}

		hospitalID, err := hospitalIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload renewalRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput(hospitalID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.InitiateRenewal(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Reused {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, newRenewalInitiateResponse(result, gatewayKeyID))
	}
}

// RenewalPreview prices a renewal without touching the gateway or the database.
func RenewalPreview(svc renewalsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "renewal service unavailable"))
			return
		}

		hospitalID, err := hospitalIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload renewalRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput(hospitalID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := svc.PreviewRenewal(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newQuoteResponse(quote))
	}
}

// RenewalGet returns one attempt scoped to the hospital in context.
func RenewalGet(svc renewalsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "renewal service unavailable"))
			return
		}

		hospitalID, err := hospitalIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		attemptID, err := uuid.Parse(chi.URLParam(r, "attemptID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid attempt id"))
			return
		}

		attempt, err := svc.GetAttempt(r.Context(), hospitalID, attemptID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newRenewalAttemptResponse(attempt))
	}
}

// RenewalHistory returns the cursor-paginated renewal audit trail.
func RenewalHistory(svc renewalsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "renewal service unavailable"))
			return
		}

		hospitalID, err := hospitalIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := renewalsvc.HistoryParams{Limit: limit}
		if cursor := strings.TrimSpace(r.URL.Query().Get("cursor")); cursor != "" {
			params.Cursor = cursor
		}

		if statusStr := strings.TrimSpace(r.URL.Query().Get("status")); statusStr != "" {
			status, err := enums.ParsePaymentStatus(statusStr)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			params.Status = &status
		}

		attempts, next, err := svc.ListHistory(r.Context(), hospitalID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]renewalAttemptResponse, 0, len(attempts))
		for i := range attempts {
			items = append(items, newRenewalAttemptResponse(&attempts[i]))
		}

		resp := renewalHistoryResponse{Attempts: items}
		if next != nil {
			cursor := pagination.EncodeCursor(*next)
			resp.NextCursor = &cursor
		}
		responses.WriteSuccess(w, resp)
	}
}

func hospitalIDFromContext(r *http.Request) (uuid.UUID, error) {
	raw := middleware.HospitalIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "hospital context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid hospital id")
	}
	return id, nil
}

type renewalInitiateResponse struct {
	Attempt  renewalAttemptResponse `json:"attempt"`
	Pricing  quoteResponse          `json:"pricing"`
	Reused   bool                   `json:"reused"`
	Checkout checkoutDetails        `json:"checkout"`
}

type checkoutDetails struct {
	KeyID          string `json:"key_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	AmountPaise    int64  `json:"amount_paise"`
	Currency       string `json:"currency"`
}

type renewalHistoryResponse struct {
	Attempts   []renewalAttemptResponse `json:"attempts"`
	NextCursor *string                  `json:"next_cursor,omitempty"`
}

type renewalAttemptResponse struct {
	ID                   uuid.UUID  `json:"id"`
	SubscriptionID       uuid.UUID  `json:"subscription_id"`
	GatewayOrderID       *string    `json:"gateway_order_id,omitempty"`
	GatewayPaymentID     *string    `json:"gateway_payment_id,omitempty"`
	Receipt              string     `json:"receipt"`
	DoctorCount          int        `json:"doctor_count"`
	BillingCycle         string     `json:"billing_cycle"`
	AmountPaise          int64      `json:"amount_paise"`
	BasePaise            int64      `json:"base_paise"`
	DiscountPaise        int64      `json:"discount_paise"`
	ProrationCreditPaise int64      `json:"proration_credit_paise"`
	PlatformFeePaise     int64      `json:"platform_fee_paise"`
	GSTPaise             int64      `json:"gst_paise"`
	Currency             string     `json:"currency"`
	PaymentStatus        string     `json:"payment_status"`
	FailureReason        *string    `json:"failure_reason,omitempty"`
	RequiresAdminReview  bool       `json:"requires_admin_review"`
	VerifiedAt           *time.Time `json:"verified_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

type quoteResponse struct {
	DoctorCount           int    `json:"doctor_count"`
	BillingCycle          string `json:"billing_cycle"`
	BasePaise             int64  `json:"base_paise"`
	VolumeDiscountPercent string `json:"volume_discount_percent"`
	VolumeDiscountPaise   int64  `json:"volume_discount_paise"`
	YearlyDiscountPaise   int64  `json:"yearly_discount_paise"`
	SubtotalPaise         int64  `json:"subtotal_paise"`
	ProrationCreditPaise  int64  `json:"proration_credit_paise"`
	PlatformFeePaise      int64  `json:"platform_fee_paise"`
	GSTPaise              int64  `json:"gst_paise"`
	PayablePaise          int64  `json:"payable_paise"`
	Currency              string `json:"currency"`
}

func newRenewalInitiateResponse(result *renewalsvc.RenewalResult, keyID string) renewalInitiateResponse {
	resp := renewalInitiateResponse{
		Attempt: newRenewalAttemptResponse(result.Attempt),
		Pricing: newQuoteResponse(result.Quote),
		Reused:  result.Reused,
	}
	resp.Checkout = checkoutDetails{
		KeyID:          keyID,
		GatewayOrderID: stringValue(result.Attempt.GatewayOrderID),
		AmountPaise:    result.Attempt.AmountPaise,
		Currency:       string(result.Attempt.Currency),
	}
	return resp
}

func newRenewalAttemptResponse(attempt *models.RenewalAttempt) renewalAttemptResponse {
	if attempt == nil {
		return renewalAttemptResponse{}
	}
	return renewalAttemptResponse{
		ID:                   attempt.ID,
		SubscriptionID:       attempt.SubscriptionID,
		GatewayOrderID:       attempt.GatewayOrderID,
		GatewayPaymentID:     attempt.GatewayPaymentID,
		Receipt:              attempt.Receipt,
		DoctorCount:          attempt.DoctorCount,
		BillingCycle:         string(attempt.Cycle),
		AmountPaise:          attempt.AmountPaise,
		BasePaise:            attempt.BasePaise,
		DiscountPaise:        attempt.DiscountPaise,
		ProrationCreditPaise: attempt.ProrationCreditPaise,
		PlatformFeePaise:     attempt.PlatformFeePaise,
		GSTPaise:             attempt.GSTPaise,
		Currency:             string(attempt.Currency),
		PaymentStatus:        string(attempt.PaymentStatus),
		FailureReason:        attempt.FailureReason,
		RequiresAdminReview:  attempt.RequiresAdminReview,
		VerifiedAt:           attempt.VerifiedAt,
		CreatedAt:            attempt.CreatedAt,
	}
}

func newQuoteResponse(quote *pricing.Quote) quoteResponse {
	if quote == nil {
		return quoteResponse{}
	}
	return quoteResponse{
		DoctorCount:           quote.DoctorCount,
		BillingCycle:          string(quote.Cycle),
		BasePaise:             quote.BasePaise,
		VolumeDiscountPercent: quote.VolumeDiscountPercent.String(),
		VolumeDiscountPaise:   quote.VolumeDiscountPaise,
		YearlyDiscountPaise:   quote.YearlyDiscountPaise,
		SubtotalPaise:         quote.SubtotalPaise,
		ProrationCreditPaise:  quote.ProrationCreditPaise,
		PlatformFeePaise:      quote.PlatformFeePaise,
		GSTPaise:              quote.GSTPaise,
		PayablePaise:          quote.PayablePaise,
		Currency:              string(quote.Currency),
	}
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
