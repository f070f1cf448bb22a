package controllers

import (
	"net/http"
	"strings"

	"github.com/medisync-labs/medisync-backend/api/responses"
	"github.com/medisync-labs/medisync-backend/api/validators"
	"github.com/medisync-labs/medisync-backend/internal/verification"
	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
)

// Field names mirror what the Razorpay checkout widget posts back.
type verifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

// PaymentVerify confirms a checkout callback and activates the renewal.
func PaymentVerify(svc verification.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}

		hospitalID, err := hospitalIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload verifyPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ConfirmPayment(r.Context(), verification.ConfirmParams{
			HospitalID: hospitalID,
			OrderID:    strings.TrimSpace(payload.OrderID),
			PaymentID:  strings.TrimSpace(payload.PaymentID),
			Signature:  strings.TrimSpace(payload.Signature),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, verifyPaymentResponse{
			Attempt:          newRenewalAttemptResponse(result.Attempt),
			Subscription:     newSubscriptionResponse(result.Subscription),
			AlreadyProcessed: result.AlreadyProcessed,
		})
	}
}

type verifyPaymentResponse struct {
	Attempt          renewalAttemptResponse `json:"attempt"`
	Subscription     *subscriptionResponse  `json:"subscription,omitempty"`
	AlreadyProcessed bool                   `json:"already_processed"`
}
