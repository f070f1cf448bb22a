package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/medisync-labs/medisync-backend/api/responses"
	"github.com/medisync-labs/medisync-backend/internal/subscriptions"
	"github.com/medisync-labs/medisync-backend/pkg/db/models"
	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
)

// SubscriptionCurrent returns the hospital's newest subscription row, served
// from cache when warm.
func SubscriptionCurrent(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		hospitalID, err := hospitalIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.GetCurrent(r.Context(), hospitalID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

type subscriptionResponse struct {
	ID           uuid.UUID `json:"id"`
	HospitalID   uuid.UUID `json:"hospital_id"`
	DoctorCount  int       `json:"doctor_count"`
	BillingCycle string    `json:"billing_cycle"`
	Status       string    `json:"status"`
	PricePaise   int64     `json:"price_paise"`
	Currency     string    `json:"currency"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	AutoRenew    bool      `json:"auto_renew"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newSubscriptionResponse(sub *models.Subscription) *subscriptionResponse {
	if sub == nil {
		return nil
	}
	return &subscriptionResponse{
		ID:           sub.ID,
		HospitalID:   sub.HospitalID,
		DoctorCount:  sub.DoctorCount,
		BillingCycle: string(sub.Cycle),
		Status:       string(sub.Status),
		PricePaise:   sub.PricePaise,
		Currency:     string(sub.Currency),
		StartsAt:     sub.StartsAt,
		EndsAt:       sub.EndsAt,
		AutoRenew:    sub.AutoRenew,
		CreatedAt:    sub.CreatedAt,
		UpdatedAt:    sub.UpdatedAt,
	}
}
