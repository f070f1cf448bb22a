package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/medisync-labs/medisync-backend/pkg/enums"
)

// RenewalAttempt is the append-only audit row for one renewal payment flow.
// Pending rows are the sweeper's work queue; success and failed rows are
// terminal and never resurrected.
type RenewalAttempt struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID       uuid.UUID           `gorm:"column:subscription_id;type:uuid;not null;index"`
	HospitalID           uuid.UUID           `gorm:"column:hospital_id;type:uuid;not null;index"`
	GatewayOrderID       *string             `gorm:"column:gateway_order_id;unique"`
	GatewayPaymentID     *string             `gorm:"column:gateway_payment_id"`
	Receipt              string              `gorm:"column:receipt;not null"`
	DoctorCount          int                 `gorm:"column:doctor_count;not null"`
	Cycle                enums.BillingCycle  `gorm:"column:cycle;type:billing_cycle;not null"`
	AmountPaise          int64               `gorm:"column:amount_paise;not null"`
	BasePaise            int64               `gorm:"column:base_paise;not null"`
	DiscountPaise        int64               `gorm:"column:discount_paise;not null;default:0"`
	ProrationCreditPaise int64               `gorm:"column:proration_credit_paise;not null;default:0"`
	PlatformFeePaise     int64               `gorm:"column:platform_fee_paise;not null;default:0"`
	GSTPaise             int64               `gorm:"column:gst_paise;not null;default:0"`
	Currency             enums.Currency      `gorm:"column:currency;not null;default:'INR'"`
	PaymentStatus        enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'pending';index:idx_renewal_attempts_status_created"`
	FailureReason        *string             `gorm:"column:failure_reason"`
	RequiresAdminReview  bool                `gorm:"column:requires_admin_review;not null;default:false"`
	ReviewReason         *string             `gorm:"column:review_reason"`
	ReviewFlags          pq.StringArray      `gorm:"column:review_flags;type:text[]"`
	GatewayResponse      json.RawMessage     `gorm:"column:gateway_response;type:jsonb"`
	VerifiedAt           *time.Time          `gorm:"column:verified_at"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime;index:idx_renewal_attempts_status_created"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
