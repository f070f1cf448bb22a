package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/medisync-labs/medisync-backend/pkg/enums"
)

// Subscription is the current paid term for a hospital. One active row per
// hospital; renewals extend it in place once payment is verified.
type Subscription struct {
	ID          uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	HospitalID  uuid.UUID                `gorm:"column:hospital_id;type:uuid;not null;index"`
	DoctorCount int                      `gorm:"column:doctor_count;not null"`
	Cycle       enums.BillingCycle       `gorm:"column:cycle;type:billing_cycle;not null;default:'monthly'"`
	Status      enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'pending'"`
	PricePaise  int64                    `gorm:"column:price_paise;not null"`
	Currency    enums.Currency           `gorm:"column:currency;not null;default:'INR'"`
	StartsAt    time.Time                `gorm:"column:starts_at;not null"`
	EndsAt      time.Time                `gorm:"column:ends_at;not null;index"`
	AutoRenew   bool                     `gorm:"column:auto_renew;not null;default:false"`
	CreatedAt   time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
