package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/medisync-labs/medisync-backend/pkg/enums"
)

// Doctor is a provisioned seat on a hospital's roster. Active rows set the
// floor for how many seats a renewal must cover.
type Doctor struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	HospitalID uuid.UUID          `gorm:"column:hospital_id;type:uuid;not null;index"`
	FullName   string             `gorm:"column:full_name;not null"`
	Specialty  *string            `gorm:"column:specialty"`
	Status     enums.DoctorStatus `gorm:"column:status;type:doctor_status;not null;default:'active'"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
