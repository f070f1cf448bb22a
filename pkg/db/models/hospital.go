package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/medisync-labs/medisync-backend/pkg/enums"
)

// Hospital is a tenant on the platform.
type Hospital struct {
	ID        uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string               `gorm:"column:name;not null"`
	Email     string               `gorm:"column:email;not null;unique"`
	Phone     string               `gorm:"column:phone"`
	City      string               `gorm:"column:city"`
	State     string               `gorm:"column:state"`
	Status    enums.HospitalStatus `gorm:"column:status;type:hospital_status;not null;default:'active'"`
	CreatedAt time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
