package hospitals

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medisync-labs/medisync-backend/pkg/db/models"
	"github.com/medisync-labs/medisync-backend/pkg/enums"
)

// Repository handles hospital and doctor persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindHospitalByID(ctx context.Context, id uuid.UUID) (*models.Hospital, error)
	CountActiveDoctors(ctx context.Context, hospitalID uuid.UUID) (int, error)
	CreateHospital(ctx context.Context, hospital *models.Hospital) error
	CreateDoctor(ctx context.Context, doctor *models.Doctor) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a hospital repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindHospitalByID(ctx context.Context, id uuid.UUID) (*models.Hospital, error) {
	var hospital models.Hospital
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&hospital).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &hospital, nil
}

// CountActiveDoctors returns the current staffing floor for renewals.
func (r *repository) CountActiveDoctors(ctx context.Context, hospitalID uuid.UUID) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Doctor{}).
		Where("hospital_id = ?", hospitalID).
		Where("status = ?", enums.DoctorStatusActive).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (r *repository) CreateHospital(ctx context.Context, hospital *models.Hospital) error {
	return r.db.WithContext(ctx).Create(hospital).Error
}

func (r *repository) CreateDoctor(ctx context.Context, doctor *models.Doctor) error {
	return r.db.WithContext(ctx).Create(doctor).Error
}
