package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/medisync-labs/medisync-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID     uuid.UUID
	HospitalID uuid.UUID
	Role       enums.StaffRole
	JTI        string
}

// AccessTokenClaims represents the typed JWT issued to hospital staff.
type AccessTokenClaims struct {
	UserID     uuid.UUID       `json:"user_id"`
	HospitalID uuid.UUID       `json:"hospital_id"`
	Role       enums.StaffRole `json:"role"`
	jwt.RegisteredClaims
}
