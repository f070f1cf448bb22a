package enums

import "fmt"

// DoctorStatus tracks whether a doctor seat counts toward the subscription floor.
type DoctorStatus string

const (
	DoctorStatusActive   DoctorStatus = "active"
	DoctorStatusInactive DoctorStatus = "inactive"
)

var validDoctorStatuses = []DoctorStatus{
	DoctorStatusActive,
	DoctorStatusInactive,
}

// String implements fmt.Stringer.
func (d DoctorStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DoctorStatus.
func (d DoctorStatus) IsValid() bool {
	for _, candidate := range validDoctorStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDoctorStatus converts raw input into a DoctorStatus.
func ParseDoctorStatus(value string) (DoctorStatus, error) {
	for _, candidate := range validDoctorStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid doctor status %q", value)
}
