package enums

import "fmt"

// HospitalStatus gates whether a tenant may transact.
type HospitalStatus string

const (
	HospitalStatusActive    HospitalStatus = "active"
	HospitalStatusSuspended HospitalStatus = "suspended"
)

var validHospitalStatuses = []HospitalStatus{
	HospitalStatusActive,
	HospitalStatusSuspended,
}

// String implements fmt.Stringer.
func (h HospitalStatus) String() string {
	return string(h)
}

// IsValid reports whether the value is a known HospitalStatus.
func (h HospitalStatus) IsValid() bool {
	for _, candidate := range validHospitalStatuses {
		if candidate == h {
			return true
		}
	}
	return false
}

// ParseHospitalStatus converts raw input into a HospitalStatus.
func ParseHospitalStatus(value string) (HospitalStatus, error) {
	for _, candidate := range validHospitalStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid hospital status %q", value)
}
