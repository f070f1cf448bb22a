package enums

import "fmt"

// StaffRole represents a hospital-level permissions role.
type StaffRole string

const (
	StaffRoleOwner     StaffRole = "owner"
	StaffRoleAdmin     StaffRole = "admin"
	StaffRoleBilling   StaffRole = "billing"
	StaffRoleDoctor    StaffRole = "doctor"
	StaffRoleFrontdesk StaffRole = "frontdesk"
)

var validStaffRoles = []StaffRole{
	StaffRoleOwner,
	StaffRoleAdmin,
	StaffRoleBilling,
	StaffRoleDoctor,
	StaffRoleFrontdesk,
}

// String implements fmt.Stringer.
func (s StaffRole) String() string {
	return string(s)
}

// IsValid reports whether the value is a known StaffRole.
func (s StaffRole) IsValid() bool {
	for _, candidate := range validStaffRoles {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseStaffRole converts raw input into a StaffRole.
func ParseStaffRole(value string) (StaffRole, error) {
	for _, candidate := range validStaffRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid staff role %q", value)
}
