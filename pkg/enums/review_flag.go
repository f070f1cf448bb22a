package enums

import "fmt"

// ReviewFlag classifies why a renewal attempt was parked for admin review
// instead of being auto-resolved. Flags double as metric label values.
type ReviewFlag string

const (
	ReviewFlagAmountMismatch         ReviewFlag = "amount_mismatch"
	ReviewFlagUnknownOrderStatus     ReviewFlag = "unknown_order_status"
	ReviewFlagGatewayUnavailable     ReviewFlag = "gateway_unavailable"
	ReviewFlagMissingCapturedPayment ReviewFlag = "missing_captured_payment"
	ReviewFlagCapturedAfterFailure   ReviewFlag = "captured_after_failure"
)

var validReviewFlags = []ReviewFlag{
	ReviewFlagAmountMismatch,
	ReviewFlagUnknownOrderStatus,
	ReviewFlagGatewayUnavailable,
	ReviewFlagMissingCapturedPayment,
	ReviewFlagCapturedAfterFailure,
}

// String implements fmt.Stringer.
func (r ReviewFlag) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReviewFlag.
func (r ReviewFlag) IsValid() bool {
	for _, candidate := range validReviewFlags {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReviewFlag converts raw input into a ReviewFlag.
func ParseReviewFlag(value string) (ReviewFlag, error) {
	for _, candidate := range validReviewFlags {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid review flag %q", value)
}
