package enums

import "fmt"

// FailureReason records why a renewal attempt reached the failed state.
type FailureReason string

const (
	// FailureReasonNoPaymentInitiated marks stale attempts that never got a
	// gateway order created.
	FailureReasonNoPaymentInitiated FailureReason = "NO_PAYMENT_INITIATED"
	// FailureReasonTimeoutUnpaid marks stale attempts whose order exists but was
	// never paid within the staleness window.
	FailureReasonTimeoutUnpaid FailureReason = "TIMEOUT_UNPAID"
	// FailureReasonPaymentFailed marks attempts the gateway reported a failed
	// payment for.
	FailureReasonPaymentFailed FailureReason = "PAYMENT_FAILED"
)

var validFailureReasons = []FailureReason{
	FailureReasonNoPaymentInitiated,
	FailureReasonTimeoutUnpaid,
	FailureReasonPaymentFailed,
}

// String implements fmt.Stringer.
func (f FailureReason) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FailureReason.
func (f FailureReason) IsValid() bool {
	for _, candidate := range validFailureReasons {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFailureReason converts raw input into a FailureReason.
func ParseFailureReason(value string) (FailureReason, error) {
	for _, candidate := range validFailureReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid failure reason %q", value)
}
