package enums

import "fmt"

// NotificationType identifies the template a published notification event maps to.
type NotificationType string

const (
	NotificationTypeRenewalReceipt  NotificationType = "renewal_receipt"
	NotificationTypeRenewalFailed   NotificationType = "renewal_failed"
	NotificationTypeAdminReview     NotificationType = "admin_review"
	NotificationTypeDependencyAlert NotificationType = "dependency_alert"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeRenewalReceipt,
	NotificationTypeRenewalFailed,
	NotificationTypeAdminReview,
	NotificationTypeDependencyAlert,
}

func (n NotificationType) String() string {
	return string(n)
}

// IsValid checks whether the given type matches the canonical enum.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw strings into NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
