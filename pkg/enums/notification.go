package enums

import "fmt"

// NotificationKind identifies what a notify call is about.
type NotificationKind string

const (
	NotificationOrderCreated       NotificationKind = "order_created"
	NotificationOrderPaid          NotificationKind = "order_paid"
	NotificationOrderDelivered     NotificationKind = "order_delivered"
	NotificationPaymentClaimed     NotificationKind = "payment_claimed"
	NotificationOrderCancelled     NotificationKind = "order_cancelled"
	NotificationOrderExpired       NotificationKind = "order_expired"
	NotificationOrderRefunded      NotificationKind = "order_refunded"
	NotificationEarningReleased    NotificationKind = "earning_released"
	NotificationEarningCancelled   NotificationKind = "earning_cancelled"
	NotificationReferralCommission NotificationKind = "referral_commission"
)

var validNotificationKinds = []NotificationKind{
	NotificationOrderCreated,
	NotificationOrderPaid,
	NotificationOrderDelivered,
	NotificationPaymentClaimed,
	NotificationOrderCancelled,
	NotificationOrderExpired,
	NotificationOrderRefunded,
	NotificationEarningReleased,
	NotificationEarningCancelled,
	NotificationReferralCommission,
}

func (k NotificationKind) String() string {
	return string(k)
}

// IsValid reports whether the value matches the notification_kind enum.
func (k NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}
