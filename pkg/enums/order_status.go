package enums

import "fmt"

// OrderStatus tracks the lifecycle of a marketplace order.
type OrderStatus string

const (
	OrderStatusAwaitingPayment      OrderStatus = "awaiting_payment"
	OrderStatusAwaitingConfirmation OrderStatus = "awaiting_confirmation"
	OrderStatusPaid                 OrderStatus = "paid"
	OrderStatusCancelled            OrderStatus = "cancelled"
	OrderStatusRefunded             OrderStatus = "refunded"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusAwaitingPayment,
	OrderStatusAwaitingConfirmation,
	OrderStatusPaid,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusAwaitingPayment:      {OrderStatusAwaitingConfirmation, OrderStatusCancelled},
	OrderStatusAwaitingConfirmation: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:                 {OrderStatusRefunded},
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no cancel or confirm can apply anymore.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// CanTransitionTo reports whether next is reachable from s in one step.
// Prepaid wallet orders are inserted as paid and never transition into it.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range orderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
