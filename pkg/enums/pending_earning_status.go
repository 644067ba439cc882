package enums

import "fmt"

// PendingEarningStatus tracks a held seller payout.
type PendingEarningStatus string

const (
	PendingEarningPending   PendingEarningStatus = "pending"
	PendingEarningReleased  PendingEarningStatus = "released"
	PendingEarningCancelled PendingEarningStatus = "cancelled"
)

var validPendingEarningStatuses = []PendingEarningStatus{
	PendingEarningPending,
	PendingEarningReleased,
	PendingEarningCancelled,
}

func (s PendingEarningStatus) String() string {
	return string(s)
}

func (s PendingEarningStatus) IsValid() bool {
	for _, candidate := range validPendingEarningStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePendingEarningStatus converts raw input into a PendingEarningStatus.
func ParsePendingEarningStatus(value string) (PendingEarningStatus, error) {
	for _, candidate := range validPendingEarningStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid pending earning status %q", value)
}
