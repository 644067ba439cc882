package enums

import "fmt"

// InventoryUnitStatus maps to the inventory_unit_status enum in Postgres.
type InventoryUnitStatus string

const (
	InventoryUnitAvailable InventoryUnitStatus = "available"
	InventoryUnitReserved  InventoryUnitStatus = "reserved"
	InventoryUnitSold      InventoryUnitStatus = "sold"
)

var validInventoryUnitStatuses = []InventoryUnitStatus{
	InventoryUnitAvailable,
	InventoryUnitReserved,
	InventoryUnitSold,
}

func (s InventoryUnitStatus) String() string {
	return string(s)
}

func (s InventoryUnitStatus) IsValid() bool {
	for _, candidate := range validInventoryUnitStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseInventoryUnitStatus(value string) (InventoryUnitStatus, error) {
	for _, candidate := range validInventoryUnitStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inventory unit status %q", value)
}
