package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/pkg/enums"
)

// InventoryUnit is one deliverable secret belonging to a discrete listing.
type InventoryUnit struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	ListingID     uuid.UUID                 `gorm:"column:listing_id;type:uuid;not null;index:idx_inventory_units_listing_status,priority:1"`
	Payload       string                    `gorm:"column:payload;not null"`
	Fingerprint   string                    `gorm:"column:fingerprint;not null;uniqueIndex:idx_inventory_units_fingerprint"`
	Status        enums.InventoryUnitStatus `gorm:"column:status;not null;index:idx_inventory_units_listing_status,priority:2"`
	ReservedUntil *time.Time                `gorm:"column:reserved_until"`
	OrderID       *uuid.UUID                `gorm:"column:order_id;type:uuid;index"`
	SoldAt        *time.Time                `gorm:"column:sold_at"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *InventoryUnit) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
