package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/pkg/enums"
)

// Order is a buyer's purchase of a listing.
type Order struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Code             string              `gorm:"column:code;not null;uniqueIndex"`
	BuyerID          uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null;index"`
	SellerID         uuid.UUID           `gorm:"column:seller_id;type:uuid;not null;index"`
	ListingID        uuid.UUID           `gorm:"column:listing_id;type:uuid;not null"`
	InventoryUnitID  *uuid.UUID          `gorm:"column:inventory_unit_id;type:uuid"`
	Quantity         int                 `gorm:"column:quantity;not null"`
	UnitPrice        decimal.Decimal     `gorm:"column:unit_price;type:numeric(18,2);not null"`
	TotalPrice       decimal.Decimal     `gorm:"column:total_price;type:numeric(18,2);not null"`
	PaymentMethod    enums.PaymentMethod `gorm:"column:payment_method;not null"`
	Status           enums.OrderStatus   `gorm:"column:status;not null;index"`
	DeliveredPayload *string             `gorm:"column:delivered_payload"`
	BuyerConfirmedAt *time.Time          `gorm:"column:buyer_confirmed_at"`
	PaidAt           *time.Time          `gorm:"column:paid_at"`
	CancelledAt      *time.Time          `gorm:"column:cancelled_at"`
	CancelReason     *string             `gorm:"column:cancel_reason"`
	RefundedAt       *time.Time          `gorm:"column:refunded_at"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}
