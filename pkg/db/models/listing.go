package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/pkg/enums"
)

// Listing is a sellable product definition. DeliveryContent is what an
// unlimited listing hands every buyer, typically a download link.
type Listing struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	SellerID        uuid.UUID             `gorm:"column:seller_id;type:uuid;not null;index"`
	Title           string                `gorm:"column:title;not null"`
	Category        enums.ListingCategory `gorm:"column:category;not null"`
	UnitPrice       decimal.Decimal       `gorm:"column:unit_price;type:numeric(18,2);not null"`
	AvailableCount  int                   `gorm:"column:available_count;not null;default:0"`
	Status          enums.ListingStatus   `gorm:"column:status;not null"`
	DeliveryContent *string               `gorm:"column:delivery_content"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *Listing) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}

// IsDiscrete reports whether availability is tracked for the listing.
func (l *Listing) IsDiscrete() bool {
	return l != nil && l.Category == enums.ListingCategoryDiscrete
}
