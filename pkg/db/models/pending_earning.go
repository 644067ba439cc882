package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/pkg/enums"
)

// PendingEarning holds a seller's net proceeds until the release window passes.
type PendingEarning struct {
	ID         uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	SellerID   uuid.UUID                  `gorm:"column:seller_id;type:uuid;not null;index"`
	OrderID    uuid.UUID                  `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	Amount     decimal.Decimal            `gorm:"column:amount;type:numeric(18,2);not null"`
	Status     enums.PendingEarningStatus `gorm:"column:status;not null;index:idx_pending_earnings_status_release,priority:1"`
	ReleaseAt  time.Time                  `gorm:"column:release_at;not null;index:idx_pending_earnings_status_release,priority:2"`
	ReleasedAt *time.Time                 `gorm:"column:released_at"`
	Note       *string                    `gorm:"column:note"`
	CreatedAt  time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PendingEarning) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
