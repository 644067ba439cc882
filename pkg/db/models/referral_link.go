package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReferralLink ties a referred user to the user who referred them.
// Rate is nullable; a missing or invalid value falls back to the default rate.
type ReferralLink struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	ReferrerID  uuid.UUID        `gorm:"column:referrer_id;type:uuid;not null;index"`
	ReferredID  uuid.UUID        `gorm:"column:referred_id;type:uuid;not null;uniqueIndex"`
	Rate        *decimal.Decimal `gorm:"column:rate;type:numeric(5,4)"`
	EarnedTotal decimal.Decimal  `gorm:"column:earned_total;type:numeric(18,2);not null;default:0"`
	Active      bool             `gorm:"column:active;not null;default:true"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *ReferralLink) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
