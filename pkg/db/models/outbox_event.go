package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/pkg/enums"
)

// OutboxEvent is a notification waiting to be published.
type OutboxEvent struct {
	ID           uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	Kind         enums.NotificationKind `gorm:"column:kind;not null"`
	AccountID    uuid.UUID              `gorm:"column:account_id;type:uuid;not null"`
	OrderID      *uuid.UUID             `gorm:"column:order_id;type:uuid;index"`
	Payload      json.RawMessage        `gorm:"column:payload;not null"`
	CreatedAt    time.Time              `gorm:"column:created_at;autoCreateTime;index"`
	PublishedAt  *time.Time             `gorm:"column:published_at"`
	AttemptCount int                    `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string                `gorm:"column:last_error"`
}

func (e *OutboxEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
