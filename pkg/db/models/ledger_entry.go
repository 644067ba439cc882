package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/pkg/enums"
)

// LedgerEntry is an immutable balance-affecting event on one account.
type LedgerEntry struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	AccountID uuid.UUID             `gorm:"column:account_id;type:uuid;not null;index:idx_ledger_entries_account_created,priority:1"`
	Direction enums.LedgerDirection `gorm:"column:direction;not null"`
	Amount    decimal.Decimal       `gorm:"column:amount;type:numeric(18,2);not null"`
	Reason    enums.LedgerReason    `gorm:"column:reason;not null"`
	Note      *string               `gorm:"column:note"`
	OrderID   *uuid.UUID            `gorm:"column:order_id;type:uuid;index"`
	CreatedAt time.Time             `gorm:"column:created_at;autoCreateTime;index:idx_ledger_entries_account_created,priority:2"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

// Signed returns the amount with the entry's sign applied.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Direction == enums.LedgerDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}
