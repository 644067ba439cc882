package models

import "github.com/google/uuid"

// ensureID assigns a client-side id so inserts do not depend on a database default.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// All lists every persisted model, in dependency order. Used by AutoMigrate in tests.
func All() []any {
	return []any{
		&Account{},
		&Listing{},
		&InventoryUnit{},
		&Order{},
		&LedgerEntry{},
		&PendingEarning{},
		&ReferralLink{},
		&OutboxEvent{},
	}
}
