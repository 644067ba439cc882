package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// outboxPurger removes queued notifications for an order being purged.
type outboxPurger interface {
	DeleteByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
}
