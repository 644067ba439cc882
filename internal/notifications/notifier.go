// Package notifications dispatches fire-and-forget user notifications.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/pkg/enums"
	"github.com/keymarket/keymarket-backend/pkg/logger"
	"github.com/keymarket/keymarket-backend/pkg/outbox"
)

// Payload is the body attached to a notification.
type Payload struct {
	OrderID   *uuid.UUID       `json:"order_id,omitempty"`
	OrderCode string           `json:"order_code,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Status    string           `json:"status,omitempty"`
	Note      string           `json:"note,omitempty"`
}

// Notifier never reports failure to the caller; the triggering operation has
// already committed by the time it runs.
type Notifier interface {
	Notify(ctx context.Context, accountID uuid.UUID, kind enums.NotificationKind, payload Payload)
}

// OutboxNotifier queues notifications as outbox rows for the publisher.
type OutboxNotifier struct {
	db   *gorm.DB
	repo *outbox.Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewOutboxNotifier(conn *gorm.DB, repo *outbox.Repository, logg *logger.Logger) (*OutboxNotifier, error) {
	if conn == nil {
		return nil, fmt.Errorf("notifications db required")
	}
	if repo == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &OutboxNotifier{db: conn, repo: repo, logg: logg, now: time.Now}, nil
}

func (n *OutboxNotifier) Notify(ctx context.Context, accountID uuid.UUID, kind enums.NotificationKind, payload Payload) {
	fields := map[string]any{
		"account_id": accountID.String(),
		"kind":       kind.String(),
	}
	if payload.OrderID != nil {
		fields["order_id"] = payload.OrderID.String()
	}
	logCtx := n.logg.WithFields(ctx, fields)

	if accountID == uuid.Nil || !kind.IsValid() {
		n.logg.Warn(logCtx, "notification dropped: invalid recipient or kind")
		return
	}

	env, err := outbox.NewEvent(kind, accountID, payload.OrderID, payload, n.now())
	if err != nil {
		n.logg.Error(logCtx, "notification encode failed", err)
		return
	}
	if _, err := n.repo.Insert(ctx, n.db, env); err != nil {
		n.logg.Error(logCtx, "notification enqueue failed", err)
		return
	}
	n.logg.Debug(n.logg.WithField(logCtx, "event_id", env.EventID), "notification queued")
}

// LogNotifier only logs. Used when no outbox is wired.
type LogNotifier struct {
	logg *logger.Logger
}

func NewLogNotifier(logg *logger.Logger) *LogNotifier {
	if logg == nil {
		logg = logger.Nop()
	}
	return &LogNotifier{logg: logg}
}

func (n *LogNotifier) Notify(ctx context.Context, accountID uuid.UUID, kind enums.NotificationKind, payload Payload) {
	logCtx := n.logg.WithFields(ctx, map[string]any{
		"account_id": accountID.String(),
		"kind":       kind.String(),
		"order_code": payload.OrderCode,
	})
	n.logg.Info(logCtx, "notification")
}
