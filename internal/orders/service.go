package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/internal/audit"
	"github.com/keymarket/keymarket-backend/internal/commission"
	"github.com/keymarket/keymarket-backend/internal/earnings"
	"github.com/keymarket/keymarket-backend/internal/inventory"
	"github.com/keymarket/keymarket-backend/internal/ledger"
	"github.com/keymarket/keymarket-backend/internal/listings"
	"github.com/keymarket/keymarket-backend/internal/notifications"
	"github.com/keymarket/keymarket-backend/internal/referrals"
	"github.com/keymarket/keymarket-backend/pkg/db"
	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
	"github.com/keymarket/keymarket-backend/pkg/logger"
	"github.com/keymarket/keymarket-backend/pkg/metrics"
	"github.com/keymarket/keymarket-backend/pkg/pagination"
)

const (
	DefaultPaymentWindow      = 30 * time.Minute
	DefaultConfirmationWindow = 24 * time.Hour

	expiredReason  = "expired"
	refundedNote   = "refunded"
	maxQuantity    = 100
	payloadDivider = "\n"
)

// Service drives an order through its lifecycle. Every status change is a
// conditional update against the status the caller observed.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	ConfirmPayment(ctx context.Context, orderID, buyerID uuid.UUID) (*models.Order, error)
	AdminConfirm(ctx context.Context, orderID, adminID uuid.UUID) (*models.Order, error)
	AdminCancel(ctx context.Context, orderID, adminID uuid.UUID, reason string) (*models.Order, error)
	Refund(ctx context.Context, orderID, adminID uuid.UUID, reason string) (*models.Order, error)
	Purge(ctx context.Context, orderID, adminID uuid.UUID) error
	Expire(ctx context.Context, orderID uuid.UUID) (bool, error)
	ListExpirable(ctx context.Context, limit int) ([]uuid.UUID, error)
	Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error)
	ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error)
}

type ServiceParams struct {
	DB                 *gorm.DB
	Repo               Repository
	Listings           listings.Service
	Inventory          inventory.Allocator
	Ledger             ledger.Service
	Earnings           earnings.Service
	Referrals          referrals.Service
	Outbox             outboxPurger
	Notifier           notifications.Notifier
	Audit              audit.Recorder
	Metrics            *metrics.MarketMetrics
	Logger             *logger.Logger
	Policy             commission.Policy
	PlatformAccountID  uuid.UUID
	PaymentWindow      time.Duration
	ConfirmationWindow time.Duration
	Now                func() time.Time
}

type service struct {
	db                 *gorm.DB
	repo               Repository
	listings           listings.Service
	inventory          inventory.Allocator
	ledger             ledger.Service
	earnings           earnings.Service
	referrals          referrals.Service
	outbox             outboxPurger
	notifier           notifications.Notifier
	audit              audit.Recorder
	metrics            *metrics.MarketMetrics
	logg               *logger.Logger
	policy             commission.Policy
	platformAccount    uuid.UUID
	paymentWindow      time.Duration
	confirmationWindow time.Duration
	now                func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.DB == nil:
		return nil, fmt.Errorf("orders db required")
	case params.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Listings == nil:
		return nil, fmt.Errorf("listings service required")
	case params.Inventory == nil:
		return nil, fmt.Errorf("inventory allocator required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case params.Earnings == nil:
		return nil, fmt.Errorf("earnings service required")
	case params.Referrals == nil:
		return nil, fmt.Errorf("referrals service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox repository required")
	case params.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case params.Audit == nil:
		return nil, fmt.Errorf("audit recorder required")
	}

	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	paymentWindow := params.PaymentWindow
	if paymentWindow <= 0 {
		paymentWindow = DefaultPaymentWindow
	}
	confirmationWindow := params.ConfirmationWindow
	if confirmationWindow <= 0 {
		confirmationWindow = DefaultConfirmationWindow
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &service{
		db:                 params.DB,
		repo:               params.Repo,
		listings:           params.Listings,
		inventory:          params.Inventory,
		ledger:             params.Ledger,
		earnings:           params.Earnings,
		referrals:          params.Referrals,
		outbox:             params.Outbox,
		notifier:           params.Notifier,
		audit:              params.Audit,
		metrics:            params.Metrics,
		logg:               logg,
		policy:             params.Policy,
		platformAccount:    params.PlatformAccountID,
		paymentWindow:      paymentWindow,
		confirmationWindow: confirmationWindow,
		now:                now,
	}, nil
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if input.BuyerID == uuid.Nil || input.ListingID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id and listing id are required")
	}
	if input.Quantity < 1 || input.Quantity > maxQuantity {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "quantity must be between 1 and %d", maxQuantity)
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid payment method %q", input.PaymentMethod)
	}

	listing, err := s.listings.Get(ctx, nil, input.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != enums.ListingStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "listing is not available for purchase")
	}
	if listing.SellerID == input.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyers cannot purchase their own listing")
	}

	total := commission.RoundMoney(listing.UnitPrice.Mul(decimal.NewFromInt(int64(input.Quantity))))
	if input.PaymentMethod == enums.PaymentMethodPrepaidWallet {
		return s.createWallet(ctx, input, listing, total)
	}
	if listing.IsDiscrete() && input.Quantity != 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external settlement orders carry a single unit")
	}
	return s.createExternal(ctx, input, listing, total)
}

// createWallet charges the buyer and delivers in one transaction. The early
// balance read is a fast path only; the conditional debit is the real guard.
func (s *service) createWallet(ctx context.Context, input CreateInput, listing *models.Listing, total decimal.Decimal) (*models.Order, error) {
	if total.IsPositive() {
		balance, err := s.ledger.BalanceOf(ctx, input.BuyerID)
		if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, err
		}
		if balance.LessThan(total) {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "wallet balance does not cover the order").
				WithDetails(map[string]any{
					"required":  total.StringFixed(commission.MoneyScale),
					"available": balance.StringFixed(commission.MoneyScale),
				})
		}
	}

	code, err := newCode()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order code")
	}

	now := s.clock()
	order := &models.Order{
		ID:            uuid.New(),
		Code:          code,
		BuyerID:       input.BuyerID,
		SellerID:      listing.SellerID,
		ListingID:     listing.ID,
		Quantity:      input.Quantity,
		UnitPrice:     listing.UnitPrice,
		TotalPrice:    total,
		PaymentMethod: enums.PaymentMethodPrepaidWallet,
		Status:        enums.OrderStatusPaid,
		PaidAt:        &now,
		CreatedAt:     now,
	}
	st := &settlement{}

	err = db.Within(ctx, s.db, nil, func(tx *gorm.DB) error {
		var units []models.InventoryUnit
		if listing.IsDiscrete() {
			var err error
			units, err = s.inventory.ReserveMany(ctx, tx, listing.ID, order.ID, input.Quantity)
			if err != nil {
				return err
			}
			if len(units) < input.Quantity {
				return pkgerrors.New(pkgerrors.CodeInsufficientInventory, "not enough units available").
					WithDetails(map[string]any{
						"listing_id": listing.ID.String(),
						"requested":  input.Quantity,
						"available":  len(units),
					})
			}
			order.InventoryUnitID = &units[0].ID
		}
		order.DeliveredPayload = deliveredPayload(listing, units)

		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "order code collision, retry the request")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		if total.IsPositive() {
			entry, err := s.ledger.Debit(ctx, tx, ledger.Posting{
				AccountID: input.BuyerID,
				Amount:    total,
				Reason:    enums.LedgerReasonWalletPurchase,
				OrderID:   &order.ID,
			})
			if err != nil {
				if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
					return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "wallet balance does not cover the order")
				}
				return err
			}
			st.add(entry)
		}

		for _, unit := range units {
			sold, err := s.inventory.MarkSoldFor(ctx, tx, unit.ID, order.ID)
			if err != nil {
				return err
			}
			if !sold {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "reserved unit was taken before sale")
			}
		}
		if listing.IsDiscrete() {
			if err := s.listings.DecrementAvailable(ctx, tx, listing.ID, input.Quantity); err != nil {
				return err
			}
		}
		return s.settle(ctx, tx, order, st)
	})
	if err != nil {
		return nil, err
	}

	s.afterPaid(ctx, order, st)
	return order, nil
}

func (s *service) createExternal(ctx context.Context, input CreateInput, listing *models.Listing, total decimal.Decimal) (*models.Order, error) {
	code, err := newCode()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order code")
	}

	order := &models.Order{
		ID:            uuid.New(),
		Code:          code,
		BuyerID:       input.BuyerID,
		SellerID:      listing.SellerID,
		ListingID:     listing.ID,
		Quantity:      input.Quantity,
		UnitPrice:     listing.UnitPrice,
		TotalPrice:    total,
		PaymentMethod: enums.PaymentMethodExternalSettlement,
		Status:        enums.OrderStatusAwaitingPayment,
		CreatedAt:     s.clock(),
	}

	err = db.Within(ctx, s.db, nil, func(tx *gorm.DB) error {
		if listing.IsDiscrete() {
			unit, err := s.inventory.Reserve(ctx, tx, listing.ID, order.ID)
			if err != nil {
				return err
			}
			if unit != nil {
				order.InventoryUnitID = &unit.ID
			}
		}
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "order code collision, retry the request")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if listing.IsDiscrete() && order.InventoryUnitID == nil {
		s.logg.Warn(s.logg.WithField(ctx, "order_id", order.ID.String()), "no unit reserved, order needs manual fulfillment")
	}
	s.metrics.OrderTransition(order.Status.String(), order.PaymentMethod.String())
	payload := orderPayload(order)
	s.notifier.Notify(ctx, order.BuyerID, enums.NotificationOrderCreated, payload)
	s.notifier.Notify(ctx, order.SellerID, enums.NotificationOrderCreated, payload)
	return order, nil
}

// ConfirmPayment records the buyer's claim of an external payment and
// extends the unit hold while an admin verifies it.
func (s *service) ConfirmPayment(ctx context.Context, orderID, buyerID uuid.UUID) (*models.Order, error) {
	var (
		order    *models.Order
		holdLost bool
	)
	err := db.Within(ctx, s.db, nil, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if current.BuyerID != buyerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can confirm payment")
		}
		if current.PaymentMethod != enums.PaymentMethodExternalSettlement {
			return pkgerrors.New(pkgerrors.CodeValidation, "only external settlement orders await payment")
		}

		now := s.clock()
		if err := s.transition(ctx, repo, current, enums.OrderStatusAwaitingConfirmation, map[string]any{
			"buyer_confirmed_at": now,
		}); err != nil {
			return err
		}
		if current.InventoryUnitID != nil {
			extended, err := s.inventory.ExtendFor(ctx, tx, *current.InventoryUnitID, current.ID, now.Add(s.confirmationWindow))
			if err != nil {
				return err
			}
			holdLost = !extended
		}
		order, err = s.load(ctx, repo, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if holdLost {
		s.logg.Warn(s.logg.WithField(ctx, "order_id", order.ID.String()), "reservation lapsed before payment claim")
	}
	s.metrics.OrderTransition(order.Status.String(), order.PaymentMethod.String())
	s.notifier.Notify(ctx, order.SellerID, enums.NotificationPaymentClaimed, orderPayload(order))
	return order, nil
}

// AdminConfirm marks an externally settled order paid, delivers it and runs
// the settlement. With no unit left to deliver the order is still paid and
// left for manual fulfillment.
func (s *service) AdminConfirm(ctx context.Context, orderID, adminID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	st := &settlement{}

	err := db.Within(ctx, s.db, nil, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		listing, err := s.listings.Get(ctx, tx, current.ListingID)
		if err != nil {
			return err
		}

		now := s.clock()
		if err := s.transition(ctx, repo, current, enums.OrderStatusPaid, map[string]any{"paid_at": now}); err != nil {
			return err
		}

		updates := map[string]any{}
		if listing.IsDiscrete() {
			unit, err := s.deliverUnit(ctx, tx, current)
			if err != nil {
				return err
			}
			if unit != nil {
				if err := s.listings.DecrementAvailable(ctx, tx, listing.ID, 1); err != nil {
					return err
				}
				updates["inventory_unit_id"] = unit.ID
				updates["delivered_payload"] = unit.Payload
			}
		} else if listing.DeliveryContent != nil {
			updates["delivered_payload"] = *listing.DeliveryContent
		}
		if err := repo.Update(ctx, current.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach delivery")
		}

		if err := s.settle(ctx, tx, current, st); err != nil {
			return err
		}
		order, err = s.load(ctx, repo, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if order.DeliveredPayload == nil {
		s.logg.Warn(s.logg.WithField(ctx, "order_id", order.ID.String()), "order paid without a deliverable unit")
	}
	s.audit.Record(ctx, adminID, audit.ActionOrderConfirm, map[string]any{
		"order_id": order.ID.String(),
		"total":    order.TotalPrice.StringFixed(commission.MoneyScale),
	})
	s.afterPaid(ctx, order, st)
	return order, nil
}

// deliverUnit sells the unit bound at creation, or claims a replacement when
// the binding was lost. It returns nil when nothing can be claimed.
func (s *service) deliverUnit(ctx context.Context, tx *gorm.DB, order *models.Order) (*models.InventoryUnit, error) {
	if order.InventoryUnitID != nil {
		sold, err := s.inventory.MarkSoldFor(ctx, tx, *order.InventoryUnitID, order.ID)
		if err != nil {
			return nil, err
		}
		if sold {
			units, err := s.inventory.Units(ctx, tx, []uuid.UUID{*order.InventoryUnitID})
			if err != nil {
				return nil, err
			}
			if len(units) == 1 {
				return &units[0], nil
			}
		}
	}

	unit, err := s.inventory.Reserve(ctx, tx, order.ListingID, order.ID)
	if err != nil || unit == nil {
		return nil, err
	}
	sold, err := s.inventory.MarkSoldFor(ctx, tx, unit.ID, order.ID)
	if err != nil {
		return nil, err
	}
	if !sold {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "replacement unit was taken before sale")
	}
	return unit, nil
}

func (s *service) AdminCancel(ctx context.Context, orderID, adminID uuid.UUID, reason string) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by admin"
	}
	order, err := s.cancel(ctx, orderID, reason, nil)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, adminID, audit.ActionOrderCancel, map[string]any{
		"order_id": order.ID.String(),
		"reason":   reason,
	})
	payload := orderPayload(order)
	s.notifier.Notify(ctx, order.BuyerID, enums.NotificationOrderCancelled, payload)
	s.notifier.Notify(ctx, order.SellerID, enums.NotificationOrderCancelled, payload)
	return order, nil
}

// Expire cancels an order whose payment or confirmation window has passed.
// It reports false when the order is no longer eligible, which makes
// re-running it a no-op.
func (s *service) Expire(ctx context.Context, orderID uuid.UUID) (bool, error) {
	now := s.clock()
	order, err := s.cancel(ctx, orderID, expiredReason, func(current *models.Order) bool {
		switch current.Status {
		case enums.OrderStatusAwaitingPayment:
			return !current.CreatedAt.After(now.Add(-s.paymentWindow))
		case enums.OrderStatusAwaitingConfirmation:
			return current.BuyerConfirmedAt != nil && !current.BuyerConfirmedAt.After(now.Add(-s.confirmationWindow))
		default:
			return false
		}
	})
	if err != nil || order == nil {
		return false, err
	}

	s.notifier.Notify(ctx, order.BuyerID, enums.NotificationOrderExpired, orderPayload(order))
	return true, nil
}

// cancel moves a non-terminal order to cancelled and frees its unit. When
// eligible is set and rejects the reloaded order, nothing happens and the
// returned order is nil.
func (s *service) cancel(ctx context.Context, orderID uuid.UUID, reason string, eligible func(*models.Order) bool) (*models.Order, error) {
	var order *models.Order
	err := db.Within(ctx, s.db, nil, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if eligible != nil && !eligible(current) {
			return nil
		}

		if err := s.transition(ctx, repo, current, enums.OrderStatusCancelled, map[string]any{
			"cancelled_at":  s.clock(),
			"cancel_reason": reason,
		}); err != nil {
			return err
		}
		if current.InventoryUnitID != nil {
			err := s.inventory.ReleaseFor(ctx, tx, *current.InventoryUnitID, current.ID)
			if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return err
			}
		}
		order, err = s.load(ctx, repo, orderID)
		return err
	})
	if err != nil || order == nil {
		return nil, err
	}
	s.metrics.OrderTransition(order.Status.String(), order.PaymentMethod.String())
	return order, nil
}

func (s *service) ListExpirable(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	now := s.clock()
	ids, err := s.repo.FindExpirable(ctx, now.Add(-s.paymentWindow), now.Add(-s.confirmationWindow), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expirable orders")
	}
	return ids, nil
}

// Refund returns the total to the buyer and takes the seller's share back:
// a pending earning is cancelled, a released one is debited from the seller.
// Delivered units stay sold and referral and platform credits stand.
func (s *service) Refund(ctx context.Context, orderID, adminID uuid.UUID, reason string) (*models.Order, error) {
	var (
		order     *models.Order
		entries   []*models.LedgerEntry
		cancelled bool
	)
	err := db.Within(ctx, s.db, nil, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if err := s.transition(ctx, repo, current, enums.OrderStatusRefunded, map[string]any{
			"refunded_at": s.clock(),
		}); err != nil {
			return err
		}

		if current.TotalPrice.IsPositive() {
			entry, err := s.ledger.Credit(ctx, tx, ledger.Posting{
				AccountID: current.BuyerID,
				Amount:    current.TotalPrice,
				Reason:    enums.LedgerReasonRefund,
				OrderID:   &current.ID,
				Note:      reason,
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}

		earning, err := s.earnings.ForOrder(ctx, tx, current.ID)
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		case err != nil:
			return err
		case earning.Status == enums.PendingEarningPending:
			if _, err := s.earnings.CancelWithin(ctx, tx, earning.ID, refundedNote); err != nil {
				return err
			}
			cancelled = true
		case earning.Status == enums.PendingEarningReleased:
			entry, err := s.ledger.Debit(ctx, tx, ledger.Posting{
				AccountID: earning.SellerID,
				Amount:    earning.Amount,
				Reason:    enums.LedgerReasonEarningClawback,
				OrderID:   &current.ID,
				Note:      reason,
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}

		order, err = s.load(ctx, repo, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.OrderTransition(order.Status.String(), order.PaymentMethod.String())
	for _, entry := range entries {
		s.metrics.LedgerPosting(entry.Direction.String(), entry.Reason.String(), entry.Amount)
	}
	if cancelled {
		s.metrics.EarningProcessed(enums.PendingEarningCancelled.String())
	}
	s.audit.Record(ctx, adminID, audit.ActionOrderRefund, map[string]any{
		"order_id": order.ID.String(),
		"amount":   order.TotalPrice.StringFixed(commission.MoneyScale),
		"reason":   reason,
	})
	payload := orderPayload(order)
	payload.Note = reason
	s.notifier.Notify(ctx, order.BuyerID, enums.NotificationOrderRefunded, payload)
	s.notifier.Notify(ctx, order.SellerID, enums.NotificationOrderRefunded, payload)
	return order, nil
}

// Purge deletes a finished order with its earning and queued notifications.
// Ledger entries survive with the order reference cleared so balances still
// reconcile; sold units keep their order id as history.
func (s *service) Purge(ctx context.Context, orderID, adminID uuid.UUID) error {
	var order *models.Order
	err := db.Within(ctx, s.db, nil, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		order, err = s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusCancelled && order.Status != enums.OrderStatusRefunded {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "cannot purge a %s order", order.Status).
				WithDetails(map[string]any{"order_id": order.ID.String(), "status": order.Status.String()})
		}

		if err := s.earnings.DeleteForOrder(ctx, tx, order.ID); err != nil {
			return err
		}
		if _, err := s.outbox.DeleteByOrder(ctx, tx, order.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete queued notifications")
		}
		if err := s.ledger.DetachOrder(ctx, tx, order.ID); err != nil {
			return err
		}
		affected, err := repo.Delete(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete order")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.Record(ctx, adminID, audit.ActionOrderPurge, map[string]any{
		"order_id": order.ID.String(),
		"code":     order.Code,
		"status":   order.Status.String(),
	})
	return nil
}

// Get hides orders from anyone but their buyer, their seller and admins.
func (s *service) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.load(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() || actor.ID == order.BuyerID || actor.ID == order.SellerID {
		return order, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func (s *service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error) {
	return s.list(ctx, params, func(cursor *pagination.Cursor) ([]models.Order, error) {
		return s.repo.ListByBuyer(ctx, buyerID, cursor, params.Limit)
	})
}

func (s *service) ListForSeller(ctx context.Context, sellerID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error) {
	return s.list(ctx, params, func(cursor *pagination.Cursor) ([]models.Order, error) {
		return s.repo.ListBySeller(ctx, sellerID, cursor, params.Limit)
	})
}

func (s *service) list(ctx context.Context, params pagination.Params, fetch func(*pagination.Cursor) ([]models.Order, error)) (pagination.Page[models.Order], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := fetch(cursor)
	if err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return pagination.Finish(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}

func (s *service) load(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// transition applies a conditional status change. Losing the race to a
// concurrent writer reads as an invalid transition.
func (s *service) transition(ctx context.Context, repo Repository, order *models.Order, to enums.OrderStatus, updates map[string]any) error {
	if !order.Status.CanTransitionTo(to) {
		return invalidTransition(order, to)
	}
	affected, err := repo.Transition(ctx, order.ID, order.Status, to, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if affected == 0 {
		return invalidTransition(order, to)
	}
	order.Status = to
	return nil
}

func invalidTransition(order *models.Order, to enums.OrderStatus) error {
	return pkgerrors.Newf(pkgerrors.CodeStateConflict, "order cannot move from %s to %s", order.Status, to).
		WithDetails(map[string]any{
			"order_id": order.ID.String(),
			"from":     order.Status.String(),
			"to":       to.String(),
		})
}

// afterPaid emits everything a paid transition owes once it has committed.
func (s *service) afterPaid(ctx context.Context, order *models.Order, st *settlement) {
	s.metrics.OrderTransition(order.Status.String(), order.PaymentMethod.String())
	for _, entry := range st.entries {
		s.metrics.LedgerPosting(entry.Direction.String(), entry.Reason.String(), entry.Amount)
	}

	payload := orderPayload(order)
	s.notifier.Notify(ctx, order.BuyerID, enums.NotificationOrderPaid, payload)
	if order.DeliveredPayload != nil {
		s.notifier.Notify(ctx, order.BuyerID, enums.NotificationOrderDelivered, payload)
	}
	s.notifier.Notify(ctx, order.SellerID, enums.NotificationOrderPaid, payload)
	if st.referrer != uuid.Nil {
		amount := st.referral
		s.notifier.Notify(ctx, st.referrer, enums.NotificationReferralCommission, notifications.Payload{
			OrderID:   &order.ID,
			OrderCode: order.Code,
			Amount:    &amount,
		})
	}
}

func orderPayload(order *models.Order) notifications.Payload {
	total := order.TotalPrice
	return notifications.Payload{
		OrderID:   &order.ID,
		OrderCode: order.Code,
		Amount:    &total,
		Status:    order.Status.String(),
	}
}

// deliveredPayload joins the unit secrets of a discrete order, or hands out
// the shared content of an unlimited listing.
func deliveredPayload(listing *models.Listing, units []models.InventoryUnit) *string {
	if !listing.IsDiscrete() {
		return listing.DeliveryContent
	}
	if len(units) == 0 {
		return nil
	}
	secrets := make([]string, len(units))
	for i, unit := range units {
		secrets[i] = unit.Payload
	}
	joined := strings.Join(secrets, payloadDivider)
	return &joined
}
