// Package earnings holds seller proceeds until the payout delay has passed.
package earnings

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
	"github.com/keymarket/keymarket-backend/internal/ledger"
	"github.com/keymarket/keymarket-backend/internal/notifications"
	"github.com/keymarket/keymarket-backend/pkg/db"
	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
	"github.com/keymarket/keymarket-backend/pkg/metrics"
	"github.com/keymarket/keymarket-backend/pkg/pagination"
)

// DefaultHold is the payout delay applied to every paid order.
const DefaultHold = 72 * time.Hour

type HoldInput struct {
	SellerID uuid.UUID
	OrderID  uuid.UUID
	Amount   decimal.Decimal
}

type Filter struct {
	SellerID *uuid.UUID
	Status   *enums.PendingEarningStatus
}

// Summary totals a seller's earnings by status.
type Summary struct {
	SellerID       uuid.UUID       `json:"seller_id"`
	Pending        decimal.Decimal `json:"pending"`
	PendingCount   int64           `json:"pending_count"`
	Released       decimal.Decimal `json:"released"`
	ReleasedCount  int64           `json:"released_count"`
	Cancelled      decimal.Decimal `json:"cancelled"`
	CancelledCount int64           `json:"cancelled_count"`
}

type Service interface {
	Hold(ctx context.Context, tx *gorm.DB, input HoldInput) (*models.PendingEarning, error)
	Release(ctx context.Context, id, actorID uuid.UUID, note string) (*models.PendingEarning, error)
	Cancel(ctx context.Context, id, actorID uuid.UUID, note string) (*models.PendingEarning, error)
	ForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.PendingEarning, error)
	CancelWithin(ctx context.Context, tx *gorm.DB, id uuid.UUID, note string) (*models.PendingEarning, error)
	DeleteForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	ListDue(ctx context.Context, after *DueCursor, limit int) ([]models.PendingEarning, error)
	List(ctx context.Context, filter Filter, params pagination.Params) (pagination.Page[models.PendingEarning], error)
	Summary(ctx context.Context, sellerID uuid.UUID) (*Summary, error)
}

// DueCursor is the (release_at, id) position of the last due earning a caller
// has seen. ListDue returns only rows strictly after it.
type DueCursor struct {
	ReleaseAt time.Time
	ID        uuid.UUID
}

type ServiceParams struct {
	DB       *gorm.DB
	Repo     Repository
	Ledger   ledger.Service
	Notifier notifications.Notifier
	Audit    audit.Recorder
	Metrics  *metrics.MarketMetrics
	Hold     time.Duration
	Now      func() time.Time
}

type service struct {
	db       *gorm.DB
	repo     Repository
	ledger   ledger.Service
	notifier notifications.Notifier
	audit    audit.Recorder
	metrics  *metrics.MarketMetrics
	hold     time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("earnings db required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("earnings repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	hold := params.Hold
	if hold <= 0 {
		hold = DefaultHold
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:       params.DB,
		repo:     params.Repo,
		ledger:   params.Ledger,
		notifier: params.Notifier,
		audit:    params.Audit,
		metrics:  params.Metrics,
		hold:     hold,
		now:      now,
	}, nil
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

// Hold records the seller net of a paid order. A zero net holds nothing and
// returns nil.
func (s *service) Hold(ctx context.Context, tx *gorm.DB, input HoldInput) (*models.PendingEarning, error) {
	if input.SellerID == uuid.Nil || input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id and order id are required")
	}
	amount := commission.RoundMoney(input.Amount)
	if amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "earning amount must not be negative")
	}
	if amount.IsZero() {
		return nil, nil
	}

	now := s.clock()
	earning := &models.PendingEarning{
		SellerID:  input.SellerID,
		OrderID:   input.OrderID,
		Amount:    amount,
		Status:    enums.PendingEarningPending,
		ReleaseAt: now.Add(s.hold),
	}
	if err := s.repo.WithTx(tx).Create(ctx, earning); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already has a pending earning")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create pending earning")
	}
	return earning, nil
}

// Release credits the seller and marks the earning released in one
// transaction. A uuid.Nil actor means the scheduler released it.
func (s *service) Release(ctx context.Context, id, actorID uuid.UUID, note string) (*models.PendingEarning, error) {
	var (
		earning *models.PendingEarning
		entry   *models.LedgerEntry
	)
	err := db.Within(ctx, s.db, nil, func(tx *gorm.DB) error {
		var err error
		earning, err = s.settle(ctx, tx, id, enums.PendingEarningReleased, note)
		if err != nil {
			return err
		}
		entry, err = s.ledger.Credit(ctx, tx, ledger.Posting{
			AccountID: earning.SellerID,
			Amount:    earning.Amount,
			Reason:    enums.LedgerReasonSellerEarningRelease,
			OrderID:   &earning.OrderID,
			Note:      note,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.LedgerPosting(entry.Direction.String(), entry.Reason.String(), entry.Amount)
	s.metrics.EarningProcessed(earning.Status.String())
	if actorID != uuid.Nil {
		s.audit.Record(ctx, actorID, audit.ActionEarningRelease, map[string]any{
			"earning_id": earning.ID.String(),
			"order_id":   earning.OrderID.String(),
			"amount":     earning.Amount.StringFixed(commission.MoneyScale),
			"note":       note,
		})
	}
	s.notifier.Notify(ctx, earning.SellerID, enums.NotificationEarningReleased, notifications.Payload{
		OrderID: &earning.OrderID,
		Amount:  &earning.Amount,
		Status:  earning.Status.String(),
	})
	return earning, nil
}

// Cancel forfeits a pending earning without crediting anyone. It needs a
// reason from the admin and always leaves an audit record.
func (s *service) Cancel(ctx context.Context, id, actorID uuid.UUID, note string) (*models.PendingEarning, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a note is required to cancel an earning")
	}
	if actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}

	earning, err := s.CancelWithin(ctx, nil, id, note)
	if err != nil {
		return nil, err
	}

	s.metrics.EarningProcessed(earning.Status.String())
	s.audit.Record(ctx, actorID, audit.ActionEarningCancel, map[string]any{
		"earning_id":       earning.ID.String(),
		"order_id":         earning.OrderID.String(),
		"seller_id":        earning.SellerID.String(),
		"forfeited_amount": earning.Amount.StringFixed(commission.MoneyScale),
		"note":             note,
	})
	s.notifier.Notify(ctx, earning.SellerID, enums.NotificationEarningCancelled, notifications.Payload{
		OrderID: &earning.OrderID,
		Amount:  &earning.Amount,
		Status:  earning.Status.String(),
		Note:    note,
	})
	return earning, nil
}

// CancelWithin cancels inside the caller's transaction with no side effects
// beyond the row itself.
func (s *service) CancelWithin(ctx context.Context, tx *gorm.DB, id uuid.UUID, note string) (*models.PendingEarning, error) {
	var earning *models.PendingEarning
	err := db.Within(ctx, s.db, tx, func(tx *gorm.DB) error {
		var err error
		earning, err = s.settle(ctx, tx, id, enums.PendingEarningCancelled, note)
		return err
	})
	return earning, err
}

func (s *service) settle(ctx context.Context, tx *gorm.DB, id uuid.UUID, to enums.PendingEarningStatus, note string) (*models.PendingEarning, error) {
	repo := s.repo.WithTx(tx)
	now := s.clock()

	var notePtr *string
	if trimmed := strings.TrimSpace(note); trimmed != "" {
		notePtr = &trimmed
	}

	affected, err := repo.Settle(ctx, id, to, now, notePtr)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle pending earning")
	}

	earning, err := repo.FindByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "pending earning not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending earning")
	}
	if affected == 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "pending earning is already %s", earning.Status).
			WithDetails(map[string]any{"earning_id": id.String(), "status": earning.Status.String()})
	}
	return earning, nil
}

func (s *service) ForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.PendingEarning, error) {
	earning, err := s.repo.WithTx(tx).FindByOrder(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "pending earning not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending earning")
	}
	return earning, nil
}

func (s *service) DeleteForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	return db.Within(ctx, s.db, tx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).DeleteByOrder(ctx, orderID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete pending earning")
		}
		return nil
	})
}

func (s *service) ListDue(ctx context.Context, after *DueCursor, limit int) ([]models.PendingEarning, error) {
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	rows, err := s.repo.ListDue(ctx, s.clock(), after, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due earnings")
	}
	return rows, nil
}

func (s *service) List(ctx context.Context, filter Filter, params pagination.Params) (pagination.Page[models.PendingEarning], error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return pagination.Page[models.PendingEarning]{}, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid status %q", *filter.Status)
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.PendingEarning]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, listQuery{
		SellerID: filter.SellerID,
		Status:   filter.Status,
		Cursor:   cursor,
		Limit:    params.Limit,
	})
	if err != nil {
		return pagination.Page[models.PendingEarning]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list earnings")
	}
	return pagination.Finish(rows, params.Limit, func(e models.PendingEarning) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	}), nil
}

func (s *service) Summary(ctx context.Context, sellerID uuid.UUID) (*Summary, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	totals, err := s.repo.Totals(ctx, sellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum earnings")
	}
	summary := &Summary{SellerID: sellerID, Pending: decimal.Zero, Released: decimal.Zero, Cancelled: decimal.Zero}
	for _, row := range totals {
		total := commission.RoundMoney(row.Total)
		switch enums.PendingEarningStatus(row.Status) {
		case enums.PendingEarningPending:
			summary.Pending, summary.PendingCount = total, row.Count
		case enums.PendingEarningReleased:
			summary.Released, summary.ReleasedCount = total, row.Count
		case enums.PendingEarningCancelled:
			summary.Cancelled, summary.CancelledCount = total, row.Count
		}
	}
	return summary, nil
}
