package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/internal/commission"
	"github.com/keymarket/keymarket-backend/pkg/db"
	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
	"github.com/keymarket/keymarket-backend/pkg/metrics"
	"github.com/keymarket/keymarket-backend/pkg/pagination"
)

// Posting is one credit or debit request against an account.
type Posting struct {
	AccountID uuid.UUID
	Amount    decimal.Decimal
	Reason    enums.LedgerReason
	OrderID   *uuid.UUID
	Note      string
}

// Reconciliation compares the stored balance with the sum of entries.
type Reconciliation struct {
	AccountID  uuid.UUID       `json:"account_id"`
	Balance    decimal.Decimal `json:"balance"`
	EntriesSum decimal.Decimal `json:"entries_sum"`
	EntryCount int64           `json:"entry_count"`
	Drift      decimal.Decimal `json:"drift"`
	Consistent bool            `json:"consistent"`
}

// Service exposes the only balance-mutating operations in the system.
// Credit and Debit join tx when it is non-nil, otherwise they open their own.
type Service interface {
	Credit(ctx context.Context, tx *gorm.DB, posting Posting) (*models.LedgerEntry, error)
	Debit(ctx context.Context, tx *gorm.DB, posting Posting) (*models.LedgerEntry, error)
	BalanceOf(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	OpenAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error)
	Entries(ctx context.Context, accountID uuid.UUID, params pagination.Params) (pagination.Page[models.LedgerEntry], error)
	DetachOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

type service struct {
	db      *gorm.DB
	repo    Repository
	metrics *metrics.MarketMetrics
}

// NewService wires the ledger. metricsRecorder may be nil.
func NewService(conn *gorm.DB, repo Repository, metricsRecorder *metrics.MarketMetrics) (Service, error) {
	if conn == nil {
		return nil, fmt.Errorf("ledger db required")
	}
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{db: conn, repo: repo, metrics: metricsRecorder}, nil
}

func (s *service) Credit(ctx context.Context, tx *gorm.DB, posting Posting) (*models.LedgerEntry, error) {
	entry, err := newEntry(posting, enums.LedgerCredit)
	if err != nil {
		return nil, err
	}

	err = db.Within(ctx, s.db, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.EnsureAccount(ctx, posting.AccountID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open account")
		}
		affected, err := repo.IncrementBalance(ctx, posting.AccountID, entry.Amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "credit balance")
		}
		if affected != 1 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		if err := repo.InsertEntry(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert ledger entry")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observe(tx, entry)
	return entry, nil
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, posting Posting) (*models.LedgerEntry, error) {
	entry, err := newEntry(posting, enums.LedgerDebit)
	if err != nil {
		return nil, err
	}

	err = db.Within(ctx, s.db, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		affected, err := repo.DecrementBalanceIfCovered(ctx, posting.AccountID, entry.Amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit balance")
		}
		if affected == 0 {
			return s.debitRejection(ctx, repo, posting)
		}
		if err := repo.InsertEntry(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert ledger entry")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observe(tx, entry)
	return entry, nil
}

// debitRejection tells a missing account apart from an uncovered amount.
func (s *service) debitRejection(ctx context.Context, repo Repository, posting Posting) error {
	account, err := repo.FindAccount(ctx, posting.AccountID)
	if err != nil {
		if db.IsNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "balance does not cover debit").
		WithDetails(map[string]any{
			"account_id": posting.AccountID.String(),
			"requested":  commission.RoundMoney(posting.Amount).StringFixed(commission.MoneyScale),
			"available":  account.Balance.StringFixed(commission.MoneyScale),
		})
}

// observe records metrics only for postings this service committed itself;
// callers that pass a tx report after their own commit.
func (s *service) observe(tx *gorm.DB, entry *models.LedgerEntry) {
	if tx != nil {
		return
	}
	s.metrics.LedgerPosting(entry.Direction.String(), entry.Reason.String(), entry.Amount)
}

func (s *service) BalanceOf(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	if accountID == uuid.Nil {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		if db.IsNotFound(err) {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	return account.Balance, nil
}

func (s *service) OpenAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if err := s.repo.EnsureAccount(ctx, accountID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open account")
	}
	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	return account, nil
}

func (s *service) Reconcile(ctx context.Context, accountID uuid.UUID) (*Reconciliation, error) {
	balance, err := s.BalanceOf(ctx, accountID)
	if err != nil {
		return nil, err
	}
	sum, count, err := s.repo.SumEntries(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum ledger entries")
	}
	drift := balance.Sub(sum)
	return &Reconciliation{
		AccountID:  accountID,
		Balance:    balance,
		EntriesSum: sum,
		EntryCount: count,
		Drift:      drift,
		Consistent: drift.IsZero(),
	}, nil
}

func (s *service) Entries(ctx context.Context, accountID uuid.UUID, params pagination.Params) (pagination.Page[models.LedgerEntry], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.LedgerEntry]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListEntries(ctx, accountID, cursor, params.Limit)
	if err != nil {
		return pagination.Page[models.LedgerEntry]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return pagination.Finish(rows, params.Limit, func(e models.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	}), nil
}

func (s *service) DetachOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	return db.Within(ctx, s.db, tx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).DetachOrder(ctx, orderID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "detach ledger entries")
		}
		return nil
	})
}

func newEntry(posting Posting, direction enums.LedgerDirection) (*models.LedgerEntry, error) {
	if posting.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if !posting.Reason.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid ledger reason %q", posting.Reason)
	}
	amount := commission.RoundMoney(posting.Amount)
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	entry := &models.LedgerEntry{
		AccountID: posting.AccountID,
		Direction: direction,
		Amount:    amount,
		Reason:    posting.Reason,
		OrderID:   posting.OrderID,
	}
	if note := strings.TrimSpace(posting.Note); note != "" {
		entry.Note = &note
	}
	return entry, nil
}
