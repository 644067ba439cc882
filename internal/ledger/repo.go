package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	"github.com/keymarket/keymarket-backend/pkg/pagination"
)

// Repository manages accounts and ledger entries. It is the only code that
// writes accounts.balance.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	EnsureAccount(ctx context.Context, accountID uuid.UUID) error
	FindAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	IncrementBalance(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (int64, error)
	DecrementBalanceIfCovered(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (int64, error)
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error
	SumEntries(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, int64, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error)
	DetachOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) EnsureAccount(ctx context.Context, accountID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&models.Account{ID: accountID, Balance: decimal.Zero}).Error
}

func (r *repository) FindAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) IncrementBalance(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// DecrementBalanceIfCovered subtracts amount only while the stored balance
// covers it. The check and the write are one statement, so two concurrent
// debits can never both pass against the same balance.
func (r *repository) DecrementBalanceIfCovered(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ? AND balance >= ?", accountID, amount).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *repository) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) SumEntries(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, int64, error) {
	var row struct {
		Total decimal.Decimal
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(CASE WHEN direction = ? THEN amount ELSE -amount END), 0) AS total, COUNT(*) AS count", enums.LedgerCredit).
		Where("account_id = ?", accountID).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, 0, err
	}
	return row.Total, row.Count, nil
}

func (r *repository) ListEntries(ctx context.Context, accountID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Scopes(pagination.Scope(cursor, limit)).
		Find(&entries).Error
	return entries, err
}

// DetachOrder clears the order reference on entries so an order row can be
// purged without deleting money history.
func (r *repository) DetachOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("order_id = ?", orderID).
		Update("order_id", nil)
	return res.RowsAffected, res.Error
}
