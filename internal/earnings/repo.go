package earnings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	"github.com/keymarket/keymarket-backend/pkg/pagination"
)

type listQuery struct {
	SellerID *uuid.UUID
	Status   *enums.PendingEarningStatus
	Cursor   *pagination.Cursor
	Limit    int
}

type statusTotal struct {
	Status string
	Total  decimal.Decimal
	Count  int64
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, earning *models.PendingEarning) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PendingEarning, error)
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.PendingEarning, error)
	Settle(ctx context.Context, id uuid.UUID, to enums.PendingEarningStatus, at time.Time, note *string) (int64, error)
	ListDue(ctx context.Context, now time.Time, after *DueCursor, limit int) ([]models.PendingEarning, error)
	List(ctx context.Context, q listQuery) ([]models.PendingEarning, error)
	Totals(ctx context.Context, sellerID uuid.UUID) ([]statusTotal, error)
	DeleteByOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, earning *models.PendingEarning) error {
	if earning == nil {
		return errors.New("pending earning required")
	}
	return r.db.WithContext(ctx).Create(earning).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PendingEarning, error) {
	var earning models.PendingEarning
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&earning).Error; err != nil {
		return nil, err
	}
	return &earning, nil
}

func (r *repository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.PendingEarning, error) {
	var earning models.PendingEarning
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&earning).Error; err != nil {
		return nil, err
	}
	return &earning, nil
}

// Settle moves a pending earning to its final status. Only rows still pending
// match, so a second settle affects nothing.
func (r *repository) Settle(ctx context.Context, id uuid.UUID, to enums.PendingEarningStatus, at time.Time, note *string) (int64, error) {
	updates := map[string]any{
		"status":      to,
		"released_at": at,
		"updated_at":  at,
	}
	if note != nil {
		updates["note"] = *note
	}
	res := r.db.WithContext(ctx).
		Model(&models.PendingEarning{}).
		Where("id = ? AND status = ?", id, enums.PendingEarningPending).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) ListDue(ctx context.Context, now time.Time, after *DueCursor, limit int) ([]models.PendingEarning, error) {
	var rows []models.PendingEarning
	query := r.db.WithContext(ctx).
		Where("status = ? AND release_at <= ?", enums.PendingEarningPending, now)
	if after != nil {
		query = query.Where("(release_at > ? OR (release_at = ? AND id > ?))", after.ReleaseAt, after.ReleaseAt, after.ID)
	}
	err := query.
		Order("release_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) List(ctx context.Context, q listQuery) ([]models.PendingEarning, error) {
	query := r.db.WithContext(ctx).Model(&models.PendingEarning{})
	if q.SellerID != nil {
		query = query.Where("seller_id = ?", *q.SellerID)
	}
	if q.Status != nil {
		query = query.Where("status = ?", *q.Status)
	}
	var rows []models.PendingEarning
	err := query.Scopes(pagination.Scope(q.Cursor, q.Limit)).Find(&rows).Error
	return rows, err
}

func (r *repository) Totals(ctx context.Context, sellerID uuid.UUID) ([]statusTotal, error) {
	var rows []statusTotal
	err := r.db.WithContext(ctx).
		Model(&models.PendingEarning{}).
		Select("status, COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("seller_id = ?", sellerID).
		Group("status").
		Scan(&rows).Error
	return rows, err
}

func (r *repository) DeleteByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&models.PendingEarning{})
	return res.RowsAffected, res.Error
}
