package referrals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/pkg/db/models"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, link *models.ReferralLink) error
	FindByReferred(ctx context.Context, referredID uuid.UUID) (*models.ReferralLink, error)
	ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.ReferralLink, error)
	AddEarned(ctx context.Context, linkID uuid.UUID, amount decimal.Decimal) (int64, error)
	SetActive(ctx context.Context, linkID uuid.UUID, active bool) (int64, error)
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

func (r *repository) Create(ctx context.Context, link *models.ReferralLink) error {
	if link == nil {
		return errors.New("referral link required")
	}
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *repository) FindByReferred(ctx context.Context, referredID uuid.UUID) (*models.ReferralLink, error) {
	var link models.ReferralLink
	if err := r.db.WithContext(ctx).Where("referred_id = ?", referredID).First(&link).Error; err != nil {
		return nil, err
	}
	return &link, nil
}

func (r *repository) ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.ReferralLink, error) {
	var links []models.ReferralLink
	err := r.db.WithContext(ctx).
		Where("referrer_id = ?", referrerID).
		Order("created_at DESC").
		Find(&links).Error
	return links, err
}

// AddEarned bumps the cumulative counter in place so concurrent payouts never lose an update.
func (r *repository) AddEarned(ctx context.Context, linkID uuid.UUID, amount decimal.Decimal) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ReferralLink{}).
		Where("id = ?", linkID).
		Updates(map[string]any{
			"earned_total": gorm.Expr("earned_total + ?", amount),
			"updated_at":   time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *repository) SetActive(ctx context.Context, linkID uuid.UUID, active bool) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ReferralLink{}).
		Where("id = ?", linkID).
		Updates(map[string]any{
			"active":     active,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
