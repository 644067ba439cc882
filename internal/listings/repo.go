package listings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/pkg/db/models"
)

// Repository persists listings and their availability counter.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, listing *models.Listing) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	DecrementAvailable(ctx context.Context, id uuid.UUID, n int) (int64, error)
	IncrementAvailable(ctx context.Context, id uuid.UUID, n int) (int64, error)
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

func (r *repository) Create(ctx context.Context, listing *models.Listing) error {
	return r.db.WithContext(ctx).Create(listing).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&listing).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

// DecrementAvailable lowers available_count by n only when that keeps it non-negative.
func (r *repository) DecrementAvailable(ctx context.Context, id uuid.UUID, n int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND available_count >= ?", id, n).
		Updates(map[string]any{
			"available_count": gorm.Expr("available_count - ?", n),
			"updated_at":      time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *repository) IncrementAvailable(ctx context.Context, id uuid.UUID, n int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Listing{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"available_count": gorm.Expr("available_count + ?", n),
			"updated_at":      time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
