package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
)

// claimablePredicate matches units that are free to reserve at a given instant:
// available ones and reservations whose expiry has passed.
const claimablePredicate = "(status = ? OR (status = ? AND reserved_until < ?))"

// Repository manages inventory unit rows. Every status change is a
// conditional update; callers inspect the affected row count.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryUnit, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.InventoryUnit, error)
	ClaimableIDs(ctx context.Context, listingID uuid.UUID, now time.Time, limit int) ([]uuid.UUID, error)
	Claim(ctx context.Context, unitID, orderID uuid.UUID, now, until time.Time) (int64, error)
	ExtendReservation(ctx context.Context, unitID, orderID uuid.UUID, until time.Time) (int64, error)
	MarkSold(ctx context.Context, unitID uuid.UUID, holder *uuid.UUID, now time.Time) (int64, error)
	Release(ctx context.Context, unitID uuid.UUID, holder *uuid.UUID) (int64, error)
	SweepExpired(ctx context.Context, listingID *uuid.UUID, now time.Time) (int64, error)
	ExistingFingerprints(ctx context.Context, fingerprints []string) ([]string, error)
	InsertUnits(ctx context.Context, units []models.InventoryUnit) error
	CountByEffectiveStatus(ctx context.Context, listingID uuid.UUID, now time.Time) (map[enums.InventoryUnitStatus]int64, error)
	ListActiveReservations(ctx context.Context, listingID uuid.UUID, now time.Time) ([]models.InventoryUnit, error)
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

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryUnit, error) {
	var unit models.InventoryUnit
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&unit).Error; err != nil {
		return nil, err
	}
	return &unit, nil
}

func (r *repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.InventoryUnit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var units []models.InventoryUnit
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("created_at ASC").Order("id ASC").Find(&units).Error
	return units, err
}

func (r *repository) ClaimableIDs(ctx context.Context, listingID uuid.UUID, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.InventoryUnit{}).
		Where("listing_id = ?", listingID).
		Where(claimablePredicate, enums.InventoryUnitAvailable, enums.InventoryUnitReserved, now).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// Claim reserves unitID for orderID if it is still claimable at now. A zero
// row count means another caller won the unit.
func (r *repository) Claim(ctx context.Context, unitID, orderID uuid.UUID, now, until time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InventoryUnit{}).
		Where("id = ?", unitID).
		Where(claimablePredicate, enums.InventoryUnitAvailable, enums.InventoryUnitReserved, now).
		Updates(map[string]any{
			"status":         enums.InventoryUnitReserved,
			"reserved_until": until,
			"order_id":       orderID,
			"updated_at":     now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ExtendReservation(ctx context.Context, unitID, orderID uuid.UUID, until time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.InventoryUnit{}).
		Where("id = ? AND status = ? AND order_id = ?", unitID, enums.InventoryUnitReserved, orderID).
		Updates(map[string]any{
			"reserved_until": until,
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// MarkSold moves an unsold unit to sold. With a holder, only a unit reserved
// by that order qualifies.
func (r *repository) MarkSold(ctx context.Context, unitID uuid.UUID, holder *uuid.UUID, now time.Time) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.InventoryUnit{}).Where("id = ?", unitID)
	if holder != nil {
		q = q.Where("status = ? AND order_id = ?", enums.InventoryUnitReserved, *holder)
	} else {
		q = q.Where("status IN ?", []enums.InventoryUnitStatus{enums.InventoryUnitAvailable, enums.InventoryUnitReserved})
	}
	res := q.Updates(map[string]any{
		"status":         enums.InventoryUnitSold,
		"reserved_until": nil,
		"sold_at":        now,
		"updated_at":     now,
	})
	return res.RowsAffected, res.Error
}

func (r *repository) Release(ctx context.Context, unitID uuid.UUID, holder *uuid.UUID) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&models.InventoryUnit{}).
		Where("id = ? AND status = ?", unitID, enums.InventoryUnitReserved)
	if holder != nil {
		q = q.Where("order_id = ?", *holder)
	}
	res := q.Updates(map[string]any{
		"status":         enums.InventoryUnitAvailable,
		"reserved_until": nil,
		"order_id":       nil,
		"updated_at":     time.Now().UTC(),
	})
	return res.RowsAffected, res.Error
}

func (r *repository) SweepExpired(ctx context.Context, listingID *uuid.UUID, now time.Time) (int64, error) {
	q := r.db.WithContext(ctx).
		Model(&models.InventoryUnit{}).
		Where("status = ? AND reserved_until < ?", enums.InventoryUnitReserved, now)
	if listingID != nil {
		q = q.Where("listing_id = ?", *listingID)
	}
	res := q.Updates(map[string]any{
		"status":         enums.InventoryUnitAvailable,
		"reserved_until": nil,
		"order_id":       nil,
		"updated_at":     now,
	})
	return res.RowsAffected, res.Error
}

func (r *repository) ExistingFingerprints(ctx context.Context, fingerprints []string) ([]string, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}
	var found []string
	err := r.db.WithContext(ctx).
		Model(&models.InventoryUnit{}).
		Where("fingerprint IN ?", fingerprints).
		Pluck("fingerprint", &found).Error
	return found, err
}

func (r *repository) InsertUnits(ctx context.Context, units []models.InventoryUnit) error {
	if len(units) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(units, 100).Error
}

func (r *repository) CountByEffectiveStatus(ctx context.Context, listingID uuid.UUID, now time.Time) (map[enums.InventoryUnitStatus]int64, error) {
	var rows []struct {
		EffectiveStatus string
		Total           int64
	}
	// The alias must differ from the status column, or GROUP BY binds to the raw column.
	err := r.db.WithContext(ctx).
		Model(&models.InventoryUnit{}).
		Select("CASE WHEN status = ? AND reserved_until < ? THEN ? ELSE status END AS effective_status, COUNT(*) AS total",
			enums.InventoryUnitReserved, now, enums.InventoryUnitAvailable).
		Where("listing_id = ?", listingID).
		Group("effective_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[enums.InventoryUnitStatus]int64, len(rows))
	for _, row := range rows {
		counts[enums.InventoryUnitStatus(row.EffectiveStatus)] += row.Total
	}
	return counts, nil
}

func (r *repository) ListActiveReservations(ctx context.Context, listingID uuid.UUID, now time.Time) ([]models.InventoryUnit, error) {
	var units []models.InventoryUnit
	err := r.db.WithContext(ctx).
		Select("id, listing_id, fingerprint, status, reserved_until, order_id, sold_at, created_at, updated_at").
		Where("listing_id = ? AND status = ? AND reserved_until >= ?", listingID, enums.InventoryUnitReserved, now).
		Order("reserved_until ASC").
		Find(&units).Error
	return units, err
}
