// Package inventory allocates discrete inventory units to orders.
//
// Units move available -> reserved -> sold, or reserved -> available on
// expiry or release. A reservation past its expiry is claimable again even
// before the sweeper has flipped it back.
package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/internal/listings"
	"github.com/keymarket/keymarket-backend/pkg/db"
	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
)

const (
	DefaultReservationTTL = 30 * time.Minute

	// claimBatch bounds how many candidates are read per claim round.
	claimBatch = 16
	// maxClaimRounds bounds re-reads when other callers keep winning candidates.
	maxClaimRounds = 8
	maxUnitsPerUpload = 500
)

// Summary is the effective status breakdown of a listing's units.
type Summary struct {
	ListingID uuid.UUID `json:"listing_id"`
	Available int64     `json:"available"`
	Reserved  int64     `json:"reserved"`
	Sold      int64     `json:"sold"`
}

// Allocator is the inventory contract used by the order state machine.
// Methods taking a tx join it when non-nil.
type Allocator interface {
	Reserve(ctx context.Context, tx *gorm.DB, listingID, orderID uuid.UUID) (*models.InventoryUnit, error)
	ReserveMany(ctx context.Context, tx *gorm.DB, listingID, orderID uuid.UUID, n int) ([]models.InventoryUnit, error)
	MarkSold(ctx context.Context, tx *gorm.DB, unitID uuid.UUID) error
	MarkSoldFor(ctx context.Context, tx *gorm.DB, unitID, orderID uuid.UUID) (bool, error)
	Release(ctx context.Context, tx *gorm.DB, unitID uuid.UUID) error
	ReleaseFor(ctx context.Context, tx *gorm.DB, unitID, orderID uuid.UUID) error
	ExtendFor(ctx context.Context, tx *gorm.DB, unitID, orderID uuid.UUID, until time.Time) (bool, error)
	CheckDuplicate(ctx context.Context, tx *gorm.DB, fingerprint string) (bool, error)
	SweepExpired(ctx context.Context, tx *gorm.DB, listingID *uuid.UUID) (int64, error)
	Units(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]models.InventoryUnit, error)
}

// Service adds the seller-facing operations on top of Allocator.
type Service interface {
	Allocator
	AddUnits(ctx context.Context, sellerID, listingID uuid.UUID, payloads []string) ([]models.InventoryUnit, error)
	Summary(ctx context.Context, listingID uuid.UUID) (*Summary, error)
	ActiveReservations(ctx context.Context, listingID uuid.UUID) ([]models.InventoryUnit, error)
}

type ServiceParams struct {
	DB             *gorm.DB
	Repo           Repository
	Listings       listings.Service
	ReservationTTL time.Duration
	Now            func() time.Time
}

type service struct {
	db       *gorm.DB
	repo     Repository
	listings listings.Service
	ttl      time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("inventory db required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Listings == nil {
		return nil, fmt.Errorf("listings service required")
	}
	ttl := params.ReservationTTL
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{db: params.DB, repo: params.Repo, listings: params.Listings, ttl: ttl, now: now}, nil
}

func (s *service) clock() time.Time {
	return s.now().UTC()
}

func (s *service) Reserve(ctx context.Context, tx *gorm.DB, listingID, orderID uuid.UUID) (*models.InventoryUnit, error) {
	var claimed []models.InventoryUnit
	err := db.Within(ctx, s.db, tx, func(tx *gorm.DB) error {
		var err error
		claimed, err = s.claim(ctx, s.repo.WithTx(tx), listingID, orderID, 1)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	return &claimed[0], nil
}

// ReserveMany sweeps the listing's expired reservations, then claims up to n
// units. It may return fewer than n; the caller decides whether that is fatal.
func (s *service) ReserveMany(ctx context.Context, tx *gorm.DB, listingID, orderID uuid.UUID, n int) ([]models.InventoryUnit, error) {
	if n <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	var claimed []models.InventoryUnit
	err := db.Within(ctx, s.db, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.SweepExpired(ctx, &listingID, s.clock()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sweep expired reservations")
		}
		var err error
		claimed, err = s.claim(ctx, repo, listingID, orderID, n)
		return err
	})
	return claimed, err
}

// claim walks claimable candidates in creation order and conditionally
// reserves each. Losing a candidate to a concurrent caller just moves on.
func (s *service) claim(ctx context.Context, repo Repository, listingID, orderID uuid.UUID, n int) ([]models.InventoryUnit, error) {
	if listingID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "listing id and order id are required")
	}

	now := s.clock()
	until := now.Add(s.ttl)
	tried := make(map[uuid.UUID]struct{})
	var won []uuid.UUID

	for round := 0; round < maxClaimRounds && len(won) < n; round++ {
		candidates, err := repo.ClaimableIDs(ctx, listingID, now, n-len(won)+len(tried)+claimBatch)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list claimable units")
		}

		fresh := 0
		for _, id := range candidates {
			if len(won) == n {
				break
			}
			if _, seen := tried[id]; seen {
				continue
			}
			tried[id] = struct{}{}
			fresh++

			affected, err := repo.Claim(ctx, id, orderID, now, until)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim unit")
			}
			if affected == 1 {
				won = append(won, id)
			}
		}
		if fresh == 0 {
			break
		}
	}

	units, err := repo.FindByIDs(ctx, won)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load claimed units")
	}
	return units, nil
}

func (s *service) MarkSold(ctx context.Context, tx *gorm.DB, unitID uuid.UUID) error {
	return db.Within(ctx, s.db, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		affected, err := repo.MarkSold(ctx, unitID, nil, s.clock())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark unit sold")
		}
		if affected == 1 {
			return nil
		}
		unit, err := s.load(ctx, repo, unitID)
		if err != nil {
			return err
		}
		if unit.Status == enums.InventoryUnitSold {
			return nil
		}
		return pkgerrors.Newf(pkgerrors.CodeStateConflict, "unit is %s", unit.Status)
	})
}

// MarkSoldFor sells the unit only if orderID still holds its reservation. It
// reports false when the hold was lost, and true when the unit is already
// sold to the same order.
func (s *service) MarkSoldFor(ctx context.Context, tx *gorm.DB, unitID, orderID uuid.UUID) (bool, error) {
	sold := false
	err := db.Within(ctx, s.db, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		affected, err := repo.MarkSold(ctx, unitID, &orderID, s.clock())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark unit sold")
		}
		if affected == 1 {
			sold = true
			return nil
		}
		unit, err := repo.FindByID(ctx, unitID)
		if err != nil {
			if db.IsNotFound(err) {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unit")
		}
		sold = unit.Status == enums.InventoryUnitSold && unit.OrderID != nil && *unit.OrderID == orderID
		return nil
	})
	return sold, err
}

func (s *service) Release(ctx context.Context, tx *gorm.DB, unitID uuid.UUID) error {
	return s.release(ctx, tx, unitID, nil)
}

// ReleaseFor returns the unit to the pool only while orderID holds it, so a
// late cancel never frees a unit someone else has since reserved.
func (s *service) ReleaseFor(ctx context.Context, tx *gorm.DB, unitID, orderID uuid.UUID) error {
	return s.release(ctx, tx, unitID, &orderID)
}

func (s *service) release(ctx context.Context, tx *gorm.DB, unitID uuid.UUID, holder *uuid.UUID) error {
	return db.Within(ctx, s.db, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		affected, err := repo.Release(ctx, unitID, holder)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release unit")
		}
		if affected == 1 {
			return nil
		}
		// Already available, already sold, or held by someone else: nothing to do.
		_, err = s.load(ctx, repo, unitID)
		return err
	})
}

func (s *service) ExtendFor(ctx context.Context, tx *gorm.DB, unitID, orderID uuid.UUID, until time.Time) (bool, error) {
	extended := false
	err := db.Within(ctx, s.db, tx, func(tx *gorm.DB) error {
		affected, err := s.repo.WithTx(tx).ExtendReservation(ctx, unitID, orderID, until.UTC())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "extend reservation")
		}
		extended = affected == 1
		return nil
	})
	return extended, err
}

func (s *service) CheckDuplicate(ctx context.Context, tx *gorm.DB, fingerprint string) (bool, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "fingerprint is required")
	}
	found, err := s.repo.WithTx(tx).ExistingFingerprints(ctx, []string{fingerprint})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check fingerprint")
	}
	return len(found) > 0, nil
}

func (s *service) SweepExpired(ctx context.Context, tx *gorm.DB, listingID *uuid.UUID) (int64, error) {
	var swept int64
	err := db.Within(ctx, s.db, tx, func(tx *gorm.DB) error {
		var err error
		swept, err = s.repo.WithTx(tx).SweepExpired(ctx, listingID, s.clock())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sweep expired reservations")
		}
		return nil
	})
	return swept, err
}

func (s *service) Units(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]models.InventoryUnit, error) {
	units, err := s.repo.WithTx(tx).FindByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load units")
	}
	return units, nil
}

// AddUnits accepts new secrets for a seller's discrete listing. Any payload
// whose fingerprint already exists, in the batch or anywhere in the store,
// rejects the whole upload.
func (s *service) AddUnits(ctx context.Context, sellerID, listingID uuid.UUID, payloads []string) ([]models.InventoryUnit, error) {
	if len(payloads) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one payload is required")
	}
	if len(payloads) > maxUnitsPerUpload {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "at most %d payloads per upload", maxUnitsPerUpload)
	}

	units := make([]models.InventoryUnit, 0, len(payloads))
	fingerprints := make([]string, 0, len(payloads))
	seen := make(map[string]int, len(payloads))
	for i, raw := range payloads {
		payload := strings.TrimSpace(raw)
		if payload == "" {
			return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "payload %d is empty", i)
		}
		fp := Fingerprint(payload)
		if first, dup := seen[fp]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeDuplicateContent, "upload contains the same payload twice").
				WithDetails(map[string]any{"indexes": []int{first, i}})
		}
		seen[fp] = i
		fingerprints = append(fingerprints, fp)
		units = append(units, models.InventoryUnit{
			ListingID:   listingID,
			Payload:     payload,
			Fingerprint: fp,
			Status:      enums.InventoryUnitAvailable,
		})
	}

	err := db.Within(ctx, s.db, nil, func(tx *gorm.DB) error {
		listing, err := s.listings.Get(ctx, tx, listingID)
		if err != nil {
			return err
		}
		if listing.SellerID != sellerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "listing belongs to another seller")
		}
		if !listing.IsDiscrete() {
			return pkgerrors.New(pkgerrors.CodeValidation, "unlimited listings do not hold inventory units")
		}

		repo := s.repo.WithTx(tx)
		existing, err := repo.ExistingFingerprints(ctx, fingerprints)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check fingerprints")
		}
		if len(existing) > 0 {
			indexes := make([]int, 0, len(existing))
			for _, fp := range existing {
				indexes = append(indexes, seen[fp])
			}
			return pkgerrors.New(pkgerrors.CodeDuplicateContent, "inventory content already exists").
				WithDetails(map[string]any{"indexes": indexes})
		}

		if err := repo.InsertUnits(ctx, units); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeDuplicateContent, err, "inventory content already exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert units")
		}
		return s.listings.IncrementAvailable(ctx, tx, listingID, len(units))
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

func (s *service) Summary(ctx context.Context, listingID uuid.UUID) (*Summary, error) {
	counts, err := s.repo.CountByEffectiveStatus(ctx, listingID, s.clock())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count units")
	}
	return &Summary{
		ListingID: listingID,
		Available: counts[enums.InventoryUnitAvailable],
		Reserved:  counts[enums.InventoryUnitReserved],
		Sold:      counts[enums.InventoryUnitSold],
	}, nil
}

func (s *service) ActiveReservations(ctx context.Context, listingID uuid.UUID) ([]models.InventoryUnit, error) {
	units, err := s.repo.ListActiveReservations(ctx, listingID, s.clock())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reservations")
	}
	return units, nil
}

func (s *service) load(ctx context.Context, repo Repository, unitID uuid.UUID) (*models.InventoryUnit, error) {
	unit, err := repo.FindByID(ctx, unitID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "inventory unit not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unit")
	}
	return unit, nil
}
