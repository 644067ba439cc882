// Package listings is the read and availability model for sellable listings.
// Listing authoring lives outside this service; Create exists for seeding.
package listings

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/pkg/db"
	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
)

type CreateInput struct {
	SellerID  uuid.UUID
	Title     string
	Category  enums.ListingCategory
	UnitPrice decimal.Decimal
	Status    enums.ListingStatus
	// DeliveryContent is required for unlimited listings and ignored otherwise.
	DeliveryContent string
}

type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Listing, error)
	Get(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Listing, error)
	DecrementAvailable(ctx context.Context, tx *gorm.DB, id uuid.UUID, n int) error
	IncrementAvailable(ctx context.Context, tx *gorm.DB, id uuid.UUID, n int) error
}

type service struct {
	db   *gorm.DB
	repo Repository
}

func NewService(conn *gorm.DB, repo Repository) (Service, error) {
	if conn == nil {
		return nil, fmt.Errorf("listings db required")
	}
	if repo == nil {
		return nil, fmt.Errorf("listings repository required")
	}
	return &service{db: conn, repo: repo}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Listing, error) {
	if input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	if !input.Category.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid category %q", input.Category)
	}
	if input.UnitPrice.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must be non-negative")
	}
	status := input.Status
	if status == "" {
		status = enums.ListingStatusDraft
	}
	if !status.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid status %q", status)
	}

	listing := &models.Listing{
		SellerID:  input.SellerID,
		Title:     strings.TrimSpace(input.Title),
		Category:  input.Category,
		UnitPrice: input.UnitPrice.Round(2),
		Status:    status,
	}
	if input.Category == enums.ListingCategoryUnlimited {
		content := strings.TrimSpace(input.DeliveryContent)
		if content == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery content is required for unlimited listings")
		}
		listing.DeliveryContent = &content
	}
	if err := s.repo.Create(ctx, listing); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create listing")
	}
	return listing, nil
}

func (s *service) Get(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Listing, error) {
	listing, err := s.repo.WithTx(tx).FindByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
	}
	return listing, nil
}

// DecrementAvailable fails with InsufficientInventory instead of driving the counter negative.
func (s *service) DecrementAvailable(ctx context.Context, tx *gorm.DB, id uuid.UUID, n int) error {
	if n <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	affected, err := s.repo.WithTx(tx).DecrementAvailable(ctx, id, n)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement availability")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientInventory, "listing availability exhausted").
			WithDetails(map[string]any{"listing_id": id.String(), "requested": n})
	}
	return nil
}

func (s *service) IncrementAvailable(ctx context.Context, tx *gorm.DB, id uuid.UUID, n int) error {
	if n <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	affected, err := s.repo.WithTx(tx).IncrementAvailable(ctx, id, n)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment availability")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
	}
	return nil
}
