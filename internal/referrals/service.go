// Package referrals stores who referred whom and how much each referrer has earned.
package referrals

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/internal/commission"
	"github.com/keymarket/keymarket-backend/pkg/db"
	"github.com/keymarket/keymarket-backend/pkg/db/models"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
)

type CreateInput struct {
	ReferrerID uuid.UUID
	ReferredID uuid.UUID
	// Rate is optional; nil means the marketplace default applies at payout.
	Rate *decimal.Decimal
}

type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.ReferralLink, error)
	FindActiveByReferred(ctx context.Context, tx *gorm.DB, referredID uuid.UUID) (*models.ReferralLink, error)
	ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.ReferralLink, error)
	AddEarned(ctx context.Context, tx *gorm.DB, linkID uuid.UUID, amount decimal.Decimal) error
	Deactivate(ctx context.Context, linkID uuid.UUID) error
}

type service struct {
	db   *gorm.DB
	repo Repository
}

func NewService(conn *gorm.DB, repo Repository) (Service, error) {
	if conn == nil {
		return nil, fmt.Errorf("referrals db required")
	}
	if repo == nil {
		return nil, fmt.Errorf("referrals repository required")
	}
	return &service{db: conn, repo: repo}, nil
}

// Create records a referral at registration time. A user can be referred once,
// never by themselves, and an explicit rate must lie in (0, 1).
func (s *service) Create(ctx context.Context, input CreateInput) (*models.ReferralLink, error) {
	if input.ReferrerID == uuid.Nil || input.ReferredID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referrer and referred ids are required")
	}
	if input.ReferrerID == input.ReferredID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "users cannot refer themselves")
	}
	if input.Rate != nil {
		if err := commission.ValidateRate(*input.Rate); err != nil {
			return nil, err
		}
	}

	link := &models.ReferralLink{
		ReferrerID:  input.ReferrerID,
		ReferredID:  input.ReferredID,
		Rate:        input.Rate,
		EarnedTotal: decimal.Zero,
		Active:      true,
	}
	if err := s.repo.Create(ctx, link); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "user already has a referrer")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create referral link")
	}
	return link, nil
}

// FindActiveByReferred returns nil without error when the user was not
// referred or the link has been deactivated.
func (s *service) FindActiveByReferred(ctx context.Context, tx *gorm.DB, referredID uuid.UUID) (*models.ReferralLink, error) {
	link, err := s.repo.WithTx(tx).FindByReferred(ctx, referredID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load referral link")
	}
	if !link.Active {
		return nil, nil
	}
	return link, nil
}

func (s *service) ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.ReferralLink, error) {
	links, err := s.repo.ListByReferrer(ctx, referrerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list referral links")
	}
	return links, nil
}

func (s *service) AddEarned(ctx context.Context, tx *gorm.DB, linkID uuid.UUID, amount decimal.Decimal) error {
	amount = commission.RoundMoney(amount)
	if !amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "earned amount must be positive")
	}
	return db.Within(ctx, s.db, tx, func(tx *gorm.DB) error {
		affected, err := s.repo.WithTx(tx).AddEarned(ctx, linkID, amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update referral earnings")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "referral link not found")
		}
		return nil
	})
}

func (s *service) Deactivate(ctx context.Context, linkID uuid.UUID) error {
	affected, err := s.repo.SetActive(ctx, linkID, false)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate referral link")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "referral link not found")
	}
	return nil
}
