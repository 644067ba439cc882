package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/internal/earnings"
	"github.com/keymarket/keymarket-backend/internal/ledger"
	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
)

// settlement collects what a paid transition wrote, so metrics and
// notifications can be emitted once the transaction has committed.
type settlement struct {
	entries  []*models.LedgerEntry
	earning  *models.PendingEarning
	referrer uuid.UUID
	referral decimal.Decimal
}

func (st *settlement) add(entry *models.LedgerEntry) {
	if entry != nil {
		st.entries = append(st.entries, entry)
	}
}

// settle splits the order total into the held seller net, the platform fee
// and, when the buyer was referred, an immediate referral credit.
func (s *service) settle(ctx context.Context, tx *gorm.DB, order *models.Order, st *settlement) error {
	split, err := s.policy.Split(order.TotalPrice)
	if err != nil {
		return err
	}

	earning, err := s.earnings.Hold(ctx, tx, earnings.HoldInput{
		SellerID: order.SellerID,
		OrderID:  order.ID,
		Amount:   split.SellerNet,
	})
	if err != nil {
		return err
	}
	st.earning = earning

	if s.platformAccount != uuid.Nil && split.PlatformFee.IsPositive() {
		entry, err := s.ledger.Credit(ctx, tx, ledger.Posting{
			AccountID: s.platformAccount,
			Amount:    split.PlatformFee,
			Reason:    enums.LedgerReasonPlatformFee,
			OrderID:   &order.ID,
		})
		if err != nil {
			return err
		}
		st.add(entry)
	}

	return s.payReferral(ctx, tx, order, split.Price, st)
}

func (s *service) payReferral(ctx context.Context, tx *gorm.DB, order *models.Order, price decimal.Decimal, st *settlement) error {
	link, err := s.referrals.FindActiveByReferred(ctx, tx, order.BuyerID)
	if err != nil || link == nil {
		return err
	}

	amount, usedDefault := s.policy.ReferralCommission(price, link.Rate)
	if usedDefault {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"referral_link_id": link.ID.String(),
			"order_id":         order.ID.String(),
		})
		if link.Rate != nil {
			s.logg.Warn(s.logg.WithField(logCtx, "stored_rate", link.Rate.String()), "referral rate invalid, default applied")
		} else {
			s.logg.Info(logCtx, "referral rate unset, default applied")
		}
	}
	if !amount.IsPositive() {
		return nil
	}

	entry, err := s.ledger.Credit(ctx, tx, ledger.Posting{
		AccountID: link.ReferrerID,
		Amount:    amount,
		Reason:    enums.LedgerReasonReferralCommission,
		OrderID:   &order.ID,
	})
	if err != nil {
		return err
	}
	if err := s.referrals.AddEarned(ctx, tx, link.ID, amount); err != nil {
		return err
	}
	st.add(entry)
	st.referrer = link.ReferrerID
	st.referral = amount
	return nil
}
