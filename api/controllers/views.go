package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keymarket/keymarket-backend/api/validators"
	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	"github.com/keymarket/keymarket-backend/pkg/pagination"
)

type ledgerEntryView struct {
	ID        uuid.UUID             `json:"id"`
	AccountID uuid.UUID             `json:"account_id"`
	Direction enums.LedgerDirection `json:"direction"`
	Amount    decimal.Decimal       `json:"amount"`
	Reason    enums.LedgerReason    `json:"reason"`
	Note      *string               `json:"note,omitempty"`
	OrderID   *uuid.UUID            `json:"order_id,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

func newLedgerEntryView(e models.LedgerEntry) ledgerEntryView {
	return ledgerEntryView{
		ID:        e.ID,
		AccountID: e.AccountID,
		Direction: e.Direction,
		Amount:    e.Amount,
		Reason:    e.Reason,
		Note:      e.Note,
		OrderID:   e.OrderID,
		CreatedAt: e.CreatedAt,
	}
}

type earningView struct {
	ID         uuid.UUID                  `json:"id"`
	SellerID   uuid.UUID                  `json:"seller_id"`
	OrderID    uuid.UUID                  `json:"order_id"`
	Amount     decimal.Decimal            `json:"amount"`
	Status     enums.PendingEarningStatus `json:"status"`
	ReleaseAt  time.Time                  `json:"release_at"`
	ReleasedAt *time.Time                 `json:"released_at,omitempty"`
	Note       *string                    `json:"note,omitempty"`
	CreatedAt  time.Time                  `json:"created_at"`
}

func newEarningView(p models.PendingEarning) earningView {
	return earningView{
		ID:         p.ID,
		SellerID:   p.SellerID,
		OrderID:    p.OrderID,
		Amount:     p.Amount,
		Status:     p.Status,
		ReleaseAt:  p.ReleaseAt,
		ReleasedAt: p.ReleasedAt,
		Note:       p.Note,
		CreatedAt:  p.CreatedAt,
	}
}

// reservationView omits the payload; reserved content is never shown before sale.
type reservationView struct {
	ID            uuid.UUID  `json:"id"`
	ListingID     uuid.UUID  `json:"listing_id"`
	OrderID       *uuid.UUID `json:"order_id,omitempty"`
	ReservedUntil *time.Time `json:"reserved_until,omitempty"`
}

func newReservationView(u models.InventoryUnit) reservationView {
	return reservationView{
		ID:            u.ID,
		ListingID:     u.ListingID,
		OrderID:       u.OrderID,
		ReservedUntil: u.ReservedUntil,
	}
}

type referralLinkView struct {
	ID          uuid.UUID        `json:"id"`
	ReferrerID  uuid.UUID        `json:"referrer_id"`
	ReferredID  uuid.UUID        `json:"referred_id"`
	Rate        *decimal.Decimal `json:"rate,omitempty"`
	EarnedTotal decimal.Decimal  `json:"earned_total"`
	Active      bool             `json:"active"`
	CreatedAt   time.Time        `json:"created_at"`
}

func newReferralLinkView(l models.ReferralLink) referralLinkView {
	return referralLinkView{
		ID:          l.ID,
		ReferrerID:  l.ReferrerID,
		ReferredID:  l.ReferredID,
		Rate:        l.Rate,
		EarnedTotal: l.EarnedTotal,
		Active:      l.Active,
		CreatedAt:   l.CreatedAt,
	}
}

func mapPage[T, V any](page pagination.Page[T], fn func(T) V) pagination.Page[V] {
	items := make([]V, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, fn(item))
	}
	return pagination.Page[V]{Items: items, NextCursor: page.NextCursor}
}

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}
