package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	"github.com/keymarket/keymarket-backend/pkg/pagination"
)

// CreateInput is a purchase request from a buyer.
type CreateInput struct {
	BuyerID       uuid.UUID
	ListingID     uuid.UUID
	Quantity      int
	PaymentMethod enums.PaymentMethod
}

// Actor identifies who is reading or mutating an order.
type Actor struct {
	ID   uuid.UUID
	Role enums.Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.RoleAdmin
}

// OrderView is the API shape of an order. DeliveredPayload is only filled
// for the buyer and admins.
type OrderView struct {
	ID               uuid.UUID           `json:"id"`
	Code             string              `json:"code"`
	BuyerID          uuid.UUID           `json:"buyer_id"`
	SellerID         uuid.UUID           `json:"seller_id"`
	ListingID        uuid.UUID           `json:"listing_id"`
	Quantity         int                 `json:"quantity"`
	UnitPrice        decimal.Decimal     `json:"unit_price"`
	TotalPrice       decimal.Decimal     `json:"total_price"`
	PaymentMethod    enums.PaymentMethod `json:"payment_method"`
	Status           enums.OrderStatus   `json:"status"`
	DeliveredPayload *string             `json:"delivered_payload,omitempty"`
	BuyerConfirmedAt *time.Time          `json:"buyer_confirmed_at,omitempty"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`
	CancelledAt      *time.Time          `json:"cancelled_at,omitempty"`
	CancelReason     *string             `json:"cancel_reason,omitempty"`
	RefundedAt       *time.Time          `json:"refunded_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

// ViewFor renders order for actor.
func ViewFor(actor Actor, order *models.Order) OrderView {
	if order == nil {
		return OrderView{}
	}
	view := OrderView{
		ID:               order.ID,
		Code:             order.Code,
		BuyerID:          order.BuyerID,
		SellerID:         order.SellerID,
		ListingID:        order.ListingID,
		Quantity:         order.Quantity,
		UnitPrice:        order.UnitPrice,
		TotalPrice:       order.TotalPrice,
		PaymentMethod:    order.PaymentMethod,
		Status:           order.Status,
		BuyerConfirmedAt: order.BuyerConfirmedAt,
		PaidAt:           order.PaidAt,
		CancelledAt:      order.CancelledAt,
		CancelReason:     order.CancelReason,
		RefundedAt:       order.RefundedAt,
		CreatedAt:        order.CreatedAt,
	}
	if actor.IsAdmin() || actor.ID == order.BuyerID {
		view.DeliveredPayload = order.DeliveredPayload
	}
	return view
}

// ViewPage renders every order of page for actor.
func ViewPage(actor Actor, page pagination.Page[models.Order]) pagination.Page[OrderView] {
	out := pagination.Page[OrderView]{
		Items:      make([]OrderView, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for i := range page.Items {
		out.Items = append(out.Items, ViewFor(actor, &page.Items[i]))
	}
	return out
}
