package orders

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/keymarket/keymarket-backend/api/middleware"
	"github.com/keymarket/keymarket-backend/api/responses"
	"github.com/keymarket/keymarket-backend/api/validators"
	internalorders "github.com/keymarket/keymarket-backend/internal/orders"
	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
	"github.com/keymarket/keymarket-backend/pkg/logger"
	"github.com/keymarket/keymarket-backend/pkg/pagination"
)

const viewSeller = "seller"

type createOrderRequest struct {
	ListingID     string `json:"listing_id" validate:"required,uuid"`
	Quantity      int    `json:"quantity" validate:"required,min=1,max=100"`
	PaymentMethod string `json:"payment_method" validate:"required,oneof=prepaid_wallet external_settlement"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// Create places an order for the authenticated buyer.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Create(r.Context(), internalorders.CreateInput{
			BuyerID:       buyerID,
			ListingID:     uuid.MustParse(req.ListingID),
			Quantity:      req.Quantity,
			PaymentMethod: enums.PaymentMethod(req.PaymentMethod),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internalorders.ViewFor(internalorders.Actor{ID: buyerID, Role: enums.RoleBuyer}, order))
	}
}

// List returns the caller's orders; ?view=seller lists sales instead of purchases.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, role, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		actor := internalorders.Actor{ID: userID, Role: role}
		var page pagination.Page[models.Order]
		if strings.EqualFold(r.URL.Query().Get("view"), viewSeller) {
			if role != enums.RoleSeller && role != enums.RoleAdmin {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "seller role required"))
				return
			}
			page, err = svc.ListForSeller(r.Context(), userID, params)
		} else {
			page, err = svc.ListForBuyer(r.Context(), userID, params)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.ViewPage(actor, page))
	}
}

// Detail returns one order visible to its buyer, its seller or an admin.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, role, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor := internalorders.Actor{ID: userID, Role: role}
		order, err := svc.Get(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.ViewFor(actor, order))
	}
}

// ConfirmPayment records the buyer's claim that an external payment was sent.
func ConfirmPayment(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.ConfirmPayment(r.Context(), orderID, buyerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.ViewFor(internalorders.Actor{ID: buyerID, Role: enums.RoleBuyer}, order))
	}
}
