package orders

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/keymarket/keymarket-backend/api/middleware"
	"github.com/keymarket/keymarket-backend/api/responses"
	"github.com/keymarket/keymarket-backend/api/validators"
	internalorders "github.com/keymarket/keymarket-backend/internal/orders"
	"github.com/keymarket/keymarket-backend/pkg/db/models"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	"github.com/keymarket/keymarket-backend/pkg/logger"
)

type adminAction func(ctx context.Context, orderID, adminID uuid.UUID, reason string) (*models.Order, error)

// AdminConfirm marks an externally settled order as paid and delivers it.
func AdminConfirm(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return adminHandler(logg, false, func(ctx context.Context, orderID, adminID uuid.UUID, _ string) (*models.Order, error) {
		return svc.AdminConfirm(ctx, orderID, adminID)
	})
}

// AdminCancel cancels an order that is still awaiting payment or confirmation.
func AdminCancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return adminHandler(logg, true, svc.AdminCancel)
}

// AdminRefund returns the order total to the buyer.
func AdminRefund(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return adminHandler(logg, true, svc.Refund)
}

// AdminPurge deletes a terminal order.
func AdminPurge(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Purge(r.Context(), orderID, adminID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"id": orderID, "deleted": true})
	}
}

func adminHandler(logg *logger.Logger, withReason bool, action adminAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req reasonRequest
		if withReason && r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		order, err := action(r.Context(), orderID, adminID, validators.SanitizeString(req.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.ViewFor(internalorders.Actor{ID: adminID, Role: enums.RoleAdmin}, order))
	}
}
