package controllers

import (
	"net/http"

	"github.com/keymarket/keymarket-backend/api/middleware"
	"github.com/keymarket/keymarket-backend/api/responses"
	"github.com/keymarket/keymarket-backend/api/validators"
	"github.com/keymarket/keymarket-backend/internal/inventory"
	"github.com/keymarket/keymarket-backend/internal/listings"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
	"github.com/keymarket/keymarket-backend/pkg/logger"
)

type addUnitsRequest struct {
	Payloads []string `json:"payloads" validate:"required,min=1,max=500,dive,required,max=4096"`
}

type addUnitsResponse struct {
	Added   int                `json:"added"`
	Units   []reservationView  `json:"units"`
	Summary *inventory.Summary `json:"summary,omitempty"`
}

// AddInventory uploads deliverable units to one of the caller's discrete listings.
func AddInventory(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		listingID, err := validators.ParseUUIDParam(r, "listingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req addUnitsRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		units, err := svc.AddUnits(r.Context(), sellerID, listingID, req.Payloads)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := addUnitsResponse{Added: len(units), Units: make([]reservationView, 0, len(units))}
		for _, unit := range units {
			resp.Units = append(resp.Units, newReservationView(unit))
		}
		if summary, err := svc.Summary(r.Context(), listingID); err == nil {
			resp.Summary = summary
		} else {
			logg.Warn(logg.WithField(r.Context(), "listing_id", listingID.String()), "inventory summary after upload failed")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}

func InventorySummary(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listingID, err := validators.ParseUUIDParam(r, "listingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.Summary(r.Context(), listingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// InventoryReservations lists unexpired holds; only the listing's seller or an admin may see them.
func InventoryReservations(svc inventory.Service, listingSvc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, role, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		listingID, err := validators.ParseUUIDParam(r, "listingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if role != enums.RoleAdmin {
			listing, err := listingSvc.Get(r.Context(), nil, listingID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if listing.SellerID != userID {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "listing belongs to another seller"))
				return
			}
		}

		units, err := svc.ActiveReservations(r.Context(), listingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views := make([]reservationView, 0, len(units))
		for _, unit := range units {
			views = append(views, newReservationView(unit))
		}
		responses.WriteSuccess(w, map[string]any{"items": views})
	}
}
