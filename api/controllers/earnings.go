package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/keymarket/keymarket-backend/api/middleware"
	"github.com/keymarket/keymarket-backend/api/responses"
	"github.com/keymarket/keymarket-backend/api/validators"
	"github.com/keymarket/keymarket-backend/internal/earnings"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
	"github.com/keymarket/keymarket-backend/pkg/logger"
)

type earningNoteRequest struct {
	Note string `json:"note" validate:"max=500"`
}

// SellerEarnings lists the caller's pending, released and cancelled earnings.
func SellerEarnings(svc earnings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter, err := earningFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter.SellerID = &sellerID
		listEarnings(w, r, svc, logg, filter)
	}
}

func SellerEarningsSummary(svc earnings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		summary, err := svc.Summary(r.Context(), sellerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// AdminEarnings lists earnings across sellers, filtered by seller_id and status.
func AdminEarnings(svc earnings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := earningFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("seller_id")); raw != "" {
			sellerID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid seller_id").
					WithDetails(map[string]any{"field": "seller_id"}))
				return
			}
			filter.SellerID = &sellerID
		}
		listEarnings(w, r, svc, logg, filter)
	}
}

func AdminReleaseEarning(svc earnings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, earningID, note, ok := earningAction(w, r, logg)
		if !ok {
			return
		}
		earning, err := svc.Release(r.Context(), earningID, adminID, note)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newEarningView(*earning))
	}
}

// AdminCancelEarning cancels a pending earning; the note is mandatory.
func AdminCancelEarning(svc earnings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, earningID, note, ok := earningAction(w, r, logg)
		if !ok {
			return
		}
		earning, err := svc.Cancel(r.Context(), earningID, adminID, note)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newEarningView(*earning))
	}
}

func earningAction(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, uuid.UUID, string, bool) {
	adminID, _, err := middleware.ActorFromContext(r.Context())
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, uuid.Nil, "", false
	}
	earningID, err := validators.ParseUUIDParam(r, "earningId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, uuid.Nil, "", false
	}
	var req earningNoteRequest
	if r.ContentLength != 0 {
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return uuid.Nil, uuid.Nil, "", false
		}
	}
	return adminID, earningID, validators.SanitizeString(req.Note, 500), true
}

func earningFilter(r *http.Request) (earnings.Filter, error) {
	var filter earnings.Filter
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParsePendingEarningStatus(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").
				WithDetails(map[string]any{"field": "status"})
		}
		filter.Status = &status
	}
	return filter, nil
}

func listEarnings(w http.ResponseWriter, r *http.Request, svc earnings.Service, logg *logger.Logger, filter earnings.Filter) {
	params, err := pageParams(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	page, err := svc.List(r.Context(), filter, params)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, mapPage(page, newEarningView))
}
