package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keymarket/keymarket-backend/api/middleware"
	"github.com/keymarket/keymarket-backend/api/responses"
	"github.com/keymarket/keymarket-backend/api/validators"
	"github.com/keymarket/keymarket-backend/internal/audit"
	"github.com/keymarket/keymarket-backend/internal/referrals"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
	"github.com/keymarket/keymarket-backend/pkg/logger"
)

type createReferralRequest struct {
	ReferrerID string  `json:"referrer_id" validate:"required,uuid"`
	ReferredID string  `json:"referred_id" validate:"required,uuid"`
	Rate       *string `json:"rate"`
}

// AdminCreateReferral links a newly registered user to the user who referred them.
func AdminCreateReferral(svc referrals.Service, recorder audit.Recorder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createReferralRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := referrals.CreateInput{
			ReferrerID: uuid.MustParse(req.ReferrerID),
			ReferredID: uuid.MustParse(req.ReferredID),
		}
		if req.Rate != nil {
			rate, err := decimal.NewFromString(*req.Rate)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "rate must be a decimal string").
					WithDetails(map[string]any{"field": "rate"}))
				return
			}
			input.Rate = &rate
		}

		link, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if recorder != nil {
			recorder.Record(r.Context(), adminID, audit.ActionReferralCreate, map[string]any{
				"referral_link_id": link.ID.String(),
				"referrer_id":      link.ReferrerID.String(),
				"referred_id":      link.ReferredID.String(),
			})
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newReferralLinkView(*link))
	}
}

// MyReferrals lists the links where the caller is the referrer.
func MyReferrals(svc referrals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		links, err := svc.ListByReferrer(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views := make([]referralLinkView, 0, len(links))
		for _, link := range links {
			views = append(views, newReferralLinkView(link))
		}
		responses.WriteSuccess(w, map[string]any{"items": views})
	}
}

// AdminDeactivateReferral stops future commissions; earned totals are kept.
func AdminDeactivateReferral(svc referrals.Service, recorder audit.Recorder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		linkID, err := validators.ParseUUIDParam(r, "linkId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Deactivate(r.Context(), linkID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if recorder != nil {
			recorder.Record(r.Context(), adminID, audit.ActionReferralDeactivate, map[string]any{
				"referral_link_id": linkID.String(),
			})
		}
		responses.WriteSuccess(w, map[string]any{"id": linkID, "active": false})
	}
}
