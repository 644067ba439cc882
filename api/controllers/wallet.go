package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keymarket/keymarket-backend/api/middleware"
	"github.com/keymarket/keymarket-backend/api/responses"
	"github.com/keymarket/keymarket-backend/api/validators"
	"github.com/keymarket/keymarket-backend/internal/audit"
	"github.com/keymarket/keymarket-backend/internal/ledger"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	pkgerrors "github.com/keymarket/keymarket-backend/pkg/errors"
	"github.com/keymarket/keymarket-backend/pkg/logger"
)

type walletResponse struct {
	AccountID uuid.UUID       `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type creditRequest struct {
	Amount string `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"required,oneof=top_up adjustment"`
	Note   string `json:"note" validate:"max=500"`
}

// Wallet returns the caller's balance, opening the account on first access.
func Wallet(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		account, err := svc.OpenAccount(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, walletResponse{
			AccountID: account.ID,
			Balance:   account.Balance,
			UpdatedAt: account.UpdatedAt,
		})
	}
}

// WalletEntries pages through the caller's ledger history, newest first.
func WalletEntries(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.Entries(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, mapPage(page, newLedgerEntryView))
	}
}

func AdminReconcile(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := validators.ParseUUIDParam(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Reconcile(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !result.Consistent {
			logg.Warn(logg.WithFields(r.Context(), map[string]any{
				"account_id": accountID.String(),
				"drift":      result.Drift.String(),
			}), "ledger drift detected")
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminCredit posts a top_up or adjustment credit to any account.
func AdminCredit(svc ledger.Service, recorder audit.Recorder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		accountID, err := validators.ParseUUIDParam(r, "accountId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req creditRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount must be a decimal string").
				WithDetails(map[string]any{"field": "amount"}))
			return
		}

		entry, err := svc.Credit(r.Context(), nil, ledger.Posting{
			AccountID: accountID,
			Amount:    amount,
			Reason:    enums.LedgerReason(req.Reason),
			Note:      validators.SanitizeString(req.Note, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if recorder != nil {
			recorder.Record(r.Context(), adminID, audit.ActionAccountCredit, map[string]any{
				"account_id": accountID.String(),
				"entry_id":   entry.ID.String(),
				"amount":     entry.Amount.String(),
				"reason":     string(entry.Reason),
			})
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newLedgerEntryView(*entry))
	}
}
