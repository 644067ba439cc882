// Package app wires the marketplace services shared by the api and cron-worker binaries.
package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/keymarket/keymarket-backend/internal/audit"
	"github.com/keymarket/keymarket-backend/internal/commission"
	"github.com/keymarket/keymarket-backend/internal/earnings"
	"github.com/keymarket/keymarket-backend/internal/inventory"
	"github.com/keymarket/keymarket-backend/internal/ledger"
	"github.com/keymarket/keymarket-backend/internal/listings"
	"github.com/keymarket/keymarket-backend/internal/notifications"
	"github.com/keymarket/keymarket-backend/internal/orders"
	"github.com/keymarket/keymarket-backend/internal/referrals"
	"github.com/keymarket/keymarket-backend/pkg/config"
	"github.com/keymarket/keymarket-backend/pkg/logger"
	"github.com/keymarket/keymarket-backend/pkg/metrics"
	"github.com/keymarket/keymarket-backend/pkg/outbox"
)

type Params struct {
	Config  config.MarketConfig
	DB      *gorm.DB
	Logger  *logger.Logger
	Metrics *metrics.MarketMetrics
	// Audit falls back to a log-only recorder when nil.
	Audit audit.Recorder
}

// Services holds one instance of every domain service.
type Services struct {
	Listings  listings.Service
	Inventory inventory.Service
	Ledger    ledger.Service
	Earnings  earnings.Service
	Referrals referrals.Service
	Orders    orders.Service
	Outbox    *outbox.Repository
	Audit     audit.Recorder
}

func NewServices(params Params) (*Services, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	recorder := params.Audit
	if recorder == nil {
		recorder = audit.NewLogRecorder(logg)
	}

	outboxRepo := outbox.NewRepository(params.DB)
	notifier, err := notifications.NewOutboxNotifier(params.DB, outboxRepo, logg)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}

	listingSvc, err := listings.NewService(params.DB, listings.NewRepository(params.DB))
	if err != nil {
		return nil, err
	}
	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		DB:             params.DB,
		Repo:           inventory.NewRepository(params.DB),
		Listings:       listingSvc,
		ReservationTTL: params.Config.ReservationTTL,
	})
	if err != nil {
		return nil, err
	}
	ledgerSvc, err := ledger.NewService(params.DB, ledger.NewRepository(params.DB), params.Metrics)
	if err != nil {
		return nil, err
	}
	earningsSvc, err := earnings.NewService(earnings.ServiceParams{
		DB:       params.DB,
		Repo:     earnings.NewRepository(params.DB),
		Ledger:   ledgerSvc,
		Notifier: notifier,
		Audit:    recorder,
		Metrics:  params.Metrics,
		Hold:     params.Config.EarningsHold,
	})
	if err != nil {
		return nil, err
	}
	referralSvc, err := referrals.NewService(params.DB, referrals.NewRepository(params.DB))
	if err != nil {
		return nil, err
	}
	orderSvc, err := orders.NewService(orders.ServiceParams{
		DB:        params.DB,
		Repo:      orders.NewRepository(params.DB),
		Listings:  listingSvc,
		Inventory: inventorySvc,
		Ledger:    ledgerSvc,
		Earnings:  earningsSvc,
		Referrals: referralSvc,
		Outbox:    outboxRepo,
		Notifier:  notifier,
		Audit:     recorder,
		Metrics:   params.Metrics,
		Logger:    logg,
		Policy: commission.Policy{
			PlatformFeeRate:     params.Config.PlatformFeeRate,
			DefaultReferralRate: params.Config.DefaultReferralRate,
		},
		PlatformAccountID:  params.Config.PlatformAccount(),
		PaymentWindow:      params.Config.PaymentWindow,
		ConfirmationWindow: params.Config.ConfirmationWindow,
	})
	if err != nil {
		return nil, err
	}

	return &Services{
		Listings:  listingSvc,
		Inventory: inventorySvc,
		Ledger:    ledgerSvc,
		Earnings:  earningsSvc,
		Referrals: referralSvc,
		Orders:    orderSvc,
		Outbox:    outboxRepo,
		Audit:     recorder,
	}, nil
}
