package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keymarket/keymarket-backend/api/controllers"
	ordercontrollers "github.com/keymarket/keymarket-backend/api/controllers/orders"
	"github.com/keymarket/keymarket-backend/api/middleware"
	"github.com/keymarket/keymarket-backend/internal/audit"
	"github.com/keymarket/keymarket-backend/internal/earnings"
	"github.com/keymarket/keymarket-backend/internal/inventory"
	"github.com/keymarket/keymarket-backend/internal/ledger"
	"github.com/keymarket/keymarket-backend/internal/listings"
	"github.com/keymarket/keymarket-backend/internal/orders"
	"github.com/keymarket/keymarket-backend/internal/referrals"
	"github.com/keymarket/keymarket-backend/pkg/config"
	"github.com/keymarket/keymarket-backend/pkg/enums"
	"github.com/keymarket/keymarket-backend/pkg/logger"
	"github.com/keymarket/keymarket-backend/pkg/redis"
)

// Services groups the domain services exposed over HTTP.
type Services struct {
	Orders    orders.Service
	Ledger    ledger.Service
	Earnings  earnings.Service
	Inventory inventory.Service
	Listings  listings.Service
	Referrals referrals.Service
	Audit     audit.Recorder
}

// Infra carries the shared clients the router needs beyond the services.
type Infra struct {
	// Readiness maps a dependency name to its pinger; nil entries are skipped.
	Readiness   map[string]controllers.Pinger
	Idempotency redis.IdempotencyStore
	Gatherer    prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, infra Infra, svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	orderPolicy := middleware.RateLimitPolicy{
		Name:      "orders",
		PerMinute: cfg.RateLimit.OrdersPerMinute,
		Burst:     cfg.RateLimit.OrdersBurst,
	}
	sellerOnly := middleware.RequireRole(logg, enums.RoleSeller, enums.RoleAdmin)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, infra.Readiness))
	})

	if infra.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(infra.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(infra.Idempotency, logg))

		r.Route("/orders", func(r chi.Router) {
			r.With(middleware.RateLimit(orderPolicy, logg)).Post("/", ordercontrollers.Create(svc.Orders, logg))
			r.Get("/", ordercontrollers.List(svc.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(svc.Orders, logg))
			r.Post("/{orderId}/payment-confirmation", ordercontrollers.ConfirmPayment(svc.Orders, logg))
		})

		r.Get("/wallet", controllers.Wallet(svc.Ledger, logg))
		r.Get("/wallet/entries", controllers.WalletEntries(svc.Ledger, logg))
		r.Get("/referrals", controllers.MyReferrals(svc.Referrals, logg))

		r.Group(func(r chi.Router) {
			r.Use(sellerOnly)
			r.Get("/earnings", controllers.SellerEarnings(svc.Earnings, logg))
			r.Get("/earnings/summary", controllers.SellerEarningsSummary(svc.Earnings, logg))
			r.Post("/listings/{listingId}/inventory", controllers.AddInventory(svc.Inventory, logg))
			r.Get("/listings/{listingId}/inventory/reservations", controllers.InventoryReservations(svc.Inventory, svc.Listings, logg))
		})
		r.Get("/listings/{listingId}/inventory/summary", controllers.InventorySummary(svc.Inventory, logg))

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleAdmin))

			r.Post("/orders/{orderId}/confirm", ordercontrollers.AdminConfirm(svc.Orders, logg))
			r.Post("/orders/{orderId}/cancel", ordercontrollers.AdminCancel(svc.Orders, logg))
			r.Post("/orders/{orderId}/refund", ordercontrollers.AdminRefund(svc.Orders, logg))
			r.Delete("/orders/{orderId}", ordercontrollers.AdminPurge(svc.Orders, logg))

			r.Get("/earnings", controllers.AdminEarnings(svc.Earnings, logg))
			r.Post("/earnings/{earningId}/release", controllers.AdminReleaseEarning(svc.Earnings, logg))
			r.Post("/earnings/{earningId}/cancel", controllers.AdminCancelEarning(svc.Earnings, logg))

			r.Get("/accounts/{accountId}/reconciliation", controllers.AdminReconcile(svc.Ledger, logg))
			r.Post("/accounts/{accountId}/credits", controllers.AdminCredit(svc.Ledger, svc.Audit, logg))

			r.Post("/referrals", controllers.AdminCreateReferral(svc.Referrals, svc.Audit, logg))
			r.Delete("/referrals/{linkId}", controllers.AdminDeactivateReferral(svc.Referrals, svc.Audit, logg))
		})
	})

	return r
}
