package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imc400/tuka-backend/api/controllers"
	webhookcontrollers "github.com/imc400/tuka-backend/api/controllers/webhooks"
	"github.com/imc400/tuka-backend/api/middleware"
	"github.com/imc400/tuka-backend/internal/checkout"
	"github.com/imc400/tuka-backend/internal/credentials"
	"github.com/imc400/tuka-backend/internal/fulfillment"
	"github.com/imc400/tuka-backend/internal/ledger"
	"github.com/imc400/tuka-backend/internal/rates"
	"github.com/imc400/tuka-backend/internal/settlement"
	"github.com/imc400/tuka-backend/internal/stores"
	"github.com/imc400/tuka-backend/pkg/config"
	"github.com/imc400/tuka-backend/pkg/enums"
	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/redis"
)

// Dependencies carries everything the HTTP surface calls into. Nil services
// answer 500 on their routes rather than panicking.
type Dependencies struct {
	DB              controllers.Pinger
	Redis           *redis.Client
	Gatherer        prometheus.Gatherer
	Rates           rates.Service
	Checkout        checkout.Service
	Ledger          ledger.Service
	Stores          stores.Service
	Credentials     credentials.Manager
	Fulfillment     fulfillment.Service
	FulfillmentRepo controllers.FailedFulfillmentLister
	DeadLetters     controllers.DeadLetterLister
	Settlement      settlement.Service
	WebhookParser   webhookcontrollers.EventParser
	WebhookGuard    webhookcontrollers.EventGuard
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	var (
		idemStore middleware.IdempotencyStore
		rateStore middleware.RateLimiterStore
	)
	if deps.Redis != nil {
		idemStore = deps.Redis
		rateStore = deps.Redis
	}
	checkoutPolicy := middleware.NewRateLimitPolicy("checkout", cfg.HTTP.RateLimitWindow, cfg.HTTP.RateLimitPerIP, cfg.HTTP.RateLimitPerEmail)
	quotePolicy := middleware.NewRateLimitPolicy("quotes", cfg.HTTP.RateLimitWindow, cfg.HTTP.RateLimitPerIP, 0)

	readiness := map[string]controllers.Pinger{}
	if deps.DB != nil {
		readiness["db"] = deps.DB
	}
	if deps.Redis != nil {
		readiness["redis"] = deps.Redis
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/payments", webhookcontrollers.PaymentWebhook(deps.Settlement, deps.WebhookParser, deps.WebhookGuard, logg))
		r.Get("/oauth/callback", controllers.OAuthCallback(deps.Credentials, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Idempotency(idemStore, logg))
			r.With(middleware.RateLimit(quotePolicy, rateStore, logg)).Post("/shipping/quotes", controllers.ShippingQuotes(deps.Rates, logg))
			r.With(middleware.RateLimit(checkoutPolicy, rateStore, logg)).Post("/checkout", controllers.Checkout(deps.Checkout, logg))
			r.Post("/checkout/{transactionId}/retry", controllers.CheckoutRetry(deps.Checkout, logg))
		})
		r.Get("/transactions/{transactionId}", controllers.TransactionDetail(deps.Ledger, logg))

		r.With(
			middleware.Auth(cfg.JWT, logg),
			middleware.RequireRole(logg, enums.OperatorRoleAdmin),
		).Get("/oauth/connect/{storeKey}", controllers.OAuthConnect(deps.Credentials, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(
			middleware.Auth(cfg.JWT, logg),
			middleware.RequireRole(logg, enums.OperatorRoleAdmin, enums.OperatorRoleSupport),
		)
		r.Get("/ping", controllers.AdminPing())
		r.Get("/fulfillments/failed", controllers.ListFailedFulfillments(deps.FulfillmentRepo, logg))
		r.Get("/stores/{storeKey}", controllers.GetStore(deps.Stores, logg))
		r.Get("/outbox/dead-letters", controllers.ListDeadLetters(deps.DeadLetters, logg))

		r.Group(func(r chi.Router) {
			r.Use(
				middleware.RequireRole(logg, enums.OperatorRoleAdmin),
				middleware.Idempotency(idemStore, logg),
			)
			r.Post("/transactions/{transactionId}/stores/{storeKey}/fulfillment/replay", controllers.ReplayFulfillment(deps.Fulfillment, logg))
			r.Post("/stores/{storeKey}/credentials/refresh", controllers.RefreshCredential(deps.Credentials, logg))
			r.Put("/stores", controllers.UpsertStore(deps.Stores, logg))
		})
	})

	return r
}
