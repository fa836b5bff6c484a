package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/imc400/tuka-backend/internal/checkout"
	"github.com/imc400/tuka-backend/internal/credentials"
	"github.com/imc400/tuka-backend/internal/fulfillment"
	"github.com/imc400/tuka-backend/internal/ledger"
	"github.com/imc400/tuka-backend/internal/rates"
	"github.com/imc400/tuka-backend/internal/settlement"
	"github.com/imc400/tuka-backend/internal/splitter"
	"github.com/imc400/tuka-backend/internal/stores"
	"github.com/imc400/tuka-backend/pkg/config"
	"github.com/imc400/tuka-backend/pkg/db"
	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/metrics"
	"github.com/imc400/tuka-backend/pkg/outbox"
	"github.com/imc400/tuka-backend/pkg/ratesource"
	"github.com/imc400/tuka-backend/pkg/redis"
	"github.com/imc400/tuka-backend/pkg/security"
	"github.com/imc400/tuka-backend/pkg/square"
	"github.com/imc400/tuka-backend/pkg/stripe"
)

const userAgent = "tuka-backend/1.0"

// Services is the checkout service graph shared by the API and the cron worker.
type Services struct {
	Metrics         *metrics.SettlementMetrics
	Outbox          *outbox.Service
	DeadLetters     *outbox.DLQRepository
	Stripe          *stripe.Client
	Stores          stores.Service
	Credentials     credentials.Manager
	LedgerRepo      ledger.Repository
	Ledger          ledger.Service
	Rates           rates.Service
	Splitter        splitter.Service
	Checkout        checkout.Service
	FulfillmentRepo *fulfillment.Repository
	Fulfillment     fulfillment.Service
	Settlement      settlement.Service
}

// Build wires every service against one database and one Redis client.
func Build(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*Services, error) {
	conn := dbClient.DB()
	out := &Services{
		Metrics:     metrics.NewSettlementMetrics(reg),
		Outbox:      outbox.NewService(outbox.NewRepository(conn), logg),
		DeadLetters: outbox.NewDLQRepository(conn),
	}

	sealer, err := security.NewSealer(cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("token sealer: %w", err)
	}

	out.Stripe, err = stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, fmt.Errorf("stripe client: %w", err)
	}

	squareFactory, err := square.NewFactory(cfg.Square, logg)
	if err != nil {
		return nil, fmt.Errorf("square factory: %w", err)
	}

	out.Stores, err = stores.NewService(stores.NewRepository(conn), sealer)
	if err != nil {
		return nil, fmt.Errorf("store service: %w", err)
	}

	out.Credentials, err = credentials.NewManager(credentials.ManagerParams{
		OAuth:      cfg.OAuth,
		JWT:        cfg.JWT,
		Repository: credentials.NewRepository(conn),
		Sealer:     sealer,
		Logger:     logg,
		Metrics:    out.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("credential manager: %w", err)
	}

	out.LedgerRepo = ledger.NewRepository(conn)
	out.Ledger, err = ledger.NewService(ledger.ServiceParams{
		DB:              dbClient,
		Repository:      out.LedgerRepo,
		Outbox:          out.Outbox,
		Logger:          logg,
		DefaultCurrency: cfg.Stripe.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	out.Rates, err = rates.NewService(rates.ServiceParams{
		Config:  cfg.Shipping,
		Stores:  out.Stores,
		Source:  ratesource.NewClient(ratesource.WithUserAgent(userAgent)),
		Cache:   redisClient,
		Logger:  logg,
		Metrics: out.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("rate service: %w", err)
	}

	out.Splitter, err = splitter.NewService(splitter.ServiceParams{
		Ledger:      out.Ledger,
		Repository:  out.LedgerRepo,
		Credentials: out.Credentials,
		Processor:   out.Stripe,
		Logger:      logg,
		Metrics:     out.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("splitter: %w", err)
	}

	out.Checkout, err = checkout.NewService(out.Rates, out.Ledger, out.Splitter, logg)
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}

	out.FulfillmentRepo = fulfillment.NewRepository(conn)
	out.Fulfillment, err = fulfillment.NewService(fulfillment.ServiceParams{
		DB:         dbClient,
		Repository: out.FulfillmentRepo,
		Ledger:     out.LedgerRepo,
		Stores:     out.Stores,
		Connector:  fulfillment.NewSquareConnector(squareFactory),
		Outbox:     out.Outbox,
		Config:     cfg.Fulfillment,
		Logger:     logg,
		Metrics:    out.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("fulfillment: %w", err)
	}

	out.Settlement, err = settlement.NewService(settlement.ServiceParams{
		DB:          dbClient,
		Repository:  out.LedgerRepo,
		Ledger:      out.Ledger,
		Payments:    out.Stripe,
		Fulfillment: out.Fulfillment,
		Outbox:      out.Outbox,
		Logger:      logg,
		Metrics:     out.Metrics,
		MaxAttempts: cfg.Settlement.FetchMaxAttempts,
		Backoff:     cfg.Settlement.FetchBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("settlement: %w", err)
	}

	return out, nil
}
