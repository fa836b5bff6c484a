package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/imc400/tuka-backend/api/routes"
	"github.com/imc400/tuka-backend/internal/bootstrap"
	"github.com/imc400/tuka-backend/internal/settlement"
)

const serviceName = "api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rt, err := bootstrap.Open(ctx, bootstrap.RuntimeOptions{Service: serviceName, Redis: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			rt.Logger.Error(context.Background(), "api.close.failed", err)
		}
	}()

	cfg, logg := rt.Config, rt.Logger
	registry := prometheus.NewRegistry()
	services, err := bootstrap.Build(ctx, cfg, logg, rt.DB, rt.Redis, registry)
	if err != nil {
		logg.Error(ctx, "api.wire.failed", err)
		return err
	}

	guard, err := settlement.NewEventGuard(rt.Redis, cfg.HTTP.WebhookDedupeTTL, cfg.HTTP.WebhookClaimTTL, "payments-webhook")
	if err != nil {
		logg.Error(ctx, "api.wire.failed", err)
		return err
	}

	addr := listenAddr(os.Getenv("PORT"), cfg.App.Port)
	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:              rt.DB,
			Redis:           rt.Redis,
			Gatherer:        registry,
			Rates:           services.Rates,
			Checkout:        services.Checkout,
			Ledger:          services.Ledger,
			Stores:          services.Stores,
			Credentials:     services.Credentials,
			Fulfillment:     services.Fulfillment,
			FulfillmentRepo: services.FulfillmentRepo,
			DeadLetters:     services.DeadLetters,
			Settlement:      services.Settlement,
			WebhookParser:   services.Stripe,
			WebhookGuard:    guard,
		}),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": services.Stripe.Environment(),
	})
	logg.Info(ctx, "api.listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logg.Error(ctx, "api.stopped", err)
		return err
	}
	logg.Info(ctx, "api.drained")
	return nil
}

// listenAddr prefers the platform-assigned PORT over the configured one.
func listenAddr(platformPort, configured string) string {
	if platformPort != "" {
		return ":" + platformPort
	}
	return ":" + configured
}
