package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/imc400/tuka-backend/internal/bootstrap"
	"github.com/imc400/tuka-backend/pkg/metrics"
	"github.com/imc400/tuka-backend/pkg/outbox"
	"github.com/imc400/tuka-backend/pkg/outbox/registry"
	"github.com/imc400/tuka-backend/pkg/pubsub"
)

const serviceName = "outbox-publisher"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rt, err := bootstrap.Open(ctx, bootstrap.RuntimeOptions{Service: serviceName})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			rt.Logger.Error(context.Background(), "outbox.close.failed", err)
		}
	}()

	cfg, logg := rt.Config, rt.Logger
	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "outbox.wire.failed", err)
		return err
	}
	rt.OnClose(pubsubClient.Close)

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		logg.Error(ctx, "outbox.wire.failed", err)
		return err
	}
	conn := rt.DB.DB()
	relay, err := NewRelay(RelayParams{
		Config:        cfg,
		Logger:        logg,
		DB:            rt.DB,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(conn),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(conn),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(ctx, "outbox.wire.failed", err)
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":   cfg.App.Env,
		"topic": cfg.PubSub.DomainTopic,
	})
	logg.Info(ctx, "outbox.started")

	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox.stopped", err)
		return err
	}
	logg.Info(ctx, "outbox.drained")
	return nil
}
