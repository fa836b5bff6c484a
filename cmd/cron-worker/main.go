package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/imc400/tuka-backend/internal/bootstrap"
	"github.com/imc400/tuka-backend/internal/cron"
	"github.com/imc400/tuka-backend/pkg/metrics"
	"github.com/imc400/tuka-backend/pkg/outbox"
)

const (
	serviceName    = "cron-worker"
	defaultLockKey = "tuka:cron:lock"
)

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
			rt.Logger.Error(context.Background(), "cron.close.failed", err)
		}
	}()

	cfg, logg := rt.Config, rt.Logger
	services, err := bootstrap.Build(ctx, cfg, logg, rt.DB, rt.Redis, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(ctx, "cron.wire.failed", err)
		return err
	}

	service, err := newScheduler(rt, services)
	if err != nil {
		logg.Error(ctx, "cron.wire.failed", err)
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Cron.Interval.String(),
	})
	logg.Info(ctx, "cron.started")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron.stopped", err)
		return err
	}
	logg.Info(ctx, "cron.drained")
	return nil
}

func newScheduler(rt *bootstrap.Runtime, services *bootstrap.Services) (*cron.Service, error) {
	cfg, logg := rt.Config, rt.Logger

	lock, err := cron.NewRedisLock(rt.Redis, lockKey(cfg.Cron.LockKey, cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("cron lock: %w", err)
	}

	refresh, err := cron.NewCredentialRefreshJob(cron.CredentialRefreshJobParams{
		Logger:  logg,
		Manager: services.Credentials,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         rt.DB,
		Repository: outbox.NewRepository(rt.DB.DB()),
		Retention:  cfg.Cron.OutboxRetention,
	})
	if err != nil {
		return nil, err
	}
	recovery, err := cron.NewFulfillmentRecoveryJob(cron.FulfillmentRecoveryJobParams{
		Logger:      logg,
		Repository:  services.FulfillmentRepo,
		Fulfillment: services.Fulfillment,
		Grace:       cfg.Cron.RecoveryGrace,
		BatchSize:   cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	registry, err := cron.NewRegistry(refresh, retention, recovery)
	if err != nil {
		return nil, err
	}
	return cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
}

// lockKey scopes the scheduler lease per environment so staging and
// production workers sharing a Redis never block each other.
func lockKey(base, env string) string {
	if base == "" {
		base = defaultLockKey
	}
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf("%s:%s", base, env)
}
