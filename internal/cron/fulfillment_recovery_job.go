package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/imc400/tuka-backend/internal/fulfillment"
	"github.com/imc400/tuka-backend/pkg/logger"
)

type orphanFinder interface {
	ListOrphans(ctx context.Context, settledBefore, claimedBefore time.Time, limit int) ([]fulfillment.Orphan, error)
}

type handoffRunner interface {
	Handoff(ctx context.Context, transactionID uint64, storeKey string) (*fulfillment.Outcome, error)
}

type FulfillmentRecoveryJobParams struct {
	Logger      *logger.Logger
	Repository  orphanFinder
	Fulfillment handoffRunner
	Grace       time.Duration
	BatchSize   int
}

// NewFulfillmentRecoveryJob hands off approved payments whose settlement
// committed but whose handoff never ran or never finished.
func NewFulfillmentRecoveryJob(params FulfillmentRecoveryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("fulfillment repository required")
	}
	if params.Fulfillment == nil {
		return nil, fmt.Errorf("fulfillment service required")
	}
	job := &fulfillmentRecoveryJob{
		logg:    params.Logger,
		repo:    params.Repository,
		handoff: params.Fulfillment,
		grace:   params.Grace,
		batch:   params.BatchSize,
		now:     time.Now,
	}
	if job.grace <= 0 {
		job.grace = 10 * time.Minute
	}
	if job.batch <= 0 {
		job.batch = 100
	}
	return job, nil
}

type fulfillmentRecoveryJob struct {
	logg    *logger.Logger
	repo    orphanFinder
	handoff handoffRunner
	grace   time.Duration
	batch   int
	now     func() time.Time
}

func (j *fulfillmentRecoveryJob) Name() string { return "fulfillment_recovery" }

func (j *fulfillmentRecoveryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.grace)
	orphans, err := j.repo.ListOrphans(ctx, cutoff, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list orphaned handoffs: %w", err)
	}
	var errs error
	recovered := 0
	for _, orphan := range orphans {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		itemCtx := j.logg.WithStoreKey(j.logg.WithTransactionID(ctx, orphan.TransactionID), orphan.StoreKey)
		if _, err := j.handoff.Handoff(itemCtx, orphan.TransactionID, orphan.StoreKey); err != nil {
			j.logg.Error(itemCtx, "recovery handoff failed", err)
			errs = multierr.Append(errs, fmt.Errorf("%d/%s: %w", orphan.TransactionID, orphan.StoreKey, err))
			continue
		}
		recovered++
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"orphans":   len(orphans),
		"recovered": recovered,
	}), "fulfillment recovery sweep complete")
	return errs
}
