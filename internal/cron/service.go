package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/metrics"
)

const (
	defaultInterval   = 15 * time.Minute
	defaultJobTimeout = 5 * time.Minute
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds a single job run. Defaults to five minutes.
	JobTimeout time.Duration
}

// Service ticks on a fixed interval and, while holding the lock, runs the
// jobs that are due.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
	now        func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Lock == nil:
		return nil, fmt.Errorf("lock required")
	case params.Registry == nil:
		return nil, fmt.Errorf("registry required")
	}
	s := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
		now:        time.Now,
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.jobTimeout <= 0 {
		s.jobTimeout = defaultJobTimeout
	}
	return s, nil
}

// Run executes a cycle immediately and then once per interval until ctx is
// canceled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron.cycle.failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron.stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.metrics.Cycle(metrics.CycleSkipped)
		s.logg.Debug(ctx, "cron.cycle.skipped")
		return nil
	}
	defer func() {
		// the cycle context may already be canceled
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "cron.lock.release_failed", relErr)
		}
	}()

	due := s.registry.Due(s.now())
	cycleCtx := s.logg.WithField(ctx, "jobs_due", len(due))
	s.logg.Info(cycleCtx, "cron.cycle.start")
	for i, job := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			if err := s.lock.Refresh(ctx); err != nil {
				if errors.Is(err, ErrLockLost) {
					s.metrics.Cycle(metrics.CycleLockLost)
				}
				return fmt.Errorf("lock refresh before %s: %w", job.Name(), err)
			}
		}
		s.runJob(ctx, job)
	}
	s.metrics.Cycle(metrics.CycleRan)
	s.logg.Info(cycleCtx, "cron.cycle.done")
	return nil
}

// runJob executes one job under the job timeout. Only successful runs count
// toward a periodic job's cadence so a failed run is retried next cycle.
func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)
	runCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()

	started := s.now()
	err := job.Run(runCtx)
	took := time.Since(started)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())

	switch {
	case err == nil:
		s.registry.MarkRun(name, started)
		s.metrics.JobFinished(name, metrics.JobSucceeded, took)
		s.logg.Info(jobCtx, "cron.job.done")
	case errors.Is(err, context.DeadlineExceeded) && runCtx.Err() != nil && ctx.Err() == nil:
		s.metrics.JobFinished(name, metrics.JobTimedOut, took)
		s.logg.Error(jobCtx, "cron.job.timeout", err)
	default:
		s.metrics.JobFinished(name, metrics.JobFailed, took)
		s.logg.Error(jobCtx, "cron.job.failed", err)
	}
}
