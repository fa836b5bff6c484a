package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job outcomes recorded by the cron worker.
const (
	JobSucceeded = "success"
	JobFailed    = "failure"
	JobTimedOut  = "timeout"
)

// Cycle outcomes recorded by the cron worker.
const (
	CycleRan      = "ran"
	CycleSkipped  = "skipped"
	CycleLockLost = "lock_lost"
)

// CronJobMetrics tracks cron cycles and the jobs they run. A nil value
// records nothing.
type CronJobMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	cycles   *prometheus.CounterVec
}

// NewCronJobMetrics registers the cron series on reg.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return nil
	}
	m := &CronJobMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tuka_cron_job_duration_seconds",
			Help:    "Wall time of cron job runs.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tuka_cron_job_runs_total",
			Help: "Cron job runs by outcome.",
		}, []string{"job", "outcome"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tuka_cron_cycles_total",
			Help: "Cron cycles by outcome of the lock acquisition.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.duration, m.runs, m.cycles)
	return m
}

// JobFinished records one job run.
func (c *CronJobMetrics) JobFinished(job, outcome string, took time.Duration) {
	if c == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(took.Seconds())
	c.runs.WithLabelValues(job, normalizeLabel(outcome)).Inc()
}

// Cycle records one tick of the scheduler.
func (c *CronJobMetrics) Cycle(outcome string) {
	if c == nil {
		return
	}
	c.cycles.WithLabelValues(normalizeLabel(outcome)).Inc()
}
