package cron

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Job is one unit of scheduled maintenance run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Periodic is implemented by jobs that should run less often than every
// cycle. Jobs without it run on every cycle the worker owns the lock.
type Periodic interface {
	Every() time.Duration
}

type entry struct {
	job     Job
	every   time.Duration
	lastRun time.Time
}

// Registry holds the job set and remembers when each job last ran.
type Registry struct {
	mu      sync.Mutex
	entries []*entry
	names   map[string]struct{}
}

// NewRegistry registers jobs in order. Nil jobs are skipped and a repeated
// name is an error.
func NewRegistry(jobs ...Job) (*Registry, error) {
	registry := &Registry{names: make(map[string]struct{})}
	for _, job := range jobs {
		if job == nil {
			continue
		}
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Register appends a job.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	e := &entry{job: job}
	if p, ok := job.(Periodic); ok {
		e.every = p.Every()
	}
	r.names[name] = struct{}{}
	r.entries = append(r.entries, e)
	return nil
}

// Jobs returns a copy of the registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		jobs = append(jobs, e.job)
	}
	return jobs
}

// Due returns the jobs whose cadence has elapsed at now.
func (r *Registry) Due(now time.Time) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Job
	for _, e := range r.entries {
		if e.every <= 0 || e.lastRun.IsZero() || !now.Before(e.lastRun.Add(e.every)) {
			due = append(due, e.job)
		}
	}
	return due
}

// MarkRun records that the named job started at at.
func (r *Registry) MarkRun(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.job.Name() == name {
			e.lastRun = at
			return
		}
	}
}
