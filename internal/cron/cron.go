// Package cron runs registered recurring jobs on a fixed tick. Jobs own
// their due-ness and gating; the runner only provides the periodic trigger
// and never retries a failed run before its next tick.
package cron

import (
	"context"
	"sync"
	"time"

	"transparencyd/internal/logging"
)

// Job is one recurring unit of work.
type Job struct {
	// Name identifies the job in logs.
	Name string

	// Retryable tells the runner whether a failed run should be rerun
	// before the next tick. Jobs that retry internally report false.
	Retryable bool

	// Run executes the job. The job decides for itself whether it is due
	// and returns nil when it has nothing to do.
	Run func(ctx context.Context) error
}

// Runner triggers registered jobs every tick.
type Runner struct {
	tick time.Duration
	log  *logging.Logger

	mu   sync.Mutex
	jobs []Job
}

// NewRunner creates a runner with the given tick interval.
func NewRunner(tick time.Duration, log *logging.Logger) *Runner {
	if log == nil {
		log = logging.Default().WithComponent("cron")
	}
	return &Runner{tick: tick, log: log}
}

// Register adds a job. Safe to call before or after Start.
func (r *Runner) Register(j Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, j)
}

// Start runs the trigger loop until ctx is cancelled. Jobs run once
// immediately, then on every tick, sequentially in registration order.
func (r *Runner) Start(ctx context.Context) {
	r.runAll(ctx)

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAll(ctx)
		}
	}
}

// RunOnce triggers every registered job a single time.
func (r *Runner) RunOnce(ctx context.Context) {
	r.runAll(ctx)
}

func (r *Runner) runAll(ctx context.Context) {
	r.mu.Lock()
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	r.mu.Unlock()

	for _, j := range jobs {
		if ctx.Err() != nil {
			return
		}
		if err := j.Run(ctx); err != nil {
			if j.Retryable {
				r.log.Warn("job failed, will retry next tick", "job", j.Name, "err", err)
			} else {
				r.log.Warn("job failed", "job", j.Name, "err", err)
			}
		}
	}
}
