// Package jobs provides the recurring-job lifecycle: a uniform
// acquire-lock/run/report-result contract with cooperative cancellation.
// Jobs are plain values implementing Job; the distributed lock is layered
// on by decoration, not inheritance.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"error-tracker/internal/lock"
	"error-tracker/internal/telemetry"
)

// Job is a recurring unit of work invoked by the scheduler.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Status is the outcome of one job cycle.
type Status int

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusCancelled
	// StatusSkipped means the cycle did not run because another worker
	// holds the job lock. It is not an error.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

// Result reports what happened during one job cycle.
type Result struct {
	Status   Status
	Err      error
	Duration time.Duration
}

// Runner executes job cycles, converting panics and errors into results so
// nothing propagates out of an invocation.
type Runner struct {
	log zerolog.Logger
}

// NewRunner builds a runner logging through log.
func NewRunner(log zerolog.Logger) *Runner {
	return &Runner{log: log}
}

// Run executes a single cycle of job.
func (r *Runner) Run(ctx context.Context, job Job) Result {
	start := time.Now()
	log := r.log.With().Str("job", job.Name()).Logger()

	err := func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return job.Run(ctx)
	}()

	res := Result{Duration: time.Since(start)}
	switch {
	case err == nil:
		res.Status = StatusSucceeded
		log.Debug().Dur("took", res.Duration).Msg("job cycle complete")
	case errors.Is(err, lock.ErrLockTimeout):
		res.Status = StatusSkipped
		telemetry.JobsSkipped.WithLabelValues(job.Name()).Inc()
		log.Debug().Msg("job lock held elsewhere, skipping cycle")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		res.Status = StatusCancelled
		res.Err = err
		log.Info().Msg("job cycle cancelled")
	default:
		res.Status = StatusFailed
		res.Err = err
		telemetry.JobsFailed.WithLabelValues(job.Name()).Inc()
		log.Error().Err(err).Dur("took", res.Duration).Msg("job cycle failed")
	}
	return res
}

// RunEvery drives job on a fixed interval until ctx is cancelled. One cycle
// runs immediately on start.
func (r *Runner) RunEvery(ctx context.Context, job Job, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.Run(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Run(ctx, job)
		}
	}
}
