package jobs

import (
	"context"
	"time"

	"error-tracker/internal/lock"
)

type lockedJob struct {
	inner  Job
	locker *lock.Locker
	lease  time.Duration
}

// WithLock decorates job so each cycle first acquires a cluster-wide lease
// named after the job. A held lock surfaces as lock.ErrLockTimeout, which
// the runner reports as a skipped cycle.
func WithLock(job Job, locker *lock.Locker, lease time.Duration) Job {
	return &lockedJob{inner: job, locker: locker, lease: lease}
}

func (j *lockedJob) Name() string { return j.inner.Name() }

func (j *lockedJob) Run(ctx context.Context) error {
	lk, err := j.locker.Acquire(ctx, "job:"+j.inner.Name(), j.lease)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = lk.Release(releaseCtx)
	}()
	return j.inner.Run(withLock(ctx, lk, j.lease))
}

type lockCtxKey struct{}

type heldLock struct {
	lk    *lock.Lock
	lease time.Duration
}

func withLock(ctx context.Context, lk *lock.Lock, lease time.Duration) context.Context {
	return context.WithValue(ctx, lockCtxKey{}, heldLock{lk: lk, lease: lease})
}

// RenewLock extends the current job lock between pages of work. It is a
// no-op when the job runs without a lock; a lost lease is reported but is
// not fatal (per-item work must stay idempotent).
func RenewLock(ctx context.Context) error {
	held, ok := ctx.Value(lockCtxKey{}).(heldLock)
	if !ok {
		return nil
	}
	return held.lk.Renew(ctx, held.lease)
}
