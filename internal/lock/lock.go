// Package lock provides fleet-wide mutual exclusion leases on Redis.
// Leases carry an absolute expiry so a crashed holder self-heals without
// manual cleanup.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when the lock is already held elsewhere.
// Acquisition fails fast rather than blocking.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// ErrNotHeld is returned by Renew and Release when the lease was lost,
// typically because it expired and another holder acquired it.
var ErrNotHeld = errors.New("lock no longer held")

// Locker acquires named leases backed by Redis.
type Locker struct {
	client *redis.Client
	prefix string
}

// NewLocker builds a Locker on the given client.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client, prefix: "lock:"}
}

// Lock is a held lease on a name.
type Lock struct {
	Name       string
	Holder     string
	AcquiredAt time.Time
	ExpiresAt  time.Time

	locker *Locker
}

// Acquire takes the named lease for leaseDuration. If another valid lease
// exists it returns ErrLockTimeout immediately.
func (l *Locker) Acquire(ctx context.Context, name string, lease time.Duration) (*Lock, error) {
	holder := uuid.New().String()
	ok, err := l.client.SetNX(ctx, l.prefix+name, holder, lease).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockTimeout
	}
	now := time.Now()
	return &Lock{
		Name:       name,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(lease),
		locker:     l,
	}, nil
}

// Renew pushes the lease expiry forward. Losing the lease mid-job is not
// fatal; callers must keep per-item work idempotent.
func (lk *Lock) Renew(ctx context.Context, lease time.Duration) error {
	res, err := renewScript.Run(ctx, lk.locker.client,
		[]string{lk.locker.prefix + lk.Name}, lk.Holder, lease.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew lock %s: %w", lk.Name, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	lk.ExpiresAt = time.Now().Add(lease)
	return nil
}

// Release drops the lease if this holder still owns it.
func (lk *Lock) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, lk.locker.client,
		[]string{lk.locker.prefix + lk.Name}, lk.Holder).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", lk.Name, err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)
