package ingest

import (
	"context"
	"fmt"
	"time"

	"error-tracker/internal/cache"
	"error-tracker/internal/models"
)

// usageTTL keeps billing-period counters a little past the month boundary.
const usageTTL = 32 * 24 * time.Hour

// Quota tracks per-organization event usage for the current billing month
// in the shared cache.
type Quota struct {
	cache *cache.Cache
}

// NewQuota builds a quota tracker.
func NewQuota(c *cache.Cache) *Quota {
	return &Quota{cache: c}
}

func usageKey(orgID string, now time.Time) string {
	return fmt.Sprintf("usage:%s:%s", orgID, now.UTC().Format("2006-01"))
}

// Remaining returns how many more events the organization may ingest this
// billing month. Plans without a cap report a negative value.
func (q *Quota) Remaining(ctx context.Context, org *models.Organization, now time.Time) (int, error) {
	if org.MaxEventsPerMonth <= 0 {
		return -1, nil
	}
	used, _, err := q.cache.GetInt(ctx, usageKey(org.ID, now))
	if err != nil {
		return 0, err
	}
	remaining := org.MaxEventsPerMonth - int(used)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// AddUsage records n ingested events against the organization.
func (q *Quota) AddUsage(ctx context.Context, orgID string, n int, now time.Time) error {
	if n <= 0 {
		return nil
	}
	_, err := q.cache.IncrementBy(ctx, usageKey(orgID, now), int64(n), usageTTL)
	return err
}
