// Package throttle rate-limits notifications with TTL counters in the
// shared cache. The limits are advisory: ordering races between
// concurrent workers are acceptable and never block processing.
package throttle

import (
	"context"
	"fmt"
	"time"

	"error-tracker/internal/cache"
	"error-tracker/internal/models"
)

// Gate applies the stack and project notification throttles.
type Gate struct {
	cache        *cache.Cache
	window       time.Duration
	stackMin     int
	projectLimit int
}

// NewGate builds a gate. window defaults to 30 minutes, stackMin to 2 and
// projectLimit to 10.
func NewGate(c *cache.Cache, window time.Duration, stackMin, projectLimit int) *Gate {
	if window == 0 {
		window = 30 * time.Minute
	}
	if stackMin == 0 {
		stackMin = 2
	}
	if projectLimit == 0 {
		projectLimit = 10
	}
	return &Gate{cache: c, window: window, stackMin: stackMin, projectLimit: projectLimit}
}

func stackSentKey(stackID string) string {
	return "throttle:stack-sent:" + stackID
}

func (g *Gate) projectWindowKey(projectID string, now time.Time) string {
	bucket := now.Unix() / int64(g.window.Seconds())
	return fmt.Sprintf("throttle:project:%s:%d", projectID, bucket)
}

// AllowStack reports whether a stack-level notification may be sent.
// Regressions always pass. Stacks with few total occurrences always pass;
// beyond that a notification sent inside the window suppresses the next.
func (g *Gate) AllowStack(ctx context.Context, stack *models.Stack, isRegression bool, now time.Time) (bool, error) {
	if isRegression {
		return true, nil
	}
	if stack.TotalOccurrences <= g.stackMin {
		return true, nil
	}
	lastSent, ok, err := g.cache.GetTime(ctx, stackSentKey(stack.ID))
	if err != nil {
		return false, err
	}
	if ok && now.Sub(lastSent) < g.window {
		return false, nil
	}
	return true, nil
}

// MarkStackNotified records that a notification was sent for the stack.
func (g *Gate) MarkStackNotified(ctx context.Context, stackID string, now time.Time) error {
	return g.cache.SetTime(ctx, stackSentKey(stackID), now, g.window)
}

// AllowProject counts a prospective notification against the project's
// rolling window and reports whether it is under the cap. Regressions
// bypass the window unconditionally and are not counted.
func (g *Gate) AllowProject(ctx context.Context, projectID string, isRegression bool, now time.Time) (bool, error) {
	if isRegression {
		return true, nil
	}
	count, err := g.cache.Increment(ctx, g.projectWindowKey(projectID, now), g.window)
	if err != nil {
		return false, err
	}
	return count <= int64(g.projectLimit), nil
}
