package sessions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"error-tracker/internal/cache"
)

// Heartbeat is a short-lived liveness record written by client heartbeat
// calls and consumed by reconciliation.
type Heartbeat struct {
	Activity       time.Time `json:"activity"`
	CloseRequested bool      `json:"close"`
}

// Heartbeats stores heartbeat records in the shared cache.
type Heartbeats struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewHeartbeats builds the heartbeat store. ttl bounds how long a signal
// is considered.
func NewHeartbeats(c *cache.Cache, ttl time.Duration) *Heartbeats {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Heartbeats{cache: c, ttl: ttl}
}

// SessionKey is the heartbeat cache key for a session identity.
func SessionKey(projectID, sessionID string) string {
	return identityKey(projectID, sessionID)
}

// UserKey is the fallback heartbeat cache key for a user identity.
func UserKey(projectID, userIdentity string) string {
	return identityKey(projectID, "identity:"+userIdentity)
}

func identityKey(projectID, id string) string {
	sum := sha256.Sum256([]byte(projectID + ":" + id))
	return "heartbeat:" + hex.EncodeToString(sum[:8])
}

// Record writes a heartbeat under the given key.
func (h *Heartbeats) Record(ctx context.Context, key string, activity time.Time, closeRequested bool) error {
	body, err := json.Marshal(Heartbeat{Activity: activity, CloseRequested: closeRequested})
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	return h.cache.Set(ctx, key, string(body), h.ttl)
}

// Get reads a heartbeat, returning nil when none exists.
func (h *Heartbeats) Get(ctx context.Context, key string) (*Heartbeat, error) {
	raw, ok, err := h.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var hb Heartbeat
	if err := json.Unmarshal([]byte(raw), &hb); err != nil {
		return nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}
	return &hb, nil
}

// Remove deletes consumed heartbeat keys so they are not reconsidered.
func (h *Heartbeats) Remove(ctx context.Context, keys ...string) error {
	return h.cache.Remove(ctx, keys...)
}
