// Package webhooks delivers queued notifications over HTTP with
// consecutive-error backoff and automatic disabling of dead integrations.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"error-tracker/internal/cache"
	"error-tracker/internal/config"
	"error-tracker/internal/jobs"
	"error-tracker/internal/models"
	"error-tracker/internal/queue"
	"error-tracker/internal/store"
	"error-tracker/internal/telemetry"
)

// HookStore is the slice of the document repository the dispatcher needs.
type HookStore interface {
	GetWebHook(ctx context.Context, id string) (*models.WebHook, error)
	DisableWebHook(ctx context.Context, id string) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ClearChatWebhook(ctx context.Context, projectID string) error
}

// Dispatcher processes queued webhook notifications.
type Dispatcher struct {
	store        HookStore
	cache        *cache.Cache
	client       *http.Client
	timeout      time.Duration
	threshold    int
	cooldown     time.Duration
	disableAfter time.Duration
	log          zerolog.Logger

	now func() time.Time
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(st HookStore, c *cache.Cache, cfg config.Config, log zerolog.Logger) *Dispatcher {
	timeout := cfg.WebhookTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	threshold := cfg.WebhookErrorThreshold
	if threshold == 0 {
		threshold = 10
	}
	cooldown := cfg.WebhookCooldown
	if cooldown == 0 {
		cooldown = 15 * time.Minute
	}
	disableAfter := cfg.WebhookDisableAfter
	if disableAfter == 0 {
		disableAfter = 48 * time.Hour
	}
	return &Dispatcher{
		store:        st,
		cache:        c,
		client:       &http.Client{},
		timeout:      timeout,
		threshold:    threshold,
		cooldown:     cooldown,
		disableAfter: disableAfter,
		log:          log.With().Str("job", "webhook-dispatcher").Logger(),
		now:          time.Now,
	}
}

func errorsKey(id string) string { return "webhook:errors:" + id }
func firstKey(id string) string  { return "webhook:first:" + id }
func lastKey(id string) string   { return "webhook:last:" + id }

func (d *Dispatcher) counterTTL() time.Duration { return d.disableAfter * 2 }

// Process delivers one queued notification. The entry always completes
// unless an infrastructure lookup fails: failed deliveries are not retried
// within a cycle, only counted.
func (d *Dispatcher) Process(ctx context.Context, entry *queue.Entry[models.WebHookNotification]) error {
	n := entry.Payload
	now := d.now()
	id := targetID(n)

	tgt, err := d.resolveTarget(ctx, n)
	if errors.Is(err, store.ErrNotFound) {
		return jobs.Validation(err)
	}
	if err != nil {
		return jobs.Retryable(err)
	}
	if !tgt.IsEnabled() {
		d.log.Debug().Str("target", id).Msg("integration disabled, dropping notification")
		return nil
	}

	count, _, err := d.cache.GetInt(ctx, errorsKey(id))
	if err != nil {
		return jobs.Retryable(err)
	}
	if int(count) > d.threshold {
		last, ok, err := d.cache.GetTime(ctx, lastKey(id))
		if err != nil {
			return jobs.Retryable(err)
		}
		if ok && now.Sub(last) < d.cooldown {
			// Cooling down: skip without counting a new failure.
			d.log.Debug().Str("target", id).Msg("integration cooling down, skipping delivery")
			return nil
		}
	}

	status, deliverErr := d.deliver(ctx, n)
	if deliverErr == nil {
		telemetry.WebhooksDelivered.Inc()
		d.clearCounters(ctx, id)
		return nil
	}

	if isDefinitiveRejection(status) {
		// The endpoint told us to go away; no point ever retrying.
		d.log.Info().Str("target", id).Int("status", status).Msg("definitive rejection, disabling integration")
		telemetry.WebhooksDisabled.Inc()
		if err := tgt.Disable(ctx); err != nil {
			return jobs.Retryable(err)
		}
		d.clearCounters(ctx, id)
		return nil
	}

	telemetry.WebhooksFailed.Inc()
	d.log.Warn().Err(deliverErr).Str("target", id).Int("status", status).Msg("delivery failed")

	count, err = d.cache.Increment(ctx, errorsKey(id), d.counterTTL())
	if err != nil {
		return jobs.Retryable(err)
	}
	_ = d.cache.SetTime(ctx, lastKey(id), now, d.counterTTL())
	first, ok, err := d.cache.GetTime(ctx, firstKey(id))
	if err != nil {
		return jobs.Retryable(err)
	}
	if !ok {
		first = now
		_ = d.cache.SetTime(ctx, firstKey(id), now, d.counterTTL())
	}

	if int(count) >= d.threshold && now.Sub(first) > d.disableAfter {
		d.log.Info().Str("target", id).Int64("errors", count).
			Msg("persistent failures, disabling integration")
		telemetry.WebhooksDisabled.Inc()
		if err := tgt.Disable(ctx); err != nil {
			return jobs.Retryable(err)
		}
		d.clearCounters(ctx, id)
	}
	// The message itself is not retried this cycle; complete the entry.
	return nil
}

// deliver posts the payload with a bounded per-attempt timeout layered
// under the caller's cancellation.
func (d *Dispatcher) deliver(ctx context.Context, n models.WebHookNotification) (int, error) {
	body, err := json.Marshal(n.Data)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func isDefinitiveRejection(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusGone:
		return true
	}
	return false
}

func (d *Dispatcher) clearCounters(ctx context.Context, id string) {
	if err := d.cache.Remove(ctx, errorsKey(id), firstKey(id), lastKey(id)); err != nil {
		d.log.Warn().Err(err).Str("target", id).Msg("counter cleanup failed")
	}
}
