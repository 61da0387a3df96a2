// Package sessions reconciles client heartbeat signals into session-start
// events and decides when sessions are closed.
package sessions

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"error-tracker/internal/config"
	"error-tracker/internal/jobs"
	"error-tracker/internal/models"
	"error-tracker/internal/store"
	"error-tracker/internal/telemetry"
)

// DefaultInactivePeriod closes sessions with no signal for this long.
const DefaultInactivePeriod = 5 * time.Minute

// EventStore is the slice of the document repository the reconciler needs.
type EventStore interface {
	GetOpenSessions(ctx context.Context, cursor store.SessionCursor, limit int) ([]*models.Event, store.SessionCursor, error)
	SaveEvents(ctx context.Context, events []*models.Event) error
}

// Reconciler is the recurring job scanning open sessions. It runs under a
// distributed lock (wrapped via jobs.WithLock) since it pages over shared
// state.
type Reconciler struct {
	store      EventStore
	heartbeats *Heartbeats
	inactive   time.Duration
	pageSize   int
	pagePause  time.Duration
	log        zerolog.Logger

	now func() time.Time
}

// NewReconciler builds the reconciler.
func NewReconciler(st EventStore, hb *Heartbeats, cfg config.Config, log zerolog.Logger) *Reconciler {
	inactive := cfg.SessionInactivePeriod
	if inactive == 0 {
		inactive = DefaultInactivePeriod
	}
	pageSize := cfg.SessionPageSize
	if pageSize == 0 {
		pageSize = 100
	}
	return &Reconciler{
		store:      st,
		heartbeats: hb,
		inactive:   inactive,
		pageSize:   pageSize,
		pagePause:  cfg.SessionPagePause,
		log:        log.With().Str("job", "session-reconciler").Logger(),
		now:        time.Now,
	}
}

func (r *Reconciler) Name() string { return "session-reconciler" }

// Run scans open session-start events in pages until none remain.
func (r *Reconciler) Run(ctx context.Context) error {
	cursor := store.SessionCursor{}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, next, err := r.store.GetOpenSessions(ctx, cursor, r.pageSize)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		r.reconcilePage(ctx, page)

		if err := jobs.RenewLock(ctx); err != nil {
			// Not fatal: per-session updates are idempotent.
			r.log.Warn().Err(err).Msg("lock renewal failed")
		}

		cursor = next
		if len(page) < r.pageSize {
			return nil
		}
		// Fixed pause between pages to bound backend load.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.pagePause):
		}
	}
}

func (r *Reconciler) reconcilePage(ctx context.Context, page []*models.Event) {
	now := r.now()
	seen := make(map[string]bool, len(page))
	var updated []*models.Event
	var consumed []string

	for _, session := range page {
		lastActivity := session.LastActivity()

		key := SessionKey(session.ProjectID, session.SessionID)
		hb, err := r.heartbeats.Get(ctx, key)
		if err != nil {
			r.log.Warn().Err(err).Str("session", session.ID).Msg("heartbeat lookup failed")
			continue
		}
		if hb == nil && session.UserIdentity != "" {
			key = UserKey(session.ProjectID, session.UserIdentity)
			if hb, err = r.heartbeats.Get(ctx, key); err != nil {
				r.log.Warn().Err(err).Str("session", session.ID).Msg("heartbeat lookup failed")
				continue
			}
		}

		// Two open sessions resolving to the same heartbeat key are
		// duplicates; the later one is forced closed.
		duplicate := seen[key]
		seen[key] = true

		switch {
		case hb != nil:
			if hb.CloseRequested || hb.Activity.After(lastActivity) || duplicate {
				shouldClose := hb.CloseRequested || duplicate || now.Sub(hb.Activity) >= r.inactive
				if shouldClose {
					session.MarkSessionEnded(hb.Activity)
					telemetry.SessionsClosed.Inc()
				} else {
					session.UpdateSessionActivity(hb.Activity)
				}
				updated = append(updated, session)
			}
			consumed = append(consumed, key)
		case now.Sub(lastActivity) >= r.inactive:
			session.MarkSessionEnded(lastActivity)
			telemetry.SessionsClosed.Inc()
			updated = append(updated, session)
		}
	}

	if len(updated) > 0 {
		if err := r.store.SaveEvents(ctx, updated); err != nil {
			r.log.Error().Err(err).Int("count", len(updated)).Msg("session bulk save failed")
			return
		}
	}
	if len(consumed) > 0 {
		if err := r.heartbeats.Remove(ctx, consumed...); err != nil {
			r.log.Warn().Err(err).Msg("heartbeat cleanup failed")
		}
	}
}
