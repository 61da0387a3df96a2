// Package ingest turns uploaded event posts into processed events: load
// the raw payload, decode and parse it, enforce tenant quota, run the
// processing pipeline, and isolate failures to the sub-items that caused
// them.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"error-tracker/internal/config"
	"error-tracker/internal/jobs"
	"error-tracker/internal/models"
	"error-tracker/internal/queue"
	"error-tracker/internal/store"
	"error-tracker/internal/telemetry"
)

// ProjectStore is the slice of the document repository the ingestion job
// needs.
type ProjectStore interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
}

// EventResult is the per-event outcome of a pipeline run.
type EventResult struct {
	Event *models.Event
	Err   error
}

// Pipeline processes parsed events. Implementations report one result per
// input event.
type Pipeline interface {
	Run(ctx context.Context, events []*models.Event) []EventResult
}

// Job processes queued event posts.
type Job struct {
	posts    PostStore
	queue    *queue.Queue[models.EventPost]
	projects ProjectStore
	pipeline Pipeline
	quota    *Quota
	maxBytes int64
	log      zerolog.Logger

	newID func() string
	now   func() time.Time
}

// NewJob wires the ingestion job.
func NewJob(posts PostStore, q *queue.Queue[models.EventPost], projects ProjectStore, pipeline Pipeline, quota *Quota, cfg config.Config, log zerolog.Logger) *Job {
	return &Job{
		posts:    posts,
		queue:    q,
		projects: projects,
		pipeline: pipeline,
		quota:    quota,
		maxBytes: cfg.PostMaxBytes,
		log:      log.With().Str("job", "event-posts").Logger(),
		newID:    func() string { return uuid.New().String() },
		now:      time.Now,
	}
}

// Process handles one dequeued event post. Validation failures drop the
// unit; a failing single-event unit is abandoned for redelivery; in a
// multi-event unit only the failing events are re-enqueued as their own
// single-item units and the outer entry still completes.
func (j *Job) Process(ctx context.Context, entry *queue.Entry[models.EventPost]) error {
	post := entry.Payload
	now := j.now()
	telemetry.PostsProcessed.Inc()

	body, err := j.posts.Get(ctx, post.FilePath)
	if err != nil {
		return jobs.Retryable(fmt.Errorf("load post %s: %w", post.FilePath, err))
	}

	raw, err := decodeBody(body, post.ContentEncoding, post.CharSet, j.maxBytes)
	if err != nil {
		telemetry.PostsParseErrors.Inc()
		j.removeBlob(ctx, post.FilePath)
		return err
	}
	events, err := parseEvents(raw)
	if err != nil {
		telemetry.PostsParseErrors.Inc()
		j.removeBlob(ctx, post.FilePath)
		return err
	}

	project, err := j.projects.GetProject(ctx, post.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		// Whole-unit failure: retrying cannot create the project.
		j.removeBlob(ctx, post.FilePath)
		return jobs.Validation(err)
	}
	if err != nil {
		return jobs.Retryable(err)
	}

	stamp(events, project, j.newID, now)

	if len(events) > 1 {
		events, err = j.applyQuota(ctx, project, events, now)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			j.removeBlob(ctx, post.FilePath)
			return nil
		}
	}

	results := j.pipeline.Run(ctx, events)
	single := len(events) == 1

	var processed int
	var singleErr error
	for _, res := range results {
		switch {
		case res.Err == nil:
			processed++
		case errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded):
			return res.Err
		case jobs.IsValidation(res.Err):
			telemetry.EventsDiscarded.Inc()
			j.log.Warn().Err(res.Err).Str("event", res.Event.ID).Msg("discarding invalid event")
		default:
			if single {
				singleErr = res.Err
				continue
			}
			if err := j.requeueEvent(ctx, post, res.Event); err != nil {
				j.log.Error().Err(err).Str("event", res.Event.ID).Msg("requeue failed")
				continue
			}
			telemetry.EventsRetried.Inc()
		}
	}

	telemetry.EventsProcessed.Add(float64(processed))
	if err := j.quota.AddUsage(ctx, project.OrganizationID, processed, now); err != nil {
		j.log.Warn().Err(err).Msg("usage tracking failed")
	}

	if single && singleErr != nil {
		// Keep the blob; the unit is abandoned and redelivered whole.
		return jobs.Retryable(singleErr)
	}
	j.removeBlob(ctx, post.FilePath)
	return nil
}

func (j *Job) applyQuota(ctx context.Context, project *models.Project, events []*models.Event, now time.Time) ([]*models.Event, error) {
	org, err := j.projects.GetOrganization(ctx, project.OrganizationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, jobs.Validation(err)
	}
	if err != nil {
		return nil, jobs.Retryable(err)
	}
	remaining, err := j.quota.Remaining(ctx, org, now)
	if err != nil {
		return nil, jobs.Retryable(err)
	}
	if remaining >= 0 && len(events) > remaining {
		telemetry.EventsBlocked.Add(float64(len(events) - remaining))
		j.log.Info().Str("org", org.ID).Int("dropped", len(events)-remaining).
			Msg("quota reached, truncating post")
		events = events[:remaining]
	}
	return events, nil
}

// requeueEvent stores a failed event back as its own single-item post so
// only the failure is retried.
func (j *Job) requeueEvent(ctx context.Context, post models.EventPost, ev *models.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal retry event: %w", err)
	}
	path := "retry/" + uuid.New().String() + ".json"
	if err := j.posts.Put(ctx, path, body); err != nil {
		return err
	}
	_, err = j.queue.Enqueue(ctx, models.EventPost{
		FilePath:   path,
		ProjectID:  post.ProjectID,
		APIVersion: post.APIVersion,
		UserAgent:  post.UserAgent,
	})
	return err
}

func (j *Job) removeBlob(ctx context.Context, path string) {
	if err := j.posts.Remove(ctx, path); err != nil {
		j.log.Warn().Err(err).Str("path", path).Msg("post cleanup failed")
	}
}
