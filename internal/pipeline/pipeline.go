// Package pipeline is the default event processing pipeline: fingerprint
// error occurrences, assign them to stacks, persist events, and fan out
// webhook notifications subject to throttling.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"error-tracker/internal/fingerprint"
	"error-tracker/internal/ingest"
	"error-tracker/internal/jobs"
	"error-tracker/internal/models"
	"error-tracker/internal/queue"
	"error-tracker/internal/store"
	"error-tracker/internal/throttle"
)

// StackStore is the slice of the document repository the pipeline needs.
type StackStore interface {
	GetStackBySignature(ctx context.Context, projectID, signatureHash string) (*models.Stack, error)
	CreateStack(ctx context.Context, st *models.Stack) (*models.Stack, bool, error)
	AddOccurrence(ctx context.Context, stackID string, occurred time.Time) (int, error)
	MarkStackRegressed(ctx context.Context, stackID string) error
	SaveEvents(ctx context.Context, events []*models.Event) error
	GetWebHooksByProject(ctx context.Context, projectID string) ([]models.WebHook, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
}

// Pipeline implements ingest.Pipeline.
type Pipeline struct {
	store StackStore
	gate  *throttle.Gate
	hooks *queue.Queue[models.WebHookNotification]
	log   zerolog.Logger

	newID func() string
	now   func() time.Time
}

// New builds the pipeline.
func New(st StackStore, gate *throttle.Gate, hooks *queue.Queue[models.WebHookNotification], log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store: st,
		gate:  gate,
		hooks: hooks,
		log:   log.With().Str("component", "pipeline").Logger(),
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
	}
}

// Run processes events one at a time, reporting a per-event outcome.
// Cancellation is cooperative: once ctx is done the remaining events are
// reported cancelled.
func (p *Pipeline) Run(ctx context.Context, events []*models.Event) []ingest.EventResult {
	results := make([]ingest.EventResult, 0, len(events))
	projects := make(map[string]*models.Project)

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			for _, rest := range events[i:] {
				results = append(results, ingest.EventResult{Event: rest, Err: err})
			}
			break
		}
		results = append(results, ingest.EventResult{Event: ev, Err: p.processOne(ctx, ev, projects)})
	}
	return results
}

func (p *Pipeline) processOne(ctx context.Context, ev *models.Event, projects map[string]*models.Project) error {
	if ev.Type != models.TypeError {
		return p.store.SaveEvents(ctx, []*models.Event{ev})
	}

	project, ok := projects[ev.ProjectID]
	if !ok {
		var err error
		project, err = p.store.GetProject(ctx, ev.ProjectID)
		if errors.Is(err, store.ErrNotFound) {
			return jobs.Validation(err)
		}
		if err != nil {
			return jobs.Retryable(err)
		}
		projects[ev.ProjectID] = project
	}

	sig := fingerprint.Compute(ev.Error, fingerprint.FromProject(project))
	hash := sig.Hash()

	stack, isNew, err := p.resolveStack(ctx, ev, sig, hash)
	if err != nil {
		return jobs.Retryable(err)
	}
	ev.StackID = stack.ID

	isRegression := stack.IsRegressed(ev.Date)
	if isRegression {
		if err := p.store.MarkStackRegressed(ctx, stack.ID); err != nil {
			return jobs.Retryable(err)
		}
	}
	if !isNew {
		total, err := p.store.AddOccurrence(ctx, stack.ID, ev.Date)
		if err != nil {
			return jobs.Retryable(err)
		}
		stack.TotalOccurrences = total
	}

	if err := p.store.SaveEvents(ctx, []*models.Event{ev}); err != nil {
		return jobs.Retryable(err)
	}

	p.notify(ctx, project, stack, ev, isNew, isRegression)
	return nil
}

func (p *Pipeline) resolveStack(ctx context.Context, ev *models.Event, sig fingerprint.Signature, hash string) (*models.Stack, bool, error) {
	existing, err := p.store.GetStackBySignature(ctx, ev.ProjectID, hash)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	title := ev.Message
	if title == "" {
		title = sig.ExceptionType
	}
	created, isNew, err := p.store.CreateStack(ctx, &models.Stack{
		ID:               p.newID(),
		OrganizationID:   ev.OrganizationID,
		ProjectID:        ev.ProjectID,
		SignatureHash:    hash,
		Title:            title,
		Type:             models.TypeError,
		FirstOccurrence:  ev.Date,
		LastOccurrence:   ev.Date,
		TotalOccurrences: 1,
	})
	if err != nil {
		return nil, false, err
	}
	return created, isNew, nil
}
