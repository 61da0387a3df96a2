package pipeline

import (
	"context"

	"error-tracker/internal/models"
	"error-tracker/internal/telemetry"
)

// notify enqueues webhook notifications for an error occurrence. Failures
// here never fail the event: the occurrence is already persisted and a
// lost notification is an acceptable loss.
func (p *Pipeline) notify(ctx context.Context, project *models.Project, stack *models.Stack, ev *models.Event, isNew, isRegression bool) {
	now := p.now()
	if !stack.AllowNotifications(now) {
		return
	}

	allowed, err := p.gate.AllowStack(ctx, stack, isRegression, now)
	if err != nil {
		p.log.Warn().Err(err).Str("stack", stack.ID).Msg("stack throttle check failed")
		return
	}
	if !allowed {
		telemetry.NotificationsThrottled.Inc()
		return
	}
	allowed, err = p.gate.AllowProject(ctx, project.ID, isRegression, now)
	if err != nil {
		p.log.Warn().Err(err).Str("project", project.ID).Msg("project throttle check failed")
		return
	}
	if !allowed {
		telemetry.NotificationsThrottled.Inc()
		return
	}

	data := map[string]any{
		"event_id":      ev.ID,
		"stack_id":      stack.ID,
		"title":         stack.Title,
		"message":       ev.Message,
		"occurred":      ev.Date,
		"total":         stack.TotalOccurrences,
		"is_new":        isNew,
		"is_regression": isRegression,
	}

	hooks, err := p.store.GetWebHooksByProject(ctx, project.ID)
	if err != nil {
		p.log.Warn().Err(err).Str("project", project.ID).Msg("webhook lookup failed")
		return
	}
	var queued bool
	for _, hook := range hooks {
		if _, err := p.hooks.Enqueue(ctx, models.WebHookNotification{
			URL:            hook.URL,
			Data:           data,
			OrganizationID: hook.OrganizationID,
			ProjectID:      hook.ProjectID,
			Type:           models.WebHookTypeGeneral,
			WebHookID:      hook.ID,
		}); err != nil {
			p.log.Error().Err(err).Str("webhook", hook.ID).Msg("notification enqueue failed")
			continue
		}
		queued = true
	}
	if project.ChatWebhookURL != "" {
		if _, err := p.hooks.Enqueue(ctx, models.WebHookNotification{
			URL:            project.ChatWebhookURL,
			Data:           data,
			OrganizationID: project.OrganizationID,
			ProjectID:      project.ID,
			Type:           models.WebHookTypeChat,
		}); err != nil {
			p.log.Error().Err(err).Str("project", project.ID).Msg("chat notification enqueue failed")
		} else {
			queued = true
		}
	}

	if queued {
		if err := p.gate.MarkStackNotified(ctx, stack.ID, now); err != nil {
			p.log.Warn().Err(err).Str("stack", stack.ID).Msg("throttle mark failed")
		}
	}
}
