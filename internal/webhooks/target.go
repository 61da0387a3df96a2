package webhooks

import (
	"context"
	"fmt"

	"error-tracker/internal/models"
)

// target abstracts the two integration kinds behind the same
// enabled/disable capability. Resolution happens in exactly one place.
type target interface {
	IsEnabled() bool
	Disable(ctx context.Context) error
}

type generalTarget struct {
	store HookStore
	hook  *models.WebHook
}

func (t *generalTarget) IsEnabled() bool { return t.hook.IsEnabled }

func (t *generalTarget) Disable(ctx context.Context) error {
	return t.store.DisableWebHook(ctx, t.hook.ID)
}

type chatTarget struct {
	store   HookStore
	project *models.Project
}

func (t *chatTarget) IsEnabled() bool { return t.project.ChatWebhookURL != "" }

func (t *chatTarget) Disable(ctx context.Context) error {
	return t.store.ClearChatWebhook(ctx, t.project.ID)
}

// resolveTarget is the single type switch over the notification kind.
func (d *Dispatcher) resolveTarget(ctx context.Context, n models.WebHookNotification) (target, error) {
	switch n.Type {
	case models.WebHookTypeGeneral:
		hook, err := d.store.GetWebHook(ctx, n.WebHookID)
		if err != nil {
			return nil, err
		}
		return &generalTarget{store: d.store, hook: hook}, nil
	case models.WebHookTypeChat:
		project, err := d.store.GetProject(ctx, n.ProjectID)
		if err != nil {
			return nil, err
		}
		return &chatTarget{store: d.store, project: project}, nil
	default:
		return nil, fmt.Errorf("unknown webhook type %q", n.Type)
	}
}

// targetID keys the consecutive-error counters per integration.
func targetID(n models.WebHookNotification) string {
	if n.Type == models.WebHookTypeChat {
		return "chat:" + n.ProjectID
	}
	return n.WebHookID
}
