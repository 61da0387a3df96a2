package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"error-tracker/internal/models"
)

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, name, user_namespaces, common_methods, chat_webhook_url, notification_settings
		FROM projects WHERE id = $1
	`, id)

	var p models.Project
	var settingsJSON []byte
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.Name, &p.UserNamespaces, &p.CommonMethods, &p.ChatWebhookURL, &settingsJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &p.NotificationSettings); err != nil {
			return nil, fmt.Errorf("unmarshal notification settings: %w", err)
		}
	}
	return &p, nil
}

// GetOrganization fetches an organization and its plan limits.
func (s *Store) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, plan_id, max_events_per_month, retention_days, is_suspended
		FROM organizations WHERE id = $1
	`, id)

	var o models.Organization
	if err := row.Scan(&o.ID, &o.Name, &o.PlanID, &o.MaxEventsPerMonth, &o.RetentionDays, &o.IsSuspended); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("organization %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan organization: %w", err)
	}
	return &o, nil
}

// OrganizationsWithRetention lists organizations whose plan enables
// retention cleanup.
func (s *Store) OrganizationsWithRetention(ctx context.Context) ([]models.Organization, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, plan_id, max_events_per_month, retention_days, is_suspended
		FROM organizations WHERE retention_days > 0 ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query retention orgs: %w", err)
	}
	defer rows.Close()

	var orgs []models.Organization
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.PlanID, &o.MaxEventsPerMonth, &o.RetentionDays, &o.IsSuspended); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// ClearChatWebhook removes a project's chat integration URL, disabling the
// integration.
func (s *Store) ClearChatWebhook(ctx context.Context, projectID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE projects SET chat_webhook_url = '' WHERE id = $1
	`, projectID)
	return err
}
