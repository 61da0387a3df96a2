package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"error-tracker/internal/models"
)

// GetWebHook fetches a registered webhook integration by id.
func (s *Store) GetWebHook(ctx context.Context, id string) (*models.WebHook, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, project_id, url, event_types, is_enabled
		FROM web_hooks WHERE id = $1
	`, id)

	var wh models.WebHook
	if err := row.Scan(&wh.ID, &wh.OrganizationID, &wh.ProjectID, &wh.URL, &wh.EventTypes, &wh.IsEnabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("webhook %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("scan webhook: %w", err)
	}
	return &wh, nil
}

// GetWebHooksByProject lists enabled webhooks for a project.
func (s *Store) GetWebHooksByProject(ctx context.Context, projectID string) ([]models.WebHook, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, project_id, url, event_types, is_enabled
		FROM web_hooks WHERE project_id = $1 AND is_enabled ORDER BY id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []models.WebHook
	for rows.Next() {
		var wh models.WebHook
		if err := rows.Scan(&wh.ID, &wh.OrganizationID, &wh.ProjectID, &wh.URL, &wh.EventTypes, &wh.IsEnabled); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		hooks = append(hooks, wh)
	}
	return hooks, rows.Err()
}

// DisableWebHook permanently disables an integration.
func (s *Store) DisableWebHook(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE web_hooks SET is_enabled = FALSE WHERE id = $1
	`, id)
	return err
}
