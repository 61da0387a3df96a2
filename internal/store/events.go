package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"error-tracker/internal/models"
)

type eventBlob struct {
	Error *models.Error  `json:"error,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// SaveEvents bulk-upserts events. Existing rows are updated in place,
// which both the ingestion pipeline (stack assignment) and session
// reconciliation (duration/end updates) rely on.
func (s *Store) SaveEvents(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, ev := range events {
		blob, err := json.Marshal(eventBlob{Error: ev.Error, Data: ev.Data})
		if err != nil {
			return fmt.Errorf("marshal event blob: %w", err)
		}
		batch.Queue(`
			INSERT INTO events (id, organization_id, project_id, stack_id, type, source, message,
			                    date, created_at, value, reference_id, session_id, user_identity,
			                    session_end, data)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (id) DO UPDATE SET
				stack_id = EXCLUDED.stack_id,
				value = EXCLUDED.value,
				session_end = EXCLUDED.session_end,
				data = EXCLUDED.data
		`, ev.ID, ev.OrganizationID, ev.ProjectID, ev.StackID, ev.Type, ev.Source, ev.Message,
			ev.Date, ev.CreatedAt, ev.Value, ev.ReferenceID, ev.SessionID, ev.UserIdentity,
			ev.SessionEnd, blob)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("save events: %w", err)
		}
	}
	return nil
}

// SessionCursor is a keyset-pagination position for open-session scans.
// Paging by (date, id) keeps iteration stable under concurrent writes.
type SessionCursor struct {
	Date time.Time
	ID   string
}

// GetOpenSessions returns a page of session-start events with no end
// marker, ordered by (date, id) after the cursor.
func (s *Store) GetOpenSessions(ctx context.Context, cursor SessionCursor, limit int) ([]*models.Event, SessionCursor, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, project_id, COALESCE(stack_id, ''), type, source, message,
		       date, created_at, value, reference_id, session_id, user_identity, session_end, data
		FROM events
		WHERE type = $1 AND session_end IS NULL AND (date, id) > ($2, $3)
		ORDER BY date, id
		LIMIT $4
	`, models.TypeSession, cursor.Date, cursor.ID, limit)
	if err != nil {
		return nil, cursor, fmt.Errorf("query open sessions: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, cursor, err
	}
	next := cursor
	if len(events) > 0 {
		last := events[len(events)-1]
		next = SessionCursor{Date: last.Date, ID: last.ID}
	}
	return events, next, nil
}

func scanEvents(rows pgx.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		var ev models.Event
		var blobJSON []byte
		if err := rows.Scan(&ev.ID, &ev.OrganizationID, &ev.ProjectID, &ev.StackID, &ev.Type,
			&ev.Source, &ev.Message, &ev.Date, &ev.CreatedAt, &ev.Value, &ev.ReferenceID,
			&ev.SessionID, &ev.UserIdentity, &ev.SessionEnd, &blobJSON); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(blobJSON) > 0 {
			var blob eventBlob
			if err := json.Unmarshal(blobJSON, &blob); err != nil {
				return nil, fmt.Errorf("unmarshal event blob: %w", err)
			}
			ev.Error = blob.Error
			ev.Data = blob.Data
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// RemoveEventsBefore deletes up to limit events older than cutoff for an
// organization, returning the number removed. Callers page until zero.
func (s *Store) RemoveEventsBefore(ctx context.Context, orgID string, cutoff time.Time, limit int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM events WHERE id IN (
			SELECT id FROM events
			WHERE organization_id = $1 AND date < $2
			ORDER BY date
			LIMIT $3
		)
	`, orgID, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("remove events before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RemoveByProject deletes all events belonging to a project.
func (s *Store) RemoveByProject(ctx context.Context, projectID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE project_id = $1`, projectID)
	if err != nil {
		return 0, fmt.Errorf("remove by project: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RemoveByOrganization deletes all events belonging to an organization.
func (s *Store) RemoveByOrganization(ctx context.Context, orgID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE organization_id = $1`, orgID)
	if err != nil {
		return 0, fmt.Errorf("remove by organization: %w", err)
	}
	return tag.RowsAffected(), nil
}
