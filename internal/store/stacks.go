package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"error-tracker/internal/models"
)

// GetStackBySignature fetches the stack owning a signature hash within a
// project.
func (s *Store) GetStackBySignature(ctx context.Context, projectID, signatureHash string) (*models.Stack, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, project_id, signature_hash, title, type,
		       first_occurrence, last_occurrence, total_occurrences,
		       date_fixed, is_hidden, disable_notifications, snooze_until
		FROM stacks WHERE project_id = $1 AND signature_hash = $2
	`, projectID, signatureHash)
	return scanStack(row)
}

// GetStack fetches a stack by id.
func (s *Store) GetStack(ctx context.Context, id string) (*models.Stack, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, project_id, signature_hash, title, type,
		       first_occurrence, last_occurrence, total_occurrences,
		       date_fixed, is_hidden, disable_notifications, snooze_until
		FROM stacks WHERE id = $1
	`, id)
	return scanStack(row)
}

func scanStack(row pgx.Row) (*models.Stack, error) {
	var st models.Stack
	if err := row.Scan(&st.ID, &st.OrganizationID, &st.ProjectID, &st.SignatureHash, &st.Title, &st.Type,
		&st.FirstOccurrence, &st.LastOccurrence, &st.TotalOccurrences,
		&st.DateFixed, &st.IsHidden, &st.DisableNotifications, &st.SnoozeUntil); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stack: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scan stack: %w", err)
	}
	return &st, nil
}

// CreateStack inserts a new stack. On a (project, signature) conflict the
// existing row wins and is returned with created=false, so concurrent
// workers converge on one stack per signature.
func (s *Store) CreateStack(ctx context.Context, st *models.Stack) (*models.Stack, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO stacks (id, organization_id, project_id, signature_hash, title, type,
		                    first_occurrence, last_occurrence, total_occurrences,
		                    is_hidden, disable_notifications)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (project_id, signature_hash) DO NOTHING
	`, st.ID, st.OrganizationID, st.ProjectID, st.SignatureHash, st.Title, st.Type,
		st.FirstOccurrence, st.LastOccurrence, st.TotalOccurrences,
		st.IsHidden, st.DisableNotifications)
	if err != nil {
		return nil, false, fmt.Errorf("insert stack: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.GetStackBySignature(ctx, st.ProjectID, st.SignatureHash)
		return existing, false, err
	}
	return st, true, nil
}

// AddOccurrence bumps the occurrence count and last-seen marker, returning
// the new total.
func (s *Store) AddOccurrence(ctx context.Context, stackID string, occurred time.Time) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		UPDATE stacks
		SET total_occurrences = total_occurrences + 1,
		    last_occurrence = GREATEST(last_occurrence, $2)
		WHERE id = $1
		RETURNING total_occurrences
	`, stackID, occurred).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("stack %s: %w", stackID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("add occurrence: %w", err)
	}
	return total, nil
}

// MarkStackRegressed reopens a fixed stack after a newer occurrence.
func (s *Store) MarkStackRegressed(ctx context.Context, stackID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE stacks SET date_fixed = NULL WHERE id = $1
	`, stackID)
	return err
}

// RemoveByStack deletes all events belonging to a stack.
func (s *Store) RemoveByStack(ctx context.Context, stackID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE stack_id = $1`, stackID)
	if err != nil {
		return 0, fmt.Errorf("remove by stack: %w", err)
	}
	return tag.RowsAffected(), nil
}
