package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/repository"
	"github.com/jackc/pgx/v5"
)

const conflictColumns = `id, schedule_id, user_id, connection_id, provider_id, conflict_type,
		       details, resolved, resolved_at, resolution, detected_at`

func (s *Store) RecordConflict(ctx context.Context, c *domain.ScheduleConflict) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO schedule_conflicts (
			id, schedule_id, user_id, connection_id, provider_id, conflict_type,
			details, resolved, resolved_at, resolution, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			details     = EXCLUDED.details,
			resolved    = EXCLUDED.resolved,
			resolved_at = EXCLUDED.resolved_at,
			resolution  = EXCLUDED.resolution`,
		c.ID, c.ScheduleID, c.UserID, c.ConnectionID, c.ProviderID, string(c.Type),
		c.Details, c.Resolved, c.ResolvedAt, string(c.Resolution), c.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("record conflict: %w", err)
	}
	return nil
}

func (s *Store) GetConflict(ctx context.Context, id string) (*domain.ScheduleConflict, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conflictColumns+`
		FROM schedule_conflicts
		WHERE id = $1`, id)
	return scanConflict(row)
}

func (s *Store) ListConflicts(ctx context.Context, filter repository.ConflictFilter) ([]*domain.ScheduleConflict, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conflictColumns+`
		FROM schedule_conflicts
		WHERE ($1 = '' OR user_id = $1)
		  AND (NOT $2 OR NOT resolved)
		ORDER BY detected_at DESC`,
		filter.UserID, filter.UnresolvedOnly)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*domain.ScheduleConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conflicts: %w", err)
	}
	return conflicts, nil
}

func (s *Store) PruneConflicts(ctx context.Context, resolvedBefore time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM schedule_conflicts WHERE resolved AND resolved_at < $1`, resolvedBefore)
	if err != nil {
		return 0, fmt.Errorf("prune conflicts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanConflict(row rowScanner) (*domain.ScheduleConflict, error) {
	var (
		c            domain.ScheduleConflict
		conflictType string
		resolution   string
	)
	err := row.Scan(
		&c.ID, &c.ScheduleID, &c.UserID, &c.ConnectionID, &c.ProviderID, &conflictType,
		&c.Details, &c.Resolved, &c.ResolvedAt, &resolution, &c.DetectedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConflictNotFound
		}
		return nil, fmt.Errorf("scan conflict: %w", err)
	}
	c.Type = domain.ConflictType(conflictType)
	c.Resolution = domain.ResolutionStrategy(resolution)
	return &c, nil
}
