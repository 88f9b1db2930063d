package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/repository"
)

func (s *Store) LogExecution(ctx context.Context, l *domain.ExecutionLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO execution_logs (
			id, schedule_id, user_id, provider_id, job_id, trigger, attempt,
			success, error, duration_ms, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		l.ID, l.ScheduleID, l.UserID, l.ProviderID, l.JobID, string(l.Trigger), l.Attempt,
		l.Success, l.Error, l.Duration.Milliseconds(), l.StartedAt, l.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("log execution: %w", err)
	}
	return nil
}

func (s *Store) ListExecutions(ctx context.Context, filter repository.ExecutionFilter) ([]*domain.ExecutionLog, error) {
	var (
		args  []any
		where []string
	)
	if filter.ScheduleID != "" {
		args = append(args, filter.ScheduleID)
		where = append(where, fmt.Sprintf("schedule_id = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("started_at >= $%d", len(args)))
	}

	query := `
		SELECT id, schedule_id, user_id, provider_id, job_id, trigger, attempt,
		       success, error, duration_ms, started_at, completed_at
		FROM execution_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var logs []*domain.ExecutionLog
	for rows.Next() {
		var (
			l          domain.ExecutionLog
			trigger    string
			durationMS int64
		)
		if err := rows.Scan(
			&l.ID, &l.ScheduleID, &l.UserID, &l.ProviderID, &l.JobID, &trigger, &l.Attempt,
			&l.Success, &l.Error, &durationMS, &l.StartedAt, &l.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		l.Trigger = domain.Trigger(trigger)
		l.Duration = time.Duration(durationMS) * time.Millisecond
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return logs, nil
}

func (s *Store) PruneExecutions(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM execution_logs WHERE completed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune executions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
