package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements repository.ScheduleStore on top of a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger.With("component", "postgres_store")}
}

const scheduleColumns = `id, connection_id, user_id, provider_id, frequency, enabled,
		       next_run_at, last_run_at, config, metadata, created_at, updated_at`

func (s *Store) Save(ctx context.Context, sched *domain.Schedule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO schedules (
			id, connection_id, user_id, provider_id, frequency, enabled,
			next_run_at, last_run_at, config, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			connection_id = EXCLUDED.connection_id,
			user_id       = EXCLUDED.user_id,
			provider_id   = EXCLUDED.provider_id,
			frequency     = EXCLUDED.frequency,
			enabled       = EXCLUDED.enabled,
			next_run_at   = EXCLUDED.next_run_at,
			last_run_at   = EXCLUDED.last_run_at,
			config        = EXCLUDED.config,
			metadata      = EXCLUDED.metadata,
			updated_at    = EXCLUDED.updated_at`,
		sched.ID, sched.ConnectionID, sched.UserID, sched.ProviderID, string(sched.Frequency), sched.Enabled,
		sched.NextRunAt, sched.LastRunAt, sched.Config, sched.Metadata, sched.CreatedAt, sched.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save schedule %s: %w", sched.ID, err)
	}
	return nil
}

func (s *Store) LoadAll(ctx context.Context) ([]*domain.Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}
	return collectSchedules(rows)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (s *Store) LoadDue(ctx context.Context, now time.Time) ([]*domain.Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE enabled AND next_run_at <= $1
		ORDER BY next_run_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("load due schedules: %w", err)
	}
	return collectSchedules(rows)
}

func (s *Store) UpdateNextRun(ctx context.Context, id string, when time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE schedules SET next_run_at = $2, updated_at = NOW() WHERE id = $1`,
		id, when)
	if err != nil {
		return fmt.Errorf("update next run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func collectSchedules(rows pgx.Rows) ([]*domain.Schedule, error) {
	defer rows.Close()

	var schedules []*domain.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return schedules, nil
}

// pgx.Row and pgx.Rows both implement this.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*domain.Schedule, error) {
	var (
		sched     domain.Schedule
		frequency string
	)
	err := row.Scan(
		&sched.ID, &sched.ConnectionID, &sched.UserID, &sched.ProviderID, &frequency, &sched.Enabled,
		&sched.NextRunAt, &sched.LastRunAt, &sched.Config, &sched.Metadata, &sched.CreatedAt, &sched.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	sched.Frequency = domain.Frequency(frequency)
	return &sched, nil
}
