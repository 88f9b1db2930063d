package repository

import (
	"context"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
)

type ExecutionFilter struct {
	ScheduleID string    // empty = all schedules
	UserID     string    // empty = all users
	Since      time.Time // zero = no lower bound
	Limit      int       // 0 = no limit
}

type ConflictFilter struct {
	UserID         string
	UnresolvedOnly bool
}

// ScheduleStore is the durable owner of schedules, execution logs and conflicts.
// Every call is atomic on its own; the scheduler never needs cross-call transactions.
type ScheduleStore interface {
	// Save inserts or replaces the schedule keyed by ID.
	Save(ctx context.Context, s *domain.Schedule) error
	LoadAll(ctx context.Context) ([]*domain.Schedule, error)
	// Delete returns domain.ErrScheduleNotFound when nothing was removed.
	Delete(ctx context.Context, id string) error
	// LoadDue returns enabled schedules with next_run_at <= now, earliest first.
	LoadDue(ctx context.Context, now time.Time) ([]*domain.Schedule, error)
	UpdateNextRun(ctx context.Context, id string, when time.Time) error

	LogExecution(ctx context.Context, log *domain.ExecutionLog) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*domain.ExecutionLog, error)
	PruneExecutions(ctx context.Context, before time.Time) (int, error)

	// RecordConflict upserts by conflict ID, so resolving rewrites the record.
	RecordConflict(ctx context.Context, c *domain.ScheduleConflict) error
	GetConflict(ctx context.Context, id string) (*domain.ScheduleConflict, error)
	ListConflicts(ctx context.Context, filter ConflictFilter) ([]*domain.ScheduleConflict, error)
	PruneConflicts(ctx context.Context, resolvedBefore time.Time) (int, error)

	Ping(ctx context.Context) error
}
