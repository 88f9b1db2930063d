// Package memory is a process-local ScheduleStore used for local runs without
// a database and as the backing store in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/repository"
)

type Store struct {
	mu         sync.RWMutex
	schedules  map[string]*domain.Schedule
	executions []*domain.ExecutionLog
	conflicts  map[string]*domain.ScheduleConflict
}

func NewStore() *Store {
	return &Store{
		schedules: make(map[string]*domain.Schedule),
		conflicts: make(map[string]*domain.ScheduleConflict),
	}
}

func (s *Store) Save(_ context.Context, sched *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sched.ID] = sched.Clone()
	return nil
}

func (s *Store) LoadAll(_ context.Context) ([]*domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, sched.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return domain.ErrScheduleNotFound
	}
	delete(s.schedules, id)
	return nil
}

func (s *Store) LoadDue(_ context.Context, now time.Time) ([]*domain.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Schedule
	for _, sched := range s.schedules {
		if sched.IsDue(now) {
			out = append(out, sched.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return out, nil
}

func (s *Store) UpdateNextRun(_ context.Context, id string, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return domain.ErrScheduleNotFound
	}
	sched.NextRunAt = when
	sched.UpdatedAt = time.Now()
	return nil
}

func (s *Store) LogExecution(_ context.Context, log *domain.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := *log
	s.executions = append(s.executions, &l)
	return nil
}

func (s *Store) ListExecutions(_ context.Context, filter repository.ExecutionFilter) ([]*domain.ExecutionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ExecutionLog
	// newest first, matching the postgres ordering
	for i := len(s.executions) - 1; i >= 0; i-- {
		l := s.executions[i]
		if filter.ScheduleID != "" && l.ScheduleID != filter.ScheduleID {
			continue
		}
		if filter.UserID != "" && l.UserID != filter.UserID {
			continue
		}
		if !filter.Since.IsZero() && l.StartedAt.Before(filter.Since) {
			continue
		}
		c := *l
		out = append(out, &c)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) PruneExecutions(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.executions[:0]
	pruned := 0
	for _, l := range s.executions {
		if l.CompletedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, l)
	}
	s.executions = kept
	return pruned, nil
}

func (s *Store) RecordConflict(_ context.Context, c *domain.ScheduleConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts[c.ID] = c.Clone()
	return nil
}

func (s *Store) GetConflict(_ context.Context, id string) (*domain.ScheduleConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, domain.ErrConflictNotFound
	}
	return c.Clone(), nil
}

func (s *Store) ListConflicts(_ context.Context, filter repository.ConflictFilter) ([]*domain.ScheduleConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ScheduleConflict
	for _, c := range s.conflicts {
		if filter.UserID != "" && c.UserID != filter.UserID {
			continue
		}
		if filter.UnresolvedOnly && c.Resolved {
			continue
		}
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

func (s *Store) PruneConflicts(_ context.Context, resolvedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, c := range s.conflicts {
		if c.Resolved && c.ResolvedAt != nil && c.ResolvedAt.Before(resolvedBefore) {
			delete(s.conflicts, id)
			pruned++
		}
	}
	return pruned, nil
}

func (s *Store) Ping(_ context.Context) error { return nil }
