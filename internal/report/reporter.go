package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/repository"
	"github.com/jonboulle/clockwork"
)

const maxFailing = 10

// ScheduleSource is satisfied by *usecase.ScheduleManager.
type ScheduleSource interface {
	Stats(userID string) domain.ScheduleStats
	ListAll() []*domain.Schedule
}

// ResourceSource is satisfied by *scheduler.Executor.
type ResourceSource interface {
	ResourceMetrics(ctx context.Context) domain.ResourceMetrics
}

// Reporter derives read-only aggregates. Nothing it returns is a source of truth.
type Reporter struct {
	schedules ScheduleSource
	store     repository.ScheduleStore
	resources ResourceSource
	clock     clockwork.Clock
	logger    *slog.Logger
}

func NewReporter(schedules ScheduleSource, store repository.ScheduleStore, resources ResourceSource, clock clockwork.Clock, logger *slog.Logger) *Reporter {
	return &Reporter{
		schedules: schedules,
		store:     store,
		resources: resources,
		clock:     clock,
		logger:    logger.With("component", "reporter"),
	}
}

// Stats returns the manager's aggregate with the unresolved conflict count
// filled in from the store. userID "" covers every user.
func (r *Reporter) Stats(ctx context.Context, userID string) (domain.ScheduleStats, error) {
	st := r.schedules.Stats(userID)
	conflicts, err := r.store.ListConflicts(ctx, repository.ConflictFilter{UserID: userID, UnresolvedOnly: true})
	if err != nil {
		return st, fmt.Errorf("count conflicts: %w", err)
	}
	st.Conflicts = len(conflicts)
	return st, nil
}

// GenerateReport summarizes executions in the last window and the runs due
// within the next window.
func (r *Reporter) GenerateReport(ctx context.Context, userID string, window time.Duration) (*domain.ScheduleReport, error) {
	now := r.clock.Now()
	from := now.Add(-window)

	st, err := r.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}

	logs, err := r.store.ListExecutions(ctx, repository.ExecutionFilter{UserID: userID, Since: from})
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	due, err := r.store.LoadDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("load due: %w", err)
	}
	persistedDue := 0
	for _, s := range due {
		if userID == "" || s.UserID == userID {
			persistedDue++
		}
	}

	rep := &domain.ScheduleReport{
		GeneratedAt:  now,
		From:         from,
		To:           now,
		Stats:        st,
		Executions:   summarize(logs),
		ByProvider:   make(map[string]domain.ExecutionSummary),
		Failing:      failing(logs),
		Upcoming:     r.upcoming(userID, now, now.Add(window)),
		PersistedDue: persistedDue,
	}

	byProvider := make(map[string][]*domain.ExecutionLog)
	for _, l := range logs {
		byProvider[l.ProviderID] = append(byProvider[l.ProviderID], l)
	}
	for provider, pl := range byProvider {
		rep.ByProvider[provider] = summarize(pl)
	}

	if r.resources != nil {
		rep.Resources = r.resources.ResourceMetrics(ctx)
	}

	r.logger.DebugContext(ctx, "report generated", "user_id", userID, "executions", rep.Executions.Total)
	return rep, nil
}

func summarize(logs []*domain.ExecutionLog) domain.ExecutionSummary {
	var (
		sum   domain.ExecutionSummary
		total time.Duration
	)
	for _, l := range logs {
		sum.Total++
		if l.Success {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
		total += l.Duration
		sum.MaxDuration = max(sum.MaxDuration, l.Duration)
	}
	if sum.Total > 0 {
		sum.SuccessRate = float64(sum.Succeeded) / float64(sum.Total)
		sum.AvgDuration = total / time.Duration(sum.Total)
	}
	return sum
}

// failing ranks schedules by failure count. logs arrive newest first, so the
// first error seen per schedule is its latest.
func failing(logs []*domain.ExecutionLog) []domain.FailingSchedule {
	idx := make(map[string]*domain.FailingSchedule)
	for _, l := range logs {
		if l.Success {
			continue
		}
		f, ok := idx[l.ScheduleID]
		if !ok {
			f = &domain.FailingSchedule{ScheduleID: l.ScheduleID, ProviderID: l.ProviderID}
			if l.Error != nil {
				f.LastError = *l.Error
			}
			idx[l.ScheduleID] = f
		}
		f.Failures++
	}

	out := make([]domain.FailingSchedule, 0, len(idx))
	for _, f := range idx {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Failures != out[j].Failures {
			return out[i].Failures > out[j].Failures
		}
		return out[i].ScheduleID < out[j].ScheduleID
	})
	if len(out) > maxFailing {
		out = out[:maxFailing]
	}
	return out
}

func (r *Reporter) upcoming(userID string, from, to time.Time) []domain.UpcomingRun {
	out := make([]domain.UpcomingRun, 0)
	for _, s := range r.schedules.ListAll() {
		if !s.Enabled || (userID != "" && s.UserID != userID) {
			continue
		}
		if s.NextRunAt.Before(from) || s.NextRunAt.After(to) {
			continue
		}
		out = append(out, domain.UpcomingRun{
			ScheduleID: s.ID,
			ProviderID: s.ProviderID,
			Frequency:  s.Frequency,
			NextRunAt:  s.NextRunAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return out
}
