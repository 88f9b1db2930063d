package report_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/infrastructure/memory"
	"github.com/ErlanBelekov/sync-scheduler/internal/report"
	"github.com/ErlanBelekov/sync-scheduler/internal/usecase"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

type fixedResources struct{}

func (fixedResources) ResourceMetrics(context.Context) domain.ResourceMetrics {
	return domain.ResourceMetrics{ActiveSchedules: 2, QueuedTasks: 1, MaxConcurrentTasks: 5}
}

func strPtr(s string) *string { return &s }

func setup(t *testing.T) (*report.Reporter, *usecase.ScheduleManager, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(now)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := usecase.NewScheduleManager(store, nil, clock, logger)
	return report.NewReporter(manager, store, fixedResources{}, clock, logger), manager, store
}

func TestStats_IncludesUnresolvedConflicts(t *testing.T) {
	r, manager, store := setup(t)
	ctx := context.Background()

	_, err := manager.Create(ctx, usecase.CreateScheduleInput{ConnectionID: "c1", UserID: "u1", ProviderID: "google"})
	require.NoError(t, err)
	require.NoError(t, store.RecordConflict(ctx, &domain.ScheduleConflict{ID: "k1", UserID: "u1", DetectedAt: now}))
	require.NoError(t, store.RecordConflict(ctx, &domain.ScheduleConflict{ID: "k2", UserID: "u1", Resolved: true, DetectedAt: now}))
	require.NoError(t, store.RecordConflict(ctx, &domain.ScheduleConflict{ID: "k3", UserID: "u2", DetectedAt: now}))

	st, err := r.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Conflicts)

	all, err := r.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, all.Conflicts)
}

func TestGenerateReport(t *testing.T) {
	r, manager, store := setup(t)
	ctx := context.Background()

	soon := now.Add(2 * time.Hour)
	far := now.Add(72 * time.Hour)
	_, err := manager.Create(ctx, usecase.CreateScheduleInput{ID: "s1", ConnectionID: "c1", UserID: "u1", ProviderID: "google", NextRunAt: &soon})
	require.NoError(t, err)
	_, err = manager.Create(ctx, usecase.CreateScheduleInput{ID: "s2", ConnectionID: "c2", UserID: "u1", ProviderID: "slack", NextRunAt: &far})
	require.NoError(t, err)
	_, err = manager.Create(ctx, usecase.CreateScheduleInput{ID: "s3", ConnectionID: "c3", UserID: "u1", ProviderID: "slack"})
	require.NoError(t, err)

	logs := []*domain.ExecutionLog{
		{ID: "l1", ScheduleID: "s1", UserID: "u1", ProviderID: "google", Success: true, Duration: 2 * time.Second, StartedAt: now.Add(-3 * time.Hour), CompletedAt: now.Add(-3 * time.Hour)},
		{ID: "l2", ScheduleID: "s2", UserID: "u1", ProviderID: "slack", Success: false, Error: strPtr("old"), Duration: 4 * time.Second, StartedAt: now.Add(-2 * time.Hour), CompletedAt: now.Add(-2 * time.Hour)},
		{ID: "l3", ScheduleID: "s2", UserID: "u1", ProviderID: "slack", Success: false, Error: strPtr("latest"), Duration: 6 * time.Second, StartedAt: now.Add(-time.Hour), CompletedAt: now.Add(-time.Hour)},
		{ID: "l4", ScheduleID: "s1", UserID: "u1", ProviderID: "google", Success: true, Duration: time.Second, StartedAt: now.Add(-48 * time.Hour), CompletedAt: now.Add(-48 * time.Hour)},
		{ID: "l5", ScheduleID: "x", UserID: "u2", ProviderID: "google", Success: true, Duration: time.Second, StartedAt: now.Add(-time.Hour), CompletedAt: now.Add(-time.Hour)},
	}
	for _, l := range logs {
		require.NoError(t, store.LogExecution(ctx, l))
	}

	rep, err := r.GenerateReport(ctx, "u1", 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, now, rep.To)
	assert.Equal(t, now.Add(-24*time.Hour), rep.From)

	// l4 is outside the window, l5 belongs to another user
	assert.Equal(t, 3, rep.Executions.Total)
	assert.Equal(t, 1, rep.Executions.Succeeded)
	assert.Equal(t, 2, rep.Executions.Failed)
	assert.InDelta(t, 1.0/3.0, rep.Executions.SuccessRate, 1e-9)
	assert.Equal(t, 4*time.Second, rep.Executions.AvgDuration)
	assert.Equal(t, 6*time.Second, rep.Executions.MaxDuration)

	assert.Equal(t, 2, rep.ByProvider["slack"].Failed)
	assert.Equal(t, 1, rep.ByProvider["google"].Succeeded)

	require.Len(t, rep.Failing, 1)
	assert.Equal(t, "s2", rep.Failing[0].ScheduleID)
	assert.Equal(t, 2, rep.Failing[0].Failures)
	assert.Equal(t, "latest", rep.Failing[0].LastError)

	// s3 is due now, s1 in two hours, s2 beyond the window
	require.Len(t, rep.Upcoming, 2)
	assert.Equal(t, "s3", rep.Upcoming[0].ScheduleID)
	assert.Equal(t, "s1", rep.Upcoming[1].ScheduleID)

	assert.Equal(t, 1, rep.PersistedDue)
	assert.Equal(t, 5, rep.Resources.MaxConcurrentTasks)
	assert.Equal(t, 3, rep.Stats.Total)
}
