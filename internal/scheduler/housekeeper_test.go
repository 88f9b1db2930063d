package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/infrastructure/memory"
	"github.com/ErlanBelekov/sync-scheduler/internal/repository"
	"github.com/ErlanBelekov/sync-scheduler/internal/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStats struct {
	stats domain.ScheduleStats
	err   error
}

func (s stubStats) Stats(context.Context, string) (domain.ScheduleStats, error) {
	return s.stats, s.err
}

func TestHousekeeper_Cleanup(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(t0)
	cfg := testConfig()
	cfg.ExecutionRetention = 7 * 24 * time.Hour

	old := t0.Add(-8 * 24 * time.Hour)
	recent := t0.Add(-time.Hour)
	require.NoError(t, store.LogExecution(ctx, &domain.ExecutionLog{ID: "old", ScheduleID: "s1", StartedAt: old, CompletedAt: old}))
	require.NoError(t, store.LogExecution(ctx, &domain.ExecutionLog{ID: "new", ScheduleID: "s1", StartedAt: recent, CompletedAt: recent}))
	require.NoError(t, store.RecordConflict(ctx, &domain.ScheduleConflict{ID: "resolved-old", Resolved: true, ResolvedAt: &old, DetectedAt: old}))
	require.NoError(t, store.RecordConflict(ctx, &domain.ScheduleConflict{ID: "open-old", DetectedAt: old}))

	h := scheduler.NewHousekeeper(store, stubStats{}, nil, clock, cfg, discardLogger())
	h.Cleanup(ctx)

	logs, err := store.ListExecutions(ctx, repository.ExecutionFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "new", logs[0].ID)

	_, err = store.GetConflict(ctx, "resolved-old")
	assert.ErrorIs(t, err, domain.ErrConflictNotFound)
	_, err = store.GetConflict(ctx, "open-old")
	assert.NoError(t, err, "unresolved conflicts are kept")
}

func TestHousekeeper_PublishStats(t *testing.T) {
	events := &recordingPublisher{}
	clock := clockwork.NewFakeClockAt(t0)

	h := scheduler.NewHousekeeper(memory.NewStore(), stubStats{stats: domain.ScheduleStats{Total: 4, Due: 1}}, events, clock, testConfig(), discardLogger())
	h.PublishStats(context.Background())

	require.Equal(t, 1, events.count(domain.EventStatsUpdate))
	e := events.events[0]
	assert.Empty(t, e.ScheduleID)
	assert.Equal(t, 4, e.Payload["total"])
	assert.Equal(t, 1, e.Payload["due"])
	assert.Equal(t, t0, e.Timestamp)

	failing := scheduler.NewHousekeeper(memory.NewStore(), stubStats{err: errors.New("db down")}, events, clock, testConfig(), discardLogger())
	failing.PublishStats(context.Background())
	assert.Equal(t, 1, events.count(domain.EventStatsUpdate))
}

func TestHousekeeper_RunStopsWithContext(t *testing.T) {
	h := scheduler.NewHousekeeper(memory.NewStore(), stubStats{}, nil, clockwork.NewFakeClockAt(t0), testConfig(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	cfg := testConfig()
	cfg.CleanupInterval = 2 * time.Hour
	h.ApplyConfig(ctx, cfg)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
