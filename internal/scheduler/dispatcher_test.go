package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/infrastructure/memory"
	"github.com/ErlanBelekov/sync-scheduler/internal/repository"
	"github.com/ErlanBelekov/sync-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/sync-scheduler/internal/syncop"
	"github.com/ErlanBelekov/sync-scheduler/internal/usecase"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(e domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) count(typ domain.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type dispatcherFixture struct {
	d       *scheduler.Dispatcher
	manager *usecase.ScheduleManager
	store   *memory.Store
	exec    *scheduler.Executor
	events  *recordingPublisher
	clock   fakeClock
}

func testConfig() domain.SchedulerConfig {
	cfg := domain.DefaultSchedulerConfig()
	cfg.RetryBaseDelay = 30 * time.Second
	cfg.RetryMaxDelay = 10 * time.Minute
	cfg.RetryJitter = 0
	cfg.MaxScheduleRetries = 3
	return cfg
}

func newDispatcher(t *testing.T, op syncop.Operation, cfg domain.SchedulerConfig) *dispatcherFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	store := memory.NewStore()
	events := &recordingPublisher{}
	manager := usecase.NewScheduleManager(store, events, clock, discardLogger())
	exec := scheduler.NewExecutor(op, nil, clock, discardLogger(), cfg.MaxConcurrentSchedules)
	d := scheduler.NewDispatcher(manager, store, exec, events, clock, cfg, discardLogger(), scheduler.WithJitter(noJitter))
	t.Cleanup(d.Stop)
	return &dispatcherFixture{d: d, manager: manager, store: store, exec: exec, events: events, clock: clock}
}

func (f *dispatcherFixture) create(t *testing.T, id string) *domain.Schedule {
	t.Helper()
	s, err := f.manager.Create(context.Background(), usecase.CreateScheduleInput{
		ID:           id,
		ConnectionID: id,
		UserID:       "u1",
		ProviderID:   "google",
		Frequency:    domain.FrequencyDaily,
		Config:       domain.TaskConfig{OperationType: "full_sync"},
	})
	require.NoError(t, err)
	return s
}

func (f *dispatcherFixture) get(t *testing.T, id string) *domain.Schedule {
	t.Helper()
	s, err := f.manager.Get(id)
	require.NoError(t, err)
	return s
}

func failingOp() *funcOp {
	return &funcOp{fn: func(context.Context, syncop.Request) (string, error) {
		return "", errors.New("upstream 503")
	}}
}

func TestPollOnce_SuccessAdvancesNextRun(t *testing.T) {
	f := newDispatcher(t, &funcOp{}, testConfig())
	f.create(t, "s1")

	results := f.d.PollOnce(context.Background())

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "job-s1", results[0].JobID)

	s := f.get(t, "s1")
	assert.Equal(t, t0.Add(24*time.Hour), s.NextRunAt)
	require.NotNil(t, s.LastRunAt)
	assert.Equal(t, t0, *s.LastRunAt)
	assert.Zero(t, s.Metadata.RetryCount)
	assert.Nil(t, s.Metadata.LastError)
	assert.Equal(t, 100, s.Metadata.Progress)

	logs, err := f.store.ListExecutions(context.Background(), repository.ExecutionFilter{ScheduleID: "s1"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, domain.TriggerPoll, logs[0].Trigger)
	assert.Equal(t, 1, logs[0].Attempt)

	assert.Equal(t, 1, f.events.count(domain.EventExecutionStart))
	assert.Equal(t, 1, f.events.count(domain.EventExecutionComplete))

	// nothing is due until the next period
	assert.Empty(t, f.d.PollOnce(context.Background()))
}

func TestPollOnce_FailureSchedulesRetryWithBackoff(t *testing.T) {
	op := failingOp()
	f := newDispatcher(t, op, testConfig())
	f.create(t, "s1")

	results := f.d.PollOnce(context.Background())
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)

	s := f.get(t, "s1")
	assert.Equal(t, 1, s.Metadata.RetryCount)
	require.NotNil(t, s.Metadata.LastError)
	assert.Equal(t, "upstream 503", s.Metadata.LastError.Message)
	assert.Equal(t, t0.Add(30*time.Second), s.NextRunAt)
	assert.Equal(t, 1, f.d.PendingRetries())

	// first retry after base, second after base*2
	f.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return f.get(t, "s1").Metadata.RetryCount == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, t0.Add(30*time.Second+time.Minute), f.get(t, "s1").NextRunAt)
	assert.Equal(t, 2, op.callCount())

	logs, err := f.store.ListExecutions(context.Background(), repository.ExecutionFilter{ScheduleID: "s1"})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.TriggerRetry, logs[0].Trigger)
	assert.Equal(t, 2, logs[0].Attempt)
}

func TestPollOnce_RetriesExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.MaxScheduleRetries = 0
	op := failingOp()
	f := newDispatcher(t, op, cfg)
	f.create(t, "s1")

	f.d.PollOnce(context.Background())

	s := f.get(t, "s1")
	assert.True(t, s.Metadata.RetriesExhausted)
	assert.Equal(t, t0.Add(24*time.Hour), s.NextRunAt)
	assert.Zero(t, f.d.PendingRetries())

	// exhausted schedules are left out of later cycles
	f.clock.Advance(25 * time.Hour)
	assert.Empty(t, f.d.PollOnce(context.Background()))
	assert.Equal(t, 1, op.callCount())

	_, err := f.manager.Enable(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, f.d.PollOnce(context.Background()), 1)
	assert.Equal(t, 2, op.callCount())
}

func TestPollOnce_RetryDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RetryFailedSchedules = false
	f := newDispatcher(t, failingOp(), cfg)
	f.create(t, "s1")

	f.d.PollOnce(context.Background())

	s := f.get(t, "s1")
	assert.False(t, s.Metadata.RetriesExhausted)
	assert.Zero(t, s.Metadata.RetryCount)
	assert.Equal(t, t0.Add(24*time.Hour), s.NextRunAt)
	assert.Zero(t, f.d.PendingRetries())
}

func TestPollOnce_CapsBatch(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentSchedules = 2
	op := &funcOp{}
	f := newDispatcher(t, op, cfg)
	for _, id := range []string{"s1", "s2", "s3"} {
		f.create(t, id)
	}

	assert.Len(t, f.d.PollOnce(context.Background()), 2)
	assert.Equal(t, 2, op.callCount())

	// the leftover runs on the next cycle
	assert.Len(t, f.d.PollOnce(context.Background()), 1)
	assert.Equal(t, 3, op.callCount())
}

func TestPollOnce_SchedulerDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	op := &funcOp{}
	f := newDispatcher(t, op, cfg)
	f.create(t, "s1")

	assert.Nil(t, f.d.PollOnce(context.Background()))
	assert.Zero(t, op.callCount())
}

func TestForceExecute(t *testing.T) {
	op := &funcOp{}
	f := newDispatcher(t, op, testConfig())
	s := f.create(t, "s1")
	_, err := f.manager.Disable(context.Background(), s.ID)
	require.NoError(t, err)

	res, err := f.d.ForceExecute(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.TriggerManual, res.Metadata.Trigger)
	assert.Equal(t, t0.Add(24*time.Hour), f.get(t, "s1").NextRunAt)

	ok, err := f.d.ForceExecuteSchedule(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.d.ForceExecute(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrScheduleNotFound)
}

func TestForceExecute_ClearsExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.MaxScheduleRetries = 0
	var fail atomic.Bool
	fail.Store(true)
	op := &funcOp{fn: func(_ context.Context, req syncop.Request) (string, error) {
		if fail.Load() {
			return "", errors.New("boom")
		}
		return "job-" + req.ConnectionID, nil
	}}
	f := newDispatcher(t, op, cfg)
	f.create(t, "s1")

	f.d.PollOnce(context.Background())
	require.True(t, f.get(t, "s1").Metadata.RetriesExhausted)

	fail.Store(false)
	_, err := f.d.ForceExecute(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, f.get(t, "s1").Metadata.RetriesExhausted)
}

func TestApplyConfig(t *testing.T) {
	f := newDispatcher(t, &funcOp{}, testConfig())

	var seen []domain.SchedulerConfig
	f.d.OnConfigChange(func(cfg domain.SchedulerConfig) { seen = append(seen, cfg) })

	bad := testConfig()
	bad.MaxConcurrentSchedules = 0
	err := f.d.ApplyConfig(bad)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	assert.Equal(t, 5, f.d.Config().MaxConcurrentSchedules)
	assert.Empty(t, seen)

	weekly := domain.FrequencyWeekly
	seven := 7
	cfg, err := f.d.UpdateConfig(domain.SchedulerConfigPatch{DefaultFrequency: &weekly, MaxConcurrentSchedules: &seven})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxConcurrentSchedules)

	_, _, limit := f.exec.Load()
	assert.Equal(t, 7, limit)
	assert.Equal(t, domain.FrequencyWeekly, f.manager.DefaultFrequency())
	require.Len(t, seen, 1)
	assert.Equal(t, 7, seen[0].MaxConcurrentSchedules)
}

func TestStartStop(t *testing.T) {
	op := &funcOp{}
	f := newDispatcher(t, op, testConfig())
	f.create(t, "s1")

	f.d.Start(context.Background())
	f.d.Start(context.Background())

	// the first due-check runs without waiting for a tick
	require.Eventually(t, func() bool { return op.callCount() == 1 }, time.Second, 5*time.Millisecond)

	f.d.Stop()
	f.d.Stop()
	assert.Equal(t, 1, op.callCount())
}

func TestStop_LateFailureArmsNoRetry(t *testing.T) {
	op := failingOp()
	f := newDispatcher(t, op, testConfig())
	f.create(t, "s1")

	f.d.Start(context.Background())
	require.Eventually(t, func() bool { return f.d.PendingRetries() == 1 }, time.Second, 5*time.Millisecond)

	f.d.Stop()
	assert.Zero(t, f.d.PendingRetries())

	// an execution that finishes after Stop records the failure but arms nothing
	f.clock.Advance(30 * time.Second)
	results := f.d.PollOnce(context.Background())
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Zero(t, f.d.PendingRetries())

	s := f.get(t, "s1")
	assert.Equal(t, 2, s.Metadata.RetryCount)
	assert.Equal(t, t0.Add(30*time.Second+time.Minute), s.NextRunAt)
	assert.Equal(t, 2, op.callCount())
}
