package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/config"
	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/metrics"
	"github.com/ErlanBelekov/sync-scheduler/internal/usecase"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ExecutionLogger is the slice of the schedule store the dispatcher writes to.
type ExecutionLogger interface {
	LogExecution(ctx context.Context, log *domain.ExecutionLog) error
}

type DispatcherOption func(*Dispatcher)

// WithJitter replaces the random retry jitter.
func WithJitter(fn JitterFunc) DispatcherOption {
	return func(d *Dispatcher) { d.jitter = fn }
}

// Dispatcher is the scheduling loop. It polls the manager for due schedules,
// runs them through the executor and turns each result into the schedule's
// next state: advanced to the next period, armed for retry, or flagged.
type Dispatcher struct {
	manager  *usecase.ScheduleManager
	logs     ExecutionLogger
	executor *Executor
	events   usecase.EventPublisher
	clock    clockwork.Clock
	logger   *slog.Logger
	retries  *RetryQueue
	jitter   JitterFunc

	cfgMu     sync.RWMutex
	cfg       domain.SchedulerConfig
	listeners []func(domain.SchedulerConfig)

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	resetCh chan time.Duration
	baseCtx context.Context
}

func NewDispatcher(
	manager *usecase.ScheduleManager,
	logs ExecutionLogger,
	executor *Executor,
	events usecase.EventPublisher,
	clock clockwork.Clock,
	cfg domain.SchedulerConfig,
	logger *slog.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		manager:  manager,
		logs:     logs,
		executor: executor,
		events:   events,
		clock:    clock,
		logger:   logger.With("component", "dispatcher"),
		retries:  NewRetryQueue(clock),
		jitter:   randomJitter,
		cfg:      cfg,
		resetCh:  make(chan time.Duration, 1),
		baseCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(d)
	}

	executor.SetStartHandler(d.onStart)
	executor.SetResultHandler(func(ctx context.Context, s *domain.Schedule, res domain.ExecutionResult) {
		d.handleResult(ctx, s, res)
	})
	manager.SetDefaultFrequency(cfg.DefaultFrequency)
	return d
}

func (d *Dispatcher) Config() domain.SchedulerConfig {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

// OnConfigChange registers fn to receive every applied config.
func (d *Dispatcher) OnConfigChange(fn func(domain.SchedulerConfig)) {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// UpdateConfig merges patch into the running config and applies it.
func (d *Dispatcher) UpdateConfig(patch domain.SchedulerConfigPatch) (domain.SchedulerConfig, error) {
	next := patch.Apply(d.Config())
	if err := d.ApplyConfig(next); err != nil {
		return d.Config(), err
	}
	return next, nil
}

// ApplyConfig validates cfg and pushes it to every collaborator. An invalid
// config changes nothing.
func (d *Dispatcher) ApplyConfig(cfg domain.SchedulerConfig) error {
	if err := config.ValidateScheduler(cfg); err != nil {
		return err
	}

	d.cfgMu.Lock()
	prev := d.cfg
	d.cfg = cfg
	listeners := append([]func(domain.SchedulerConfig){}, d.listeners...)
	d.cfgMu.Unlock()

	if cfg.MaxConcurrentSchedules != prev.MaxConcurrentSchedules {
		if err := d.executor.UpdateMaxConcurrentTasks(cfg.MaxConcurrentSchedules); err != nil {
			return fmt.Errorf("update executor capacity: %w", err)
		}
	}
	if cfg.PollInterval != prev.PollInterval {
		// keep only the latest pending reset
		select {
		case <-d.resetCh:
		default:
		}
		select {
		case d.resetCh <- cfg.PollInterval:
		default:
		}
	}
	d.manager.SetDefaultFrequency(cfg.DefaultFrequency)
	for _, fn := range listeners {
		fn(cfg)
	}

	d.logger.Info("scheduler config applied",
		"enabled", cfg.Enabled,
		"max_concurrent_schedules", cfg.MaxConcurrentSchedules,
		"poll_interval", cfg.PollInterval,
		"strategy", cfg.ConflictResolutionStrategy,
	)
	return nil
}

// Start begins the poll loop and returns immediately. The first due-check
// runs right away. Calling Start on a running dispatcher does nothing.
func (d *Dispatcher) Start(ctx context.Context) {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.baseCtx = context.WithoutCancel(ctx)
	d.retries.Resume()

	metrics.SchedulerStartTime.Set(float64(d.clock.Now().Unix()))
	go d.loop(loopCtx, d.done)
}

// Stop halts polling and pending retries. It waits for the current cycle,
// whose executions are never cancelled.
func (d *Dispatcher) Stop() {
	d.runMu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.retries.StopAll()
	metrics.SchedulerShutdownsTotal.Inc()
	d.logger.Info("dispatcher shut down")
}

// Run starts the dispatcher and blocks until ctx is done, then stops it and
// waits for queued work that was already promoted.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.Start(ctx)
	<-ctx.Done()
	d.Stop()
	d.executor.Wait()
	return nil
}

func (d *Dispatcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := d.Config().PollInterval
	d.logger.Info("dispatcher started", "interval", interval)

	d.PollOnce(ctx)

	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case next := <-d.resetCh:
			ticker.Reset(next)
			d.logger.Info("poll interval changed", "interval", next)
		case <-ticker.Chan():
			d.PollOnce(ctx)
		}
	}
}

// PollOnce runs one due-check cycle and returns the batch results.
func (d *Dispatcher) PollOnce(ctx context.Context) []domain.ExecutionResult {
	cfg := d.Config()
	if !cfg.Enabled {
		return nil
	}

	start := d.clock.Now()
	defer func() { metrics.PollCycleDuration.Observe(d.clock.Since(start).Seconds()) }()

	var batch []*domain.Schedule
	for _, s := range d.manager.ListDue(start.Add(cfg.ScheduleAheadTime)) {
		if s.Metadata.RetriesExhausted || d.retries.Pending(s.ID) {
			continue
		}
		batch = append(batch, s)
	}
	metrics.DueSchedules.Set(float64(len(batch)))
	if len(batch) == 0 {
		return nil
	}
	if len(batch) > cfg.MaxConcurrentSchedules {
		d.logger.InfoContext(ctx, "due schedules exceed batch cap, rest wait for the next cycle",
			"due", len(batch), "cap", cfg.MaxConcurrentSchedules)
		batch = batch[:cfg.MaxConcurrentSchedules]
	}

	d.logger.InfoContext(ctx, "dispatching due schedules", "count", len(batch))

	// executions outlive Stop; only the loop is cancelled
	execCtx := context.WithoutCancel(ctx)
	results := d.executor.ExecuteSchedules(execCtx, batch, domain.TriggerPoll)
	for i, res := range results {
		d.handleResult(execCtx, batch[i], res)
	}
	return results
}

// ForceExecute runs id now regardless of its enabled flag or next run time.
// The executor's ceiling still applies.
func (d *Dispatcher) ForceExecute(ctx context.Context, id string) (domain.ExecutionResult, error) {
	s, err := d.manager.Get(id)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	d.retries.Cancel(id)

	res := d.executor.ExecuteSchedule(ctx, s, domain.TriggerManual)
	d.handleResult(ctx, s, res)
	return res, nil
}

// ForceExecuteSchedule reports whether id ran (or was accepted) successfully.
func (d *Dispatcher) ForceExecuteSchedule(ctx context.Context, id string) (bool, error) {
	res, err := d.ForceExecute(ctx, id)
	if err != nil {
		return false, err
	}
	return res.Success, nil
}

// PendingRetries reports how many retry timers are armed.
func (d *Dispatcher) PendingRetries() int {
	return d.retries.Len()
}

func (d *Dispatcher) onStart(ctx context.Context, s *domain.Schedule, trigger domain.Trigger, promoted bool) {
	if promoted {
		d.publish(domain.EventExecutionProgress, s, map[string]any{"status": "promoted", "trigger": trigger})
	}
	d.publish(domain.EventExecutionStart, s, map[string]any{
		"trigger":     trigger,
		"attempt":     s.Metadata.RetryCount + 1,
		"provider_id": s.ProviderID,
	})
}

func (d *Dispatcher) handleResult(ctx context.Context, s *domain.Schedule, res domain.ExecutionResult) {
	switch {
	case res.Metadata.Queued:
		d.publish(domain.EventExecutionProgress, s, map[string]any{"status": "queued", "trigger": res.Metadata.Trigger})
		return
	case res.Metadata.Skipped, res.Metadata.Deferred:
		d.logger.DebugContext(ctx, "schedule not run", "schedule_id", s.ID,
			"skipped", res.Metadata.Skipped, "deferred", res.Metadata.Deferred)
		return
	}

	d.logExecution(ctx, s, res)
	if res.Success {
		d.onSuccess(ctx, s, res)
	} else {
		d.onFailure(ctx, s, res)
	}
	d.publish(domain.EventExecutionComplete, s, map[string]any{
		"success":  res.Success,
		"job_id":   res.JobID,
		"error":    res.Error,
		"duration": res.Duration.String(),
		"trigger":  res.Metadata.Trigger,
	})
}

func (d *Dispatcher) onSuccess(ctx context.Context, s *domain.Schedule, res domain.ExecutionResult) {
	d.retries.Cancel(s.ID)

	cur, err := d.manager.Get(s.ID)
	if err != nil {
		d.logger.InfoContext(ctx, "schedule gone after execution", "schedule_id", s.ID)
		return
	}
	now := d.clock.Now()

	meta := cur.Metadata
	meta.LastDuration = res.Duration
	meta.LastError = nil
	meta.RetryCount = 0
	meta.LastRetryAt = nil
	meta.RetriesExhausted = false
	meta.Progress = 100
	next := usecase.ComputeNextRun(cur, now)
	last := res.CompletedAt

	if _, err := d.manager.Update(ctx, s.ID, domain.SchedulePatch{
		NextRunAt: &next,
		LastRunAt: &last,
		Metadata:  &meta,
	}); err != nil {
		d.logger.ErrorContext(ctx, "persist successful run", "schedule_id", s.ID, "error", err)
	}
}

func (d *Dispatcher) onFailure(ctx context.Context, s *domain.Schedule, res domain.ExecutionResult) {
	cur, err := d.manager.Get(s.ID)
	if err != nil {
		d.logger.InfoContext(ctx, "schedule gone after execution", "schedule_id", s.ID)
		return
	}
	cfg := d.Config()
	now := d.clock.Now()

	meta := cur.Metadata
	meta.LastDuration = res.Duration
	meta.LastError = &domain.LastError{Message: res.Error, Timestamp: now}
	meta.Progress = 0

	patch := domain.SchedulePatch{Metadata: &meta}

	if cfg.RetryFailedSchedules && meta.RetryCount < cfg.MaxScheduleRetries {
		backoff := Backoff{Base: cfg.RetryBaseDelay, Max: cfg.RetryMaxDelay, Jitter: cfg.RetryJitter}
		delay := backoff.Delay(meta.RetryCount, d.jitter)
		meta.RetryCount++
		meta.LastRetryAt = &now
		retryAt := now.Add(delay)
		patch.NextRunAt = &retryAt

		if _, err := d.manager.Update(ctx, s.ID, patch); err != nil {
			d.logger.ErrorContext(ctx, "persist failed run", "schedule_id", s.ID, "error", err)
		}
		if !d.retries.Schedule(s.ID, delay, func() { d.retry(s.ID) }) {
			d.logger.InfoContext(ctx, "dispatcher stopped, retry left to the due-check",
				"schedule_id", s.ID,
				"retry_at", retryAt,
			)
			return
		}
		metrics.RetriesScheduledTotal.Inc()

		d.logger.WarnContext(ctx, "schedule failed, will retry",
			"schedule_id", s.ID,
			"error", res.Error,
			"attempt", meta.RetryCount,
			"max_retries", cfg.MaxScheduleRetries,
			"retry_at", retryAt,
		)
		return
	}

	next := usecase.ComputeNextRun(cur, now)
	patch.NextRunAt = &next
	if cfg.RetryFailedSchedules {
		meta.RetriesExhausted = true
		metrics.RetriesExhaustedTotal.Inc()
	}
	if _, err := d.manager.Update(ctx, s.ID, patch); err != nil {
		d.logger.ErrorContext(ctx, "persist failed run", "schedule_id", s.ID, "error", err)
	}
	d.logger.WarnContext(ctx, "schedule failed, no retries left",
		"schedule_id", s.ID,
		"error", res.Error,
		"retry_count", meta.RetryCount,
		"exhausted", meta.RetriesExhausted,
	)
}

func (d *Dispatcher) retry(id string) {
	d.runMu.Lock()
	ctx := d.baseCtx
	d.runMu.Unlock()

	s, err := d.manager.Get(id)
	if err != nil {
		return
	}
	if !s.Enabled {
		d.logger.InfoContext(ctx, "schedule disabled, dropping retry", "schedule_id", id)
		return
	}
	res := d.executor.ExecuteSchedule(ctx, s, domain.TriggerRetry)
	d.handleResult(ctx, s, res)
}

func (d *Dispatcher) logExecution(ctx context.Context, s *domain.Schedule, res domain.ExecutionResult) {
	entry := &domain.ExecutionLog{
		ID:          uuid.NewString(),
		ScheduleID:  s.ID,
		UserID:      s.UserID,
		ProviderID:  s.ProviderID,
		JobID:       res.JobID,
		Trigger:     res.Metadata.Trigger,
		Attempt:     s.Metadata.RetryCount + 1,
		Success:     res.Success,
		Duration:    res.Duration,
		StartedAt:   res.CompletedAt.Add(-res.Duration),
		CompletedAt: res.CompletedAt,
	}
	if res.Error != "" {
		msg := res.Error
		entry.Error = &msg
	}
	if err := d.logs.LogExecution(ctx, entry); err != nil {
		d.logger.ErrorContext(ctx, "log execution", "schedule_id", s.ID, "error", err)
	}
}

func (d *Dispatcher) publish(typ domain.EventType, s *domain.Schedule, payload map[string]any) {
	if d.events == nil {
		return
	}
	d.events.Publish(domain.Event{
		Type:       typ,
		ScheduleID: s.ID,
		UserID:     s.UserID,
		Payload:    payload,
		Timestamp:  d.clock.Now(),
	})
}
