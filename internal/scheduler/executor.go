package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	slogctx "github.com/ErlanBelekov/sync-scheduler/internal/log"
	"github.com/ErlanBelekov/sync-scheduler/internal/metrics"
	"github.com/ErlanBelekov/sync-scheduler/internal/syncop"
	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/ErlanBelekov/sync-scheduler/internal/scheduler"

// Locker hands out cross-instance leases so two scheduler replicas never sync
// the same connection at once. Satisfied by *redislock.Locker.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(context.Context) error, acquired bool, err error)
}

// StartHandler is called when a run actually begins. promoted is true when
// the schedule waited in the queue first.
type StartHandler func(ctx context.Context, s *domain.Schedule, trigger domain.Trigger, promoted bool)

// ResultHandler receives results of queued runs, which have no caller to
// return to.
type ResultHandler func(ctx context.Context, s *domain.Schedule, res domain.ExecutionResult)

type queuedTask struct {
	ctx      context.Context
	schedule *domain.Schedule
	trigger  domain.Trigger
}

// Executor runs schedules against the sync operation under a concurrency
// ceiling. Work past the ceiling waits in a FIFO queue. A schedule is never
// active and queued at the same time.
type Executor struct {
	op     syncop.Operation
	locker Locker
	clock  clockwork.Clock
	logger *slog.Logger
	tracer trace.Tracer

	mu            sync.Mutex
	maxConcurrent int
	active        map[string]struct{}
	queue         []queuedTask
	onStart       StartHandler
	onResult      ResultHandler

	background sync.WaitGroup
}

// NewExecutor returns an executor. locker may be nil for single-instance runs.
func NewExecutor(op syncop.Operation, locker Locker, clock clockwork.Clock, logger *slog.Logger, maxConcurrent int) *Executor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	metrics.MaxConcurrentTasks.Set(float64(maxConcurrent))
	return &Executor{
		op:            op,
		locker:        locker,
		clock:         clock,
		logger:        logger.With("component", "executor"),
		tracer:        otel.Tracer(tracerName),
		maxConcurrent: maxConcurrent,
		active:        make(map[string]struct{}),
	}
}

func (e *Executor) SetStartHandler(h StartHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onStart = h
}

func (e *Executor) SetResultHandler(h ResultHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onResult = h
}

// ExecuteSchedule runs s now if a slot is free and returns its result. At
// capacity it queues s and returns Success with Queued set. A schedule that
// is already active or queued is reported as Skipped.
func (e *Executor) ExecuteSchedule(ctx context.Context, s *domain.Schedule, trigger domain.Trigger) domain.ExecutionResult {
	e.mu.Lock()
	if e.isTrackedLocked(s.ID) {
		e.mu.Unlock()
		metrics.ExecutionsTotal.WithLabelValues("skipped").Inc()
		return e.placeholder(s, trigger, domain.ExecutionMeta{Skipped: true})
	}
	if len(e.active) >= e.maxConcurrent {
		e.queue = append(e.queue, queuedTask{ctx: context.WithoutCancel(ctx), schedule: s.Clone(), trigger: trigger})
		e.syncGaugesLocked()
		queued := len(e.queue)
		e.mu.Unlock()

		metrics.ExecutionsTotal.WithLabelValues("queued").Inc()
		e.logger.InfoContext(ctx, "executor at capacity, schedule queued", "schedule_id", s.ID, "queue_length", queued)
		return e.placeholder(s, trigger, domain.ExecutionMeta{Queued: true})
	}
	e.active[s.ID] = struct{}{}
	e.syncGaugesLocked()
	e.mu.Unlock()

	defer e.finish(s.ID)
	return e.run(ctx, s, trigger, false)
}

// ExecuteSchedules runs the first maxConcurrentTasks schedules of list
// concurrently and waits for them. The rest are not run and not queued;
// they come back with Deferred set for the caller to resubmit.
func (e *Executor) ExecuteSchedules(ctx context.Context, list []*domain.Schedule, trigger domain.Trigger) []domain.ExecutionResult {
	e.mu.Lock()
	limit := min(e.maxConcurrent, len(list))
	e.mu.Unlock()

	results := make([]domain.ExecutionResult, len(list))

	var g errgroup.Group
	for i, s := range list[:limit] {
		g.Go(func() error {
			results[i] = e.ExecuteSchedule(ctx, s, trigger)
			return nil
		})
	}
	_ = g.Wait()

	for i, s := range list[limit:] {
		metrics.ExecutionsTotal.WithLabelValues("deferred").Inc()
		results[limit+i] = e.placeholder(s, trigger, domain.ExecutionMeta{Deferred: true})
	}
	if deferred := len(list) - limit; deferred > 0 {
		e.logger.InfoContext(ctx, "batch larger than executor capacity", "deferred", deferred, "limit", limit)
	}
	return results
}

// UpdateMaxConcurrentTasks changes the ceiling and promotes queued work up to
// the new capacity.
func (e *Executor) UpdateMaxConcurrentTasks(n int) error {
	if n < 1 {
		return fmt.Errorf("max concurrent tasks must be positive, got %d", n)
	}
	e.mu.Lock()
	e.maxConcurrent = n
	e.mu.Unlock()
	metrics.MaxConcurrentTasks.Set(float64(n))

	e.logger.Info("executor capacity changed", "max_concurrent_tasks", n)
	e.drain()
	return nil
}

// CancelAllPendingTasks drops every queued schedule. Running work is left alone.
func (e *Executor) CancelAllPendingTasks() int {
	e.mu.Lock()
	n := len(e.queue)
	e.queue = nil
	e.syncGaugesLocked()
	e.mu.Unlock()

	if n > 0 {
		e.logger.Info("pending tasks cancelled", "count", n)
	}
	return n
}

// Load reports the active and queued counts.
func (e *Executor) Load() (active, queued, limit int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active), len(e.queue), e.maxConcurrent
}

// ResourceMetrics combines host CPU and memory usage with executor load. The
// host figures are best effort and zero when unavailable.
func (e *Executor) ResourceMetrics(ctx context.Context) domain.ResourceMetrics {
	active, queued, limit := e.Load()
	rm := domain.ResourceMetrics{
		ActiveSchedules:    active,
		QueuedTasks:        queued,
		MaxConcurrentTasks: limit,
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		rm.CPUUsage = pct[0]
	} else if err != nil {
		e.logger.DebugContext(ctx, "cpu usage unavailable", "error", err)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		rm.MemoryUsage = vm.UsedPercent
	} else {
		e.logger.DebugContext(ctx, "memory usage unavailable", "error", err)
	}
	return rm
}

// Wait blocks until every promoted background run has finished.
func (e *Executor) Wait() {
	e.background.Wait()
}

func (e *Executor) run(ctx context.Context, s *domain.Schedule, trigger domain.Trigger, promoted bool) domain.ExecutionResult {
	ctx = slogctx.WithScheduleID(ctx, s.ID)

	if e.locker != nil {
		unlock, acquired, err := e.locker.TryLock(ctx, leaseKey(s))
		switch {
		case err != nil:
			e.logger.WarnContext(ctx, "lease unavailable, running without it", "error", err)
		case !acquired:
			metrics.ExecutionsTotal.WithLabelValues("skipped").Inc()
			e.logger.InfoContext(ctx, "connection is syncing elsewhere, skipping")
			return e.placeholder(s, trigger, domain.ExecutionMeta{Skipped: true})
		default:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					e.logger.WarnContext(ctx, "release lease", "error", err)
				}
			}()
		}
	}

	ctx, span := e.tracer.Start(ctx, "scheduler.execute", trace.WithAttributes(
		attribute.String("schedule.id", s.ID),
		attribute.String("schedule.provider_id", s.ProviderID),
		attribute.String("schedule.trigger", string(trigger)),
		attribute.Bool("schedule.promoted", promoted),
	))
	defer span.End()

	e.mu.Lock()
	onStart := e.onStart
	e.mu.Unlock()
	if onStart != nil {
		onStart(ctx, s, trigger, promoted)
	}

	start := e.clock.Now()
	e.logger.InfoContext(ctx, "executing schedule",
		"provider_id", s.ProviderID,
		"operation_type", s.Config.OperationType,
		"trigger", trigger,
	)

	jobID, err := e.invoke(ctx, s)
	duration := e.clock.Since(start)

	res := domain.ExecutionResult{
		Success:     err == nil,
		ScheduleID:  s.ID,
		JobID:       jobID,
		Duration:    duration,
		CompletedAt: e.clock.Now(),
		Metadata:    domain.ExecutionMeta{Trigger: trigger},
	}
	span.SetAttributes(attribute.String("sync.job_id", jobID))

	if err != nil {
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, res.Error)
		metrics.ExecutionDuration.WithLabelValues("failure").Observe(duration.Seconds())
		metrics.ExecutionsTotal.WithLabelValues("failure").Inc()
		e.logger.WarnContext(ctx, "schedule execution failed", "job_id", jobID, "error", err, "duration", duration)
		return res
	}

	metrics.ExecutionDuration.WithLabelValues("success").Observe(duration.Seconds())
	metrics.ExecutionsTotal.WithLabelValues("success").Inc()
	e.logger.InfoContext(ctx, "schedule executed", "job_id", jobID, "duration", duration)
	return res
}

// invoke calls the operation and converts a panic into an error.
func (e *Executor) invoke(ctx context.Context, s *domain.Schedule) (jobID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync operation panicked: %v", r)
		}
	}()
	jobID, err = e.op.Run(ctx, syncop.RequestFor(s))
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("sync operation timed out: %w", err)
	}
	return jobID, err
}

// finish frees s's slot and promotes queued work.
func (e *Executor) finish(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.syncGaugesLocked()
	e.mu.Unlock()
	e.drain()
}

func (e *Executor) drain() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for len(e.active) < e.maxConcurrent && len(e.queue) > 0 {
		task := e.queue[0]
		e.queue = e.queue[1:]
		e.active[task.schedule.ID] = struct{}{}

		e.background.Add(1)
		go e.runPromoted(task)
	}
	e.syncGaugesLocked()
}

func (e *Executor) runPromoted(task queuedTask) {
	defer e.background.Done()
	defer e.finish(task.schedule.ID)

	e.logger.InfoContext(task.ctx, "queued schedule promoted", "schedule_id", task.schedule.ID)
	res := e.run(task.ctx, task.schedule, task.trigger, true)

	e.mu.Lock()
	onResult := e.onResult
	e.mu.Unlock()
	if onResult != nil {
		onResult(task.ctx, task.schedule, res)
	}
}

func (e *Executor) isTrackedLocked(id string) bool {
	if _, ok := e.active[id]; ok {
		return true
	}
	for _, t := range e.queue {
		if t.schedule.ID == id {
			return true
		}
	}
	return false
}

func (e *Executor) syncGaugesLocked() {
	metrics.ActiveTasks.Set(float64(len(e.active)))
	metrics.QueuedTasks.Set(float64(len(e.queue)))
}

func (e *Executor) placeholder(s *domain.Schedule, trigger domain.Trigger, meta domain.ExecutionMeta) domain.ExecutionResult {
	meta.Trigger = trigger
	return domain.ExecutionResult{
		Success:     true,
		ScheduleID:  s.ID,
		CompletedAt: e.clock.Now(),
		Metadata:    meta,
	}
}

func leaseKey(s *domain.Schedule) string {
	return "sync-lease:" + s.ConnectionID + ":" + s.ProviderID
}
