package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/metrics"
	"github.com/ErlanBelekov/sync-scheduler/internal/usecase"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

const statsInterval = time.Minute

// Pruner is the slice of the schedule store housekeeping deletes from.
type Pruner interface {
	PruneExecutions(ctx context.Context, before time.Time) (int, error)
	PruneConflicts(ctx context.Context, resolvedBefore time.Time) (int, error)
}

// StatsSource is satisfied by *report.Reporter.
type StatsSource interface {
	Stats(ctx context.Context, userID string) (domain.ScheduleStats, error)
}

// Housekeeper prunes old execution logs and resolved conflicts every
// CleanupInterval and broadcasts global stats every minute.
type Housekeeper struct {
	store  Pruner
	stats  StatsSource
	events usecase.EventPublisher
	clock  clockwork.Clock
	logger *slog.Logger
	cron   *cron.Cron

	mu        sync.Mutex
	retention time.Duration
	interval  time.Duration
	cleanupID cron.EntryID
}

func NewHousekeeper(store Pruner, stats StatsSource, events usecase.EventPublisher, clock clockwork.Clock, cfg domain.SchedulerConfig, logger *slog.Logger) *Housekeeper {
	l := logger.With("component", "housekeeper")
	return &Housekeeper{
		store:     store,
		stats:     stats,
		events:    events,
		clock:     clock,
		logger:    l,
		cron:      cron.New(cron.WithLogger(cronLogger{l}), cron.WithChain(cron.Recover(cronLogger{l}))),
		retention: cfg.ExecutionRetention,
		interval:  cfg.CleanupInterval,
	}
}

// Run registers the jobs and blocks until ctx is done.
func (h *Housekeeper) Run(ctx context.Context) error {
	h.mu.Lock()
	h.cleanupID = h.cron.Schedule(cron.Every(h.interval), cron.FuncJob(func() { h.Cleanup(ctx) }))
	h.mu.Unlock()
	h.cron.Schedule(cron.Every(statsInterval), cron.FuncJob(func() { h.PublishStats(ctx) }))

	h.cron.Start()
	h.logger.Info("housekeeper started", "cleanup_interval", h.interval, "retention", h.retention)

	<-ctx.Done()
	<-h.cron.Stop().Done()
	h.logger.Info("housekeeper shut down")
	return nil
}

// ApplyConfig picks up a new retention and re-registers cleanup when its
// cadence changed.
func (h *Housekeeper) ApplyConfig(ctx context.Context, cfg domain.SchedulerConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.retention = cfg.ExecutionRetention
	if cfg.CleanupInterval == h.interval {
		return
	}
	h.interval = cfg.CleanupInterval
	if h.cleanupID != 0 {
		h.cron.Remove(h.cleanupID)
		h.cleanupID = h.cron.Schedule(cron.Every(h.interval), cron.FuncJob(func() { h.Cleanup(ctx) }))
	}
	h.logger.Info("cleanup cadence changed", "cleanup_interval", h.interval)
}

// Cleanup deletes execution logs and resolved conflicts older than the retention.
func (h *Housekeeper) Cleanup(ctx context.Context) {
	h.mu.Lock()
	cutoff := h.clock.Now().Add(-h.retention)
	h.mu.Unlock()

	execs, err := h.store.PruneExecutions(ctx, cutoff)
	if err != nil {
		h.logger.ErrorContext(ctx, "prune executions", "error", err)
	} else if execs > 0 {
		metrics.HousekeepingPrunedTotal.WithLabelValues("executions").Add(float64(execs))
	}

	conflicts, err := h.store.PruneConflicts(ctx, cutoff)
	if err != nil {
		h.logger.ErrorContext(ctx, "prune conflicts", "error", err)
	} else if conflicts > 0 {
		metrics.HousekeepingPrunedTotal.WithLabelValues("conflicts").Add(float64(conflicts))
	}

	if execs > 0 || conflicts > 0 {
		h.logger.InfoContext(ctx, "housekeeping pruned rows", "executions", execs, "conflicts", conflicts, "cutoff", cutoff)
	}
}

// PublishStats broadcasts a stats_update event with global stats.
func (h *Housekeeper) PublishStats(ctx context.Context) {
	if h.events == nil {
		return
	}
	st, err := h.stats.Stats(ctx, "")
	if err != nil {
		h.logger.WarnContext(ctx, "compute stats", "error", err)
		return
	}
	h.events.Publish(domain.Event{
		Type: domain.EventStatsUpdate,
		Payload: map[string]any{
			"total":     st.Total,
			"enabled":   st.Enabled,
			"due":       st.Due,
			"failing":   st.Failing,
			"exhausted": st.Exhausted,
			"conflicts": st.Conflicts,
		},
		Timestamp: h.clock.Now(),
	})
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
