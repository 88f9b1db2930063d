package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/repository"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// EventPublisher is satisfied by *notify.Notifier.
type EventPublisher interface {
	Publish(domain.Event)
}

// ScheduleManager owns the in-memory schedule index. Every mutation persists a
// copy first and only touches the index after the store accepted it.
type ScheduleManager struct {
	store  repository.ScheduleStore
	events EventPublisher
	clock  clockwork.Clock
	logger *slog.Logger

	// writeMu serializes mutations across persist and swap.
	writeMu sync.Mutex

	mu               sync.RWMutex
	schedules        map[string]*domain.Schedule
	defaultFrequency domain.Frequency
}

func NewScheduleManager(store repository.ScheduleStore, events EventPublisher, clock clockwork.Clock, logger *slog.Logger) *ScheduleManager {
	return &ScheduleManager{
		store:            store,
		events:           events,
		clock:            clock,
		logger:           logger.With("component", "schedule_manager"),
		schedules:        make(map[string]*domain.Schedule),
		defaultFrequency: domain.FrequencyDaily,
	}
}

// Load replaces the index with everything in the store.
func (m *ScheduleManager) Load(ctx context.Context) error {
	all, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	idx := make(map[string]*domain.Schedule, len(all))
	for _, s := range all {
		idx[s.ID] = s
	}

	m.mu.Lock()
	m.schedules = idx
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "schedules loaded", "count", len(idx))
	return nil
}

func (m *ScheduleManager) SetDefaultFrequency(f domain.Frequency) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultFrequency = f
}

func (m *ScheduleManager) DefaultFrequency() domain.Frequency {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultFrequency
}

type CreateScheduleInput struct {
	// ID is generated when empty.
	ID           string
	ConnectionID string
	UserID       string
	ProviderID   string
	// Frequency falls back to the configured default when empty.
	Frequency domain.Frequency
	Config    domain.TaskConfig
	// NextRunAt defaults to now, making the schedule eligible for the next due-check.
	NextRunAt *time.Time
	// Enabled defaults to true.
	Enabled *bool
}

// Create persists a new schedule. It does not validate; compose a Validator
// in front of it for that.
func (m *ScheduleManager) Create(ctx context.Context, in CreateScheduleInput) (*domain.Schedule, error) {
	now := m.clock.Now()

	freq := m.DefaultFrequency()
	if in.Frequency != "" {
		freq = in.Frequency
	}

	s := &domain.Schedule{
		ID:           in.ID,
		ConnectionID: in.ConnectionID,
		UserID:       in.UserID,
		ProviderID:   in.ProviderID,
		Frequency:    freq,
		Enabled:      true,
		NextRunAt:    now,
		Config:       in.Config,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if in.NextRunAt != nil {
		s.NextRunAt = *in.NextRunAt
	}
	if in.Enabled != nil {
		s.Enabled = *in.Enabled
	}
	if s.Config.Priority == "" {
		s.Config.Priority = domain.PriorityNormal
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.exists(s.ID) {
		return nil, fmt.Errorf("create schedule %s: %w", s.ID, domain.ErrScheduleExists)
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	m.put(s)

	m.logger.InfoContext(ctx, "schedule created",
		"schedule_id", s.ID,
		"user_id", s.UserID,
		"provider_id", s.ProviderID,
		"frequency", s.Frequency,
	)
	m.publish(domain.EventScheduleCreated, s, map[string]any{
		"connection_id": s.ConnectionID,
		"provider_id":   s.ProviderID,
		"frequency":     s.Frequency,
		"next_run_at":   s.NextRunAt,
	})
	return s.Clone(), nil
}

func (m *ScheduleManager) Get(id string) (*domain.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	return s.Clone(), nil
}

func (m *ScheduleManager) ListAll() []*domain.Schedule {
	return m.filter(func(*domain.Schedule) bool { return true })
}

func (m *ScheduleManager) ListByUser(userID string) []*domain.Schedule {
	return m.filter(func(s *domain.Schedule) bool { return s.UserID == userID })
}

func (m *ScheduleManager) ListByProvider(providerID string) []*domain.Schedule {
	return m.filter(func(s *domain.Schedule) bool { return s.ProviderID == providerID })
}

func (m *ScheduleManager) ListByConnection(connectionID string) []*domain.Schedule {
	return m.filter(func(s *domain.Schedule) bool { return s.ConnectionID == connectionID })
}

// ListDue returns enabled schedules with NextRunAt <= now, earliest first.
func (m *ScheduleManager) ListDue(now time.Time) []*domain.Schedule {
	due := m.filter(func(s *domain.Schedule) bool { return s.IsDue(now) })
	sort.SliceStable(due, func(i, j int) bool { return due[i].NextRunAt.Before(due[j].NextRunAt) })
	return due
}

// Update merges patch into the schedule. Concurrent updates are last write
// wins per field.
func (m *ScheduleManager) Update(ctx context.Context, id string, patch domain.SchedulePatch) (*domain.Schedule, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	patch.Apply(cur)
	cur.UpdatedAt = m.clock.Now()

	if err := m.store.Save(ctx, cur); err != nil {
		return nil, fmt.Errorf("update schedule %s: %w", id, err)
	}
	m.put(cur)

	m.publish(domain.EventScheduleUpdated, cur, map[string]any{
		"enabled":     cur.Enabled,
		"frequency":   cur.Frequency,
		"next_run_at": cur.NextRunAt,
	})
	return cur.Clone(), nil
}

func (m *ScheduleManager) Delete(ctx context.Context, id string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}

	m.mu.Lock()
	delete(m.schedules, id)
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "schedule deleted", "schedule_id", id)
	m.publish(domain.EventScheduleDeleted, cur, nil)
	return nil
}

// Enable also clears the retry bookkeeping so an exhausted schedule is
// picked up by the poll again.
func (m *ScheduleManager) Enable(ctx context.Context, id string) (*domain.Schedule, error) {
	cur, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	enabled := true
	meta := cur.Metadata
	meta.RetriesExhausted = false
	meta.RetryCount = 0
	return m.Update(ctx, id, domain.SchedulePatch{Enabled: &enabled, Metadata: &meta})
}

func (m *ScheduleManager) Disable(ctx context.Context, id string) (*domain.Schedule, error) {
	disabled := false
	return m.Update(ctx, id, domain.SchedulePatch{Enabled: &disabled})
}

// Reschedule moves only the next run, using the store's narrow update.
func (m *ScheduleManager) Reschedule(ctx context.Context, id string, at time.Time) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	cur, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := m.store.UpdateNextRun(ctx, id, at); err != nil {
		return fmt.Errorf("reschedule %s: %w", id, err)
	}
	cur.NextRunAt = at
	cur.UpdatedAt = m.clock.Now()
	m.put(cur)

	m.publish(domain.EventScheduleUpdated, cur, map[string]any{"next_run_at": at})
	return nil
}

// Stats aggregates the index. userID "" covers every user. Conflicts is left
// at zero; the reporter fills it from the store.
func (m *ScheduleManager) Stats(userID string) domain.ScheduleStats {
	now := m.clock.Now()
	st := domain.ScheduleStats{
		ByFrequency: make(map[domain.Frequency]int),
		ByProvider:  make(map[string]int),
		GeneratedAt: now,
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.schedules {
		if userID != "" && s.UserID != userID {
			continue
		}
		st.Total++
		if s.Enabled {
			st.Enabled++
		} else {
			st.Disabled++
		}
		if s.IsDue(now) {
			st.Due++
		}
		if s.Metadata.LastError != nil {
			st.Failing++
		}
		if s.Metadata.RetriesExhausted {
			st.Exhausted++
		}
		st.ByFrequency[s.Frequency]++
		st.ByProvider[s.ProviderID]++
	}
	return st
}

func (m *ScheduleManager) filter(keep func(*domain.Schedule) bool) []*domain.Schedule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.Schedule, 0)
	for _, s := range m.schedules {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *ScheduleManager) exists(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.schedules[id]
	return ok
}

func (m *ScheduleManager) put(s *domain.Schedule) {
	m.mu.Lock()
	m.schedules[s.ID] = s.Clone()
	m.mu.Unlock()
}

func (m *ScheduleManager) publish(typ domain.EventType, s *domain.Schedule, payload map[string]any) {
	if m.events == nil {
		return
	}
	m.events.Publish(domain.Event{
		Type:       typ,
		ScheduleID: s.ID,
		UserID:     s.UserID,
		Payload:    payload,
		Timestamp:  m.clock.Now(),
	})
}
