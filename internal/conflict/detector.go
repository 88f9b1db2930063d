package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/domain"
	"github.com/ErlanBelekov/sync-scheduler/internal/metrics"
	"github.com/ErlanBelekov/sync-scheduler/internal/repository"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	// OverlapWindow is the distance under which two runs of the same user and
	// provider are considered overlapping.
	OverlapWindow = time.Hour
	// MaxSchedulesPerUser is the resource ceiling per user.
	MaxSchedulesPerUser = 50
)

// Recorder is the slice of the schedule store the detector writes to.
type Recorder interface {
	RecordConflict(ctx context.Context, c *domain.ScheduleConflict) error
}

var _ Recorder = (repository.ScheduleStore)(nil)

// Detector finds duplicate, overlapping and resource-exhausting schedules.
// It never mutates schedules; enforcement belongs to the caller.
type Detector struct {
	store  Recorder
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewDetector(store Recorder, clock clockwork.Clock, logger *slog.Logger) *Detector {
	return &Detector{
		store:  store,
		clock:  clock,
		logger: logger.With("component", "conflict_detector"),
	}
}

// Detect runs every check against existing and returns all findings. The
// candidate's own id is ignored in existing, so updates can pass the full set.
func (d *Detector) Detect(candidate *domain.Schedule, existing []*domain.Schedule) []*domain.ScheduleConflict {
	now := d.clock.Now()

	var (
		duplicates []string
		overlaps   []string
		userCount  int
	)
	for _, s := range existing {
		if s == nil || s.ID == candidate.ID {
			continue
		}
		if s.UserID == candidate.UserID {
			userCount++
		}
		if s.Enabled && s.ConnectionID == candidate.ConnectionID && s.ProviderID == candidate.ProviderID {
			duplicates = append(duplicates, s.ID)
		}
		if s.UserID == candidate.UserID && s.ProviderID == candidate.ProviderID && withinWindow(s.NextRunAt, candidate.NextRunAt) {
			overlaps = append(overlaps, s.ID)
		}
	}

	var found []*domain.ScheduleConflict
	if len(duplicates) > 0 {
		found = append(found, d.newConflict(candidate, domain.ConflictOverlap, now, domain.ConflictDetails{
			ScheduleIDs: duplicates,
			Count:       len(duplicates),
			Message: fmt.Sprintf("duplicate schedule for connection %s and provider %s: %s",
				candidate.ConnectionID, candidate.ProviderID, strings.Join(duplicates, ", ")),
		}))
	}
	if len(overlaps) > 0 {
		start := candidate.NextRunAt.Add(-OverlapWindow)
		end := candidate.NextRunAt.Add(OverlapWindow)
		found = append(found, d.newConflict(candidate, domain.ConflictOverlap, now, domain.ConflictDetails{
			ScheduleIDs: overlaps,
			WindowStart: &start,
			WindowEnd:   &end,
			Count:       len(overlaps),
			Message: fmt.Sprintf("runs within %s of schedules for provider %s: %s",
				OverlapWindow, candidate.ProviderID, strings.Join(overlaps, ", ")),
		}))
	}
	if userCount+1 > MaxSchedulesPerUser {
		found = append(found, d.newConflict(candidate, domain.ConflictResourceLimit, now, domain.ConflictDetails{
			Count:   userCount + 1,
			Limit:   MaxSchedulesPerUser,
			Message: fmt.Sprintf("user %s would have %d schedules, limit is %d", candidate.UserID, userCount+1, MaxSchedulesPerUser),
		}))
	}

	for _, c := range found {
		metrics.ConflictsDetectedTotal.WithLabelValues(string(c.Type)).Inc()
	}
	return found
}

// DetectAndRecord detects and persists every finding. Findings are returned
// even when some records fail; the failures come back joined.
func (d *Detector) DetectAndRecord(ctx context.Context, candidate *domain.Schedule, existing []*domain.Schedule) ([]*domain.ScheduleConflict, error) {
	found := d.Detect(candidate, existing)

	var errs []error
	for _, c := range found {
		d.logger.Info("conflict detected",
			"conflict_id", c.ID,
			"schedule_id", c.ScheduleID,
			"type", c.Type,
			"message", c.Details.Message,
		)
		if err := d.store.RecordConflict(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("record conflict %s: %w", c.ID, err))
		}
	}
	return found, errors.Join(errs...)
}

// Resolve marks c as resolved with strategy and persists the decision.
// Enforcing the strategy is up to the caller.
func (d *Detector) Resolve(ctx context.Context, c *domain.ScheduleConflict, strategy domain.ResolutionStrategy) error {
	if !strategy.Valid() {
		return fmt.Errorf("resolve conflict %s: unknown strategy %q", c.ID, strategy)
	}
	now := d.clock.Now()
	c.Resolved = true
	c.ResolvedAt = &now
	c.Resolution = strategy
	if err := d.store.RecordConflict(ctx, c); err != nil {
		return fmt.Errorf("resolve conflict %s: %w", c.ID, err)
	}
	d.logger.Info("conflict resolved", "conflict_id", c.ID, "strategy", strategy)
	return nil
}

// PreventConflicts detects conflicts for candidate and resolves each with
// strategy. ok is true only when every finding was resolved.
func (d *Detector) PreventConflicts(ctx context.Context, candidate *domain.Schedule, existing []*domain.Schedule, strategy domain.ResolutionStrategy) (bool, []*domain.ScheduleConflict, error) {
	found, recordErr := d.DetectAndRecord(ctx, candidate, existing)

	ok := true
	errs := []error{recordErr}
	for _, c := range found {
		if err := d.Resolve(ctx, c, strategy); err != nil {
			ok = false
			errs = append(errs, err)
		}
	}
	return ok, found, errors.Join(errs...)
}

func (d *Detector) newConflict(candidate *domain.Schedule, typ domain.ConflictType, now time.Time, details domain.ConflictDetails) *domain.ScheduleConflict {
	return &domain.ScheduleConflict{
		ID:           uuid.NewString(),
		ScheduleID:   candidate.ID,
		UserID:       candidate.UserID,
		ConnectionID: candidate.ConnectionID,
		ProviderID:   candidate.ProviderID,
		Type:         typ,
		Details:      details,
		DetectedAt:   now,
	}
}

func withinWindow(a, b time.Time) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff < OverlapWindow
}
